package sched

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"membership-upgrade/internal/config"
	"membership-upgrade/internal/domain"
	"membership-upgrade/internal/domain/model"
	"membership-upgrade/internal/domain/ports/repository"
	"membership-upgrade/internal/infra/metrics"
	"membership-upgrade/internal/infra/worker"
)

// Confirmer settles an upgrade from its gateway session.
type Confirmer interface {
	ConfirmCheckout(ctx context.Context, upgradeID string) (*model.UserUpgrade, error)
}

// UpgradeReconciler periodically re-checks upgrades that have a checkout
// session but no settled outcome. This covers failed return redirects, lost
// webhooks and crashes mid-processing.
type UpgradeReconciler struct {
	confirm    Confirmer
	upgrades   repository.UpgradeRepository
	pool       *worker.Pool
	interval   time.Duration // how often to scan
	staleAfter time.Duration // how long an upgrade must sit untouched before a retry
	maxAge     time.Duration // upgrades created earlier are abandoned and no longer polled
	batch      int
	inflight   sync.Map // upgrade id -> struct{}
	log        *zerolog.Logger
}

func NewUpgradeReconciler(confirm Confirmer, upgrades repository.UpgradeRepository, pool *worker.Pool, cfg config.ReconcilerConfig, logger *zerolog.Logger) *UpgradeReconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Minute
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 48 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	l := logger.With().Str("component", "UpgradeReconciler").Logger()
	return &UpgradeReconciler{
		confirm:    confirm,
		upgrades:   upgrades,
		pool:       pool,
		interval:   cfg.Interval,
		staleAfter: cfg.StaleAfter,
		maxAge:     cfg.MaxAge,
		batch:      cfg.BatchSize,
		log:        &l,
	}
}

func (w *UpgradeReconciler) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Dur("stale_after", w.staleAfter).Dur("max_age", w.maxAge).Msg("Starting upgrade reconciler")
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping upgrade reconciler")
			return ctx.Err()
		case <-t.C:
			w.Tick(ctx)
		}
	}
}

// Tick submits one batch of stale unsettled upgrades and returns how many were queued.
func (w *UpgradeReconciler) Tick(ctx context.Context) int {
	now := time.Now()
	stale, err := w.upgrades.ListUnsettled(ctx, repository.NoTX, now.Add(-w.staleAfter), now.Add(-w.maxAge), w.batch)
	if err != nil {
		w.log.Error().Err(err).Msg("list unsettled upgrades failed")
		return 0
	}

	submitted := 0
	for _, up := range stale {
		id := up.ID
		if _, busy := w.inflight.LoadOrStore(id, struct{}{}); busy {
			continue
		}
		if err := w.pool.Submit(w.task(id)); err != nil {
			w.inflight.Delete(id)
			metrics.IncReconciler("dropped")
			w.log.Warn().Err(err).Str("upgrade_id", id).Msg("reconcile task dropped")
			continue
		}
		metrics.IncReconciler("submitted")
		submitted++
	}
	if submitted > 0 {
		w.log.Info().Int("count", submitted).Msg("unsettled upgrades queued")
	}
	return submitted
}

func (w *UpgradeReconciler) task(id string) worker.Task {
	return func(ctx context.Context) error {
		defer w.inflight.Delete(id)
		up, err := w.confirm.ConfirmCheckout(ctx, id)
		switch {
		case errors.Is(err, domain.ErrLocked):
			// another instance is on it
			metrics.IncReconciler("locked")
			return nil
		case errors.Is(err, domain.ErrAmountMismatch):
			metrics.IncReconciler("amount_mismatch")
			w.log.Error().Err(err).Str("upgrade_id", id).Msg("amount mismatch; upgrade needs manual review")
			return nil
		case err != nil:
			metrics.IncReconciler("failed")
			w.log.Error().Err(err).Str("upgrade_id", id).Msg("reconcile upgrade failed")
			return err
		}
		metrics.IncReconciler(string(up.Status))
		w.log.Debug().Str("upgrade_id", id).Str("status", string(up.Status)).Msg("upgrade reconciled")
		return nil
	}
}
