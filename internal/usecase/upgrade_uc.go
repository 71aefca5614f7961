package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"membership-upgrade/internal/domain"
	"membership-upgrade/internal/domain/model"
	"membership-upgrade/internal/domain/ports/adapter"
	"membership-upgrade/internal/domain/ports/repository"
	"membership-upgrade/internal/infra/logging"
	"membership-upgrade/internal/infra/metrics"
)

// Compile-time check
var _ UpgradeUseCase = (*upgradeUC)(nil)

// UpgradeUseCase runs the membership upgrade workflow: creation, hosted
// checkout, payment processing, receipts and refunds.
type UpgradeUseCase interface {
	// Create records a pending upgrade. An empty recipientID means a self upgrade.
	Create(ctx context.Context, purchaserID, recipientID string, t model.UpgradeType) (*model.UserUpgrade, error)
	// CreateCheckout opens a gateway session prefilled with the purchaser's email.
	CreateCheckout(ctx context.Context, upgradeID string) (*model.UserUpgrade, adapter.CheckoutSession, error)
	// ProcessUpgrade applies a payment status reported for the upgrade.
	ProcessUpgrade(ctx context.Context, upgradeID string, status adapter.PaymentStatus) (*model.UserUpgrade, error)
	// ConfirmCheckout asks the gateway for the session's status and processes it.
	ConfirmCheckout(ctx context.Context, upgradeID string) (*model.UserUpgrade, error)
	ConfirmBySession(ctx context.Context, sessionID string) (*model.UserUpgrade, error)
	// ReceiptURL returns ok=false when no finalized receipt exists.
	ReceiptURL(ctx context.Context, upgradeID string) (url string, ok bool, err error)
	Refund(ctx context.Context, upgradeID, actorID string) (*model.UserUpgrade, error)
	Get(ctx context.Context, upgradeID string) (*model.UserUpgrade, error)
	ListForUser(ctx context.Context, userID string) ([]*model.UserUpgrade, error)
}

// UpgradeOptions holds checkout settings. "{id}" in the URLs is replaced by the upgrade id.
type UpgradeOptions struct {
	Currency   string
	SuccessURL string
	CancelURL  string
	LockTTL    time.Duration
}

type upgradeUC struct {
	upgrades repository.UpgradeRepository
	users    repository.UserRepository
	tm       repository.TransactionManager
	sink     adapter.NotificationSink
	gateway  adapter.PaymentGateway
	locker   adapter.Locker // optional
	opts     UpgradeOptions
	log      *zerolog.Logger
}

func NewUpgradeUseCase(
	upgrades repository.UpgradeRepository,
	users repository.UserRepository,
	tm repository.TransactionManager,
	sink adapter.NotificationSink,
	gateway adapter.PaymentGateway,
	locker adapter.Locker,
	opts UpgradeOptions,
	logger *zerolog.Logger,
) *upgradeUC {
	if opts.Currency == "" {
		opts.Currency = "usd"
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	l := logger.With().Str("component", "UpgradeUC").Logger()
	return &upgradeUC{
		upgrades: upgrades,
		users:    users,
		tm:       tm,
		sink:     sink,
		gateway:  gateway,
		locker:   locker,
		opts:     opts,
		log:      &l,
	}
}

var txReadCommitted = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

func (u *upgradeUC) Create(ctx context.Context, purchaserID, recipientID string, t model.UpgradeType) (*model.UserUpgrade, error) {
	defer logging.TraceDuration(u.log, "UpgradeUC.Create")()

	plan, ok := t.Plan()
	if !ok || purchaserID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if recipientID == "" {
		recipientID = purchaserID
	}

	// user rows are only locked by completion and refund
	if _, err := u.users.FindByID(ctx, repository.NoTX, purchaserID); err != nil {
		return nil, err
	}
	recipient, err := u.users.FindByID(ctx, repository.NoTX, recipientID)
	if err != nil {
		return nil, err
	}
	if !plan.Eligible(recipient.Level) {
		return nil, domain.ErrInvalidUpgrade
	}
	up, err := model.NewUserUpgrade("", purchaserID, recipientID, t, u.gateway.Name())
	if err != nil {
		return nil, err
	}
	err = u.tm.WithTx(ctx, txReadCommitted, func(ctx context.Context, tx repository.Tx) error {
		return u.upgrades.Save(ctx, tx, up)
	})
	if err != nil {
		return nil, err
	}

	metrics.IncUpgradeTransition(string(up.UpgradeType), string(up.Status))
	logging.With(logging.WithUpgradeID(ctx, up.ID), u.log).Info().
		Str("type", string(t)).
		Bool("gift", up.IsGift()).
		Msg("upgrade created")
	return up, nil
}

func (u *upgradeUC) CreateCheckout(ctx context.Context, upgradeID string) (*model.UserUpgrade, adapter.CheckoutSession, error) {
	defer logging.TraceDuration(u.log, "UpgradeUC.CreateCheckout")()
	ctx = logging.WithUpgradeID(ctx, upgradeID)
	log := logging.With(ctx, u.log)

	unlock, err := u.lock(ctx, upgradeID)
	if err != nil {
		return nil, adapter.CheckoutSession{}, err
	}
	defer unlock()

	up, err := u.upgrades.FindByID(ctx, repository.NoTX, upgradeID)
	if err != nil {
		return nil, adapter.CheckoutSession{}, err
	}
	if !checkoutAllowed(up) {
		return nil, adapter.CheckoutSession{}, domain.ErrInvalidTransition
	}
	purchaser, err := u.users.FindByID(ctx, repository.NoTX, up.PurchaserID)
	if err != nil {
		return nil, adapter.CheckoutSession{}, err
	}
	email := purchaser.Email()
	if email == "" {
		return nil, adapter.CheckoutSession{}, domain.ErrMissingEmail
	}

	plan := up.Plan()
	req := adapter.CheckoutRequest{
		CustomerEmail: email,
		Amount:        plan.Price,
		Currency:      u.opts.Currency,
		Description:   fmt.Sprintf("%s account upgrade", plan.TargetLevel),
		ReferenceID:   up.ID,
		SuccessURL:    expandURL(u.opts.SuccessURL, up.ID),
		CancelURL:     expandURL(u.opts.CancelURL, up.ID),
		Metadata: map[string]string{
			"upgrade_id":   up.ID,
			"upgrade_type": string(up.UpgradeType),
			"purchaser_id": up.PurchaserID,
			"recipient_id": up.RecipientID,
		},
	}
	start := time.Now()
	sess, err := u.gateway.CreateSession(ctx, req)
	metrics.ObserveGateway(u.gateway.Name(), "create_session", start, err)
	if err != nil {
		log.Error().Err(err).Msg("checkout session failed")
		return nil, adapter.CheckoutSession{}, domain.NewGatewayError(u.gateway.Name(), "create_session", err)
	}

	err = u.tm.WithTx(ctx, txReadCommitted, func(ctx context.Context, tx repository.Tx) error {
		cur, err := u.upgrades.FindByID(ctx, tx, upgradeID)
		if err != nil {
			return err
		}
		if !checkoutAllowed(cur) {
			return domain.ErrInvalidTransition
		}
		sid := sess.ID
		cur.CheckoutSessionID = &sid
		cur.PaymentProcessor = u.gateway.Name()
		cur.UpdatedAt = time.Now()
		if err := u.upgrades.Save(ctx, tx, cur); err != nil {
			return err
		}
		up = cur
		return nil
	})
	if err != nil {
		return nil, adapter.CheckoutSession{}, err
	}

	log.Info().
		Str("session_id", sess.ID).
		Str("customer_email", logging.Redact(email, false)).
		Msg("checkout session created")
	return up, sess, nil
}

func (u *upgradeUC) ProcessUpgrade(ctx context.Context, upgradeID string, status adapter.PaymentStatus) (*model.UserUpgrade, error) {
	defer logging.TraceDuration(u.log, "UpgradeUC.ProcessUpgrade")()
	ctx = logging.WithUpgradeID(ctx, upgradeID)
	log := logging.With(ctx, u.log)

	unlock, err := u.lock(ctx, upgradeID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		out       *model.UserUpgrade
		duplicate bool
	)
	err = u.tm.WithTx(ctx, txReadCommitted, func(ctx context.Context, tx repository.Tx) error {
		up, err := u.upgrades.FindByID(ctx, tx, upgradeID)
		if err != nil {
			return err
		}
		out = up
		if up.Status.IsSettled() {
			duplicate = true
			return nil
		}

		now := time.Now()
		if status != adapter.PaymentStatusPaid {
			if err := up.TransitionTo(model.UpgradeStatusProcessing, now); err != nil {
				return err
			}
			return u.upgrades.Save(ctx, tx, up)
		}
		return u.complete(ctx, tx, up, now)
	})
	if err != nil {
		log.Error().Err(err).Str("payment_status", string(status)).Msg("process upgrade failed")
		return nil, err
	}

	if duplicate {
		metrics.IncDuplicateProcessing()
		log.Debug().Str("status", string(out.Status)).Msg("upgrade already settled; ignoring")
		return out, nil
	}
	metrics.IncUpgradeTransition(string(out.UpgradeType), string(out.Status))
	if out.Status == model.UpgradeStatusComplete {
		metrics.AddUpgradeRevenue(u.opts.Currency, out.Plan().Price)
		log.Info().Str("recipient_id", out.RecipientID).Msg("upgrade complete")
	} else {
		log.Info().Str("payment_status", string(status)).Msg("payment not settled; upgrade processing")
	}
	return out, nil
}

// complete raises the recipient, marks the upgrade complete and records the
// audit entry and dmail, all on tx.
func (u *upgradeUC) complete(ctx context.Context, tx repository.Tx, up *model.UserUpgrade, now time.Time) error {
	recipient, err := u.users.FindByID(ctx, tx, up.RecipientID)
	if err != nil {
		return err
	}
	purchaser := recipient
	if up.IsGift() {
		// only the name is needed; the recipient is the single locked user row
		if purchaser, err = u.users.FindByID(ctx, repository.NoTX, up.PurchaserID); err != nil {
			return err
		}
	}

	prev := recipient.Level
	target := up.TargetLevel()
	up.PreviousLevel = &prev
	if prev < target {
		if err := u.users.UpdateLevel(ctx, tx, recipient.ID, target); err != nil {
			return err
		}
	}
	if err := up.TransitionTo(model.UpgradeStatusComplete, now); err != nil {
		return err
	}
	if err := u.upgrades.Save(ctx, tx, up); err != nil {
		return err
	}

	if err := u.sink.RecordModAction(ctx, tx, adapter.ModActionEntry{
		Category:  model.ModActionUserAccountUpgrade,
		ActorID:   purchaser.ID,
		SubjectID: recipient.ID,
		Args:      []any{recipient.Name, prev.String(), target.String(), purchaser.Name},
	}); err != nil {
		return err
	}

	msg := adapter.Message{
		ToID: recipient.ID,
		Kind: adapter.MessageUpgradeSelf,
		Args: []any{target.String()},
	}
	if up.IsGift() {
		msg.FromID = purchaser.ID
		msg.Kind = adapter.MessageUpgradeGift
		msg.Args = []any{purchaser.Name, target.String()}
	}
	return u.sink.DeliverMessage(ctx, tx, msg)
}

func (u *upgradeUC) ConfirmCheckout(ctx context.Context, upgradeID string) (*model.UserUpgrade, error) {
	defer logging.TraceDuration(u.log, "UpgradeUC.ConfirmCheckout")()

	up, err := u.upgrades.FindByID(ctx, repository.NoTX, upgradeID)
	if err != nil {
		return nil, err
	}
	if up.Status.IsSettled() {
		metrics.IncDuplicateProcessing()
		return up, nil
	}
	sid := up.SessionID()
	if sid == "" {
		return nil, domain.ErrMissingSession
	}

	start := time.Now()
	status, err := u.gateway.PaymentStatus(ctx, sid, up.Plan().Price)
	metrics.ObserveGateway(u.gateway.Name(), "payment_status", start, err)
	if err != nil {
		return nil, domain.NewGatewayError(u.gateway.Name(), "payment_status", err)
	}
	return u.ProcessUpgrade(ctx, upgradeID, status)
}

func (u *upgradeUC) ConfirmBySession(ctx context.Context, sessionID string) (*model.UserUpgrade, error) {
	defer logging.TraceDuration(u.log, "UpgradeUC.ConfirmBySession")()
	if strings.TrimSpace(sessionID) == "" {
		return nil, domain.ErrInvalidArgument
	}
	up, err := u.upgrades.FindByCheckoutSession(ctx, repository.NoTX, sessionID)
	if err != nil {
		return nil, err
	}
	return u.ConfirmCheckout(ctx, up.ID)
}

func (u *upgradeUC) ReceiptURL(ctx context.Context, upgradeID string) (string, bool, error) {
	defer logging.TraceDuration(u.log, "UpgradeUC.ReceiptURL")()

	up, err := u.upgrades.FindByID(ctx, repository.NoTX, upgradeID)
	if err != nil {
		return "", false, err
	}
	sid := up.SessionID()
	if up.Status != model.UpgradeStatusComplete || sid == "" {
		return "", false, nil
	}
	start := time.Now()
	url, err := u.gateway.ReceiptURL(ctx, sid)
	metrics.ObserveGateway(u.gateway.Name(), "receipt_url", start, err)
	if err != nil {
		return "", false, domain.NewGatewayError(u.gateway.Name(), "receipt_url", err)
	}
	if url == "" {
		return "", false, nil
	}
	return url, true, nil
}

// Refund refunds through the gateway first; local state only changes once the
// provider accepted the refund.
func (u *upgradeUC) Refund(ctx context.Context, upgradeID, actorID string) (*model.UserUpgrade, error) {
	defer logging.TraceDuration(u.log, "UpgradeUC.Refund")()
	ctx = logging.WithActorID(logging.WithUpgradeID(ctx, upgradeID), actorID)
	log := logging.With(ctx, u.log)

	unlock, err := u.lock(ctx, upgradeID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	up, err := u.upgrades.FindByID(ctx, repository.NoTX, upgradeID)
	if err != nil {
		return nil, err
	}
	if up.Status != model.UpgradeStatusComplete {
		return nil, domain.ErrInvalidTransition
	}
	sid := up.SessionID()
	if sid == "" {
		return nil, domain.ErrMissingSession
	}

	start := time.Now()
	res, err := u.gateway.Refund(ctx, sid, up.Plan().Price)
	metrics.ObserveGateway(u.gateway.Name(), "refund", start, err)
	if err != nil {
		log.Error().Err(err).Msg("gateway refund failed")
		return nil, domain.NewGatewayError(u.gateway.Name(), "refund", err)
	}

	var restored model.UserLevel
	err = u.tm.WithTx(ctx, txReadCommitted, func(ctx context.Context, tx repository.Tx) error {
		cur, err := u.upgrades.FindByID(ctx, tx, upgradeID)
		if err != nil {
			return err
		}
		recipient, err := u.users.FindByID(ctx, tx, cur.RecipientID)
		if err != nil {
			return err
		}
		restored = model.LevelMember
		if cur.PreviousLevel != nil {
			restored = *cur.PreviousLevel
		}
		// leave accounts promoted past the purchased tier alone
		if recipient.Level <= cur.TargetLevel() && recipient.Level != restored {
			if err := u.users.UpdateLevel(ctx, tx, recipient.ID, restored); err != nil {
				return err
			}
		} else {
			restored = recipient.Level
		}
		if err := cur.TransitionTo(model.UpgradeStatusRefunded, time.Now()); err != nil {
			return err
		}
		if err := u.upgrades.Save(ctx, tx, cur); err != nil {
			return err
		}
		up = cur
		return u.sink.RecordModAction(ctx, tx, adapter.ModActionEntry{
			Category:  model.ModActionUserAccountUpgradeRefund,
			ActorID:   actorID,
			SubjectID: recipient.ID,
			Args:      []any{string(cur.UpgradeType), recipient.Name, restored.String()},
		})
	})
	if err != nil {
		// provider already refunded; the row needs manual attention
		log.Error().Err(err).Str("refund_id", res.ID).Msg("refund accepted by gateway but not recorded")
		return nil, err
	}

	metrics.IncUpgradeTransition(string(up.UpgradeType), string(up.Status))
	log.Info().
		Str("refund_id", res.ID).
		Str("refund_status", res.Status).
		Str("restored_level", restored.String()).
		Msg("upgrade refunded")
	return up, nil
}

func (u *upgradeUC) Get(ctx context.Context, upgradeID string) (*model.UserUpgrade, error) {
	defer logging.TraceDuration(u.log, "UpgradeUC.Get")()
	return u.upgrades.FindByID(ctx, repository.NoTX, upgradeID)
}

func (u *upgradeUC) ListForUser(ctx context.Context, userID string) ([]*model.UserUpgrade, error) {
	defer logging.TraceDuration(u.log, "UpgradeUC.ListForUser")()
	if _, err := u.users.FindByID(ctx, repository.NoTX, userID); err != nil {
		return nil, err
	}
	return u.upgrades.ListByUser(ctx, repository.NoTX, userID)
}

// lock takes the per-upgrade lock when a locker is configured.
func (u *upgradeUC) lock(ctx context.Context, upgradeID string) (func(), error) {
	if u.locker == nil {
		return func() {}, nil
	}
	token, err := u.locker.TryLock(ctx, upgradeID, u.opts.LockTTL)
	if err != nil {
		if !errors.Is(err, domain.ErrLocked) {
			u.log.Error().Err(err).Str("upgrade_id", upgradeID).Msg("lock backend failed")
		}
		return nil, err
	}
	return func() {
		if err := u.locker.Unlock(context.WithoutCancel(ctx), upgradeID, token); err != nil {
			u.log.Warn().Err(err).Str("upgrade_id", upgradeID).Msg("unlock failed")
		}
	}, nil
}

// checkoutAllowed is true for unsettled upgrades, and for complete upgrades
// applied without a session so their receipt and refund can be resolved.
func checkoutAllowed(up *model.UserUpgrade) bool {
	switch up.Status {
	case model.UpgradeStatusPending, model.UpgradeStatusProcessing:
		return true
	case model.UpgradeStatusComplete:
		return up.SessionID() == ""
	}
	return false
}

func expandURL(tmpl, id string) string {
	return strings.ReplaceAll(tmpl, "{id}", id)
}
