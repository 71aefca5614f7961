package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"membership-upgrade/internal/domain"
	"membership-upgrade/internal/domain/model"
	"membership-upgrade/internal/domain/ports/repository"
)

var _ repository.UpgradeRepository = (*upgradeRepo)(nil)

const upgradeColumns = `id, recipient_id, purchaser_id, upgrade_type, status, payment_processor, checkout_session_id, previous_level, created_at, updated_at, completed_at, refunded_at`

type upgradeRepo struct{ pool *pgxpool.Pool }

func NewUpgradeRepo(pool *pgxpool.Pool) *upgradeRepo {
	return &upgradeRepo{pool: pool}
}

func (r *upgradeRepo) Save(ctx context.Context, tx repository.Tx, u *model.UserUpgrade) error {
	const q = `
INSERT INTO user_upgrades (` + upgradeColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (id) DO UPDATE SET
  status=$5, payment_processor=$6, checkout_session_id=$7, previous_level=$8,
  updated_at=$10, completed_at=$11, refunded_at=$12;`

	var prev *int
	if u.PreviousLevel != nil {
		v := int(*u.PreviousLevel)
		prev = &v
	}
	_, err := execSQL(ctx, r.pool, tx, q,
		u.ID, u.RecipientID, u.PurchaserID, string(u.UpgradeType), string(u.Status), u.PaymentProcessor,
		u.CheckoutSessionID, prev, u.CreatedAt, u.UpdatedAt, u.CompletedAt, u.RefundedAt)
	return mapWriteErr(err)
}

func (r *upgradeRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.UserUpgrade, error) {
	q := `SELECT ` + upgradeColumns + ` FROM user_upgrades WHERE id=$1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanUpgrade(row)
}

func (r *upgradeRepo) FindByCheckoutSession(ctx context.Context, tx repository.Tx, sessionID string) (*model.UserUpgrade, error) {
	q := `SELECT ` + upgradeColumns + ` FROM user_upgrades WHERE checkout_session_id=$1 LIMIT 1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q, sessionID)
	if err != nil {
		return nil, err
	}
	return scanUpgrade(row)
}

func (r *upgradeRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.UserUpgrade, error) {
	const q = `SELECT ` + upgradeColumns + ` FROM user_upgrades WHERE recipient_id=$1 OR purchaser_id=$1 ORDER BY created_at DESC;`
	rows, err := queryRows(ctx, r.pool, tx, q, userID)
	if err != nil {
		return nil, mapWriteErr(err)
	}
	return collectUpgrades(rows)
}

func (r *upgradeRepo) ListUnsettled(ctx context.Context, tx repository.Tx, olderThan, createdAfter time.Time, limit int) ([]*model.UserUpgrade, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + upgradeColumns + ` FROM user_upgrades
WHERE status IN ('pending','processing') AND checkout_session_id IS NOT NULL
  AND updated_at < $1 AND created_at > $2
ORDER BY updated_at ASC LIMIT $3;`
	rows, err := queryRows(ctx, r.pool, tx, q, olderThan, createdAfter, limit)
	if err != nil {
		return nil, mapWriteErr(err)
	}
	return collectUpgrades(rows)
}

func collectUpgrades(rows pgx.Rows) ([]*model.UserUpgrade, error) {
	defer rows.Close()
	var out []*model.UserUpgrade
	for rows.Next() {
		u, err := scanUpgrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if rows.Err() != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanUpgrade(row pgx.Row) (*model.UserUpgrade, error) {
	u := &model.UserUpgrade{}
	var (
		upgradeType, status string
		prev                *int
	)
	if err := row.Scan(&u.ID, &u.RecipientID, &u.PurchaserID, &upgradeType, &status, &u.PaymentProcessor,
		&u.CheckoutSessionID, &prev, &u.CreatedAt, &u.UpdatedAt, &u.CompletedAt, &u.RefundedAt); err != nil {
		return nil, mapScanErr(err, domain.ErrUpgradeNotFound)
	}
	u.UpgradeType = model.UpgradeType(upgradeType)
	u.Status = model.UpgradeStatus(status)
	if prev != nil {
		lvl := model.UserLevel(*prev)
		u.PreviousLevel = &lvl
	}
	return u, nil
}
