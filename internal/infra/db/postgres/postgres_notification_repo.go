package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"

	"membership-upgrade/internal/domain/model"
	"membership-upgrade/internal/domain/ports/repository"
)

var (
	_ repository.DmailRepository     = (*dmailRepo)(nil)
	_ repository.ModActionRepository = (*modActionRepo)(nil)
)

type dmailRepo struct{ pool *pgxpool.Pool }

func NewDmailRepo(pool *pgxpool.Pool) *dmailRepo {
	return &dmailRepo{pool: pool}
}

func (r *dmailRepo) Save(ctx context.Context, tx repository.Tx, d *model.Dmail) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	const q = `
INSERT INTO dmails (id, from_id, to_id, title, body, created_at)
VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, $6);`
	_, err := execSQL(ctx, r.pool, tx, q, d.ID, d.FromID, d.ToID, d.Title, d.Body, d.CreatedAt)
	return mapWriteErr(err)
}

func (r *dmailRepo) CountReceived(ctx context.Context, tx repository.Tx, userID string) (int, error) {
	const q = `SELECT COUNT(*) FROM dmails WHERE to_id=$1;`
	return countRows(ctx, r.pool, tx, q, userID)
}

type modActionRepo struct{ pool *pgxpool.Pool }

func NewModActionRepo(pool *pgxpool.Pool) *modActionRepo {
	return &modActionRepo{pool: pool}
}

func (r *modActionRepo) Save(ctx context.Context, tx repository.Tx, a *model.ModAction) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	const q = `
INSERT INTO mod_actions (id, creator_id, category, subject_id, description, created_at)
VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, $6);`
	_, err := execSQL(ctx, r.pool, tx, q, a.ID, a.CreatorID, string(a.Category), a.SubjectID, a.Description, a.CreatedAt)
	return mapWriteErr(err)
}

func (r *modActionRepo) CountByCategory(ctx context.Context, tx repository.Tx, category model.ModActionCategory) (int, error) {
	const q = `SELECT COUNT(*) FROM mod_actions WHERE category=$1;`
	return countRows(ctx, r.pool, tx, q, string(category))
}

func countRows(ctx context.Context, pool *pgxpool.Pool, tx repository.Tx, q string, args ...interface{}) (int, error) {
	row, err := pickRow(ctx, pool, tx, q, args...)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, mapScanErr(err, nil)
	}
	return n, nil
}
