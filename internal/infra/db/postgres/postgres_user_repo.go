package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"membership-upgrade/internal/domain"
	"membership-upgrade/internal/domain/model"
	"membership-upgrade/internal/domain/ports/repository"
)

var _ repository.UserRepository = (*userRepo)(nil)

type userRepo struct{ pool *pgxpool.Pool }

func NewUserRepo(pool *pgxpool.Pool) *userRepo {
	return &userRepo{pool: pool}
}

func (r *userRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	const q = `
INSERT INTO users (id, name, email_address, level, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE SET
  name=$2, email_address=$3, level=$4, updated_at=$6;`
	_, err := execSQL(ctx, r.pool, tx, q, u.ID, u.Name, u.EmailAddress, int(u.Level), u.CreatedAt, u.UpdatedAt)
	return mapWriteErr(err)
}

func (r *userRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	q := `SELECT id, name, email_address, level, created_at, updated_at FROM users WHERE id=$1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	u := &model.User{}
	var level int
	if err := row.Scan(&u.ID, &u.Name, &u.EmailAddress, &level, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, mapScanErr(err, domain.ErrUserNotFound)
	}
	u.Level = model.UserLevel(level)
	return u, nil
}

func (r *userRepo) UpdateLevel(ctx context.Context, tx repository.Tx, id string, level model.UserLevel) error {
	const q = `UPDATE users SET level=$2, updated_at=NOW() WHERE id=$1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, int(level))
	if err != nil {
		return mapWriteErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}
