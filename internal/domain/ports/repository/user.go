package repository

import (
	"context"

	"membership-upgrade/internal/domain/model"
)

// -----------------------------
// Users
// -----------------------------

type UserRepository interface {
	Save(ctx context.Context, tx Tx, u *model.User) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.User, error)
	UpdateLevel(ctx context.Context, tx Tx, id string, level model.UserLevel) error
}
