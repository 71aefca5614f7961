package repository

import (
	"context"

	"membership-upgrade/internal/domain/model"
)

// -----------------------------
// Dmails & mod actions
// -----------------------------

type DmailRepository interface {
	Save(ctx context.Context, tx Tx, d *model.Dmail) error
	CountReceived(ctx context.Context, tx Tx, userID string) (int, error)
}

type ModActionRepository interface {
	Save(ctx context.Context, tx Tx, a *model.ModAction) error
	CountByCategory(ctx context.Context, tx Tx, category model.ModActionCategory) (int, error)
}
