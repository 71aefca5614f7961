package repository

import (
	"context"
	"time"

	"membership-upgrade/internal/domain/model"
)

// -----------------------------
// User upgrades
// -----------------------------

type UpgradeRepository interface {
	Save(ctx context.Context, tx Tx, u *model.UserUpgrade) error
	// FindByID locks the row when tx is a live transaction.
	FindByID(ctx context.Context, tx Tx, id string) (*model.UserUpgrade, error)
	FindByCheckoutSession(ctx context.Context, tx Tx, sessionID string) (*model.UserUpgrade, error)
	// ListByUser returns upgrades the user purchased or received, newest first.
	ListByUser(ctx context.Context, tx Tx, userID string) ([]*model.UserUpgrade, error)
	// ListUnsettled returns pending/processing upgrades that have a checkout session,
	// were last touched before olderThan and were created after createdAfter.
	ListUnsettled(ctx context.Context, tx Tx, olderThan, createdAfter time.Time, limit int) ([]*model.UserUpgrade, error)
}
