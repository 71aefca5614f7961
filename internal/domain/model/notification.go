package model

import "time"

// Dmail is an internal message delivered to a user's inbox.
type Dmail struct {
	ID        string
	FromID    string
	ToID      string
	Title     string
	Body      string
	CreatedAt time.Time
}

type ModActionCategory string

const (
	ModActionUserAccountUpgrade       ModActionCategory = "user_account_upgrade"
	ModActionUserAccountUpgradeRefund ModActionCategory = "user_account_upgrade_refund"
)

// ModAction is an audit log entry for a privileged account change.
type ModAction struct {
	ID          string
	CreatorID   string
	Category    ModActionCategory
	SubjectID   string
	Description string
	CreatedAt   time.Time
}
