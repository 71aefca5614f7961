package adapter

import (
	"context"

	"membership-upgrade/internal/domain/model"
)

// MessageKind names a message template. Sinks render Title and Body from it
// when they are left empty.
type MessageKind string

const (
	MessageUpgradeSelf MessageKind = "upgrade.self"
	MessageUpgradeGift MessageKind = "upgrade.gift"
)

// Message is an internal message (dmail) to a single user.
type Message struct {
	FromID string
	ToID   string
	Kind   MessageKind
	Args   []any // positional template arguments
	Title  string
	Body   string
}

// ModActionEntry is an audit record of a privileged account change.
// Description is rendered from the category template when empty.
type ModActionEntry struct {
	Category    model.ModActionCategory
	ActorID     string
	SubjectID   string
	Args        []any
	Description string
}

// NotificationSink delivers messages and records moderation actions.
// Both calls take the caller's transaction handle (nil for none) so they
// commit or roll back together with the state change they describe.
type NotificationSink interface {
	DeliverMessage(ctx context.Context, tx any, msg Message) error
	RecordModAction(ctx context.Context, tx any, entry ModActionEntry) error
}
