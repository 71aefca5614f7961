package model

import (
	"time"

	"membership-upgrade/internal/domain"

	"github.com/google/uuid"
)

type UpgradeStatus string

const (
	UpgradeStatusPending    UpgradeStatus = "pending"    // created, no payment seen yet
	UpgradeStatusProcessing UpgradeStatus = "processing" // gateway reported a non-paid status; retried later
	UpgradeStatusComplete   UpgradeStatus = "complete"   // paid and applied to the recipient
	UpgradeStatusRefunded   UpgradeStatus = "refunded"   // refunded and reverted
)

var upgradeTransitions = map[UpgradeStatus][]UpgradeStatus{
	UpgradeStatusPending:    {UpgradeStatusProcessing, UpgradeStatusComplete},
	UpgradeStatusProcessing: {UpgradeStatusProcessing, UpgradeStatusComplete},
	UpgradeStatusComplete:   {UpgradeStatusRefunded},
}

func (s UpgradeStatus) Valid() bool {
	switch s {
	case UpgradeStatusPending, UpgradeStatusProcessing, UpgradeStatusComplete, UpgradeStatusRefunded:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s UpgradeStatus) CanTransitionTo(next UpgradeStatus) bool {
	for _, n := range upgradeTransitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

// IsSettled is true once the payment outcome has been applied.
func (s UpgradeStatus) IsSettled() bool {
	return s == UpgradeStatusComplete || s == UpgradeStatusRefunded
}

type UpgradeType string

const (
	UpgradeTypeGold           UpgradeType = "gold"
	UpgradeTypePlatinum       UpgradeType = "platinum"
	UpgradeTypeGoldToPlatinum UpgradeType = "gold_to_platinum"
)

// UpgradePlan describes what an upgrade type sells.
type UpgradePlan struct {
	Type        UpgradeType
	FromLevel   UserLevel // highest level the recipient may hold before the upgrade
	TargetLevel UserLevel
	Price       int64 // minor units
}

var upgradePlans = map[UpgradeType]UpgradePlan{
	UpgradeTypeGold:           {Type: UpgradeTypeGold, FromLevel: LevelMember, TargetLevel: LevelGold, Price: 2000},
	UpgradeTypePlatinum:       {Type: UpgradeTypePlatinum, FromLevel: LevelMember, TargetLevel: LevelPlatinum, Price: 4000},
	UpgradeTypeGoldToPlatinum: {Type: UpgradeTypeGoldToPlatinum, FromLevel: LevelGold, TargetLevel: LevelPlatinum, Price: 2000},
}

// Eligible reports whether a recipient at level may buy the plan. Plans that
// start above Member require the recipient to hold exactly that level.
func (p UpgradePlan) Eligible(level UserLevel) bool {
	if level > p.FromLevel {
		return false
	}
	if p.FromLevel > LevelMember {
		return level == p.FromLevel
	}
	return true
}

func (t UpgradeType) Plan() (UpgradePlan, bool) {
	p, ok := upgradePlans[t]
	return p, ok
}

func (t UpgradeType) Valid() bool {
	_, ok := upgradePlans[t]
	return ok
}

// UserUpgrade is a purchase of a membership tier for a recipient account.
// It is the audit record of the purchase and is never deleted.
type UserUpgrade struct {
	ID                string
	RecipientID       string
	PurchaserID       string // equals RecipientID for self upgrades
	UpgradeType       UpgradeType
	Status            UpgradeStatus
	PaymentProcessor  string
	CheckoutSessionID *string    // nil until a checkout session is created
	PreviousLevel     *UserLevel // recipient level captured when the upgrade completed
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
	RefundedAt        *time.Time
}

func NewUserUpgrade(id, purchaserID, recipientID string, t UpgradeType, processor string) (*UserUpgrade, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if purchaserID == "" || !t.Valid() {
		return nil, domain.ErrInvalidArgument
	}
	if recipientID == "" {
		recipientID = purchaserID
	}
	now := time.Now()
	return &UserUpgrade{
		ID:               id,
		RecipientID:      recipientID,
		PurchaserID:      purchaserID,
		UpgradeType:      t,
		Status:           UpgradeStatusPending,
		PaymentProcessor: processor,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

func (u *UserUpgrade) IsGift() bool { return u.PurchaserID != u.RecipientID }

func (u *UserUpgrade) Plan() UpgradePlan {
	p, _ := u.UpgradeType.Plan()
	return p
}

func (u *UserUpgrade) TargetLevel() UserLevel { return u.Plan().TargetLevel }

func (u *UserUpgrade) SessionID() string {
	if u.CheckoutSessionID == nil {
		return ""
	}
	return *u.CheckoutSessionID
}

// TransitionTo moves the upgrade to next, stamping the matching timestamps.
func (u *UserUpgrade) TransitionTo(next UpgradeStatus, at time.Time) error {
	if !u.Status.CanTransitionTo(next) {
		return domain.ErrInvalidTransition
	}
	u.Status = next
	u.UpdatedAt = at
	switch next {
	case UpgradeStatusComplete:
		u.CompletedAt = &at
	case UpgradeStatusRefunded:
		u.RefundedAt = &at
	}
	return nil
}
