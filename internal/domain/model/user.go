package model

import (
	"strings"
	"time"

	"membership-upgrade/internal/domain"

	"github.com/google/uuid"
)

// UserLevel is the account's membership tier. Higher values carry more privileges.
type UserLevel int

const (
	LevelRestricted UserLevel = 10
	LevelMember     UserLevel = 20
	LevelGold       UserLevel = 30
	LevelPlatinum   UserLevel = 31
	LevelBuilder    UserLevel = 32
	LevelModerator  UserLevel = 40
	LevelAdmin      UserLevel = 50
	LevelOwner      UserLevel = 60
)

var levelNames = map[UserLevel]string{
	LevelRestricted: "Restricted",
	LevelMember:     "Member",
	LevelGold:       "Gold",
	LevelPlatinum:   "Platinum",
	LevelBuilder:    "Builder",
	LevelModerator:  "Moderator",
	LevelAdmin:      "Admin",
	LevelOwner:      "Owner",
}

func (l UserLevel) String() string {
	if n, ok := levelNames[l]; ok {
		return n
	}
	return "Unknown"
}

// User is the account whose membership an upgrade changes.
// The upgrade only references it; the account subsystem owns it.
type User struct {
	ID           string
	Name         string
	EmailAddress *string
	Level        UserLevel
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func NewUser(id, name string, email string) (*User, error) {
	if id == "" {
		id = uuid.NewString()
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	u := &User{
		ID:        id,
		Name:      name,
		Level:     LevelMember,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if e := strings.TrimSpace(email); e != "" {
		u.EmailAddress = &e
	}
	return u, nil
}

// Email returns the address or "" when the account has none.
func (u *User) Email() string {
	if u == nil || u.EmailAddress == nil {
		return ""
	}
	return *u.EmailAddress
}

func (u *User) IsZero() bool { return u == nil || u.ID == "" }
