package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrUpgradeNotFound    = errors.New("upgrade not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidUpgrade     = errors.New("recipient is not eligible for this upgrade")
	ErrInvalidTransition  = errors.New("invalid upgrade status transition")
	ErrMissingEmail       = errors.New("purchaser has no email address")
	ErrMissingSession     = errors.New("upgrade has no checkout session")
	ErrLocked             = errors.New("upgrade is being processed")
	ErrGateway            = errors.New("payment gateway failure")
	ErrAmountMismatch     = errors.New("captured amount does not match the upgrade price")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrOperationFailed    = errors.New("database operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
)

// GatewayError wraps a failure returned by a payment provider.
// errors.Is(err, ErrGateway) holds for every GatewayError.
type GatewayError struct {
	Provider string
	Op       string
	Err      error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func (e *GatewayError) Is(target error) bool { return target == ErrGateway }

// NewGatewayError returns nil when err is nil.
func NewGatewayError(provider, op string, err error) error {
	if err == nil {
		return nil
	}
	return &GatewayError{Provider: provider, Op: op, Err: err}
}
