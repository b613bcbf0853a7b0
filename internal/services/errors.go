package services

import (
	"errors"
	"fmt"
)

// Sentinel errors the API layer maps onto HTTP statuses. Not-found lookups
// pass through mongo.ErrNoDocuments instead.
var (
	ErrUsernameExists     = errors.New("username already taken")
	ErrEmailExists        = errors.New("email already in use by another account")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotPurchased       = errors.New("only buyers of this listing can review it")
	ErrNotOwner           = errors.New("only the listing owner can perform this action")
	ErrOwnListing         = errors.New("cannot buy your own listing")
)

// ValidationError reports malformed input on a named field. Maps to 400.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
