package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountInactive    = errors.New("your account is inactive, please contact support")
	ErrAdminRegistration  = errors.New("admin registration is not allowed")
	ErrInvalidResetToken  = errors.New("reset token is invalid or has expired")

	ErrOrderForbidden   = errors.New("order belongs to another user")
	ErrOrderAlreadyPaid = errors.New("order has already been paid")
	ErrOrderNotPayable  = errors.New("order can no longer be paid")
	ErrPaymentProvider  = errors.New("failed to create payment intent")
)

// InputError is a business rule violation the client can correct
type InputError struct {
	Message string
}

func (e *InputError) Error() string {
	return e.Message
}

func invalidInput(format string, args ...interface{}) error {
	return &InputError{Message: fmt.Sprintf(format, args...)}
}
