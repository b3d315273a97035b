package otp

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCode is returned when the submitted code does not match.
	ErrInvalidCode = errors.New("otp: invalid code")
	// ErrExpired is returned when no live challenge exists for the vehicle.
	ErrExpired = errors.New("otp: code expired")
	// ErrTooManyAttempts is returned once the verify budget is spent.
	ErrTooManyAttempts = errors.New("otp: too many attempts")
	// ErrTooManySends is returned once the per-challenge send budget is spent.
	ErrTooManySends = errors.New("otp: too many codes requested")
	// ErrTransport is returned when the code could not be delivered or the
	// verification service could not be reached.
	ErrTransport = errors.New("otp: transport failure")
	// ErrInvalidPhone is returned for numbers that are not 10 digits.
	ErrInvalidPhone = errors.New("otp: phone must be 10 digits")
)

// CooldownError is returned when a resend arrives inside the cooldown.
type CooldownError struct {
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("otp: resend available in %s", e.RetryAfter.Round(time.Second))
}

// TransportError carries a user-presentable message from the transport.
type TransportError struct {
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return ErrTransport.Error()
}

func (e *TransportError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTransport}
	}
	return []error{ErrTransport, e.Err}
}
