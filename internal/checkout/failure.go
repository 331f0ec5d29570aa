package checkout

import (
	"errors"
	"fmt"
)

type FailureKind string

const (
	KindValidation        FailureKind = "validation"
	KindEmptyCart         FailureKind = "empty_cart"
	KindInsufficientStock FailureKind = "insufficient_stock"
	KindInProgress        FailureKind = "in_progress"
	KindNotFound          FailureKind = "not_found"
	KindInternal          FailureKind = "internal"
)

const (
	MsgInvalidMethod  = "Invalid payment method selected."
	MsgMissingAddress = "Please enter a delivery address."
	MsgInvalidAmount  = "Invalid order amount."
	MsgEmptyCart      = "Your cart is empty."
	MsgInProgress     = "Your order is already being processed. Please wait a moment."
	MsgGeneric        = "We could not process your order. Please try again."
)

// Failure is the typed outcome of a checkout that did not produce an order.
// Message is safe to show to the buyer; cause is for logs only.
type Failure struct {
	Kind       FailureKind
	Message    string
	Shortfalls []Shortfall
	cause      error
}

func (f *Failure) Error() string {
	if f.cause != nil {
		return fmt.Sprintf("checkout %s: %s: %v", f.Kind, f.Message, f.cause)
	}
	return fmt.Sprintf("checkout %s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error { return f.cause }

// Recoverable reports whether the buyer can fix the problem and resubmit.
func (f *Failure) Recoverable() bool {
	return f.Kind != KindInternal
}

func fail(kind FailureKind, msg string) *Failure {
	return &Failure{Kind: kind, Message: msg}
}

func internal(err error) *Failure {
	return &Failure{Kind: KindInternal, Message: MsgGeneric, cause: err}
}

// AsFailure unwraps err to a *Failure, mapping anything else to an internal one.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return internal(err)
}
