package services

import (
	"errors"
	"fmt"

	"github.com/kidcoin/backend/internal/models"
)

// Every ledger error aborts the enclosing transaction; nothing is retried
// here. The HTTP layer maps these to status codes and user-facing messages.
var (
	// ErrInvalidAmount covers non-numeric input and non-positive values
	// where positivity is required.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrNotFound means the referenced coin, request or user is absent.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyProcessed means a request in a terminal state was asked to
	// transition again.
	ErrAlreadyProcessed = errors.New("request already processed")
)

// InsufficientBalanceError is returned when a purchase exceeds the current
// balance. It carries both figures so clients can render "need X, have Y".
type InsufficientBalanceError struct {
	Required  models.Money
	Available models.Money
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: need %s, have %s", e.Required, e.Available)
}
