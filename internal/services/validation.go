package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message}
	if validationErr != nil {
		var verrs validator.ValidationErrors
		if errors.As(validationErr, &verrs) {
			errorResp.Details = make(map[string]string)
			for _, err := range verrs {
				errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
			}
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}

// SendLedgerError maps ledger/request errors onto HTTP statuses so clients
// can distinguish invalid input, missing records, replayed transitions and
// short balances (which keep their need/have figures in the message).
func SendLedgerError(w http.ResponseWriter, err error) {
	var insufficient *InsufficientBalanceError
	switch {
	case errors.As(err, &insufficient):
		SendErrorResponse(w, insufficient.Error(), http.StatusBadRequest, nil)
	case errors.Is(err, ErrInvalidAmount):
		SendErrorResponse(w, "Invalid amount", http.StatusBadRequest, nil)
	case errors.Is(err, ErrNotFound):
		SendErrorResponse(w, "Not found", http.StatusNotFound, nil)
	case errors.Is(err, ErrAlreadyProcessed):
		SendErrorResponse(w, "Request already processed", http.StatusConflict, nil)
	default:
		SendErrorResponse(w, "An internal error occurred", http.StatusInternalServerError, nil)
	}
}
