package domain

import "fmt"

type ErrorCode string

const (
	CodeValidation               ErrorCode = "VALIDATION_ERROR"
	CodeInstrumentNotFound       ErrorCode = "INSTRUMENT_NOT_FOUND"
	CodeInstrumentAlreadyUsed    ErrorCode = "INSTRUMENT_ALREADY_USED"
	CodeInvalidAmount            ErrorCode = "INVALID_AMOUNT"
	CodeUnsupportedCurrency      ErrorCode = "UNSUPPORTED_CURRENCY"
	CodeCheckoutNotFound         ErrorCode = "CHECKOUT_NOT_FOUND"
	CodeCheckoutAlreadyCompleted ErrorCode = "CHECKOUT_ALREADY_COMPLETED"
	CodeHandlerNotFound          ErrorCode = "HANDLER_NOT_FOUND"
	CodeHandlerDeclined          ErrorCode = "HANDLER_DECLINED"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the tagged failure result every operation in this subsystem
// returns instead of an untyped error. Code selects the HTTP error body,
// Fields carries per-field detail for VALIDATION_ERROR.
type Error struct {
	Code    ErrorCode
	Message string
	Fields  []FieldError
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func ValidationError(field, message string) *Error {
	return &Error{
		Code:    CodeValidation,
		Message: message,
		Fields:  []FieldError{{Field: field, Message: message}},
	}
}
