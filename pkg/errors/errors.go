package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// AppError carries a stable code and a user-facing message. Rejections
// are returned synchronously and never retried by the engine.
type AppError struct {
	Code    int              // wire-stable error code
	Message string           // user-facing message
	Minimum *decimal.Decimal // set on bid-too-low rejections
	Err     error            // underlying cause (optional)
}

const (
	ErrInvalidInput       = 1001
	ErrAuctionNotFound    = 1002
	ErrBidTooLow          = 1003
	ErrAuctionNotActive   = 1004
	ErrUseBuyNow          = 1005
	ErrBuyNowUnavailable  = 1006
	ErrSecurityHold       = 1007
	ErrAutoBidLimit       = 1008
	ErrUnsupportedType    = 1009
	ErrAuctionHasBids     = 1010
	ErrNoAutoBidConfig    = 1011
	ErrBadMessageFormat   = 1012
	ErrUnknownMessageType = 1013

	ErrInternalServer = 500
)

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// ToJSON renders the error as a wire payload for clients.
func (e *AppError) ToJSON() string {
	payload := struct {
		Type    string           `json:"type"`
		Code    int              `json:"code"`
		Message string           `json:"message"`
		Minimum *decimal.Decimal `json:"minimum,omitempty"`
	}{"error", e.Code, e.Message, e.Minimum}
	b, _ := json.Marshal(payload)
	return string(b)
}

// Error creation utility
func New(code int, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrapping utility
func Wrap(err error, message string) *AppError {
	return &AppError{Code: ErrInternalServer, Message: message, Err: err}
}

// BelowMinimum builds a bid-too-low rejection carrying the computed
// minimum acceptable amount for client display.
func BelowMinimum(minimum decimal.Decimal) *AppError {
	return &AppError{
		Code:    ErrBidTooLow,
		Message: fmt.Sprintf("bid is below the minimum of %s", minimum),
		Minimum: &minimum,
	}
}

// Code extracts the AppError code from err, or 0 if err is not one.
func Code(err error) int {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return 0
}

// Is reports whether err carries the given code.
func Is(err error, code int) bool {
	return Code(err) == code
}
