package utils

import (
	"errors"
	"fmt"
	"runtime"
)

// AppError represents an application error with context
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewAppError creates a new application error
func NewAppError(code, message string, details ...string) *AppError {
	_, file, line, _ := runtime.Caller(1)

	err := &AppError{
		Code:    code,
		Message: message,
		File:    file,
		Line:    line,
	}

	if len(details) > 0 {
		err.Details = details[0]
	}

	return err
}

// ErrorCode extracts the machine-readable code from an error, or
// ErrCodeInternal when the error is not an AppError.
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// Common error codes
const (
	ErrCodeConnection    = "CONNECTION_ERROR"
	ErrCodeDatabase      = "DATABASE_ERROR"
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternal      = "INTERNAL_ERROR"
	ErrCodeConfiguration = "CONFIGURATION_ERROR"

	// Bridge error taxonomy: endpoint failures, on-chain failures and
	// signature/ownership failures propagate with distinct codes so
	// callers can branch without string parsing.
	ErrCodeRPC       = "RPC_ERROR"
	ErrCodeChain     = "CHAIN_ERROR"
	ErrCodeIntegrity = "INTEGRITY_ERROR"
	ErrCodeWallet    = "WALLET_ERROR"

	// Security gate rejections. Each rule failure carries its own code so
	// API clients can distinguish a throttle from a ban.
	ErrCodePaused      = "BRIDGE_PAUSED"
	ErrCodeBlacklisted = "ADDRESS_BLACKLISTED"
	ErrCodeRateLimit   = "RATE_LIMIT"
	ErrCodeVolumeLimit = "VOLUME_LIMIT"
	ErrCodeSecurity    = "SECURITY_ERROR"
)
