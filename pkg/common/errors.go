// Package common provides the error kinds shared across the rigcount pipeline.
//
// Two kinds exist. A ConfigError reports a missing or invalid setting supplied by
// the caller and is always raised before any I/O happens. A TransferError reports
// any failure that occurred during, or because of, a network fetch.
package common

import (
	"errors"
	"fmt"
)

// ConfigError reports a missing or invalid setting.
// Immutable
type ConfigError struct {
	// Setting names the offending setting, e.g. "OutputFileFormat".
	Setting string
	Message string
}

// NewConfigError builds a ConfigError for setting with a formatted message.
func NewConfigError(setting string, format string, args ...any) *ConfigError {
	return &ConfigError{
		Setting: setting,
		Message: fmt.Sprintf(format, args...),
	}
}

func (e *ConfigError) Error() string {
	if e.Setting == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (setting %s)", e.Message, e.Setting)
}

// TransferError reports a failed fetch. Err holds the underlying cause.
// Immutable
type TransferError struct {
	URI     string
	Message string
	Err     error
}

func (e *TransferError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err, or any error it wraps, is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsTransferError reports whether err, or any error it wraps, is a TransferError.
func IsTransferError(err error) bool {
	var te *TransferError
	return errors.As(err, &te)
}
