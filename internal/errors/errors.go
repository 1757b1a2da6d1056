package errors

import "errors"

// Code identifies a structured error type used across the application.
type Code string

const (
	// Generic codes
	CodeUnknown Code = "unknown"

	// CLI errors
	CodeUsage Code = "usage"

	// Configuration errors
	CodeConfigMissing Code = "config_missing"
	CodeConfigInvalid Code = "config_invalid"

	// Lookup errors
	CodeNotFound Code = "not_found"

	// Group-level errors
	CodeLocationMissing Code = "location_missing"

	// Per-mod errors
	CodeInvalidRepoURL  Code = "invalid_repo_url"
	CodeInvalidPattern  Code = "invalid_pattern"
	CodeReleaseLookup   Code = "release_lookup_failed"
	CodeNoMatchingAsset Code = "no_matching_asset"
	CodeDownloadFailed  Code = "download_failed"
	CodeWriteFailed     Code = "write_failed"

	CodeLedger Code = "ledger_error"
)

// Error represents a structured error with a machine-readable code plus message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

// Unwrap returns the wrapped error.
func (e Error) Unwrap() error {
	return e.Err
}

// New wraps an error with a code/message.
func New(code Code, msg string, err error) Error {
	return Error{Code: code, Message: msg, Err: err}
}

// CodeOf walks the error chain and returns the first structured code found.
func CodeOf(err error) Code {
	var structured Error
	if errors.As(err, &structured) {
		return structured.Code
	}
	return CodeUnknown
}

// IsCode reports whether the error (or its unwrap chain) matches the provided code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// Recoverable reports whether the error only affects a single mod or group
// and the run may continue past it.
func Recoverable(err error) bool {
	switch CodeOf(err) {
	case CodeUsage, CodeConfigMissing, CodeConfigInvalid, CodeUnknown:
		return false
	default:
		return true
	}
}
