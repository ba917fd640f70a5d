package acquire

import "fmt"

// InvalidRequestError represents a request that fails validation before any
// network or filesystem work: empty or malformed URLs, unsafe file names,
// unknown destination policies.
type InvalidRequestError struct {
	Field  string // Name of the offending request field
	Reason string // Human-readable explanation of why the request is invalid
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid request field %s: %s", e.Field, e.Reason)
}

// PermissionDeniedError represents the OS declining the coarse
// storage-access permission request.
type PermissionDeniedError struct {
	Err error // Underlying error, if any
}

func (e *PermissionDeniedError) Error() string {
	return "storage access permission denied"
}

func (e *PermissionDeniedError) Unwrap() error {
	return e.Err
}

// DirectoryAccessError represents a failure to obtain a grant for the
// target shared directory.
type DirectoryAccessError struct {
	Reason string // Human-readable explanation of the directory failure
	Err    error  // Underlying error, if any
}

func (e *DirectoryAccessError) Error() string {
	return fmt.Sprintf("shared directory access denied: %s", e.Reason)
}

func (e *DirectoryAccessError) Unwrap() error {
	return e.Err
}

// WriteError represents a failure to create or fill a shared storage entry,
// including short writes that would otherwise leave a truncated file
// claimed as success.
type WriteError struct {
	Locator string // Locator of the entry being written, if one was created
	Reason  string // Human-readable explanation of the write failure
	Err     error  // Underlying error, if any
}

func (e *WriteError) Error() string {
	if e.Locator != "" {
		return fmt.Sprintf("write to shared entry %s failed: %s", e.Locator, e.Reason)
	}
	return fmt.Sprintf("shared entry write failed: %s", e.Reason)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// ShareUnavailableError represents a missing or broken native share
// surface. User cancellation of the share dialog is NOT one of these.
type ShareUnavailableError struct {
	Err error // Underlying error, if any
}

func (e *ShareUnavailableError) Error() string {
	return "share surface unavailable"
}

func (e *ShareUnavailableError) Unwrap() error {
	return e.Err
}

// StagingMissingError represents a staging artifact that disappeared
// between transfer and placement.
type StagingMissingError struct {
	Path string // Staging path that was expected to exist
	Err  error  // Underlying error, if any
}

func (e *StagingMissingError) Error() string {
	return fmt.Sprintf("staging artifact missing at %s", e.Path)
}

func (e *StagingMissingError) Unwrap() error {
	return e.Err
}
