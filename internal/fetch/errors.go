package fetch

import "fmt"

// TransferError represents a failed network transfer: connection failures,
// non-success responses, or responses with no usable body.
type TransferError struct {
	URL        string // Resource that was being transferred
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	Reason     string // Human-readable explanation of the failure
	Err        error  // Underlying error, if any
}

func (e *TransferError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transfer of %s failed (HTTP %d): %s", e.URL, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("transfer of %s failed: %s", e.URL, e.Reason)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}
