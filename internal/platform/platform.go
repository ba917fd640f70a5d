// Package platform defines the capability interfaces the acquirer needs
// from the host OS: permission negotiation for shared storage, shared
// directory entry creation, and the native share surface. Each target
// supplies its own adapter; the acquirer never touches platform APIs
// directly, which keeps it testable without a real OS.
package platform

import (
	"context"
	"io"
)

// Grant is an opaque capability representing consent to write into a
// user-chosen shared directory. A grant is scoped to a single placement
// operation and is never cached across acquisitions.
type Grant struct {
	// Location is the adapter-specific locator of the granted directory.
	Location string
}

// PermissionBroker negotiates storage access with the OS.
type PermissionBroker interface {
	// RequestAccess asks for coarse storage-access permission. A declined
	// request returns an error; the caller decides whether that is fatal.
	RequestAccess(ctx context.Context) error

	// RequestDirectory asks the user (or the platform) for a target shared
	// directory and returns a grant scoped to it.
	RequestDirectory(ctx context.Context) (Grant, error)
}

// SharedStorageWriter creates addressable entries inside a granted
// directory.
type SharedStorageWriter interface {
	// CreateEntry creates a new entry with the given name and MIME type
	// inside the granted directory. It returns the writer for the entry's
	// content and the entry's locator.
	CreateEntry(ctx context.Context, grant Grant, name, mimeType string) (io.WriteCloser, string, error)

	// RemoveEntry removes an entry previously created with CreateEntry.
	// Used to clean up truncated entries after a failed copy.
	RemoveEntry(ctx context.Context, locator string) error
}

// ShareOutcome is the result of a share-surface invocation.
type ShareOutcome int

const (
	// ShareCompleted means the user finished the native dialog.
	ShareCompleted ShareOutcome = iota
	// ShareCancelled means the user dismissed the dialog. Not an error:
	// the staged artifact remains valid either way.
	ShareCancelled
)

// ShareSurface hands a file to the platform's native share/export dialog.
type ShareSurface interface {
	// Share blocks until the user completes or cancels the dialog.
	Share(ctx context.Context, path, mimeType, title string) (ShareOutcome, error)
}
