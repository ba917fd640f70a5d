// Package local provides the desktop adapter for the platform
// capabilities. There is no managed permission system here: access is
// "granted" when a shared directory has been configured and is writable,
// and denied otherwise, which maps a missing picker onto the same
// fallback path a mobile permission denial takes.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Novice000/crypto_export_fetcher/internal/platform"
)

const dirPerm = 0755

// Broker grants access to a single configured shared directory.
type Broker struct {
	sharedDir string
}

// NewBroker creates a broker for the configured shared directory. An empty
// sharedDir means every access request is declined.
func NewBroker(sharedDir string) *Broker {
	return &Broker{sharedDir: sharedDir}
}

func (b *Broker) RequestAccess(ctx context.Context) error {
	if b.sharedDir == "" {
		return fmt.Errorf("no shared directory configured")
	}

	return nil
}

func (b *Broker) RequestDirectory(ctx context.Context) (platform.Grant, error) {
	if b.sharedDir == "" {
		return platform.Grant{}, fmt.Errorf("no shared directory configured")
	}

	if err := os.MkdirAll(b.sharedDir, dirPerm); err != nil {
		return platform.Grant{}, fmt.Errorf("shared directory not writable: %w", err)
	}

	return platform.Grant{Location: b.sharedDir}, nil
}

// DirWriter writes shared entries as plain files under the granted directory.
type DirWriter struct{}

func NewDirWriter() *DirWriter {
	return &DirWriter{}
}

func (w *DirWriter) CreateEntry(ctx context.Context, grant platform.Grant, name, mimeType string) (io.WriteCloser, string, error) {
	if grant.Location == "" {
		return nil, "", fmt.Errorf("empty directory grant")
	}

	locator := filepath.Join(grant.Location, name)

	f, err := os.Create(locator)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create shared entry: %w", err)
	}

	return f, locator, nil
}

func (w *DirWriter) RemoveEntry(ctx context.Context, locator string) error {
	if err := os.Remove(locator); err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}

// ShareSurface is the desktop share adapter. Desktops have no native share
// sheet this service can drive, so every invocation reports the surface as
// unavailable; callers translate that into their own error taxonomy.
type ShareSurface struct{}

func NewShareSurface() *ShareSurface {
	return &ShareSurface{}
}

func (s *ShareSurface) Share(ctx context.Context, path, mimeType, title string) (platform.ShareOutcome, error) {
	return platform.ShareCompleted, fmt.Errorf("no share handler registered on this host")
}
