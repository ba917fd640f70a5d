package acquire

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/Novice000/crypto_export_fetcher/internal/logctx"
	"github.com/Novice000/crypto_export_fetcher/internal/platform"
	"github.com/Novice000/crypto_export_fetcher/internal/telemetry"
)

// InternalStrategy keeps the staging path as the final, app-private
// location. The transfer step already did all the work.
type InternalStrategy struct{}

func NewInternalStrategy() *InternalStrategy {
	return &InternalStrategy{}
}

func (s *InternalStrategy) Place(ctx context.Context, artifact Artifact) (PlacementResult, error) {
	if _, err := os.Stat(artifact.Path); err != nil {
		return PlacementResult{}, &StagingMissingError{Path: artifact.Path, Err: err}
	}

	return PlacementResult{FinalLocation: artifact.Path}, nil
}

// ExternalStrategy copies the staged artifact into a user-chosen shared
// directory: permission request, directory grant, entry creation, verified
// copy. Every failure along that sequence is recovered by falling back to
// the internal strategy, so the caller's contract stays "you always get a
// file". The fallback is an explicit transition, not a buried recover; it
// logs a warning and counts a fallback metric.
type ExternalStrategy struct {
	broker    platform.PermissionBroker
	writer    platform.SharedStorageWriter
	fallback  *InternalStrategy
	telemetry *telemetry.Telemetry
}

func NewExternalStrategy(
	broker platform.PermissionBroker,
	writer platform.SharedStorageWriter,
	tel *telemetry.Telemetry,
) *ExternalStrategy {
	return &ExternalStrategy{
		broker:    broker,
		writer:    writer,
		fallback:  NewInternalStrategy(),
		telemetry: tel,
	}
}

func (s *ExternalStrategy) Place(ctx context.Context, artifact Artifact) (PlacementResult, error) {
	logger := logctx.LoggerFromContext(ctx)

	result, err := s.attemptShared(ctx, artifact)
	if err == nil {
		return result, nil
	}

	// Shared-storage permission UX varies too much across hosts for a hard
	// failure to be useful here; the staged copy is still a valid outcome.
	logger.Warn("shared placement failed, falling back to private storage",
		"file_name", artifact.FileName,
		"err", err)

	s.telemetry.RecordFallback(fallbackCause(err))

	return s.fallback.Place(ctx, artifact)
}

// attemptShared runs the permission, grant, create and copy sequence. Any
// error return triggers the fallback in Place.
func (s *ExternalStrategy) attemptShared(ctx context.Context, artifact Artifact) (PlacementResult, error) {
	if err := s.broker.RequestAccess(ctx); err != nil {
		return PlacementResult{}, &PermissionDeniedError{Err: err}
	}

	grant, err := s.broker.RequestDirectory(ctx)
	if err != nil {
		return PlacementResult{}, &DirectoryAccessError{Reason: "no directory grant", Err: err}
	}

	src, err := os.Open(artifact.Path)
	if err != nil {
		return PlacementResult{}, &StagingMissingError{Path: artifact.Path, Err: err}
	}

	defer src.Close()

	entry, locator, err := s.writer.CreateEntry(ctx, grant, artifact.FileName, artifact.MIMEType)
	if err != nil {
		return PlacementResult{}, &WriteError{Reason: "failed to create shared entry", Err: err}
	}

	written, copyErr := io.Copy(entry, src)
	closeErr := entry.Close()

	if copyErr != nil || closeErr != nil {
		s.removeEntry(ctx, locator)

		return PlacementResult{}, &WriteError{Locator: locator, Reason: "copy failed", Err: errors.Join(copyErr, closeErr)}
	}

	// A truncated entry must never be claimed as success.
	if written != artifact.Size {
		s.removeEntry(ctx, locator)

		return PlacementResult{}, &WriteError{Locator: locator, Reason: "short write"}
	}

	// The shared entry is now the canonical copy.
	if err := os.Remove(artifact.Path); err != nil {
		logctx.LoggerFromContext(ctx).Warn("failed to remove staging copy", "path", artifact.Path, "err", err)
	}

	return PlacementResult{FinalLocation: locator}, nil
}

func (s *ExternalStrategy) removeEntry(ctx context.Context, locator string) {
	if err := s.writer.RemoveEntry(ctx, locator); err != nil {
		logctx.LoggerFromContext(ctx).Warn("failed to remove truncated shared entry", "locator", locator, "err", err)
	}
}

// fallbackCause maps placement errors onto a bounded metric label set.
func fallbackCause(err error) string {
	var (
		permission *PermissionDeniedError
		directory  *DirectoryAccessError
		write      *WriteError
		staging    *StagingMissingError
	)

	switch {
	case errors.As(err, &permission):
		return "permission_denied"
	case errors.As(err, &directory):
		return "directory_access_denied"
	case errors.As(err, &write):
		return "write_failed"
	case errors.As(err, &staging):
		return "staging_missing"
	}

	return "unknown"
}

// ShareStrategy hands the staged artifact to the native share surface. The
// artifact stays at its staging path no matter what the user does with the
// dialog, so cancellation is a success with handoff set.
type ShareStrategy struct {
	surface platform.ShareSurface
	title   string
}

func NewShareStrategy(surface platform.ShareSurface, title string) *ShareStrategy {
	return &ShareStrategy{surface: surface, title: title}
}

func (s *ShareStrategy) Place(ctx context.Context, artifact Artifact) (PlacementResult, error) {
	logger := logctx.LoggerFromContext(ctx)

	if _, err := os.Stat(artifact.Path); err != nil {
		return PlacementResult{}, &StagingMissingError{Path: artifact.Path, Err: err}
	}

	outcome, err := s.surface.Share(ctx, artifact.Path, artifact.MIMEType, s.title)
	if err != nil {
		return PlacementResult{}, &ShareUnavailableError{Err: err}
	}

	if outcome == platform.ShareCancelled {
		logger.Debug("share dialog cancelled", "file_name", artifact.FileName)
	}

	return PlacementResult{FinalLocation: artifact.Path, Handoff: true}, nil
}
