package acquire

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/Novice000/crypto_export_fetcher/internal/fetch"
	"github.com/Novice000/crypto_export_fetcher/internal/logctx"
	"github.com/Novice000/crypto_export_fetcher/internal/storage"
	"github.com/Novice000/crypto_export_fetcher/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

const defaultMIMEType = "application/octet-stream"

// Policy selects where an acquired file ends up.
type Policy int

const (
	// PolicyInternal keeps the file at its private staging path.
	PolicyInternal Policy = iota
	// PolicyExternal copies the file into a user-visible shared directory,
	// falling back to PolicyInternal on any permission or I/O failure.
	PolicyExternal
	// PolicyShare hands the staged file to the native share surface.
	PolicyShare
)

func (p Policy) String() string {
	switch p {
	case PolicyInternal:
		return "internal"
	case PolicyExternal:
		return "external"
	case PolicyShare:
		return "share"
	}

	return "unknown"
}

// ParsePolicy converts a policy name into a Policy.
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(name) {
	case "internal":
		return PolicyInternal, nil
	case "external":
		return PolicyExternal, nil
	case "share":
		return PolicyShare, nil
	}

	return 0, &InvalidRequestError{Field: "policy", Reason: fmt.Sprintf("unknown destination policy %q", name)}
}

// Request describes one acquisition. Immutable; consumed once per attempt.
type Request struct {
	ResourceURL string
	FileName    string
	Policy      Policy
}

// Validate checks the request before any network or filesystem work.
func (r Request) Validate() error {
	if r.ResourceURL == "" {
		return &InvalidRequestError{Field: "resource_url", Reason: "must not be empty"}
	}

	u, err := url.Parse(r.ResourceURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &InvalidRequestError{Field: "resource_url", Reason: "must be an absolute URL"}
	}

	if r.FileName == "" {
		return &InvalidRequestError{Field: "file_name", Reason: "must not be empty"}
	}

	if !safeFileName(r.FileName) {
		return &InvalidRequestError{Field: "file_name", Reason: "must be a plain file name without path separators"}
	}

	if r.Policy.String() == "unknown" {
		return &InvalidRequestError{Field: "policy", Reason: "unknown destination policy"}
	}

	return nil
}

// safeFileName reports whether name is usable as a single path element
// under the staging directory.
func safeFileName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}

	if strings.ContainsAny(name, `/\`) {
		return false
	}

	return filepath.Base(name) == name
}

// PlacementResult reports where the acquired file ended up. Handoff means
// control over the file passed to an external surface rather than a path
// the caller can address.
type PlacementResult struct {
	FinalLocation string `json:"final_location"`
	Handoff       bool   `json:"handoff"`
}

// Artifact is the staged byte result of a transfer, prior to placement.
type Artifact struct {
	Path     string
	FileName string
	MIMEType string
	Size     int64
}

// Strategy performs the policy-specific placement step.
type Strategy interface {
	Place(ctx context.Context, artifact Artifact) (PlacementResult, error)
}

// Event reports a completed acquisition attempt.
type Event struct {
	Request Request
	Result  PlacementResult
	Err     error
}

// Acquirer runs the acquisition pipeline: validate, claim, transfer to
// staging, place via the policy's strategy, record the outcome.
type Acquirer struct {
	stagingDir  string
	fetcher     fetch.Fetcher
	repo        storage.AcquisitionWriteRepository
	strategies  map[Policy]Strategy
	instanceID  string
	maxParallel int
	telemetry   *telemetry.Telemetry

	OnAcquisitionFinished chan *Event
	OnAcquisitionFailed   chan *Event
}

// NewAcquirer wires the pipeline. The strategies map must contain an entry
// for every policy the caller intends to use.
func NewAcquirer(
	stagingDir string,
	maxParallel int,
	fetcher fetch.Fetcher,
	repo storage.AcquisitionWriteRepository,
	strategies map[Policy]Strategy,
	tel *telemetry.Telemetry,
) *Acquirer {
	// The batch semaphore needs at least one slot or AcquireBatch would
	// block before spawning its first worker.
	if maxParallel < 1 {
		maxParallel = 1
	}

	return &Acquirer{
		stagingDir:  stagingDir,
		maxParallel: maxParallel,
		fetcher:     fetcher,
		repo:        repo,
		strategies:  strategies,
		instanceID:  storage.GenerateInstanceID(),
		telemetry:   tel,

		OnAcquisitionFinished: make(chan *Event, 16),
		OnAcquisitionFailed:   make(chan *Event, 16),
	}
}

func (a *Acquirer) Close() {
	close(a.OnAcquisitionFinished)
	close(a.OnAcquisitionFailed)
}

// StagingPath returns the deterministic staging path for a file name.
func (a *Acquirer) StagingPath(fileName string) string {
	return filepath.Join(a.stagingDir, fileName)
}

// Acquire runs one acquisition. Validation and transfer failures propagate;
// shared-placement failures under PolicyExternal are recovered inside the
// strategy and never surface here.
func (a *Acquirer) Acquire(ctx context.Context, req Request) (PlacementResult, error) {
	logger := logctx.LoggerFromContext(ctx).With("file_name", req.FileName, "policy", req.Policy.String())

	if err := req.Validate(); err != nil {
		return PlacementResult{}, err
	}

	var result PlacementResult

	err := a.telemetry.InstrumentAcquisition(ctx, req.Policy.String(), func(ctx context.Context) error {
		var err error
		result, err = a.acquire(logctx.WithLogger(ctx, logger), req)

		return err
	})
	if err != nil {
		a.emit(a.OnAcquisitionFailed, &Event{Request: req, Err: err})

		return PlacementResult{}, err
	}

	a.emit(a.OnAcquisitionFinished, &Event{Request: req, Result: result})

	return result, nil
}

func (a *Acquirer) acquire(ctx context.Context, req Request) (PlacementResult, error) {
	logger := logctx.LoggerFromContext(ctx)

	// Claim the file name so two in-flight transfers can never interleave
	// writes to the same staging path.
	if err := a.repo.Claim(req.FileName, req.ResourceURL, req.Policy.String(), a.instanceID); err != nil {
		if errors.Is(err, storage.ErrInFlight) {
			return PlacementResult{}, err
		}

		return PlacementResult{}, fmt.Errorf("failed to claim acquisition: %w", err)
	}

	staging := a.StagingPath(req.FileName)

	size, err := a.fetcher.Fetch(ctx, req.ResourceURL, staging, 0)
	if err != nil {
		a.recordFailure(ctx, req.FileName, err)

		return PlacementResult{}, err
	}

	strategy, ok := a.strategies[req.Policy]
	if !ok {
		err := fmt.Errorf("no strategy registered for policy %s", req.Policy)
		a.recordFailure(ctx, req.FileName, err)

		return PlacementResult{}, err
	}

	artifact := Artifact{
		Path:     staging,
		FileName: req.FileName,
		MIMEType: mimeTypeFor(req.FileName),
		Size:     size,
	}

	result, err := strategy.Place(ctx, artifact)
	if err != nil {
		a.recordFailure(ctx, req.FileName, err)

		return PlacementResult{}, err
	}

	if err := a.repo.Complete(req.FileName, result.FinalLocation, result.Handoff); err != nil {
		logger.Error("failed to record acquisition outcome", "err", err)
	}

	logger.Info("acquisition complete", "final_location", result.FinalLocation, "handoff", result.Handoff)

	return result, nil
}

// BatchItem pairs a batch request with its outcome.
type BatchItem struct {
	Request Request
	Result  PlacementResult
	Err     error
}

// AcquireBatch runs independent requests with bounded parallelism. Items
// are independent: one failing does not abort its siblings. Duplicate file
// names within a batch serialize through the per-name claim; the loser gets
// storage.ErrInFlight.
func (a *Acquirer) AcquireBatch(ctx context.Context, reqs []Request) []BatchItem {
	items := make([]BatchItem, len(reqs))

	wg, ctx := errgroup.WithContext(ctx)

	sem := make(chan struct{}, a.maxParallel)

	for i := range reqs {
		req := reqs[i]
		item := &items[i]
		sem <- struct{}{}

		wg.Go(func() error {
			defer func() { <-sem }() // release the slot

			item.Request = req
			item.Result, item.Err = a.Acquire(ctx, req)

			return nil
		})
	}

	_ = wg.Wait()

	return items
}

func (a *Acquirer) recordFailure(ctx context.Context, fileName string, cause error) {
	if err := a.repo.Fail(fileName, cause.Error()); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to record acquisition failure", "file_name", fileName, "err", err)
	}
}

// emit delivers an event without blocking the pipeline when nobody drains
// the channel.
func (a *Acquirer) emit(ch chan *Event, ev *Event) {
	select {
	case ch <- ev:
	default:
	}
}

func mimeTypeFor(fileName string) string {
	if t := mime.TypeByExtension(filepath.Ext(fileName)); t != "" {
		return t
	}

	return defaultMIMEType
}
