package acquire_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Novice000/crypto_export_fetcher/internal/acquire"
	"github.com/Novice000/crypto_export_fetcher/internal/fetch"
	"github.com/Novice000/crypto_export_fetcher/internal/platform"
	"github.com/Novice000/crypto_export_fetcher/internal/platform/local"
	"github.com/Novice000/crypto_export_fetcher/internal/storage"
	"github.com/Novice000/crypto_export_fetcher/internal/telemetry"
	"github.com/stretchr/testify/require"
)

// stubFetcher writes a fixed payload to the destination path.
type stubFetcher struct {
	payload []byte
	err     error
	// sizeOverride reports a different size than what was written, to
	// exercise short-write detection downstream.
	sizeOverride int64
	calls        int
}

func (f *stubFetcher) Fetch(ctx context.Context, url, dest string, offset int64) (int64, error) {
	f.calls++

	if f.err != nil {
		return 0, f.err
	}

	if err := os.WriteFile(dest, f.payload, 0644); err != nil {
		return 0, err
	}

	if f.sizeOverride > 0 {
		return f.sizeOverride, nil
	}

	return int64(len(f.payload)), nil
}

// memRepo is an in-memory AcquisitionWriteRepository for tests.
type memRepo struct {
	mu        sync.Mutex
	inFlight  map[string]bool
	completed map[string]acquire.PlacementResult
	failed    map[string]string
}

func newMemRepo() *memRepo {
	return &memRepo{
		inFlight:  make(map[string]bool),
		completed: make(map[string]acquire.PlacementResult),
		failed:    make(map[string]string),
	}
}

func (r *memRepo) Claim(fileName, resourceURL, policy, instanceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inFlight[fileName] {
		return storage.ErrInFlight
	}

	r.inFlight[fileName] = true

	return nil
}

func (r *memRepo) Complete(fileName, finalLocation string, handoff bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.inFlight, fileName)
	r.completed[fileName] = acquire.PlacementResult{FinalLocation: finalLocation, Handoff: handoff}

	return nil
}

func (r *memRepo) Fail(fileName, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.inFlight, fileName)
	r.failed[fileName] = reason

	return nil
}

type stubShareSurface struct {
	outcome platform.ShareOutcome
	err     error
	calls   int
}

func (s *stubShareSurface) Share(ctx context.Context, path, mimeType, title string) (platform.ShareOutcome, error) {
	s.calls++

	return s.outcome, s.err
}

// spyStrategy records whether placement was attempted.
type spyStrategy struct {
	called bool
}

func (s *spyStrategy) Place(ctx context.Context, artifact acquire.Artifact) (acquire.PlacementResult, error) {
	s.called = true

	return acquire.PlacementResult{FinalLocation: artifact.Path}, nil
}

func newAcquirer(t *testing.T, fetcher fetch.Fetcher, repo storage.AcquisitionWriteRepository, strategies map[acquire.Policy]acquire.Strategy) *acquire.Acquirer {
	t.Helper()

	return acquire.NewAcquirer(t.TempDir(), 2, fetcher, repo, strategies, nil)
}

func internalOnly() map[acquire.Policy]acquire.Strategy {
	return map[acquire.Policy]acquire.Strategy{
		acquire.PolicyInternal: acquire.NewInternalStrategy(),
	}
}

func TestAcquire_Internal_RoundTrip(t *testing.T) {
	payload := make([]byte, 1024)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	repo := newMemRepo()
	acquirer := newAcquirer(t, fetch.NewHTTPFetcher(), repo, internalOnly())

	result, err := acquirer.Acquire(context.Background(), acquire.Request{
		ResourceURL: server.URL + "/export.zip",
		FileName:    "crypto_data_2024-01-01.zip",
		Policy:      acquire.PolicyInternal,
	})
	require.NoError(t, err)

	require.Equal(t, acquirer.StagingPath("crypto_data_2024-01-01.zip"), result.FinalLocation)
	require.False(t, result.Handoff)

	got, err := os.ReadFile(result.FinalLocation)
	require.NoError(t, err)
	require.True(t, bytes.Equal(payload, got), "final artifact must contain exactly the transferred bytes")

	require.Contains(t, repo.completed, "crypto_data_2024-01-01.zip")
}

// Telemetry switched off by configuration yields a zero instance rather
// than a nil pointer; the pipeline must run unchanged against it.
func TestAcquire_TelemetryDisabled(t *testing.T) {
	tel, err := telemetry.New(context.Background(), telemetry.Config{Enabled: false})
	require.NoError(t, err)

	fetcher := &stubFetcher{payload: []byte("payload")}
	repo := newMemRepo()
	acquirer := acquire.NewAcquirer(t.TempDir(), 2, fetcher, repo, internalOnly(), tel)

	result, err := acquirer.Acquire(context.Background(), acquire.Request{
		ResourceURL: "https://x/export.zip",
		FileName:    "crypto_data_2024-01-01.zip",
		Policy:      acquire.PolicyInternal,
	})
	require.NoError(t, err)
	require.Equal(t, acquirer.StagingPath("crypto_data_2024-01-01.zip"), result.FinalLocation)
	require.Contains(t, repo.completed, "crypto_data_2024-01-01.zip")
}

func TestAcquire_InvalidRequest(t *testing.T) {
	fetcher := &stubFetcher{payload: []byte("data")}
	acquirer := newAcquirer(t, fetcher, newMemRepo(), internalOnly())

	tests := []struct {
		name string
		req  acquire.Request
	}{
		{
			name: "empty url",
			req:  acquire.Request{FileName: "a.zip", Policy: acquire.PolicyInternal},
		},
		{
			name: "relative url",
			req:  acquire.Request{ResourceURL: "export.zip", FileName: "a.zip", Policy: acquire.PolicyInternal},
		},
		{
			name: "empty file name",
			req:  acquire.Request{ResourceURL: "https://x/export.zip", Policy: acquire.PolicyInternal},
		},
		{
			name: "path traversal file name",
			req:  acquire.Request{ResourceURL: "https://x/export.zip", FileName: "../evil.zip", Policy: acquire.PolicyInternal},
		},
		{
			name: "unknown policy",
			req:  acquire.Request{ResourceURL: "https://x/export.zip", FileName: "a.zip", Policy: acquire.Policy(42)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := acquirer.Acquire(context.Background(), tt.req)

			var invalidErr *acquire.InvalidRequestError

			require.ErrorAs(t, err, &invalidErr)
		})
	}

	require.Zero(t, fetcher.calls, "no transfer may start for an invalid request")
}

func TestAcquire_TransferFailed_NoPlacement(t *testing.T) {
	fetcher := &stubFetcher{err: &fetch.TransferError{URL: "https://x/export.zip", StatusCode: 503, Reason: "unexpected status"}}
	strategy := &spyStrategy{}
	repo := newMemRepo()

	acquirer := newAcquirer(t, fetcher, repo, map[acquire.Policy]acquire.Strategy{
		acquire.PolicyInternal: strategy,
	})

	_, err := acquirer.Acquire(context.Background(), acquire.Request{
		ResourceURL: "https://x/export.zip",
		FileName:    "a.zip",
		Policy:      acquire.PolicyInternal,
	})

	var transferErr *fetch.TransferError

	require.ErrorAs(t, err, &transferErr)
	require.False(t, strategy.called, "placement must not run after a failed transfer")
	require.Contains(t, repo.failed, "a.zip")
}

func TestAcquire_External_Success(t *testing.T) {
	payload := []byte("ohlcv,funding,open_interest")
	sharedDir := t.TempDir()
	repo := newMemRepo()

	strategies := map[acquire.Policy]acquire.Strategy{
		acquire.PolicyExternal: acquire.NewExternalStrategy(local.NewBroker(sharedDir), local.NewDirWriter(), nil),
	}

	acquirer := newAcquirer(t, &stubFetcher{payload: payload}, repo, strategies)

	result, err := acquirer.Acquire(context.Background(), acquire.Request{
		ResourceURL: "https://x/export.zip",
		FileName:    "a.zip",
		Policy:      acquire.PolicyExternal,
	})
	require.NoError(t, err)

	require.Equal(t, filepath.Join(sharedDir, "a.zip"), result.FinalLocation)
	require.False(t, result.Handoff)

	got, err := os.ReadFile(result.FinalLocation)
	require.NoError(t, err)
	require.Equal(t, payload, got, "shared copy must match the staged bytes exactly")

	_, err = os.Stat(acquirer.StagingPath("a.zip"))
	require.True(t, os.IsNotExist(err), "staging copy is removed after a successful shared placement")
}

func TestAcquire_External_PermissionDenied_FallsBack(t *testing.T) {
	payload := []byte("payload")
	repo := newMemRepo()

	// A broker with no shared directory declines every request.
	strategies := map[acquire.Policy]acquire.Strategy{
		acquire.PolicyExternal: acquire.NewExternalStrategy(local.NewBroker(""), local.NewDirWriter(), nil),
	}

	acquirer := newAcquirer(t, &stubFetcher{payload: payload}, repo, strategies)

	result, err := acquirer.Acquire(context.Background(), acquire.Request{
		ResourceURL: "https://x/export.zip",
		FileName:    "a.zip",
		Policy:      acquire.PolicyExternal,
	})
	require.NoError(t, err, "permission denial must never surface as a failed acquisition")

	require.Equal(t, acquirer.StagingPath("a.zip"), result.FinalLocation)
	require.False(t, result.Handoff)

	got, err := os.ReadFile(result.FinalLocation)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestAcquire_External_ShortWrite_FallsBack(t *testing.T) {
	payload := []byte("payload")
	sharedDir := t.TempDir()

	strategies := map[acquire.Policy]acquire.Strategy{
		acquire.PolicyExternal: acquire.NewExternalStrategy(local.NewBroker(sharedDir), local.NewDirWriter(), nil),
	}

	// The fetcher claims one byte more than it staged, so the verified copy
	// comes up short and the strategy must fall back.
	fetcher := &stubFetcher{payload: payload, sizeOverride: int64(len(payload)) + 1}

	acquirer := newAcquirer(t, fetcher, newMemRepo(), strategies)

	result, err := acquirer.Acquire(context.Background(), acquire.Request{
		ResourceURL: "https://x/export.zip",
		FileName:    "a.zip",
		Policy:      acquire.PolicyExternal,
	})
	require.NoError(t, err)

	require.Equal(t, acquirer.StagingPath("a.zip"), result.FinalLocation)

	_, err = os.Stat(filepath.Join(sharedDir, "a.zip"))
	require.True(t, os.IsNotExist(err), "a truncated shared entry must not survive")
}

func TestAcquire_Share_Cancelled(t *testing.T) {
	payload := []byte("payload")
	surface := &stubShareSurface{outcome: platform.ShareCancelled}

	strategies := map[acquire.Policy]acquire.Strategy{
		acquire.PolicyShare: acquire.NewShareStrategy(surface, "Save export archive"),
	}

	acquirer := newAcquirer(t, &stubFetcher{payload: payload}, newMemRepo(), strategies)

	result, err := acquirer.Acquire(context.Background(), acquire.Request{
		ResourceURL: "https://x/export.zip",
		FileName:    "a.zip",
		Policy:      acquire.PolicyShare,
	})
	require.NoError(t, err, "share cancellation is not an error")

	require.True(t, result.Handoff)
	require.Equal(t, acquirer.StagingPath("a.zip"), result.FinalLocation)
	require.Equal(t, 1, surface.calls)

	_, err = os.Stat(result.FinalLocation)
	require.NoError(t, err, "staged artifact remains valid after cancellation")
}

func TestAcquire_Share_Unavailable(t *testing.T) {
	surface := &stubShareSurface{err: errors.New("no handler registered")}

	strategies := map[acquire.Policy]acquire.Strategy{
		acquire.PolicyShare: acquire.NewShareStrategy(surface, "Save export archive"),
	}

	acquirer := newAcquirer(t, &stubFetcher{payload: []byte("payload")}, newMemRepo(), strategies)

	_, err := acquirer.Acquire(context.Background(), acquire.Request{
		ResourceURL: "https://x/export.zip",
		FileName:    "a.zip",
		Policy:      acquire.PolicyShare,
	})

	var shareErr *acquire.ShareUnavailableError

	require.ErrorAs(t, err, &shareErr)
}

func TestAcquire_SequentialSameName(t *testing.T) {
	first := []byte("first payload")
	second := []byte("second payload, longer than the first one")

	repo := newMemRepo()
	fetcher := &stubFetcher{payload: first}
	acquirer := newAcquirer(t, fetcher, repo, internalOnly())

	req := acquire.Request{
		ResourceURL: "https://x/export.zip",
		FileName:    "a.zip",
		Policy:      acquire.PolicyInternal,
	}

	result1, err := acquirer.Acquire(context.Background(), req)
	require.NoError(t, err)

	got, err := os.ReadFile(result1.FinalLocation)
	require.NoError(t, err)
	require.Equal(t, first, got)

	fetcher.payload = second

	result2, err := acquirer.Acquire(context.Background(), req)
	require.NoError(t, err)

	got, err = os.ReadFile(result2.FinalLocation)
	require.NoError(t, err)
	require.Equal(t, second, got, "second transfer fully overwrites the staging file")
}

func TestAcquire_InFlightConflict(t *testing.T) {
	repo := newMemRepo()
	repo.inFlight["a.zip"] = true

	fetcher := &stubFetcher{payload: []byte("payload")}
	acquirer := newAcquirer(t, fetcher, repo, internalOnly())

	_, err := acquirer.Acquire(context.Background(), acquire.Request{
		ResourceURL: "https://x/export.zip",
		FileName:    "a.zip",
		Policy:      acquire.PolicyInternal,
	})

	require.ErrorIs(t, err, storage.ErrInFlight)
	require.Zero(t, fetcher.calls, "a claimed name must not start a second transfer")
}

func TestAcquireBatch(t *testing.T) {
	payload := []byte("payload")
	acquirer := newAcquirer(t, &stubFetcher{payload: payload}, newMemRepo(), internalOnly())

	items := acquirer.AcquireBatch(context.Background(), []acquire.Request{
		{ResourceURL: "https://x/a.zip", FileName: "a.zip", Policy: acquire.PolicyInternal},
		{ResourceURL: "https://x/b.zip", FileName: "b.zip", Policy: acquire.PolicyInternal},
		{ResourceURL: "", FileName: "c.zip", Policy: acquire.PolicyInternal},
	})

	require.Len(t, items, 3)

	require.NoError(t, items[0].Err)
	require.Equal(t, acquirer.StagingPath("a.zip"), items[0].Result.FinalLocation)

	require.NoError(t, items[1].Err)
	require.Equal(t, acquirer.StagingPath("b.zip"), items[1].Result.FinalLocation)

	var invalidErr *acquire.InvalidRequestError

	require.ErrorAs(t, items[2].Err, &invalidErr, "one invalid item must not abort its siblings")
}

func TestAcquireBatch_ZeroParallelism(t *testing.T) {
	acquirer := acquire.NewAcquirer(t.TempDir(), 0, &stubFetcher{payload: []byte("payload")}, newMemRepo(), internalOnly(), nil)

	items := acquirer.AcquireBatch(context.Background(), []acquire.Request{
		{ResourceURL: "https://x/a.zip", FileName: "a.zip", Policy: acquire.PolicyInternal},
		{ResourceURL: "https://x/b.zip", FileName: "b.zip", Policy: acquire.PolicyInternal},
	})

	require.Len(t, items, 2)
	require.NoError(t, items[0].Err)
	require.NoError(t, items[1].Err)
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    acquire.Policy
		wantErr bool
	}{
		{name: "internal", input: "internal", want: acquire.PolicyInternal},
		{name: "external uppercase", input: "External", want: acquire.PolicyExternal},
		{name: "share", input: "share", want: acquire.PolicyShare},
		{name: "unknown", input: "cloud", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := acquire.ParsePolicy(tt.input)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
