package fetch

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPFetcher_Fetch(t *testing.T) {
	payload := make([]byte, 1024)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "export.zip")

	written, err := NewHTTPFetcher().Fetch(context.Background(), server.URL+"/export.zip", dest, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1024), written)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.True(t, bytes.Equal(payload, got))
}

func TestHTTPFetcher_Fetch_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "export build failed", http.StatusInternalServerError)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "export.zip")

	_, err := NewHTTPFetcher().Fetch(context.Background(), server.URL, dest, 0)

	var transferErr *TransferError

	require.ErrorAs(t, err, &transferErr)
	require.Equal(t, http.StatusInternalServerError, transferErr.StatusCode)

	_, statErr := os.Stat(dest)
	require.True(t, os.IsNotExist(statErr), "no staging file may exist after a failed status check")
}

func TestHTTPFetcher_Fetch_EmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "export.zip")

	_, err := NewHTTPFetcher().Fetch(context.Background(), server.URL, dest, 0)

	var transferErr *TransferError

	require.ErrorAs(t, err, &transferErr)
	require.Contains(t, transferErr.Reason, "empty response body")
}

func TestHTTPFetcher_Fetch_ConnectionFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	dest := filepath.Join(t.TempDir(), "export.zip")

	_, err := NewHTTPFetcher().Fetch(context.Background(), server.URL, dest, 0)

	var transferErr *TransferError

	require.ErrorAs(t, err, &transferErr)
	require.Zero(t, transferErr.StatusCode)
}

func TestHTTPFetcher_Fetch_Offset(t *testing.T) {
	full := []byte("0123456789abcdef")
	tail := full[10:]

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "bytes=10-", r.Header.Get("Range"))

		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(tail)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "export.zip")
	require.NoError(t, os.WriteFile(dest, full[:10], 0644))

	written, err := NewHTTPFetcher().Fetch(context.Background(), server.URL, dest, 10)
	require.NoError(t, err)
	require.Equal(t, int64(len(tail)), written)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, full, got, "resumed transfer appends at the requested offset")
}

func TestHTTPFetcher_Fetch_OffsetIgnoredByServer(t *testing.T) {
	full := []byte("0123456789abcdef")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "bytes=10-", r.Header.Get("Range"))

		// Plain 200 with the whole resource; the Range header is ignored.
		_, _ = w.Write(full)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "export.zip")
	require.NoError(t, os.WriteFile(dest, full[:10], 0644))

	written, err := NewHTTPFetcher().Fetch(context.Background(), server.URL, dest, 10)
	require.NoError(t, err)
	require.Equal(t, int64(len(full)), written)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, full, got, "a full-body reply restarts the transfer from zero")
}

// TestTransferError_Error verifies error message formatting
func TestTransferError_Error(t *testing.T) {
	tests := []struct {
		name       string
		err        *TransferError
		wantFormat string
	}{
		{
			name: "with HTTP status code",
			err: &TransferError{
				URL:        "https://x/export.zip",
				StatusCode: 503,
				Reason:     "unexpected status",
			},
			wantFormat: "transfer of https://x/export.zip failed (HTTP 503): unexpected status",
		},
		{
			name: "without HTTP status code",
			err: &TransferError{
				URL:    "https://x/export.zip",
				Reason: "request failed",
			},
			wantFormat: "transfer of https://x/export.zip failed: request failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantFormat {
				t.Errorf("Error() = %q, want %q", got, tt.wantFormat)
			}
		})
	}
}

// TestTransferError_Unwrap verifies error chain traversal
func TestTransferError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &TransferError{URL: "https://x/export.zip", Reason: "request failed", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("errors.Is() should find cause in wrapped chain")
	}
}
