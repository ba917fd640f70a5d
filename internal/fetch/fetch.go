package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/Novice000/crypto_export_fetcher/internal/fetch/progress"
	"github.com/Novice000/crypto_export_fetcher/internal/logctx"
	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	dirPerm = 0755

	// progressInterval is how many bytes pass between progress log lines.
	progressInterval = int64(10 * 1024 * 1024)
)

// Fetcher transfers the bytes behind a URL to a local destination path.
//
// The offset parameter is a resumption seam: an implementation may request
// the remote range starting at offset and append to an existing partial
// file. Current callers always pass 0, which means a full transfer that
// truncates any previous content at dest.
type Fetcher interface {
	Fetch(ctx context.Context, url string, dest string, offset int64) (int64, error)
}

// HTTPFetcher downloads a resource with a single HTTP GET.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates a fetcher whose outbound requests are traced.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

// Fetch performs the transfer and returns the number of bytes written to dest.
// A connection failure, a non-success status or an empty body yields a
// *TransferError; no partial file is reported as success.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string, dest string, offset int64) (int64, error) {
	logger := logctx.LoggerFromContext(ctx).With("url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, &TransferError{URL: url, Reason: "invalid request", Err: err}
	}

	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, &TransferError{URL: url, Reason: "request failed", Err: err}
	}

	defer resp.Body.Close()

	if !acceptableStatus(resp.StatusCode, offset) {
		return 0, &TransferError{URL: url, StatusCode: resp.StatusCode, Reason: "unexpected status"}
	}

	// A 200 in reply to a Range request means the server ignored the header
	// and is sending the whole resource; restart from zero or the full body
	// would be spliced in at the old offset.
	if offset > 0 && resp.StatusCode == http.StatusOK {
		logger.Debug("server ignored range request, restarting transfer", "offset", offset)

		offset = 0
	}

	if err := os.MkdirAll(filepath.Dir(dest), dirPerm); err != nil {
		return 0, &TransferError{URL: url, Reason: "failed to create staging directory", Err: err}
	}

	out, err := openDest(dest, offset)
	if err != nil {
		return 0, &TransferError{URL: url, Reason: "failed to open staging file", Err: err}
	}

	defer out.Close()

	logger.Info("transferring resource", "dest", dest, "content_length", humanize.Bytes(uint64(max(resp.ContentLength, 0))))

	pr := progress.NewReader(resp.Body, resp.ContentLength, progressInterval, func(written, total int64) {
		if total > 0 {
			logger.Debug("transfer progress",
				"downloaded", humanize.Bytes(uint64(written)),
				"total", humanize.Bytes(uint64(total)),
				"percent", humanize.FtoaWithDigits(float64(written)*100/float64(total), 2))
		} else {
			logger.Debug("transfer progress", "downloaded", humanize.Bytes(uint64(written)))
		}
	})

	written, err := io.Copy(out, pr)
	if err != nil {
		return written, &TransferError{URL: url, Reason: "copy to staging failed", Err: err}
	}

	// A 200 with no bytes is a broken export, not a download.
	if written == 0 && offset == 0 {
		return 0, &TransferError{URL: url, StatusCode: resp.StatusCode, Reason: "empty response body"}
	}

	logger.Info("transfer complete", "dest", dest, "size", humanize.Bytes(uint64(written)))

	return written, nil
}

func acceptableStatus(status int, offset int64) bool {
	if offset > 0 {
		return status == http.StatusPartialContent || status == http.StatusOK
	}

	return status >= http.StatusOK && status < http.StatusMultipleChoices
}

func openDest(dest string, offset int64) (*os.File, error) {
	if offset > 0 {
		f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			return nil, err
		}

		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()

			return nil, err
		}

		return f, nil
	}

	return os.Create(dest)
}
