package fetcher

import (
	"context"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dealer-sync/internal/resilience"
)

// maxDownloadBytes bounds a downloaded spreadsheet.
const maxDownloadBytes = 64 << 20

// HTTPOptions configures Download.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
	Retry     resilience.RetryConfig
	Client    *http.Client
}

// Downloaded is a fetched spreadsheet and the file name used to pick its
// parser.
type Downloaded struct {
	Name string
	Data []byte
}

// Download fetches rawURL, retrying 429/5xx and network failures.
func Download(ctx context.Context, rawURL string, opts HTTPOptions) (*Downloaded, error) {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "dealer-sync/1.0"
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Retry.OnRetry == nil {
		opts.Retry.OnRetry = resilience.RetryLogger("fetcher", "download")
	}

	return resilience.DoVal(ctx, opts.Retry, func(ctx context.Context) (*Downloaded, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "download: create request")
		}
		req.Header.Set("User-Agent", opts.UserAgent)

		resp, err := client.Do(req)
		if err != nil {
			return nil, eris.Wrapf(err, "download: %s", rawURL)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusOK {
			err := eris.Errorf("download: unexpected status %d from %s", resp.StatusCode, rawURL)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(err, resp.StatusCode)
			}
			return nil, err
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
		if err != nil {
			return nil, eris.Wrap(err, "download: read body")
		}
		if len(data) > maxDownloadBytes {
			return nil, eris.Errorf("download: %s exceeds %d bytes", rawURL, maxDownloadBytes)
		}

		name := downloadName(rawURL, resp.Header.Get("Content-Type"))
		zap.L().Debug("spreadsheet downloaded",
			zap.String("url", rawURL),
			zap.String("name", name),
			zap.Int("bytes", len(data)),
		)
		return &Downloaded{Name: name, Data: data}, nil
	})
}

// downloadName derives a file name whose extension selects the parser. The
// URL path wins; Content-Type fills in when the path has no extension.
func downloadName(rawURL, contentType string) string {
	name := "download"
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" && base != "" {
			name = base
		}
	}
	if path.Ext(name) != "" {
		return name
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch {
	case mediaType == "text/csv", mediaType == "text/plain":
		return name + ".csv"
	case strings.Contains(mediaType, "spreadsheetml"):
		return name + ".xlsx"
	default:
		return name
	}
}
