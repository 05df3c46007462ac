// Package listsource supplies the text form of a prefix list from a file,
// an HTTP endpoint, or a bootstrap-token exchange, and drives periodic
// rebuilds of a guard.Store from whichever source is configured.
package listsource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Source fetches the current text of a prefix list. Implementations must
// be safe to call repeatedly; each call represents one fetch attempt.
type Source interface {
	Fetch(ctx context.Context) (io.ReadCloser, error)
}

// FileSource reads the prefix list from a local file, re-reading it on
// every Fetch so edits are picked up without a process restart.
type FileSource struct {
	Path string
}

// Fetch opens the configured file.
func (f *FileSource) Fetch(ctx context.Context) (io.ReadCloser, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("listsource: open %s: %w", f.Path, err)
	}
	return file, nil
}

// HTTPSource fetches the prefix list body from a URL, optionally attaching
// a bearer token obtained from TokenSource.
type HTTPSource struct {
	URL string

	// TokenSource, if set, is consulted for an Authorization bearer token
	// on every request. Leave nil for unauthenticated endpoints.
	TokenSource func() string

	Client *http.Client
}

// Fetch issues a GET request and returns the response body on success.
// Non-2xx responses are returned as *HTTPError.
func (h *HTTPSource) Fetch(ctx context.Context) (io.ReadCloser, error) {
	client := h.Client
	if client == nil {
		client = defaultClient()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return nil, err
	}
	if h.TokenSource != nil {
		if token := h.TokenSource(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	return resp.Body, nil
}

func defaultClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			IdleConnTimeout:     30 * time.Second,
			MaxIdleConnsPerHost: 2,
		},
	}
}

// FetchWithRetry calls src.Fetch up to attempts times, waiting
// attempt*backoff between tries. It returns the first successful result
// or the last error encountered.
func FetchWithRetry(ctx context.Context, src Source, attempts int, backoff time.Duration) (io.ReadCloser, error) {
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * backoff):
			}
		}

		rc, err := src.Fetch(ctx)
		if err == nil {
			return rc, nil
		}
		lastErr = err
	}

	return nil, lastErr
}
