package httputil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/SandrineP/mamba/internal/errs"
)

// StatusError is a non-200 HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Client fetches URLs with bounded retries.
type Client struct {
	HTTP     *http.Client
	Attempts int
	Delay    time.Duration
	MaxDelay time.Duration
	Logger   *log.Logger // optional, logs retries
}

// NewClient returns a Client with 3 attempts, a 500ms initial backoff and
// waits capped at 30s.
func NewClient() *Client {
	return &Client{
		HTTP:     &http.Client{Timeout: 5 * time.Minute},
		Attempts: 3,
		Delay:    500 * time.Millisecond,
		MaxDelay: 30 * time.Second,
	}
}

func (c *Client) backoff() Backoff {
	return Backoff{Attempts: c.Attempts, Delay: c.Delay, MaxDelay: c.MaxDelay, Logger: c.Logger}
}

// Fetch copies the body of rawURL into a writer obtained from open, which
// is called again for every attempt that gets a response. file:// URLs are
// read from disk. Network errors, 429 and 5xx responses are retried.
func (c *Client) Fetch(ctx context.Context, rawURL string, open func() (io.WriteCloser, error)) error {
	if u, err := url.Parse(rawURL); err == nil && u.Scheme == "file" {
		return copyLocal(u.Path, open)
	}

	err := c.backoff().Do(ctx, rawURL, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return err
		}
		resp, err := c.HTTP.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &RetryableError{Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			statusErr := &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return &RetryableError{Err: statusErr, After: retryAfter(resp.Header.Get("Retry-After"), time.Now())}
			}
			return statusErr
		}

		w, err := open()
		if err != nil {
			return err
		}
		if _, err := io.Copy(w, resp.Body); err != nil {
			w.Close()
			return &RetryableError{Err: err}
		}
		return w.Close()
	})
	if err != nil {
		return errs.Wrap(errs.CodeIO, err, "failed to download %s", rawURL)
	}
	return nil
}

// FetchFile downloads rawURL into path. The body is written to
// path+".partial" and renamed into place only once complete, so a failed
// download never leaves a truncated file at path.
func (c *Client) FetchFile(ctx context.Context, rawURL, path string) error {
	partial := path + ".partial"
	err := c.Fetch(ctx, rawURL, func() (io.WriteCloser, error) {
		return os.Create(partial)
	})
	if err != nil {
		os.Remove(partial)
		return err
	}
	if err := os.Rename(partial, path); err != nil {
		os.Remove(partial)
		return errs.Wrap(errs.CodeIO, err, "failed to move download into %s", path)
	}
	return nil
}

// FetchBytes downloads rawURL into memory.
func (c *Client) FetchBytes(ctx context.Context, rawURL string) ([]byte, error) {
	var buf bytes.Buffer
	err := c.Fetch(ctx, rawURL, func() (io.WriteCloser, error) {
		buf.Reset()
		return nopCloser{&buf}, nil
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// IsNotFound reports whether err is a 404 response or a missing local file.
func IsNotFound(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusNotFound
	}
	return errors.Is(err, fs.ErrNotExist)
}

func copyLocal(path string, open func() (io.WriteCloser, error)) error {
	src, err := os.Open(path)
	if err != nil {
		return errs.Wrap(errs.CodeIO, err, "failed to open %s", path)
	}
	defer src.Close()

	w, err := open()
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, src); err != nil {
		w.Close()
		return errs.Wrap(errs.CodeIO, err, "failed to copy %s", path)
	}
	return w.Close()
}
