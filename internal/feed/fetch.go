package feed

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	logpkg "github.com/nikhi3632/Stroomweg/pkg/log"
)

// ErrFeedStatus marks a non-2xx feed response. 4xx responses are not
// retried; the feed URL or credentials are wrong, not the network.
var ErrFeedStatus = errors.New("feed returned error status")

// Client fetches gzip-compressed feed payloads over HTTP with bounded
// retry on transient failures.
type Client struct {
	http     *http.Client
	logger   logpkg.Logger
	attempts int
	backoff  time.Duration
}

// NewClient builds a feed client. timeout bounds each HTTP exchange,
// attempts and backoff shape the retry schedule.
func NewClient(timeout time.Duration, attempts int, backoff time.Duration, logger logpkg.Logger) *Client {
	if attempts <= 0 {
		attempts = 1
	}
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Client{
		http:     &http.Client{Timeout: timeout},
		logger:   logger.WithComponent("feed"),
		attempts: attempts,
		backoff:  backoff,
	}
}

// Fetch retrieves the payload at url and returns a streaming reader over
// the decompressed bytes. The caller must Close it. Only the initial
// exchange is retried; a stream that breaks mid-decode surfaces to the
// decoder as a read error.
func (c *Client) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	var out io.ReadCloser
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			rc, err := c.fetchOnce(ctx, url)
			if err != nil {
				return err
			}
			out = rc
			return nil
		},
		IsFatalError: func(err error) bool {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			var se *statusError
			return errors.As(err, &se) && se.code >= 400 && se.code < 500
		},
		NotifyFunc: func(err error, attempt int) {
			c.logger.Debug("fetch attempt failed",
				logpkg.Str("url", url), logpkg.Int("attempt", attempt), logpkg.Err(err))
		},
		Attempts:    c.attempts,
		Delay:       c.backoff,
		MaxDelay:    30 * time.Second,
		BackoffFunc: retry.DoubleDelay,
		Clock:       clock.WallClock,
		Stop:        ctx.Done(),
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type statusError struct {
	code int
	url  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%v: %d from %s", ErrFeedStatus, e.code, e.url)
}

func (e *statusError) Is(target error) bool { return target == ErrFeedStatus }

func (c *Client) fetchOnce(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	// Feeds are served pre-compressed; decompression is explicit so the
	// decoder always sees plain XML.
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &statusError{code: resp.StatusCode, url: url}
	}

	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("open gzip stream from %s: %w", url, err)
	}
	return &gzipBody{gz: gz, body: resp.Body}, nil
}

// gzipBody closes both the gzip layer and the underlying response body.
type gzipBody struct {
	gz   *gzip.Reader
	body io.ReadCloser
}

func (g *gzipBody) Read(p []byte) (int, error) { return g.gz.Read(p) }

func (g *gzipBody) Close() error {
	gerr := g.gz.Close()
	berr := g.body.Close()
	if gerr != nil {
		return gerr
	}
	return berr
}
