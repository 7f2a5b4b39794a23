package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/agentx-labs/modkit/internal/branding"
	"github.com/agentx-labs/modkit/internal/logging"
)

// DefaultMaxBytes caps a single download.
const DefaultMaxBytes int64 = 512 << 20

// Client fetches package bytes by URI. It satisfies mods.Fetcher.
type Client struct {
	http      *retryablehttp.Client
	fs        afero.Fs
	userAgent string
	maxBytes  int64
	log       zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client (useful for testing).
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http.HTTPClient = c
	}
}

// WithTimeout bounds each HTTP attempt.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.http.HTTPClient.Timeout = d
		}
	}
}

// WithRetries sets how many times a failed request is retried.
func WithRetries(n int) Option {
	return func(cl *Client) {
		if n >= 0 {
			cl.http.RetryMax = n
		}
	}
}

// WithRetryWait sets the backoff bounds between retries.
func WithRetryWait(minWait, maxWait time.Duration) Option {
	return func(cl *Client) {
		cl.http.RetryWaitMin = minWait
		cl.http.RetryWaitMax = maxWait
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(cl *Client) {
		if ua != "" {
			cl.userAgent = ua
		}
	}
}

// WithMaxBytes caps the size of a single download.
func WithMaxBytes(n int64) Option {
	return func(cl *Client) {
		if n > 0 {
			cl.maxBytes = n
		}
	}
}

// WithFS sets the filesystem used for file:// URIs.
func WithFS(fs afero.Fs) Option {
	return func(cl *Client) {
		cl.fs = fs
	}
}

// New creates a Client with the given options.
func New(opts ...Option) *Client {
	logger := logging.GetLogger("fetch")

	rc := retryablehttp.NewClient()
	rc.Logger = leveledLogger{log: logger}
	rc.RetryMax = 3

	c := &Client{
		http:      rc,
		fs:        afero.NewOsFs(),
		userAgent: branding.UserAgent(),
		maxBytes:  DefaultMaxBytes,
		log:       logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch downloads the resource at uri.
func (c *Client) Fetch(ctx context.Context, uri string) ([]byte, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parsing URI %q: %w", uri, err)
	}

	switch u.Scheme {
	case "http", "https":
		return c.fetchHTTP(ctx, u.String())
	case "file":
		return c.fetchFile(ctx, u)
	default:
		return nil, fmt.Errorf("unsupported URI scheme %q in %s", u.Scheme, uri)
	}
}

func (c *Client) fetchHTTP(ctx context.Context, uri string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("creating download request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	c.log.Debug().Str("uri", uri).Msg("Downloading")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download of %s returned status %d", uri, resp.StatusCode)
	}
	if resp.ContentLength > c.maxBytes {
		return nil, fmt.Errorf("download of %s is %d bytes, limit is %d", uri, resp.ContentLength, c.maxBytes)
	}

	return c.readLimited(resp.Body, uri)
}

func (c *Client) fetchFile(ctx context.Context, u *url.URL) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := u.Path
	if path == "" {
		path = u.Opaque
	}

	f, err := c.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	return c.readLimited(f, path)
}

func (c *Client) readLimited(r io.Reader, name string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	if int64(len(data)) > c.maxBytes {
		return nil, fmt.Errorf("%s exceeds the %d byte limit", name, c.maxBytes)
	}
	return data, nil
}

// leveledLogger bridges retryablehttp's logging to zerolog.
type leveledLogger struct {
	log zerolog.Logger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.event(l.log.Error(), msg, kv) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.event(l.log.Warn(), msg, kv) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.event(l.log.Debug(), msg, kv) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.event(l.log.Trace(), msg, kv) }

func (l leveledLogger) event(e *zerolog.Event, msg string, kv []interface{}) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		e = e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}
