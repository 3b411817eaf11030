package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"parley/internal/domain"
)

// Client defaults.
const (
	DefaultTimeout = 10 * time.Second
	DefaultRetries = 3
)

// StatusError is a non-2xx relay response.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("relay %s %s: %s", e.Method, e.URL, e.Status)
}

// HTTP talks to the relay's directory and mailbox endpoints. Transient
// failures (network errors and 5xx) are retried with exponential backoff;
// 4xx responses are returned at once.
type HTTP struct {
	base    string
	client  *http.Client
	retries uint64
	log     *zap.Logger
}

// Option configures an HTTP client.
type Option func(*HTTP)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(c *http.Client) Option { return func(h *HTTP) { h.client = c } }

// WithRetries sets how many times a transient failure is retried.
func WithRetries(n int) Option {
	return func(h *HTTP) {
		if n >= 0 {
			h.retries = uint64(n)
		}
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *zap.Logger) Option { return func(h *HTTP) { h.log = l } }

// NewHTTP returns a client for the relay at base.
func NewHTTP(base string, opts ...Option) *HTTP {
	h := &HTTP{
		base:    base,
		client:  &http.Client{Timeout: DefaultTimeout},
		retries: DefaultRetries,
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func bundlePath(user domain.Username, device domain.DeviceID) string {
	return "/prekey/" + url.PathEscape(user.String()) + "/" + device.String()
}

func mailboxPath(user domain.Username) string {
	return "/msg/" + url.PathEscape(user.String())
}

// PublishPreKeyBundle uploads b, replacing any bundle of the same device.
func (c *HTTP) PublishPreKeyBundle(ctx context.Context, b domain.PreKeyBundle) error {
	return c.do(ctx, http.MethodPut, bundlePath(b.Username, b.DeviceID), b, nil)
}

// FetchPreKeyBundle returns the bundle of a peer device. The relay hands out
// at most one one-time pre-key per fetch.
func (c *HTTP) FetchPreKeyBundle(
	ctx context.Context,
	user domain.Username,
	device domain.DeviceID,
) (domain.PreKeyBundle, error) {
	var out domain.PreKeyBundle
	if err := c.do(ctx, http.MethodGet, bundlePath(user, device), nil, &out); err != nil {
		return domain.PreKeyBundle{}, err
	}
	return out, nil
}

// Send posts msg to the recipient's mailbox.
func (c *HTTP) Send(ctx context.Context, msg domain.EncryptedMessage) error {
	return c.do(ctx, http.MethodPost, mailboxPath(msg.RecipientID), msg, nil)
}

// FetchMessages returns up to limit queued messages without removing them.
// A limit of zero or less fetches everything.
func (c *HTTP) FetchMessages(
	ctx context.Context,
	user domain.Username,
	limit int,
) ([]domain.EncryptedMessage, error) {
	path := mailboxPath(user)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []domain.EncryptedMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AckMessages drops the first count queued messages.
func (c *HTTP) AckMessages(ctx context.Context, user domain.Username, count int) error {
	return c.do(ctx, http.MethodPost, mailboxPath(user)+"/ack", ackRequest{Count: count}, nil)
}

type ackRequest struct {
	Count int `json:"count"`
}

func (c *HTTP) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return errors.Wrap(err, "encode request")
		}
	}

	attempt := 0
	op := func() error {
		attempt++
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
		if err != nil {
			return backoff.Permanent(err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			c.log.Debug("relay request failed", zap.String("method", method),
				zap.String("path", path), zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode/100 != 2 {
			serr := &StatusError{Method: method, URL: c.base + path, Code: resp.StatusCode, Status: resp.Status}
			switch {
			case resp.StatusCode == http.StatusNotFound:
				return backoff.Permanent(errors.Wrap(domain.ErrNotFound, serr.Error()))
			case resp.StatusCode >= 500:
				c.log.Debug("relay server error", zap.String("method", method),
					zap.String("path", path), zap.Int("attempt", attempt), zap.Int("status", resp.StatusCode))
				return serr
			default:
				return backoff.Permanent(serr)
			}
		}
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return backoff.Permanent(errors.Wrap(err, "decode response"))
			}
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 0
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, c.retries), ctx))
}

// Compile-time assertions that HTTP serves every relay role.
var (
	_ domain.Directory = (*HTTP)(nil)
	_ domain.Transport = (*HTTP)(nil)
	_ domain.Mailbox   = (*HTTP)(nil)
)
