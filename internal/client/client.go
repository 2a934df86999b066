// Package client is the participant side of the sync channel: HTTP calls for
// session lifecycle and appends, plus a reconnecting websocket feed.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/DoyleJ11/civ-draft-backend/internal/engine"
	"github.com/DoyleJ11/civ-draft-backend/internal/ledger"
	"github.com/DoyleJ11/civ-draft-backend/internal/types"
)

type Client struct {
	base       *url.URL
	http       *http.Client
	log        *zap.Logger
	newBackOff func() backoff.BackOff
	pingEvery  time.Duration

	mu     sync.Mutex
	status Status
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.log = l } }

// WithBackOff sets the reconnect policy. A fresh policy is built per
// Subscribe call.
func WithBackOff(f func() backoff.BackOff) Option { return func(c *Client) { c.newBackOff = f } }

func WithPingInterval(d time.Duration) Option { return func(c *Client) { c.pingEvery = d } }

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	return b
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url must be http or https, got %q", baseURL)
	}
	c := &Client{
		base:       u,
		http:       &http.Client{Timeout: 10 * time.Second},
		log:        zap.NewNop(),
		newBackOff: defaultBackOff,
		pingEvery:  20 * time.Second,
		status:     StatusDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) endpoint(path string) string {
	return c.base.String() + path
}

// do sends body as JSON and decodes a 2xx response into out. Error bodies
// are mapped back to the engine's sentinel errors.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", engine.ErrConnectionLost, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		var e types.ErrorResponse
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil || e.Code == "" {
			return fmt.Errorf("%s %s: unexpected status %d", method, path, res.StatusCode)
		}
		if sentinel := types.CodeError(e.Code); sentinel != nil {
			return fmt.Errorf("%w: %s", sentinel, e.Error)
		}
		return fmt.Errorf("%s %s: %s", method, path, e.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) CreateDraft(ctx context.Context, req types.CreateSessionRequest) (engine.Session, error) {
	var s types.Session
	if err := c.do(ctx, http.MethodPost, "/drafts", req, &s); err != nil {
		return engine.Session{}, err
	}
	return s.Engine(), nil
}

func (c *Client) GetDraft(ctx context.Context, id string) (engine.Session, error) {
	var s types.Session
	if err := c.do(ctx, http.MethodGet, "/drafts/"+url.PathEscape(id), nil, &s); err != nil {
		return engine.Session{}, err
	}
	return s.Engine(), nil
}

func (c *Client) Join(ctx context.Context, id, team2Name string) (engine.Session, error) {
	var s types.Session
	if err := c.do(ctx, http.MethodPost, "/drafts/"+url.PathEscape(id)+"/join", types.JoinRequest{Team2Name: team2Name}, &s); err != nil {
		return engine.Session{}, err
	}
	return s.Engine(), nil
}

func (c *Client) Ready(ctx context.Context, id string, team engine.Team, ready bool) (engine.Session, error) {
	var s types.Session
	req := types.ReadyRequest{Team: int(team), Ready: &ready}
	if err := c.do(ctx, http.MethodPost, "/drafts/"+url.PathEscape(id)+"/ready", req, &s); err != nil {
		return engine.Session{}, err
	}
	return s.Engine(), nil
}

// Fetch reads the full session and ledger for a resync.
func (c *Client) Fetch(ctx context.Context, id string) (ledger.Snapshot, error) {
	var s types.Snapshot
	if err := c.do(ctx, http.MethodGet, "/drafts/"+url.PathEscape(id)+"/snapshot", nil, &s); err != nil {
		return ledger.Snapshot{}, err
	}
	return s.Ledger()
}

// Submit appends cmd. Losing a race surfaces as engine.ErrDuplicateTurn.
func (c *Client) Submit(ctx context.Context, id string, cmd engine.Command) (engine.Action, error) {
	var a types.Action
	if err := c.do(ctx, http.MethodPost, "/drafts/"+url.PathEscape(id)+"/actions", types.FromCommand(cmd), &a); err != nil {
		return engine.Action{}, err
	}
	return a.Engine()
}

func (c *Client) Summary(ctx context.Context, id string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/drafts/"+url.PathEscape(id)+"/summary"), nil)
	if err != nil {
		return "", err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", engine.ErrConnectionLost, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("%w: draft %q", engine.ErrNotFound, id)
	}
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("summary: unexpected status %d", res.StatusCode)
	}
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Status is the last reported feed connection state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) setStatus(s Status) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == s {
		return false
	}
	c.status = s
	return true
}

var errFeedClosed = errors.New("feed closed by server")
