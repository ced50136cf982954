package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/listburn/internal/burn"
	"github.com/roach88/listburn/internal/engine"
	"github.com/roach88/listburn/internal/ledger"
	"github.com/roach88/listburn/internal/rewards"
)

// StatusError is a non-2xx reply from the server.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Unwrap maps the reply back onto the sentinel the server saw, so callers
// can use errors.Is on either side of the wire.
func (e *StatusError) Unwrap() error {
	switch e.Code {
	case "not_pending":
		return burn.ErrNotPending
	case "invalid_transition":
		return burn.ErrInvalidTransition
	case "stopping":
		return engine.ErrStopped
	}
	return nil
}

// Client talks to a running daemon.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient returns a client for the server at base, e.g.
// "http://127.0.0.1:8080". An address without a scheme gets http://.
func NewClient(base, token string) *Client {
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *Client) Summary(ctx context.Context) (engine.Summary, error) {
	var out engine.Summary
	err := c.do(ctx, http.MethodGet, "/summary", &out)
	return out, err
}

func (c *Client) PendingApprovals(ctx context.Context) ([]engine.PendingApproval, error) {
	var out []engine.PendingApproval
	err := c.do(ctx, http.MethodGet, "/approvals", &out)
	return out, err
}

func (c *Client) Approve(ctx context.Context, slug string) (engine.ScheduledBurn, error) {
	var out engine.ScheduledBurn
	err := c.do(ctx, http.MethodPost, "/approvals/"+url.PathEscape(slug)+"/approve", &out)
	return out, err
}

func (c *Client) Reject(ctx context.Context, slug string) error {
	var out RejectResponse
	return c.do(ctx, http.MethodPost, "/approvals/"+url.PathEscape(slug)+"/reject", &out)
}

// Payout previews a batch, or pays it when execute is set.
func (c *Client) Payout(ctx context.Context, execute bool) (rewards.Report, error) {
	var out rewards.Report
	err := c.do(ctx, http.MethodPost, "/payouts?execute="+strconv.FormatBool(execute), &out)
	return out, err
}

func (c *Client) UpcomingPosts(ctx context.Context, limit int) ([]ledger.Post, error) {
	var out []ledger.Post
	err := c.do(ctx, http.MethodGet, "/posts?limit="+strconv.Itoa(limit), &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("api: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("api: read body: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		var eb ErrorBody
		if json.Unmarshal(body, &eb) != nil || eb.Error == "" {
			eb = ErrorBody{Error: "http_error", Message: strings.TrimSpace(string(body))}
		}
		return &StatusError{StatusCode: resp.StatusCode, Code: eb.Error, Message: eb.Message}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("api: decode %s: %w", path, err)
	}
	return nil
}

// IsUnreachable reports whether err means no daemon answered.
func IsUnreachable(err error) bool {
	var se *StatusError
	return err != nil && !errors.As(err, &se)
}
