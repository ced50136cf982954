package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"text/template"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// DefaultTemplates renders each event kind as a chat message.
var DefaultTemplates = map[Kind]string{
	KindDetected:        `{{.Name}} confirmed. {{.AllocationPercent}}% of supply ({{.AmountDisplay}} tokens) is queued for burning.`,
	KindPendingApproval: `{{.Name}} confirmed. Burn of {{.AllocationPercent}}% ({{.AmountDisplay}} tokens) awaits approval: {{.Slug}}`,
	KindRejected:        `Burn for {{.Name}} was rejected.`,
	KindExecuted:        `Burned {{.AmountDisplay}} tokens for {{.Name}}. Tx: {{.TxRef}}`,
	KindExecutionFailed: `Burn for {{.Name}} failed and will be retried: {{.Error}}`,
}

// WebhookConfig configures a chat webhook (Discord-compatible JSON body).
type WebhookConfig struct {
	URL               string
	Username          string
	Templates         map[Kind]string
	Timeout           time.Duration
	RequestsPerSecond float64
	MaxRetries        uint64
}

// Webhook posts rendered events to a chat webhook. It also publishes
// free-form content for the content calendar.
type Webhook struct {
	url      string
	username string
	client   *http.Client
	tmpl     *template.Template
	limiter  *rate.Limiter
	retries  uint64
	logger   *slog.Logger
}

// NewWebhook parses the message templates and builds the sink.
func NewWebhook(cfg WebhookConfig, logger *slog.Logger) (*Webhook, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook: url is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("webhook: parse url: %w", err)
	}

	tmpl := template.New("webhook").Option("missingkey=zero")
	for kind, text := range DefaultTemplates {
		if override, ok := cfg.Templates[kind]; ok {
			text = override
		}
		if _, err := tmpl.New(string(kind)).Parse(text); err != nil {
			return nil, fmt.Errorf("webhook: parse %s template: %w", kind, err)
		}
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Webhook{
		url:      cfg.URL,
		username: cfg.Username,
		client:   &http.Client{Timeout: cfg.Timeout},
		tmpl:     tmpl,
		limiter:  rate.NewLimiter(limit, 1),
		retries:  cfg.MaxRetries,
		logger:   logger,
	}, nil
}

// Render returns the message for ev.
func (w *Webhook) Render(ev Event) (string, error) {
	var buf bytes.Buffer
	if err := w.tmpl.ExecuteTemplate(&buf, string(ev.Kind), ev); err != nil {
		return "", fmt.Errorf("render %s: %w", ev.Kind, err)
	}
	return buf.String(), nil
}

// Notify implements Sink.
func (w *Webhook) Notify(ctx context.Context, ev Event) bool {
	text, err := w.Render(ev)
	if err != nil {
		w.logger.Warn("webhook render failed", "kind", ev.Kind, "slug", ev.Slug, "error", err)
		return false
	}
	if _, err := w.post(ctx, text); err != nil {
		w.logger.Warn("webhook delivery failed", "kind", ev.Kind, "slug", ev.Slug, "error", err)
		return false
	}
	return true
}

// Publish posts text and returns the message id when the webhook reports one.
func (w *Webhook) Publish(ctx context.Context, text string) (string, error) {
	return w.post(ctx, text)
}

type webhookBody struct {
	Content  string `json:"content"`
	Username string `json:"username,omitempty"`
}

type webhookReply struct {
	ID string `json:"id"`
}

// statusError is a non-2xx reply.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("webhook returned %d: %s", e.Code, e.Body)
}

func (w *Webhook) post(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(webhookBody{Content: text, Username: w.username})
	if err != nil {
		return "", fmt.Errorf("encode webhook body: %w", err)
	}

	target := w.url
	if strings.Contains(target, "?") {
		target += "&wait=true"
	} else {
		target += "?wait=true"
	}

	var ref string
	op := func() error {
		if err := w.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			var reply webhookReply
			if json.Unmarshal(raw, &reply) == nil {
				ref = reply.ID
			}
			return nil
		}
		serr := &statusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return serr
		}
		return backoff.Permanent(serr)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), w.retries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return "", err
	}
	return ref, nil
}

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	return b
}
