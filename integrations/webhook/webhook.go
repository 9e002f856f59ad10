// Package webhook forwards ledger changes to HTTP endpoints, typically a
// sync backend that wants to know when a learner's snapshot should be pulled.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"rewardskit/engine"
)

// Sink posts change notifications to configured endpoints.
// Delivery is synchronous with the bus dispatch; use an async bus for slow endpoints.
type Sink struct {
	client     *http.Client
	endpoints  []string
	onlyForced bool
	secret     string
	logger     *slog.Logger
}

type Option func(*Sink)

// WithClient overrides the HTTP client (defaults to 2s timeout).
func WithClient(c *http.Client) Option {
	return func(s *Sink) {
		if c != nil {
			s.client = c
		}
	}
}

// OnlyForced restricts delivery to changes that demand an immediate sync, such as resets.
func OnlyForced() Option { return func(s *Sink) { s.onlyForced = true } }

// WithSecret sends the value in the X-Rewards-Secret header.
func WithSecret(secret string) Option { return func(s *Sink) { s.secret = secret } }

func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) {
		if l != nil {
			s.logger = l
		}
	}
}

func New(endpoints []string, opts ...Option) *Sink {
	s := &Sink{
		client: &http.Client{Timeout: 2 * time.Second},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.endpoints = append([]string{}, endpoints...)
	return s
}

// Attach subscribes the sink to every change on bus.
func (s *Sink) Attach(bus *engine.EventBus) func() {
	return bus.Subscribe(engine.ChangeAny, func(ctx context.Context, c engine.Change) {
		_ = s.OnChange(ctx, c)
	})
}

// OnChange posts the change to every endpoint. Failures are logged and the
// first one is returned; they never affect the ledger.
func (s *Sink) OnChange(ctx context.Context, c engine.Change) error {
	if len(s.endpoints) == 0 || (s.onlyForced && !c.ForceSync) {
		return nil
	}
	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	var first error
	for _, ep := range s.endpoints {
		if err := s.post(ctx, ep, body); err != nil {
			s.logger.Warn("webhook delivery failed", "endpoint", ep, "user_id", c.UserID, "error", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (s *Sink) post(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.secret != "" {
		req.Header.Set("X-Rewards-Secret", s.secret)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned %s", resp.Status)
	}
	return nil
}
