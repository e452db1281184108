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
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned while the webhook breaker rejects calls.
var ErrCircuitOpen = gobreaker.ErrOpenState

// WebhookConfig holds webhook notifier configuration.
type WebhookConfig struct {
	URL         string
	BearerToken string
	Timeout     time.Duration

	// Breaker trips when at least MinRequests calls were made in Interval and
	// the failure ratio reaches FailureRatio. It stays open for OpenTimeout.
	MinRequests  uint32
	FailureRatio float64
	Interval     time.Duration
	OpenTimeout  time.Duration
}

// DefaultWebhookConfig returns defaults for url.
func DefaultWebhookConfig(url string) WebhookConfig {
	return WebhookConfig{
		URL:          url,
		Timeout:      5 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.5,
		Interval:     60 * time.Second,
		OpenTimeout:  30 * time.Second,
	}
}

type webhookPayload struct {
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
	Code      string `json:"code"`
}

// WebhookNotifier posts codes to an HTTP delivery gateway behind a circuit
// breaker. Any non-2xx response is a failed delivery.
type WebhookNotifier struct {
	client  *http.Client
	cfg     WebhookConfig
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  *slog.Logger
}

func NewWebhookNotifier(cfg WebhookConfig, logger *slog.Logger) *WebhookNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "otp-webhook",
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	}

	return &WebhookNotifier{
		client:  &http.Client{Timeout: cfg.Timeout},
		cfg:     cfg,
		breaker: gobreaker.NewCircuitBreaker[struct{}](settings),
		logger:  logger,
	}
}

func (n *WebhookNotifier) SendSMS(ctx context.Context, phone, code string) error {
	return n.post(ctx, webhookPayload{Channel: "phone", Recipient: phone, Code: code})
}

func (n *WebhookNotifier) SendEmail(ctx context.Context, address, code string) error {
	return n.post(ctx, webhookPayload{Channel: "email", Recipient: address, Code: code})
}

// State returns the breaker state.
func (n *WebhookNotifier) State() gobreaker.State {
	return n.breaker.State()
}

func (n *WebhookNotifier) post(ctx context.Context, payload webhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	_, err = n.breaker.Execute(func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, fmt.Errorf("create webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if n.cfg.BearerToken != "" {
			req.Header.Set("Authorization", "Bearer "+n.cfg.BearerToken)
		}

		resp, err := n.client.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return struct{}{}, fmt.Errorf("webhook returned %d", resp.StatusCode)
		}
		return struct{}{}, nil
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			n.logger.WarnContext(ctx, "otp webhook circuit open", slog.String("channel", payload.Channel))
		}
		return fmt.Errorf("otp webhook: %w", err)
	}
	return nil
}
