// Package gateway contains MessagingGateway implementations.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/petrijr/chatflow/pkg/api"
)

// ErrNoBaseURL is returned by NewHTTPGateway when the base URL is empty.
var ErrNoBaseURL = errors.New("gateway base url is required")

const maxReceiptBody = 64 << 10

// Config describes an HTTPGateway.
type Config struct {
	// BaseURL is the root of the channel API, e.g. https://chat.example.com/api.
	BaseURL string
	// Token is sent as a bearer token when set.
	Token string
	// Timeout bounds each request. Zero means 10s.
	Timeout time.Duration

	Client *http.Client
	Logger *slog.Logger
}

// HTTPGateway delivers messages by POSTing JSON to {base}/messages and
// {base}/media.
type HTTPGateway struct {
	base   string
	token  string
	client *http.Client
	logger *slog.Logger
}

// Ensure HTTPGateway implements api.MessagingGateway.
var _ api.MessagingGateway = (*HTTPGateway)(nil)

func NewHTTPGateway(cfg Config) (*HTTPGateway, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, ErrNoBaseURL
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPGateway{base: base, token: cfg.Token, client: client, logger: logger}, nil
}

func (g *HTTPGateway) SendMessage(ctx context.Context, msg api.OutboundMessage) (api.DeliveryReceipt, error) {
	return g.post(ctx, "/messages", msg.TargetID, &msg)
}

func (g *HTTPGateway) SendMedia(ctx context.Context, msg api.OutboundMedia) (api.DeliveryReceipt, error) {
	return g.post(ctx, "/media", msg.TargetID, &msg)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("gateway %s: unexpected status %d", e.Path, e.StatusCode)
	}
	return fmt.Sprintf("gateway %s: unexpected status %d: %s", e.Path, e.StatusCode, e.Body)
}

func (g *HTTPGateway) post(ctx context.Context, path, target string, payload any) (api.DeliveryReceipt, error) {
	body, err := sonic.Marshal(payload)
	if err != nil {
		return api.DeliveryReceipt{}, fmt.Errorf("encode %s payload: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.base+path, bytes.NewReader(body))
	if err != nil {
		return api.DeliveryReceipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return api.DeliveryReceipt{}, fmt.Errorf("gateway %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReceiptBody))
	if err != nil {
		return api.DeliveryReceipt{}, fmt.Errorf("gateway %s: read response: %w", path, err)
	}

	g.logger.DebugContext(ctx, "gateway_request",
		slog.String("path", path),
		slog.String("target_id", target),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return api.DeliveryReceipt{}, &StatusError{
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
		}
	}

	// Providers that answer with an empty body still delivered the message.
	receipt := api.DeliveryReceipt{Status: "sent"}
	if len(bytes.TrimSpace(raw)) == 0 {
		return receipt, nil
	}
	if err := sonic.Unmarshal(raw, &receipt); err != nil {
		return api.DeliveryReceipt{}, fmt.Errorf("gateway %s: decode receipt: %w", path, err)
	}
	if receipt.Status == "" {
		receipt.Status = "sent"
	}
	return receipt, nil
}
