// Package aigateway calls the external AI completion backend.
package aigateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/thread-relay/internal/observability/metrics"
	"github.com/wolfman30/thread-relay/pkg/logging"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultBackoff   = 250 * time.Millisecond
	defaultUserAgent = "thread-relay/0.1"
	maxResponseBytes = 1 << 20
)

// Config controls how the gateway talks to the backend.
type Config struct {
	Endpoint string
	APIKey   string
	// Timeout bounds each attempt.
	Timeout    time.Duration
	Backoff    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
	Metrics    *metrics.RelayMetrics
	UserAgent  string
}

// Gateway sends one logical completion request with at most one retry.
type Gateway struct {
	endpoint   string
	apiKey     string
	timeout    time.Duration
	backoff    time.Duration
	httpClient *http.Client
	logger     *logging.Logger
	metrics    *metrics.RelayMetrics
	tracer     trace.Tracer
	userAgent  string
}

// New creates a Gateway. Endpoint and APIKey are required.
func New(cfg Config) (*Gateway, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("aigateway: endpoint is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("aigateway: API key is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Gateway{
		endpoint:   endpoint,
		apiKey:     cfg.APIKey,
		timeout:    timeout,
		backoff:    backoff,
		httpClient: httpClient,
		logger:     logger,
		metrics:    cfg.Metrics,
		tracer:     otel.Tracer("thread-relay.internal.aigateway"),
		userAgent:  userAgent,
	}, nil
}

type completionRequest struct {
	Input string `json:"input"`
}

// Complete asks the backend to answer prompt. Network errors and 5xx responses
// are retried once; 4xx responses are permanent.
func (g *Gateway) Complete(ctx context.Context, prompt string) Outcome {
	ctx, span := g.tracer.Start(ctx, "aigateway.complete")
	defer span.End()

	start := time.Now()
	outcome := g.complete(ctx, prompt)
	g.metrics.ObserveAI(outcome.Kind.String(), time.Since(start).Seconds())
	span.SetAttributes(attribute.String("ai.outcome", outcome.Kind.String()))
	if outcome.Failed() {
		span.RecordError(errors.New(outcome.Detail))
	}
	return outcome
}

func (g *Gateway) complete(ctx context.Context, prompt string) Outcome {
	payload, err := json.Marshal(completionRequest{Input: prompt})
	if err != nil {
		return PermanentFailure("could not encode request")
	}

	const maxAttempts = 2
	var last Outcome
	for attempt := 0; attempt < maxAttempts; attempt++ {
		status, body, err := g.invoke(ctx, payload)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return TransientFailure("request cancelled before the AI backend replied")
			}
			last = TransientFailure(describeNetworkError(err, g.timeout))
		case status >= 200 && status < 300:
			return normalize(body)
		case status >= 500:
			last = TransientFailure(fmt.Sprintf("AI backend returned HTTP %d", status))
		default:
			return PermanentFailure(fmt.Sprintf("AI backend returned HTTP %d", status))
		}

		if attempt+1 < maxAttempts {
			g.logger.Warn("ai backend retry", "attempt", attempt+1, "status", status, "detail", last.Detail)
			if sleepErr := g.sleep(ctx); sleepErr != nil {
				return TransientFailure("request cancelled before the AI backend replied")
			}
		}
	}
	return last
}

// invoke runs one attempt under its own deadline and returns the status and body.
func (g *Gateway) invoke(ctx context.Context, payload []byte) (int, []byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, g.endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("aigateway: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("aigateway: read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func (g *Gateway) sleep(ctx context.Context) error {
	timer := time.NewTimer(g.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// describeNetworkError summarises a transport error without echoing URLs or credentials.
func describeNetworkError(err error, timeout time.Duration) string {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Sprintf("AI backend timed out after %s", timeout)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "could not connect to the AI backend (" + opErr.Op + ")"
	}
	return "could not reach the AI backend"
}
