package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/thread-relay/internal/events"
	"github.com/wolfman30/thread-relay/internal/observability/metrics"
	"github.com/wolfman30/thread-relay/pkg/logging"
)

const maxEventBodyBytes = 1 << 20

// SignatureVerifier authenticates a raw webhook body.
type SignatureVerifier interface {
	Verify(body []byte, headers http.Header) bool
}

// EventQueue accepts events for asynchronous processing.
type EventQueue interface {
	Submit(ctx context.Context, ev events.InboundEvent) error
}

// SlackEventsHandler acknowledges Events API deliveries quickly and hands
// accepted events to the dispatch queue.
type SlackEventsHandler struct {
	verifier SignatureVerifier
	queue    EventQueue
	filter   events.Filter
	logger   *logging.Logger
	metrics  *metrics.RelayMetrics
	tracer   trace.Tracer
	now      func() time.Time
}

// NewSlackEventsHandler wires the handler. Verifier and queue are required.
func NewSlackEventsHandler(verifier SignatureVerifier, queue EventQueue, filter events.Filter, logger *logging.Logger, m *metrics.RelayMetrics) *SlackEventsHandler {
	if verifier == nil {
		panic("handlers: signature verifier cannot be nil")
	}
	if queue == nil {
		panic("handlers: event queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SlackEventsHandler{
		verifier: verifier,
		queue:    queue,
		filter:   filter,
		logger:   logger,
		metrics:  m,
		tracer:   otel.Tracer("thread-relay.internal.http.handlers"),
		now:      time.Now,
	}
}

// Handle authenticates, parses and enqueues one delivery.
func (h *SlackEventsHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "slack.events.webhook")
	defer span.End()

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBodyBytes))
	if err != nil {
		h.metrics.ObserveWebhook("bad_request")
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if !h.verifier.Verify(payload, r.Header) {
		h.logger.Warn("invalid slack webhook signature", "remote_ip", r.RemoteAddr)
		h.metrics.ObserveWebhook("rejected")
		span.SetAttributes(attribute.String("webhook.result", "rejected"))
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	env, err := events.ParseEnvelope(payload, h.now())
	if err != nil {
		// Authenticated but unreadable: acknowledge so the platform does not retry.
		h.logger.Warn("unparseable slack webhook", "error", err)
		h.metrics.ObserveWebhook("malformed")
		w.WriteHeader(http.StatusOK)
		return
	}

	switch env.Kind {
	case events.KindChallenge:
		h.metrics.ObserveWebhook("challenge")
		writeJSON(w, http.StatusOK, map[string]string{"challenge": env.Challenge})
		return
	case events.KindIgnored:
		h.logger.Debug("slack webhook ignored", "reason", env.Reason)
		h.metrics.ObserveWebhook("ignored")
		w.WriteHeader(http.StatusOK)
		return
	}

	ev := env.Event
	logger := h.logger.With("event_id", ev.DeliveryID, "logical_id", ev.LogicalID, "channel", ev.Channel)
	if retry := r.Header.Get("X-Slack-Retry-Num"); retry != "" {
		logger.Info("slack redelivery", "retry_num", retry, "retry_reason", r.Header.Get("X-Slack-Retry-Reason"))
	}
	if ok, reason := h.filter.Accept(ev); !ok {
		logger.Debug("slack event ignored", "reason", reason)
		h.metrics.ObserveWebhook("ignored")
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.queue.Submit(ctx, ev); err != nil {
		logger.Error("failed to enqueue slack event", "error", err)
		h.metrics.ObserveWebhook("unavailable")
		span.RecordError(err)
		// Nothing has been reserved yet, so a platform redelivery is safe.
		http.Error(w, "event queue unavailable", http.StatusServiceUnavailable)
		return
	}

	h.metrics.ObserveWebhook("accepted")
	span.SetAttributes(attribute.String("webhook.result", "accepted"))
	w.WriteHeader(http.StatusOK)
}
