// Package dispatch drives one inbound event from dedup to thread reply and status reaction.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/thread-relay/internal/aigateway"
	"github.com/wolfman30/thread-relay/internal/events"
	"github.com/wolfman30/thread-relay/internal/intent"
	"github.com/wolfman30/thread-relay/internal/observability/metrics"
	"github.com/wolfman30/thread-relay/internal/respond"
	"github.com/wolfman30/thread-relay/pkg/logging"
)

// defaultFinishTimeout bounds the reply, reaction and dedup record once the
// decision is made, independent of how much of the event deadline the AI call used.
const defaultFinishTimeout = 15 * time.Second

// ChatClient is the subset of the chat platform the dispatcher drives.
type ChatClient interface {
	PostMessage(ctx context.Context, channel, threadTS, text string) (string, error)
	UpdateMessage(ctx context.Context, channel, ts, text string) error
	SetReaction(ctx context.Context, channel, ts, name string) error
	RemoveReaction(ctx context.Context, channel, ts, name string) error
}

// Completer asks the AI backend for an answer.
type Completer interface {
	Complete(ctx context.Context, prompt string) aigateway.Outcome
}

// Classifier turns raw message text into a classification.
type Classifier interface {
	ClassifyMessage(raw string) intent.Result
}

// Deduplicator guards against redelivered events.
type Deduplicator interface {
	ShouldProcess(ctx context.Context, id string) bool
	MarkProcessed(ctx context.Context, id, outcome string)
}

// Result summarises what happened to one event.
type Result struct {
	Duplicate bool
	Action    respond.Action
	// ReplyTS is empty when no reply could be delivered.
	ReplyTS string
}

// Dispatcher orchestrates classification, the AI call and the resulting side effects.
type Dispatcher struct {
	dedup      Deduplicator
	classifier Classifier
	ai         Completer
	composer   *respond.Composer
	chat       ChatClient
	logger     *logging.Logger
	metrics    *metrics.RelayMetrics
	tracer     trace.Tracer

	emitNotice    bool
	emitReactions bool
	finishTimeout time.Duration
}

type dispatcherConfig struct {
	emitNotice    bool
	emitReactions bool
	metrics       *metrics.RelayMetrics
	finishTimeout time.Duration
}

// Option customizes dispatcher behavior.
type Option func(*dispatcherConfig)

// WithProcessingNotice posts an interim reply before calling the AI backend and
// edits it into the final answer afterwards.
func WithProcessingNotice(enabled bool) Option {
	return func(cfg *dispatcherConfig) {
		cfg.emitNotice = enabled
	}
}

// WithReactions toggles status reactions on the inbound message.
func WithReactions(enabled bool) Option {
	return func(cfg *dispatcherConfig) {
		cfg.emitReactions = enabled
	}
}

// WithMetrics records event outcomes on m.
func WithMetrics(m *metrics.RelayMetrics) Option {
	return func(cfg *dispatcherConfig) {
		cfg.metrics = m
	}
}

// WithFinishTimeout bounds delivery of the reply, the status reaction and the
// dedup record after the AI call returns.
func WithFinishTimeout(timeout time.Duration) Option {
	return func(cfg *dispatcherConfig) {
		if timeout > 0 {
			cfg.finishTimeout = timeout
		}
	}
}

// New wires a Dispatcher. Every collaborator except the logger is required.
func New(dedup Deduplicator, classifier Classifier, ai Completer, chat ChatClient, logger *logging.Logger, opts ...Option) *Dispatcher {
	if dedup == nil {
		panic("dispatch: deduplicator cannot be nil")
	}
	if classifier == nil {
		panic("dispatch: classifier cannot be nil")
	}
	if ai == nil {
		panic("dispatch: ai completer cannot be nil")
	}
	if chat == nil {
		panic("dispatch: chat client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := dispatcherConfig{emitReactions: true, finishTimeout: defaultFinishTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Dispatcher{
		dedup:         dedup,
		classifier:    classifier,
		ai:            ai,
		composer:      respond.NewComposer(),
		chat:          chat,
		logger:        logger,
		metrics:       cfg.metrics,
		tracer:        otel.Tracer("thread-relay.internal.dispatch"),
		emitNotice:    cfg.emitNotice,
		emitReactions: cfg.emitReactions,
		finishTimeout: cfg.finishTimeout,
	}
}

// progress tracks interim side effects that the terminal step must supersede.
type progress struct {
	noticeTS       string
	processingSent bool
}

// Handle processes ev to completion. Every non-duplicate event ends with a
// reply attempt, a terminal reaction attempt and a dedup record.
func (d *Dispatcher) Handle(ctx context.Context, ev events.InboundEvent) Result {
	ctx, span := d.tracer.Start(ctx, "dispatch.handle", trace.WithAttributes(
		attribute.String("event.delivery_id", ev.DeliveryID),
		attribute.String("event.logical_id", ev.LogicalID),
		attribute.String("event.type", ev.Type),
	))
	defer span.End()

	logger := d.logger.With("event_id", ev.DeliveryID, "logical_id", ev.LogicalID, "channel", ev.Channel)

	if !d.dedup.ShouldProcess(ctx, ev.LogicalID) {
		logger.Info("duplicate event skipped")
		d.metrics.ObserveEvent("duplicate")
		span.SetAttributes(attribute.Bool("event.duplicate", true))
		return Result{Duplicate: true}
	}

	thread := events.ThreadRoot(ev.ThreadTS, ev.MessageTS)
	var prog progress
	action := d.decide(ctx, logger, ev, thread, &prog)
	if !action.Status.Terminal() {
		logger.Error("decision ended without a terminal status", "status", action.Status)
		action = d.composer.Fault(ev.UserID)
	}

	// The event deadline may already be spent by the AI call.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.finishTimeout)
	defer cancel()
	replyTS := d.deliver(finishCtx, logger, ev, thread, prog.noticeTS, action)
	d.signal(finishCtx, logger, ev, prog.processingSent, action.Status)

	d.dedup.MarkProcessed(finishCtx, ev.LogicalID, string(action.Status))
	d.metrics.ObserveEvent(string(action.Status))
	span.SetAttributes(attribute.String("event.status", string(action.Status)))
	logger.Info("event handled", "status", action.Status, "reply_ts", replyTS)

	return Result{Action: action, ReplyTS: replyTS}
}

// decide runs classification and the AI call. Panics become the generic apology.
func (d *Dispatcher) decide(ctx context.Context, logger *logging.Logger, ev events.InboundEvent, thread string, prog *progress) (action respond.Action) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event processing panicked", "panic", fmt.Sprint(r))
			action = d.composer.Fault(ev.UserID)
		}
	}()

	res := d.classifier.ClassifyMessage(ev.Text)
	logger.Debug("event classified", "classification", res.Kind.String(), "rule_id", res.RuleID)
	if res.Kind != intent.KindNeedsAI {
		return d.composer.Compose(res, nil, ev.UserID)
	}

	d.announce(ctx, logger, ev, thread, d.composer.Compose(res, nil, ev.UserID), prog)

	out := d.ai.Complete(ctx, res.Prompt)
	if out.Failed() {
		logger.Warn("ai backend failed", "outcome", out.Kind.String(), "detail", out.Detail)
	}
	return d.composer.Compose(res, &out, ev.UserID)
}

// announce emits the optional processing notice and reaction.
func (d *Dispatcher) announce(ctx context.Context, logger *logging.Logger, ev events.InboundEvent, thread string, processing respond.Action, prog *progress) {
	if d.emitNotice {
		ts, err := d.chat.PostMessage(ctx, ev.Channel, thread, processing.ReplyText)
		if err != nil {
			logger.Warn("processing notice failed", "error", err)
		} else {
			prog.noticeTS = ts
		}
	}
	if d.emitReactions && ev.MessageTS != "" {
		if err := d.chat.SetReaction(ctx, ev.Channel, ev.MessageTS, processing.Status.Reaction()); err != nil {
			logger.Warn("processing reaction failed", "error", err)
		} else {
			prog.processingSent = true
		}
	}
}

// deliver edits the notice into the final reply, or posts a new reply.
func (d *Dispatcher) deliver(ctx context.Context, logger *logging.Logger, ev events.InboundEvent, thread, noticeTS string, action respond.Action) string {
	if noticeTS != "" {
		err := d.chat.UpdateMessage(ctx, ev.Channel, noticeTS, action.ReplyText)
		if err == nil {
			return noticeTS
		}
		logger.Warn("editing processing notice failed, posting instead", "error", err)
	}
	ts, err := d.chat.PostMessage(ctx, ev.Channel, thread, action.ReplyText)
	if err != nil {
		logger.Error("posting reply failed", "error", err, "status", action.Status)
		return ""
	}
	return ts
}

// signal replaces the processing reaction with the terminal one.
func (d *Dispatcher) signal(ctx context.Context, logger *logging.Logger, ev events.InboundEvent, processingSent bool, status respond.Status) {
	if !d.emitReactions || ev.MessageTS == "" {
		return
	}
	if processingSent {
		if err := d.chat.RemoveReaction(ctx, ev.Channel, ev.MessageTS, respond.StatusProcessing.Reaction()); err != nil {
			logger.Warn("removing processing reaction failed", "error", err)
		}
	}
	if err := d.chat.SetReaction(ctx, ev.Channel, ev.MessageTS, status.Reaction()); err != nil {
		logger.Warn("status reaction failed", "error", err, "status", status)
	}
}
