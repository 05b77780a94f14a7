package dedup

import (
	"context"

	"github.com/wolfman30/thread-relay/internal/observability/metrics"
	"github.com/wolfman30/thread-relay/pkg/logging"
)

// Deduplicator applies first-seen-wins over a Store. Store failures fail open:
// an unreachable store must not leave events unanswered.
type Deduplicator struct {
	store   Store
	logger  *logging.Logger
	metrics *metrics.RelayMetrics
}

// New creates a Deduplicator over store.
func New(store Store, logger *logging.Logger, m *metrics.RelayMetrics) *Deduplicator {
	if store == nil {
		panic("dedup: store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Deduplicator{store: store, logger: logger, metrics: m}
}

// ShouldProcess reserves id and reports whether the caller owns the event.
func (d *Deduplicator) ShouldProcess(ctx context.Context, id string) bool {
	ok, err := d.store.Reserve(ctx, id)
	if err != nil {
		d.metrics.ObserveDedup("store_error")
		d.logger.Warn("dedup reserve failed, processing anyway", "logical_id", id, "error", err)
		return true
	}
	if !ok {
		d.metrics.ObserveDedup("duplicate")
		return false
	}
	d.metrics.ObserveDedup("reserved")
	return true
}

// MarkProcessed records the terminal outcome; failures are logged only.
func (d *Deduplicator) MarkProcessed(ctx context.Context, id, outcome string) {
	if err := d.store.MarkProcessed(ctx, id, outcome); err != nil {
		d.logger.Warn("dedup mark processed failed", "logical_id", id, "outcome", outcome, "error", err)
	}
}
