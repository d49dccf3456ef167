package shard

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/legacyplayers/lcec/internal/models"
)

// EventPersister is the slice of persistence.Adapter a fan-out sink writes
// every committed event through.
type EventPersister interface {
	InsertEvent(ctx context.Context, ev models.Event) (bool, error)
}

// AnalyticsSink is the slice of chmirror.Mirror a fan-out sink forwards
// every committed event to.
type AnalyticsSink interface {
	OnCommit(encounterID uint64, ev models.Event)
}

// FanoutSink implements EventSink by writing each committed event to the
// relational store synchronously, then handing it to the best-effort
// analytics mirror. A relational write failure is logged, not raised: the
// Correlator already owns the event in memory, and the
// PersistenceFailure handling (§7) operates at the adapter's own retry
// layer, not by blocking the message loop on every insert.
type FanoutSink struct {
	persist EventPersister
	mirror  AnalyticsSink
	logger  *zap.SugaredLogger
	timeout time.Duration
}

// NewFanoutSink builds a FanoutSink. mirror may be nil to disable the
// analytics mirror entirely.
func NewFanoutSink(persist EventPersister, mirror AnalyticsSink, logger *zap.Logger) *FanoutSink {
	return &FanoutSink{persist: persist, mirror: mirror, logger: logger.Sugar(), timeout: 5 * time.Second}
}

// OnCommit implements EventSink.
func (f *FanoutSink) OnCommit(encounterID uint64, ev models.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	if ok, err := f.persist.InsertEvent(ctx, ev); err != nil || !ok {
		f.logger.Warnw("event insert failed", "encounter_id", encounterID, "event_id", ev.ID, "error", err)
	}

	if f.mirror != nil {
		f.mirror.OnCommit(encounterID, ev)
	}
}
