// Package chmirror implements the Analytics Mirror: a best-effort,
// asynchronous copy of every committed Event into ClickHouse for ad-hoc
// analytical queries. It runs a bounded-queue, ticker-or-batch-size flush
// worker pool whose only job is getting committed events into ClickHouse
// without ever slowing down the shard that produced them.
package chmirror

import (
	"context"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/legacyplayers/lcec/internal/metrics"
	"github.com/legacyplayers/lcec/internal/models"
	"github.com/legacyplayers/lcec/internal/persistence"
)

// Config configures the mirror's worker pool.
type Config struct {
	ServerID      uint32
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	ClickHouse    driver.Conn
	Logger        *zap.Logger
}

type row struct {
	encounterID uint64
	ev          models.Event
}

// Mirror is a single-worker, best-effort batch writer. It implements
// correlator.EventSink via OnCommit.
type Mirror struct {
	cfg    Config
	logger *zap.SugaredLogger
	queue  chan row

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a Mirror. Start must be called before OnCommit is driven by
// a live shard.
func New(cfg Config) *Mirror {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 5000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	return &Mirror{
		cfg:    cfg,
		logger: cfg.Logger.Sugar().With("server_id", cfg.ServerID),
		queue:  make(chan row, cfg.QueueSize),
	}
}

// Start launches the background flush goroutine.
func (m *Mirror) Start(ctx context.Context) {
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.run()
}

// Stop drains and flushes any buffered rows, then returns.
func (m *Mirror) Stop() {
	close(m.queue)
	m.wg.Wait()
	m.cancel()
}

// OnCommit implements correlator.EventSink. It never blocks the calling
// shard: if the queue is full, this row is dropped (and counted as a mirror
// failure) rather than waited on — the mirror must never slow down
// message-arrival-order processing.
func (m *Mirror) OnCommit(encounterID uint64, ev models.Event) {
	select {
	case m.queue <- row{encounterID: encounterID, ev: ev}:
	default:
		m.logger.Warnw("analytics mirror queue full, dropping event", "event_id", ev.ID, "encounter_id", encounterID)
		metrics.MirrorFailureObserved()
	}
}

func (m *Mirror) run() {
	defer m.wg.Done()

	batch := make([]row, 0, m.cfg.BatchSize)
	ticker := time.NewTicker(m.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := m.sendBatch(batch); err != nil {
			m.logger.Errorw("analytics mirror batch send failed", "batch_size", len(batch), "error", err)
			metrics.MirrorFailureObserved()
		}
		metrics.MirrorBatchObserved(time.Since(start))
		batch = batch[:0]
	}

	for {
		select {
		case r, ok := <-m.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, r)
			if len(batch) >= m.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-m.ctx.Done():
			flush()
			return
		}
	}
}

func (m *Mirror) sendBatch(batch []row) error {
	chBatch, err := m.cfg.ClickHouse.PrepareBatch(context.Background(), `
		INSERT INTO combat_events (
			server_id, encounter_id, event_id, correlation_uuid, timestamp,
			subject_kind, subject_ref, event_kind, payload_json
		)
	`)
	if err != nil {
		return err
	}

	for _, r := range batch {
		payload, err := persistence.EncodePayload(r.ev.Kind)
		if err != nil {
			m.logger.Warnw("skipping event with unencodable payload", "event_id", r.ev.ID, "error", err)
			continue
		}
		subjectKind, subjectRef := persistence.SubjectRef(r.ev.Subject)

		if err := chBatch.Append(
			m.cfg.ServerID,
			r.encounterID,
			r.ev.ID,
			r.ev.CorrelationUUID,
			time.UnixMilli(int64(r.ev.TimestampMs)),
			subjectKind,
			subjectRef,
			r.ev.Kind.Name(),
			string(payload),
		); err != nil {
			m.logger.Warnw("failed to append event to analytics batch", "event_id", r.ev.ID, "error", err)
		}
	}

	return chBatch.Send()
}
