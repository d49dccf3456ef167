// Package metrics registers the process-wide Prometheus metrics every shard
// and the analytics mirror report through. Metrics are
// package-level, registered once via promauto against the default
// registerer, exactly as the original worker pool does — a second `New()`
// call would double-register and panic, so there is deliberately no
// constructor here, only functions operating on shared vectors keyed by
// server_id where more than one shard runs in the same process.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsCommitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lcec_events_committed_total",
		Help: "Total number of combat events committed to an encounter.",
	}, []string{"server_id"})

	eventsDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lcec_events_discarded_total",
		Help: "Total number of pending message buffers discarded without committing.",
	}, []string{"server_id", "reason"})

	pendingBufferDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lcec_pending_buffer_depth",
		Help: "Current number of per-subject pending buffers held by a shard.",
	}, []string{"server_id"})

	pendingBufferGC = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lcec_pending_buffer_gc_total",
		Help: "Total number of pending buffers evicted by head-age garbage collection.",
	}, []string{"server_id"})

	instancesActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lcec_instances_active",
		Help: "Current number of active (non-expired) instanced encounters.",
	}, []string{"server_id"})

	resetSweeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lcec_reset_sweeps_total",
		Help: "Total number of instance reset sweeps performed.",
	}, []string{"server_id"})

	chmirrorBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lcec_chmirror_batch_duration_seconds",
		Help:    "Duration of ClickHouse analytics mirror batch sends.",
		Buckets: prometheus.DefBuckets,
	})

	chmirrorFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lcec_chmirror_failures_total",
		Help: "Total number of ClickHouse analytics mirror batch send failures.",
	})
)

// DiscardReason names the two discard dispositions that matter to an
// operator; Wait is not terminal so it is not counted here.
const (
	DiscardAll   = "discard_all"
	DiscardFirst = "discard_first"
)

func label(serverID uint32) string { return strconv.FormatUint(uint64(serverID), 10) }

// CommitObserved increments the committed-event counter for a shard.
func CommitObserved(serverID uint32) {
	eventsCommitted.WithLabelValues(label(serverID)).Inc()
}

// DiscardObserved increments the discard counter for a shard under the
// given reason (DiscardAll or DiscardFirst).
func DiscardObserved(serverID uint32, reason string) {
	eventsDiscarded.WithLabelValues(label(serverID), reason).Inc()
}

// SetPendingBufferDepth reports a shard's current pending-buffer count.
func SetPendingBufferDepth(serverID uint32, depth int) {
	pendingBufferDepth.WithLabelValues(label(serverID)).Set(float64(depth))
}

// PendingBufferGCObserved increments the GC counter by the number of
// buffers evicted in one cleanup pass.
func PendingBufferGCObserved(serverID uint32, count int) {
	if count <= 0 {
		return
	}
	pendingBufferGC.WithLabelValues(label(serverID)).Add(float64(count))
}

// SetInstancesActive reports a shard's current active-instance count.
func SetInstancesActive(serverID uint32, count int) {
	instancesActive.WithLabelValues(label(serverID)).Set(float64(count))
}

// ResetSweepObserved increments the reset-sweep counter for a shard.
func ResetSweepObserved(serverID uint32) {
	resetSweeps.WithLabelValues(label(serverID)).Inc()
}

// MirrorBatchObserved records the duration of one analytics mirror batch
// send, successful or not.
func MirrorBatchObserved(d time.Duration) {
	chmirrorBatchDuration.Observe(d.Seconds())
}

// MirrorFailureObserved increments the analytics mirror failure counter.
func MirrorFailureObserved() {
	chmirrorFailures.Inc()
}
