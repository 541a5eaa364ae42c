// Package metrics collects the pipeline's monotonic counters and mirrors
// them into Prometheus for scraping.
//
// The atomics here are the source of truth: Snapshot reads them directly
// and is what the pipeline's invariants (prepared_count <= accepted_count,
// and so on) are checked against. The Prometheus Counter/Gauge values are
// a one-way mirror purely for /metrics: the stage counters, submit
// timeouts and lead time are updated on every change, while the per-queue
// gauges are refreshed only when Snapshot runs. Their
// own read-back API isn't a good fit for the snapshot struct the pipeline
// needs, so nothing reads values back out of them.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// queueStats is the subset of queue.BoundedBlockingQueue's accounting
// methods Snapshot needs. Defined locally so this package doesn't have to
// import the queue package just to read three counters.
type queueStats interface {
	PushCount() uint64
	PopCount() uint64
	MaxSize() uint64
}

// Snapshot is a point-in-time, internally consistent read of every
// pipeline counter.
type Snapshot struct {
	AcceptedCount  uint64
	PreparedCount  uint64
	PackedCount    uint64
	DeliveredCount uint64

	QInPush, QInPop, QInMaxSize             uint64
	QPreparePush, QPreparePop, QPrepareMaxSize uint64
	QPackPush, QPackPop, QPackMaxSize       uint64

	PrepareWorkersUsed int
	PackWorkersUsed    int
	DeliverWorkersUsed int

	SubmitTimeoutCount uint64
	TotalLeadTime      time.Duration
}

// Collector accumulates the pipeline's stage counters and backpressure
// count, and mirrors them into a dedicated Prometheus registry.
//
// Each Collector owns its own prometheus.Registry instead of registering
// against the global DefaultRegisterer, so more than one Pipeline (or more
// than one test) can exist in the same process without a duplicate-
// registration panic.
type Collector struct {
	accepted  atomic.Uint64
	prepared  atomic.Uint64
	packed    atomic.Uint64
	delivered atomic.Uint64

	submitTimeout atomic.Uint64
	leadTimeNanos atomic.Int64

	prepareWorkersUsed int
	packWorkersUsed    int
	deliverWorkersUsed int

	registry *prometheus.Registry

	acceptedMetric      prometheus.Counter
	preparedMetric      prometheus.Counter
	packedMetric        prometheus.Counter
	deliveredMetric     prometheus.Counter
	submitTimeoutMetric prometheus.Counter
	leadTimeMetric      prometheus.Counter
	queuePush           *prometheus.GaugeVec
	queuePop            *prometheus.GaugeVec
	queueMaxSize        *prometheus.GaugeVec
	workersUsed         *prometheus.GaugeVec
}

// NewCollector creates a Collector and records the worker counts the
// pipeline actually started each pool with, per spec's requirement that
// Metrics report workers_used regardless of what Config asked for.
func NewCollector(prepareWorkers, packWorkers, deliverWorkers int) *Collector {
	c := &Collector{
		registry:            prometheus.NewRegistry(),
		prepareWorkersUsed:  prepareWorkers,
		packWorkersUsed:     packWorkers,
		deliverWorkersUsed:  deliverWorkers,
		acceptedMetric:      prometheus.NewCounter(prometheus.CounterOpts{Name: "orderline_accepted_total", Help: "Total orders accepted into Q_in."}),
		preparedMetric:      prometheus.NewCounter(prometheus.CounterOpts{Name: "orderline_prepared_total", Help: "Total orders advanced to Prepared."}),
		packedMetric:        prometheus.NewCounter(prometheus.CounterOpts{Name: "orderline_packed_total", Help: "Total orders advanced to Packed."}),
		deliveredMetric:     prometheus.NewCounter(prometheus.CounterOpts{Name: "orderline_delivered_total", Help: "Total orders advanced to Delivered."}),
		submitTimeoutMetric: prometheus.NewCounter(prometheus.CounterOpts{Name: "orderline_submit_timeout_total", Help: "Total Submit calls rejected by backpressure timeout."}),
		leadTimeMetric:      prometheus.NewCounter(prometheus.CounterOpts{Name: "orderline_lead_time_seconds_total", Help: "Sum of delivered_time - accepted_time over delivered orders, in seconds."}),
		queuePush: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orderline_queue_push_total",
			Help: "Successful pushes per queue.",
		}, []string{"queue"}),
		queuePop: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orderline_queue_pop_total",
			Help: "Successful pops per queue.",
		}, []string{"queue"}),
		queueMaxSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orderline_queue_max_size",
			Help: "High-water mark per queue.",
		}, []string{"queue"}),
		workersUsed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orderline_workers_used",
			Help: "Worker pool size actually started, per stage.",
		}, []string{"stage"}),
	}

	c.registry.MustRegister(
		c.acceptedMetric, c.preparedMetric, c.packedMetric, c.deliveredMetric,
		c.submitTimeoutMetric, c.leadTimeMetric,
		c.queuePush, c.queuePop, c.queueMaxSize, c.workersUsed,
	)

	c.workersUsed.WithLabelValues("prepare").Set(float64(prepareWorkers))
	c.workersUsed.WithLabelValues("pack").Set(float64(packWorkers))
	c.workersUsed.WithLabelValues("deliver").Set(float64(deliverWorkers))

	return c
}

// Registry returns the Prometheus registry this Collector publishes to,
// for wiring into an http.Handler (e.g. promhttp.HandlerFor).
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// IncAccepted records a successful Submit. Per spec's publish-order
// requirement this must be called before the order becomes observable to
// any stage downstream of Q_in.
func (c *Collector) IncAccepted() {
	c.accepted.Add(1)
	c.acceptedMetric.Inc()
}

// IncPrepared records an order's Prepared transition. Call after
// AdvanceTo(Prepared) and before the push onto Q_prepare, so a snapshot
// can never observe prepared_count > accepted_count.
func (c *Collector) IncPrepared() {
	c.prepared.Add(1)
	c.preparedMetric.Inc()
}

// IncPacked records an order's Packed transition, under the same
// upstream-first ordering rule as IncPrepared.
func (c *Collector) IncPacked() {
	c.packed.Add(1)
	c.packedMetric.Inc()
}

// IncDelivered records an order's Delivered transition and accumulates
// its lead time. Call after AdvanceTo(Delivered) and before appending to
// the delivered store.
func (c *Collector) IncDelivered(leadTime time.Duration) {
	c.delivered.Add(1)
	c.deliveredMetric.Inc()
	c.leadTimeNanos.Add(int64(leadTime))
	c.leadTimeMetric.Add(leadTime.Seconds())
}

// IncSubmitTimeout records a Submit call rejected by backpressure.
func (c *Collector) IncSubmitTimeout() {
	c.submitTimeout.Add(1)
	c.submitTimeoutMetric.Inc()
}

// Snapshot reads every counter and mirrors the per-queue figures from the
// three stage queues into the Prometheus gauges. The atomics are read
// independently (relaxed semantics, per spec: the invariant is maintained
// by publication order at the call sites above, not by cross-counter
// fences here). Because each counter only ever moves forward, reading a
// downstream counter before its upstream one (delivered, packed, prepared,
// then accepted; each queue's pop count before its push count) keeps every
// upstream value at or above the downstream value read before it.
func (c *Collector) Snapshot(qIn, qPrepare, qPack queueStats) Snapshot {
	delivered := c.delivered.Load()
	packed := c.packed.Load()
	prepared := c.prepared.Load()
	accepted := c.accepted.Load()
	qInPop, qPreparePop, qPackPop := qIn.PopCount(), qPrepare.PopCount(), qPack.PopCount()

	s := Snapshot{
		AcceptedCount:  accepted,
		PreparedCount:  prepared,
		PackedCount:    packed,
		DeliveredCount: delivered,

		QInPush: qIn.PushCount(), QInPop: qInPop, QInMaxSize: qIn.MaxSize(),
		QPreparePush: qPrepare.PushCount(), QPreparePop: qPreparePop, QPrepareMaxSize: qPrepare.MaxSize(),
		QPackPush: qPack.PushCount(), QPackPop: qPackPop, QPackMaxSize: qPack.MaxSize(),

		PrepareWorkersUsed: c.prepareWorkersUsed,
		PackWorkersUsed:    c.packWorkersUsed,
		DeliverWorkersUsed: c.deliverWorkersUsed,

		SubmitTimeoutCount: c.submitTimeout.Load(),
		TotalLeadTime:      time.Duration(c.leadTimeNanos.Load()),
	}

	c.queuePush.WithLabelValues("in").Set(float64(s.QInPush))
	c.queuePush.WithLabelValues("prepare").Set(float64(s.QPreparePush))
	c.queuePush.WithLabelValues("pack").Set(float64(s.QPackPush))
	c.queuePop.WithLabelValues("in").Set(float64(s.QInPop))
	c.queuePop.WithLabelValues("prepare").Set(float64(s.QPreparePop))
	c.queuePop.WithLabelValues("pack").Set(float64(s.QPackPop))
	c.queueMaxSize.WithLabelValues("in").Set(float64(s.QInMaxSize))
	c.queueMaxSize.WithLabelValues("prepare").Set(float64(s.QPrepareMaxSize))
	c.queueMaxSize.WithLabelValues("pack").Set(float64(s.QPackMaxSize))

	return s
}
