// Package metrics provides Prometheus metrics for hrvlink nodes.
package metrics

import (
	"math"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// rmssdBuckets covers the physiologically interesting RMSSD range in ms.
var rmssdBuckets = []float64{5, 10, 20, 30, 40, 60, 80, 120, 200, 500, 1000} //nolint:gochecknoglobals // static bucket layout

// Manager owns all Prometheus collectors of a node.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Signal metrics
	beatsTotal      prometheus.Counter
	beatsDiscarded  *prometheus.CounterVec
	windowBeats     prometheus.Gauge
	latestHeartRate prometheus.Gauge
	rmssd           prometheus.Gauge
	sdnn            prometheus.Gauge
	rmssdHistogram  prometheus.Histogram

	// Event lifecycle metrics
	eventsStarted      prometheus.Counter
	eventsFinalized    prometheus.Counter
	eventsHandled      *prometheus.CounterVec
	eventsDuplicate    prometheus.Counter
	eventsTombstoned   prometheus.Counter
	pendingEvents      prometheus.Gauge
	activeEvent        prometheus.Gauge
	mockMode           prometheus.Gauge

	// Sync metrics
	messagesSent      *prometheus.CounterVec
	messagesDropped   *prometheus.CounterVec
	messagesReceived  *prometheus.CounterVec
	messagesMalformed *prometheus.CounterVec
	bytesSent         prometheus.Counter

	// Serial context metrics
	inboxSize  prometheus.Gauge
	inboxDrops *prometheus.CounterVec

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// Init rebuilds the global manager on a fresh registry with opts, e.g. to
// label every series with the node role. Call it once at startup, before
// anything records; values recorded earlier are discarded.
func Init(opts ...Option) *Manager {
	registry := prometheus.NewRegistry()
	m := NewManager(append(slices.Clone(opts), WithPrometheusRegistry(registry))...)
	customRegistry = registry
	globalManager = m
	return m
}

// ThresholdBuckets returns the default RMSSD buckets with threshold added as
// a boundary, so the share of windows below the detection threshold can be
// read straight off the histogram.
func ThresholdBuckets(threshold float64) []float64 {
	buckets := slices.Clone(rmssdBuckets)
	if threshold > 0 && !math.IsInf(threshold, 0) && !slices.Contains(buckets, threshold) {
		buckets = append(buckets, threshold)
		slices.Sort(buckets)
	}
	return buckets
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "hrvlink",
		subsystem:        "node",
		histogramBuckets: rmssdBuckets,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // flat list of collectors
	auto := promauto.With(m.registry)

	m.beatsTotal = m.counter("beats_total", "Total number of heart-rate samples applied to the beat window")
	m.beatsDiscarded = m.counterVec("beats_discarded_total", "Samples discarded before reaching the window", "reason")
	m.windowBeats = m.gauge("window_beats", "Beats currently retained in the rolling window")
	m.latestHeartRate = m.gauge("heart_rate_bpm", "Most recent heart rate in beats per minute")
	m.rmssd = m.gauge("rmssd_milliseconds", "Current RMSSD of the rolling window (NaN when undefined)")
	m.sdnn = m.gauge("sdnn_milliseconds", "Current SDNN of the rolling window (NaN when undefined)")
	m.rmssdHistogram = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "rmssd_observed_milliseconds",
		Help:        "Distribution of defined RMSSD values",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	})

	m.eventsStarted = m.counter("events_started_total", "Low-variability episodes opened by the detector")
	m.eventsFinalized = m.counter("events_finalized_total", "Episodes recorded as finalized in the event store")
	m.eventsHandled = m.counterVec("events_handled_total", "Episodes removed after confirmation or dismissal", "outcome")
	m.eventsDuplicate = m.counter("events_duplicate_total", "Finalize deliveries ignored because the id was already stored")
	m.eventsTombstoned = m.counter("events_tombstoned_total", "Finalize deliveries ignored because the id was already handled")
	m.pendingEvents = m.gauge("pending_events", "Finalized episodes awaiting confirmation")
	m.activeEvent = m.gauge("active_event", "1 while an episode is open on this node")
	m.mockMode = m.gauge("mock_mode", "1 while synthetic heart-rate generation is active")

	m.messagesSent = m.counterVec("messages_sent_total", "Messages handed to the channel", "kind")
	m.messagesDropped = m.counterVec("messages_dropped_total", "Outbound messages dropped", "kind", "reason")
	m.messagesReceived = m.counterVec("messages_received_total", "Inbound messages applied", "kind")
	m.messagesMalformed = m.counterVec("messages_malformed_total", "Inbound messages discarded as malformed", "reason")
	m.bytesSent = m.counter("bytes_sent_total", "Payload bytes handed to the channel")

	m.inboxSize = m.gauge("inbox_size", "Inputs waiting for the serial loop")
	m.inboxDrops = m.counterVec("inbox_drops_total", "Inputs dropped because the inbox was full or closed", "reason")

	m.httpRequests = m.counterVec("http_requests_total", "Control API requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_request_duration_milliseconds",
		Help:        "Control API request duration in milliseconds",
		Buckets:     prometheus.DefBuckets,
		ConstLabels: m.constLabels,
	}, []string{"endpoint", "method", "status_code"})
}

// Signal Metrics Functions.

// RecordBeat counts a beat applied to the window and updates the window gauges.
func RecordBeat(heartRate float64, retained int) {
	globalManager.beatsTotal.Inc()
	globalManager.latestHeartRate.Set(heartRate)
	globalManager.windowBeats.Set(float64(retained))
}

// RecordBeatDiscarded counts a sample that never reached the window.
func RecordBeatDiscarded(reason string) {
	globalManager.beatsDiscarded.WithLabelValues(reason).Inc()
}

// UpdateHeartRate sets the displayed heart rate without touching the window.
func UpdateHeartRate(heartRate float64) {
	globalManager.latestHeartRate.Set(heartRate)
}

// UpdateHRV publishes the current metric values; undefined values are exported as NaN.
func UpdateHRV(rmssd float64, rmssdOK bool, sdnn float64, sdnnOK bool) {
	if rmssdOK {
		globalManager.rmssd.Set(rmssd)
		globalManager.rmssdHistogram.Observe(rmssd)
	} else {
		globalManager.rmssd.Set(nan())
	}
	if sdnnOK {
		globalManager.sdnn.Set(sdnn)
	} else {
		globalManager.sdnn.Set(nan())
	}
}

// Event Lifecycle Metrics Functions.

// RecordEventStarted counts a new episode.
func RecordEventStarted() {
	globalManager.eventsStarted.Inc()
	globalManager.activeEvent.Set(1)
}

// ClearActiveEvent resets the active-episode gauge.
func ClearActiveEvent() {
	globalManager.activeEvent.Set(0)
}

// RecordEventFinalized counts a finalized episode stored on this node.
func RecordEventFinalized() {
	globalManager.eventsFinalized.Inc()
}

// RecordEventHandled counts an episode removed by confirmation or dismissal.
func RecordEventHandled(confirmed bool) {
	outcome := "dismissed"
	if confirmed {
		outcome = "confirmed"
	}
	globalManager.eventsHandled.WithLabelValues(outcome).Inc()
}

// RecordDuplicateFinalized counts an ignored duplicate finalize.
func RecordDuplicateFinalized() {
	globalManager.eventsDuplicate.Inc()
}

// RecordTombstonedFinalized counts a finalize ignored because the episode was already handled.
func RecordTombstonedFinalized() {
	globalManager.eventsTombstoned.Inc()
}

// UpdatePendingEvents sets the number of episodes awaiting confirmation.
func UpdatePendingEvents(count int) {
	globalManager.pendingEvents.Set(float64(count))
}

// UpdateMockMode publishes the mode flag.
func UpdateMockMode(isMock bool) {
	if isMock {
		globalManager.mockMode.Set(1)
		return
	}
	globalManager.mockMode.Set(0)
}

// Sync Metrics Functions.

// RecordMessageSent counts a message handed to the channel.
func RecordMessageSent(kind string, bytes int) {
	globalManager.messagesSent.WithLabelValues(kind).Inc()
	globalManager.bytesSent.Add(float64(bytes))
}

// RecordMessageDropped counts an outbound message that never reached the peer.
func RecordMessageDropped(kind, reason string) {
	globalManager.messagesDropped.WithLabelValues(kind, reason).Inc()
}

// RecordMessageReceived counts an applied inbound message.
func RecordMessageReceived(kind string) {
	globalManager.messagesReceived.WithLabelValues(kind).Inc()
}

// RecordMessageMalformed counts a discarded inbound message.
func RecordMessageMalformed(reason string) {
	globalManager.messagesMalformed.WithLabelValues(reason).Inc()
}

// Serial Context Metrics Functions.

// UpdateInboxSize sets the inbox backlog.
func UpdateInboxSize(size int) {
	globalManager.inboxSize.Set(float64(size))
}

// RecordInboxDrop counts an input rejected by the inbox.
func RecordInboxDrop(reason string) {
	globalManager.inboxDrops.WithLabelValues(reason).Inc()
}

// HTTP Metrics Functions.

// RecordHTTPRequest increments the HTTP request counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

func nan() float64 {
	return math.NaN()
}
