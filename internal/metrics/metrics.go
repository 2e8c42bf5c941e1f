// Package metrics exposes driftnet's Prometheus instrumentation: one
// registered metric per subsystem that's useful to watch in production
// (channel backlog, replication traffic, rollback frequency, tick
// pacing) rather than per-connection counters the teacher used for its
// WebSocket hub.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter/gauge/histogram driftnet exports.
type Metrics struct {
	// Connection lifecycle
	connectionsTotal   prometheus.Counter
	connectionsActive  prometheus.Gauge
	connectionDuration prometheus.Histogram
	connectionErrors   prometheus.Counter

	// Tick / simulation pacing
	tickDuration prometheus.Histogram
	tickDrift    prometheus.Gauge

	// Message Manager
	channelBacklog    *prometheus.GaugeVec
	packetsSent       prometheus.Counter
	packetsReceived   prometheus.Counter
	fragmentsAssembled prometheus.Counter
	retransmits       prometheus.Counter
	packetRTT         prometheus.Histogram

	// Replication
	replicationGroups    prometheus.Gauge
	entitiesSpawned      prometheus.Counter
	entitiesDespawned    prometheus.Counter
	actionMessagesSent   prometheus.Counter
	updateMessagesSent   prometheus.Counter

	// Prediction
	rollbacksTotal    prometheus.Counter
	rollbackTickDepth prometheus.Histogram

	// NATS cluster bus
	natsConnectionStatus prometheus.Gauge
	natsReconnects       prometheus.Counter
	natsMessages         prometheus.Counter
	natsLatency          prometheus.Histogram

	// Errors
	errorsTotal   prometheus.Counter
	errorsByType  *prometheus.CounterVec
	lastErrorTime prometheus.Gauge

	// System
	goroutinesCount prometheus.Gauge
	memoryUsage     prometheus.Gauge
	cpuUsage        prometheus.Gauge

	startTime time.Time
	mu        sync.RWMutex
	clients   int64
}

// New registers and returns the full metric set.
func New() *Metrics {
	return &Metrics{
		startTime: time.Now(),

		connectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "driftnet_connections_total",
			Help: "Total number of connection attempts accepted",
		}),
		connectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "driftnet_connections_active",
			Help: "Number of currently connected peers",
		}),
		connectionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "driftnet_connection_duration_seconds",
			Help:    "Duration of completed connections",
			Buckets: prometheus.DefBuckets,
		}),
		connectionErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "driftnet_connection_errors_total",
			Help: "Total number of connection-level errors",
		}),

		tickDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "driftnet_tick_duration_seconds",
			Help:    "Wall-clock duration of each simulation tick",
			Buckets: []float64{0.001, 0.005, 0.01, 0.016, 0.02, 0.033, 0.05, 0.1},
		}),
		tickDrift: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "driftnet_tick_drift_seconds",
			Help: "Client simulation clock offset from the synced server tick",
		}),

		channelBacklog: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "driftnet_channel_backlog",
			Help: "Unacked reliable messages pending per channel",
		}, []string{"channel"}),
		packetsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "driftnet_packets_sent_total",
			Help: "Total number of packets sent",
		}),
		packetsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "driftnet_packets_received_total",
			Help: "Total number of packets received",
		}),
		fragmentsAssembled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "driftnet_fragments_assembled_total",
			Help: "Total number of fragmented messages reassembled",
		}),
		retransmits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "driftnet_retransmits_total",
			Help: "Total number of reliable message retransmissions",
		}),
		packetRTT: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "driftnet_packet_rtt_seconds",
			Help:    "Measured round-trip time per ping/pong exchange",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.2, 0.4, 0.8, 1.6},
		}),

		replicationGroups: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "driftnet_replication_groups_active",
			Help: "Number of replication groups with pending or recent traffic",
		}),
		entitiesSpawned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "driftnet_entities_spawned_total",
			Help: "Total number of replicated entity spawns applied",
		}),
		entitiesDespawned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "driftnet_entities_despawned_total",
			Help: "Total number of replicated entity despawns applied",
		}),
		actionMessagesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "driftnet_action_messages_sent_total",
			Help: "Total number of replication action messages sent",
		}),
		updateMessagesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "driftnet_update_messages_sent_total",
			Help: "Total number of replication update messages sent",
		}),

		rollbacksTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "driftnet_rollbacks_total",
			Help: "Total number of predicted-value reconciliation rollbacks",
		}),
		rollbackTickDepth: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "driftnet_rollback_tick_depth",
			Help:    "Number of ticks resimulated per rollback",
			Buckets: []float64{1, 2, 4, 8, 12, 16, 24, 32},
		}),

		natsConnectionStatus: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "driftnet_nats_connection_status",
			Help: "Cluster bus connection status (1=connected, 0=disconnected)",
		}),
		natsReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "driftnet_nats_reconnects_total",
			Help: "Total number of cluster bus reconnections",
		}),
		natsMessages: promauto.NewCounter(prometheus.CounterOpts{
			Name: "driftnet_nats_messages_total",
			Help: "Total number of cluster bus messages processed",
		}),
		natsLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "driftnet_nats_latency_seconds",
			Help:    "Latency of cluster bus publish/request round-trips",
			Buckets: prometheus.DefBuckets,
		}),

		errorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "driftnet_errors_total",
			Help: "Total number of errors across all subsystems",
		}),
		errorsByType: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "driftnet_errors_by_type_total",
			Help: "Total number of errors by type",
		}, []string{"type"}),
		lastErrorTime: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "driftnet_last_error_timestamp",
			Help: "Unix timestamp of the last recorded error",
		}),

		goroutinesCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "driftnet_goroutines",
			Help: "Number of goroutines",
		}),
		memoryUsage: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "driftnet_memory_usage_bytes",
			Help: "Resident memory usage in bytes",
		}),
		cpuUsage: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "driftnet_cpu_usage_percent",
			Help: "CPU usage percentage",
		}),
	}
}

// Connections
func (m *Metrics) IncrementConnections() {
	m.connectionsTotal.Inc()
	m.mu.Lock()
	m.clients++
	m.mu.Unlock()
	m.connectionsActive.Inc()
}

func (m *Metrics) DecrementConnections(duration time.Duration) {
	m.mu.Lock()
	m.clients--
	m.mu.Unlock()
	m.connectionsActive.Dec()
	m.connectionDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordConnectionError() {
	m.connectionErrors.Inc()
	m.RecordError("connection")
}

func (m *Metrics) ActiveConnections() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clients
}

// Tick pacing
func (m *Metrics) RecordTickDuration(d time.Duration) { m.tickDuration.Observe(d.Seconds()) }
func (m *Metrics) SetTickDrift(d time.Duration)       { m.tickDrift.Set(d.Seconds()) }

// Message Manager
func (m *Metrics) SetChannelBacklog(channel string, n int) {
	m.channelBacklog.WithLabelValues(channel).Set(float64(n))
}
func (m *Metrics) IncrementPacketsSent()       { m.packetsSent.Inc() }
func (m *Metrics) IncrementPacketsReceived()   { m.packetsReceived.Inc() }
func (m *Metrics) IncrementFragmentsAssembled() { m.fragmentsAssembled.Inc() }
func (m *Metrics) IncrementRetransmits()       { m.retransmits.Inc() }
func (m *Metrics) RecordPacketRTT(d time.Duration) { m.packetRTT.Observe(d.Seconds()) }

// Replication
func (m *Metrics) SetReplicationGroups(n int)  { m.replicationGroups.Set(float64(n)) }
func (m *Metrics) IncrementEntitiesSpawned()   { m.entitiesSpawned.Inc() }
func (m *Metrics) IncrementEntitiesDespawned() { m.entitiesDespawned.Inc() }
func (m *Metrics) IncrementActionMessagesSent() { m.actionMessagesSent.Inc() }
func (m *Metrics) IncrementUpdateMessagesSent() { m.updateMessagesSent.Inc() }

// Prediction
func (m *Metrics) RecordRollback(tickDepth int) {
	m.rollbacksTotal.Inc()
	m.rollbackTickDepth.Observe(float64(tickDepth))
}

// Cluster bus
func (m *Metrics) SetNATSConnected(connected bool) {
	if connected {
		m.natsConnectionStatus.Set(1)
	} else {
		m.natsConnectionStatus.Set(0)
	}
}
func (m *Metrics) IncrementNATSReconnects() { m.natsReconnects.Inc() }
func (m *Metrics) IncrementNATSMessages()   { m.natsMessages.Inc() }
func (m *Metrics) RecordNATSLatency(d time.Duration) { m.natsLatency.Observe(d.Seconds()) }

// Errors
func (m *Metrics) RecordError(errorType string) {
	m.errorsTotal.Inc()
	m.errorsByType.WithLabelValues(errorType).Inc()
	m.lastErrorTime.SetToCurrentTime()
}

// System
func (m *Metrics) UpdateGoroutinesCount(count int) { m.goroutinesCount.Set(float64(count)) }
func (m *Metrics) UpdateMemoryUsage(bytes uint64)  { m.memoryUsage.Set(float64(bytes)) }
func (m *Metrics) UpdateCPUUsage(percent float64)  { m.cpuUsage.Set(percent) }

func (m *Metrics) Uptime() time.Duration { return time.Since(m.startTime) }
