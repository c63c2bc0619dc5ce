package serial

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Metrics tracks serial link health statistics
type Metrics struct {
	// Connection Statistics
	ConnectionAttempts  atomic.Int64 // Total open attempts
	SuccessfulConnects  atomic.Int64 // Successful opens
	ConnectionFailures  atomic.Int64 // Failed opens
	Disconnections      atomic.Int64 // Disconnects detected by the poll loop
	CurrentConnections  atomic.Int64 // Currently open ports (0 or 1)
	LastConnectTime     atomic.Int64 // Unix timestamp of last connect
	LastDisconnectTime  atomic.Int64 // Unix timestamp of last disconnect
	TotalUptime         atomic.Int64 // Total connected time in nanoseconds
	ConnectionStartTime atomic.Int64 // When current connection started

	// Read Operations
	ReadOperations  atomic.Int64 // Total poll reads
	SuccessfulReads atomic.Int64 // Reads that returned data
	ReadTimeouts    atomic.Int64 // Reads that returned nothing
	ReadErrors      atomic.Int64 // Reads that failed
	BytesRead       atomic.Int64 // Total bytes read
	LinesReceived   atomic.Int64 // Framed lines appended to the log
	LinesDropped    atomic.Int64 // Overlong lines discarded
	TotalReadTime   atomic.Int64 // Total time spent reading (ns)
	MaxReadTime     atomic.Int64 // Slowest read operation (ns)

	// Write Operations
	WriteOperations  atomic.Int64 // Total write attempts
	SuccessfulWrites atomic.Int64 // Successful writes
	WriteErrors      atomic.Int64 // Failed writes
	BytesWritten     atomic.Int64 // Total bytes written
	TotalWriteTime   atomic.Int64 // Total time spent writing (ns)
	MaxWriteTime     atomic.Int64 // Slowest write operation (ns)

	// Health Indicators
	ConsecutiveFailures atomic.Int64 // Consecutive operation failures
	LastErrorTime       atomic.Int64 // Timestamp of last error
}

// reset zeroes every counter in place.
func (m *Metrics) reset() {
	for _, c := range []*atomic.Int64{
		&m.ConnectionAttempts, &m.SuccessfulConnects, &m.ConnectionFailures, &m.Disconnections,
		&m.CurrentConnections, &m.LastConnectTime, &m.LastDisconnectTime, &m.TotalUptime,
		&m.ConnectionStartTime, &m.ReadOperations, &m.SuccessfulReads, &m.ReadTimeouts,
		&m.ReadErrors, &m.BytesRead, &m.LinesReceived, &m.LinesDropped, &m.TotalReadTime,
		&m.MaxReadTime, &m.WriteOperations, &m.SuccessfulWrites, &m.WriteErrors, &m.BytesWritten,
		&m.TotalWriteTime, &m.MaxWriteTime, &m.ConsecutiveFailures, &m.LastErrorTime,
	} {
		c.Store(0)
	}
}

// HealthStatus represents the overall health of the link
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDown      HealthStatus = "down"
)

// MetricsSnapshot is a point-in-time view of the link metrics.
type MetricsSnapshot struct {
	Timestamp   time.Time `json:"timestamp"`
	IsConnected bool      `json:"is_connected"`

	ConnectionSuccess  float64       `json:"connection_success"`
	ReadSuccessRate    float64       `json:"read_success_rate"`
	WriteSuccessRate   float64       `json:"write_success_rate"`
	AverageReadLatency time.Duration `json:"average_read_latency"`
	MaxReadLatency     time.Duration `json:"max_read_latency"`
	MaxWriteLatency    time.Duration `json:"max_write_latency"`
	ErrorRate          float64       `json:"error_rate"`
	BytesPerSecond     float64       `json:"bytes_per_second"`
	UptimeSeconds      float64       `json:"uptime_seconds"`

	ConsecutiveFailures int64 `json:"consecutive_failures"`
	TotalReads          int64 `json:"total_reads"`
	TotalWrites         int64 `json:"total_writes"`
	TotalBytesRead      int64 `json:"total_bytes_read"`
	TotalBytesWritten   int64 `json:"total_bytes_written"`
	TotalLines          int64 `json:"total_lines"`
	TotalErrors         int64 `json:"total_errors"`
	TotalTimeouts       int64 `json:"total_timeouts"`
	Disconnections      int64 `json:"disconnections"`

	HealthStatus string  `json:"health_status"`
	HealthScore  float64 `json:"health_score"`
}

// MetricsBroadcaster handles channel-based metrics broadcasting
type MetricsBroadcaster struct {
	metricsChannel   chan MetricsSnapshot
	broadcastTicker  *time.Ticker
	enabled          atomic.Bool
	stopCh           chan struct{}
	emissionInterval time.Duration
	stopOnce         sync.Once // Prevent double-close race
	sendMu           sync.Mutex
}

// NewMetricsBroadcaster creates a new metrics broadcaster with channel-based distribution
func NewMetricsBroadcaster(channelSize int, interval time.Duration) *MetricsBroadcaster {
	return &MetricsBroadcaster{
		metricsChannel:   make(chan MetricsSnapshot, channelSize),
		stopCh:           make(chan struct{}),
		emissionInterval: interval,
	}
}

// Start begins broadcasting metrics to the channel
func (mb *MetricsBroadcaster) Start(service *Service) {
	if !mb.enabled.CompareAndSwap(false, true) {
		return // Already running
	}

	mb.broadcastTicker = time.NewTicker(mb.emissionInterval)

	go func() {
		defer mb.broadcastTicker.Stop()

		for {
			select {
			case <-mb.stopCh:
				return
			case <-mb.broadcastTicker.C:
				mb.broadcastMetrics(service)
			}
		}
	}()
}

// Stop stops broadcasting metrics and closes the channel
func (mb *MetricsBroadcaster) Stop() {
	if mb.enabled.CompareAndSwap(true, false) {
		mb.stopOnce.Do(func() {
			close(mb.stopCh)
			mb.sendMu.Lock()
			close(mb.metricsChannel)
			mb.sendMu.Unlock()
		})
	}
}

// BroadcastImmediate sends metrics immediately (for critical events)
func (mb *MetricsBroadcaster) BroadcastImmediate(service *Service) {
	mb.broadcastMetrics(service)
}

// GetMetricsChannel returns the read-only metrics channel for consumers
func (mb *MetricsBroadcaster) GetMetricsChannel() <-chan MetricsSnapshot {
	return mb.metricsChannel
}

func (mb *MetricsBroadcaster) broadcastMetrics(service *Service) {
	snapshot := service.GetMetricsSnapshot()

	mb.sendMu.Lock()
	defer mb.sendMu.Unlock()
	// Check under sendMu so a concurrent Stop cannot close the channel mid-send
	if !mb.enabled.Load() {
		return
	}

	// Non-blocking send to avoid goroutine blocking
	select {
	case mb.metricsChannel <- *snapshot:
	default:
		// Channel full, skip this broadcast
	}
}

// Metrics calculation methods
func (m *Metrics) calculateConnectionSuccessRate() float64 {
	attempts := m.ConnectionAttempts.Load()
	if attempts == 0 {
		return 100.0
	}
	successes := m.SuccessfulConnects.Load()
	return float64(successes) / float64(attempts) * 100
}

// Timeouts are an expected poll outcome and count as successful reads here.
func (m *Metrics) calculateReadSuccessRate() float64 {
	reads := m.ReadOperations.Load()
	if reads == 0 {
		return 100.0
	}
	return float64(reads-m.ReadErrors.Load()) / float64(reads) * 100
}

func (m *Metrics) calculateWriteSuccessRate() float64 {
	writes := m.WriteOperations.Load()
	if writes == 0 {
		return 100.0
	}
	successes := m.SuccessfulWrites.Load()
	return float64(successes) / float64(writes) * 100
}

func (m *Metrics) calculateAverageReadLatency() time.Duration {
	reads := m.ReadOperations.Load()
	if reads == 0 {
		return 0
	}
	return time.Duration(m.TotalReadTime.Load() / reads)
}

func (m *Metrics) calculateErrorRate() float64 {
	totalOps := m.ReadOperations.Load() + m.WriteOperations.Load()
	if totalOps == 0 {
		return 0.0
	}
	totalErrors := m.ReadErrors.Load() + m.WriteErrors.Load()
	return float64(totalErrors) / float64(totalOps) * 100
}

func (m *Metrics) calculateThroughput(isConnected bool, connectionStartTime int64) float64 {
	uptime := m.calculateUptime(isConnected, connectionStartTime)
	if uptime == 0 {
		return 0.0
	}
	totalBytes := m.BytesRead.Load() + m.BytesWritten.Load()
	return float64(totalBytes) / uptime
}

func (m *Metrics) calculateUptime(isConnected bool, connectionStartTime int64) float64 {
	if !isConnected || connectionStartTime == 0 {
		return 0.0
	}

	duration := time.Now().UnixNano() - connectionStartTime
	if duration <= 0 {
		return 0.0
	}

	return float64(duration) / float64(time.Second)
}

func (m *Metrics) assessHealthStatus(snapshot *MetricsSnapshot) HealthStatus {
	if !snapshot.IsConnected {
		return HealthStatusDown
	}

	// Check for critical issues
	if snapshot.ErrorRate > 50.0 || snapshot.ConsecutiveFailures > 5 {
		return HealthStatusUnhealthy
	}

	// Check for performance degradation
	if snapshot.ErrorRate > 10.0 || snapshot.ConsecutiveFailures > 3 {
		return HealthStatusDegraded
	}

	return HealthStatusHealthy
}

func (m *Metrics) calculateHealthScore(snapshot *MetricsSnapshot) float64 {
	if !snapshot.IsConnected {
		return 0.0
	}

	score := 100.0

	// Deduct for errors
	score -= snapshot.ErrorRate * 2

	// Deduct for consecutive failures (more severe penalty)
	score -= float64(snapshot.ConsecutiveFailures) * 10

	// Ensure score doesn't go below 0
	if score < 0 {
		score = 0
	}

	return score
}

// storeMax raises c to v if v is larger.
func storeMax(c *atomic.Int64, v int64) {
	for {
		current := c.Load()
		if v <= current {
			return
		}
		if c.CompareAndSwap(current, v) {
			return
		}
	}
}
