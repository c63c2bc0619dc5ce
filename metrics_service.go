package serial

import (
	"errors"
	"fmt"
	"time"
)

// Metrics accessor and management methods for Service

// GetMetrics returns the current metrics instance
func (s *Service) GetMetrics() *Metrics {
	if s.metrics == nil {
		return &Metrics{} // Return empty metrics if not initialized
	}
	return s.metrics
}

// GetMetricsSnapshot creates a snapshot for display. It does not take the
// link lock.
func (s *Service) GetMetricsSnapshot() *MetricsSnapshot {
	if s.metrics == nil {
		return &MetricsSnapshot{
			Timestamp:    time.Now(),
			HealthStatus: string(HealthStatusDown),
		}
	}

	m := s.metrics
	isConnected := s.isOpen.Load()
	connectionStartTime := m.ConnectionStartTime.Load()

	snapshot := &MetricsSnapshot{
		Timestamp:   time.Now(),
		IsConnected: isConnected,
	}

	snapshot.ConnectionSuccess = m.calculateConnectionSuccessRate()
	snapshot.ReadSuccessRate = m.calculateReadSuccessRate()
	snapshot.WriteSuccessRate = m.calculateWriteSuccessRate()
	snapshot.AverageReadLatency = m.calculateAverageReadLatency()
	snapshot.MaxReadLatency = time.Duration(m.MaxReadTime.Load())
	snapshot.MaxWriteLatency = time.Duration(m.MaxWriteTime.Load())
	snapshot.ErrorRate = m.calculateErrorRate()
	snapshot.BytesPerSecond = m.calculateThroughput(isConnected, connectionStartTime)
	snapshot.UptimeSeconds = m.calculateUptime(isConnected, connectionStartTime)

	snapshot.ConsecutiveFailures = m.ConsecutiveFailures.Load()
	snapshot.TotalReads = m.ReadOperations.Load()
	snapshot.TotalWrites = m.WriteOperations.Load()
	snapshot.TotalBytesRead = m.BytesRead.Load()
	snapshot.TotalBytesWritten = m.BytesWritten.Load()
	snapshot.TotalLines = m.LinesReceived.Load()
	snapshot.TotalErrors = m.ReadErrors.Load() + m.WriteErrors.Load()
	snapshot.TotalTimeouts = m.ReadTimeouts.Load()
	snapshot.Disconnections = m.Disconnections.Load()

	health := m.assessHealthStatus(snapshot)
	snapshot.HealthStatus = string(health)
	snapshot.HealthScore = m.calculateHealthScore(snapshot)

	return snapshot
}

// EnableMetrics turns on metrics collection
func (s *Service) EnableMetrics() {
	s.metricsEnabled.Store(true)
}

// DisableMetrics turns off metrics collection
func (s *Service) DisableMetrics() {
	s.metricsEnabled.Store(false)
}

// IsMetricsEnabled returns whether metrics collection is enabled
func (s *Service) IsMetricsEnabled() bool {
	return s.metricsEnabled.Load()
}

// ResetMetrics clears all metrics (useful for testing)
func (s *Service) ResetMetrics() {
	if s.metrics != nil {
		s.metrics.reset()
	}
}

// StartMetricsBroadcasting begins broadcasting metrics snapshots every interval
func (s *Service) StartMetricsBroadcasting(interval time.Duration) error {
	if !s.initialized.Load() {
		return ErrNotInitialized
	}
	if interval <= 0 {
		return fmt.Errorf("metrics interval must be positive: %v", interval)
	}

	s.metricsMu.Lock()
	defer s.metricsMu.Unlock()

	if s.metricsBroadcaster != nil {
		s.metricsBroadcaster.Stop()
	}

	channelSize := s.Config.MetricsChannelSize
	if channelSize <= 0 {
		channelSize = 50
	}

	s.metricsBroadcaster = NewMetricsBroadcaster(channelSize, interval)
	s.metricsBroadcaster.Start(s)
	return nil
}

// StopMetricsBroadcasting stops broadcasting metrics
func (s *Service) StopMetricsBroadcasting() {
	s.metricsMu.Lock()
	defer s.metricsMu.Unlock()
	if s.metricsBroadcaster != nil {
		s.metricsBroadcaster.Stop()
		s.metricsBroadcaster = nil
	}
}

// MetricsChannel returns the read-only metrics channel for consumers
func (s *Service) MetricsChannel() (<-chan MetricsSnapshot, error) {
	if !s.initialized.Load() {
		return nil, ErrNotInitialized
	}
	s.metricsMu.Lock()
	defer s.metricsMu.Unlock()
	if s.metricsBroadcaster == nil {
		return nil, errors.New("metrics broadcasting not started")
	}
	return s.metricsBroadcaster.GetMetricsChannel(), nil
}

// Internal metrics recording methods

func (s *Service) recording() bool {
	return s.metrics != nil && s.metricsEnabled.Load()
}

func (s *Service) recordConnectAttempt(err error) {
	if !s.recording() {
		return
	}
	m := s.metrics
	m.ConnectionAttempts.Inc()
	if err != nil {
		m.ConnectionFailures.Inc()
		s.recordFailure()
		return
	}
	now := time.Now()
	m.SuccessfulConnects.Inc()
	m.CurrentConnections.Store(1)
	m.LastConnectTime.Store(now.Unix())
	m.ConnectionStartTime.Store(now.UnixNano())
	m.ConsecutiveFailures.Store(0)
}

// recordClose accounts the uptime of the session that just ended.
func (s *Service) recordClose(detected bool) {
	if !s.recording() {
		return
	}
	m := s.metrics
	if start := m.ConnectionStartTime.Swap(0); start > 0 {
		m.TotalUptime.Add(time.Now().UnixNano() - start)
	}
	m.CurrentConnections.Store(0)
	if detected {
		m.Disconnections.Inc()
		m.LastDisconnectTime.Store(time.Now().Unix())
	}
}

func (s *Service) recordRead(n int, err error, timedOut bool, duration time.Duration) {
	if !s.recording() {
		return
	}
	m := s.metrics
	m.ReadOperations.Inc()
	m.TotalReadTime.Add(duration.Nanoseconds())
	storeMax(&m.MaxReadTime, duration.Nanoseconds())

	switch {
	case timedOut:
		m.ReadTimeouts.Inc()
	case err != nil:
		m.ReadErrors.Inc()
		s.recordFailure()
	default:
		m.SuccessfulReads.Inc()
		m.ConsecutiveFailures.Store(0)
	}
	// Data can arrive together with an error, e.g. just before a disconnect.
	if n > 0 {
		m.BytesRead.Add(int64(n))
	}
}

func (s *Service) recordLines(lines, dropped int) {
	if !s.recording() {
		return
	}
	s.metrics.LinesReceived.Add(int64(lines))
	if dropped > 0 {
		s.metrics.LinesDropped.Add(int64(dropped))
	}
}

func (s *Service) recordWrite(n int, err error, duration time.Duration) {
	if !s.recording() {
		return
	}
	m := s.metrics
	m.WriteOperations.Inc()
	m.TotalWriteTime.Add(duration.Nanoseconds())
	storeMax(&m.MaxWriteTime, duration.Nanoseconds())

	if err != nil {
		m.WriteErrors.Inc()
		s.recordFailure()
		return
	}
	m.SuccessfulWrites.Inc()
	m.BytesWritten.Add(int64(n))
	m.ConsecutiveFailures.Store(0)
}

func (s *Service) recordFailure() {
	s.metrics.ConsecutiveFailures.Inc()
	s.metrics.LastErrorTime.Store(time.Now().Unix())
}
