package monitoring

import (
	"sync"
	"sync/atomic"
	"time"
)

type statStore struct {
	liveSessions         atomic.Int64
	sessionTotalDuration atomic.Uint64 // nanoseconds
	sessionCount         atomic.Uint64
	sessionLastDuration  atomic.Int64
	sessionLastEndedAt   atomic.Int64

	signalsSent      atomic.Uint64
	signalsFailed    atomic.Uint64
	signalsDelivered atomic.Uint64
	signalsDropped   atomic.Uint64

	moderationBlocks        atomic.Uint64
	violationReportFailures atomic.Uint64

	policyAllowed atomic.Uint64
	policyDenied  atomic.Uint64
	policyError   atomic.Uint64

	realtimeConnections atomic.Int64
	realtimeFrames      atomic.Uint64
	realtimeFailures    atomic.Uint64
	realtimeLastFailure atomic.Pointer[FailureRecord]

	maintenance sync.Map // string -> *maintenanceStats
}

func newStatStore() *statStore {
	return &statStore{}
}

func (s *statStore) summary() Summary {
	count := s.sessionCount.Load()
	var avgSeconds float64
	if count > 0 {
		avgSeconds = float64(s.sessionTotalDuration.Load()) / float64(count) / float64(time.Second)
	}

	jobs := []MaintenanceJobSummary{}
	s.maintenance.Range(func(key, value any) bool {
		jobs = append(jobs, value.(*maintenanceStats).snapshot(key.(string)))
		return true
	})

	return Summary{
		GeneratedAt: time.Now(),
		Sessions: SessionSummary{
			Live:                   s.liveSessions.Load(),
			Completed:              count,
			AverageDurationSeconds: avgSeconds,
			LastDuration:           time.Duration(s.sessionLastDuration.Load()),
			LastEndedAt:            time.Unix(0, s.sessionLastEndedAt.Load()),
		},
		Signals: SignalSummary{
			Sent:      s.signalsSent.Load(),
			Failed:    s.signalsFailed.Load(),
			Delivered: s.signalsDelivered.Load(),
			Dropped:   s.signalsDropped.Load(),
		},
		Moderation: ModerationSummary{
			Blocked:        s.moderationBlocks.Load(),
			ReportFailures: s.violationReportFailures.Load(),
		},
		Policy: PolicySummary{
			Allowed: s.policyAllowed.Load(),
			Denied:  s.policyDenied.Load(),
			Error:   s.policyError.Load(),
		},
		Realtime: RealtimeSummary{
			ActiveConnections: s.realtimeConnections.Load(),
			Frames:            s.realtimeFrames.Load(),
			Failures:          s.realtimeFailures.Load(),
			LastFailure:       s.realtimeLastFailure.Load(),
		},
		Maintenance: MaintenanceSummary{Jobs: jobs},
	}
}

func (s *statStore) adjustLiveSessions(delta int64) int64 {
	return s.liveSessions.Add(delta)
}

func (s *statStore) recordSessionDuration(d time.Duration) {
	s.sessionTotalDuration.Add(uint64(d))
	s.sessionCount.Add(1)
	s.sessionLastDuration.Store(int64(d))
	s.sessionLastEndedAt.Store(time.Now().UnixNano())
}

func (s *statStore) recordSignal(direction, result string) {
	switch {
	case direction == "outbound" && result == "sent":
		s.signalsSent.Add(1)
	case direction == "outbound":
		s.signalsFailed.Add(1)
	case result == "delivered":
		s.signalsDelivered.Add(1)
	default:
		s.signalsDropped.Add(1)
	}
}

func (s *statStore) recordPolicy(result string) {
	switch result {
	case "allowed":
		s.policyAllowed.Add(1)
	case "denied":
		s.policyDenied.Add(1)
	default:
		s.policyError.Add(1)
	}
}

func (s *statStore) recordRealtimeFailure(record FailureRecord) {
	s.realtimeFailures.Add(1)
	s.realtimeLastFailure.Store(&record)
}

func (s *statStore) maintenanceEntry(job string) *maintenanceStats {
	if value, ok := s.maintenance.Load(job); ok {
		return value.(*maintenanceStats)
	}
	actual, _ := s.maintenance.LoadOrStore(job, &maintenanceStats{})
	return actual.(*maintenanceStats)
}

type maintenanceStats struct {
	mu                  sync.Mutex
	lastStatus          string
	lastError           string
	lastRun             time.Time
	lastSuccess         time.Time
	lastDuration        time.Duration
	consecutiveFailures uint64
	totalRuns           uint64
}

func (m *maintenanceStats) record(result, message string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastStatus = result
	m.lastError = message
	m.lastRun = now
	m.lastDuration = duration
	m.totalRuns++
	if result == "success" {
		m.consecutiveFailures = 0
		m.lastSuccess = now
		return
	}
	m.consecutiveFailures++
}

func (m *maintenanceStats) snapshot(job string) MaintenanceJobSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	return MaintenanceJobSummary{
		Job:                 job,
		LastStatus:          m.lastStatus,
		LastRunAt:           m.lastRun,
		LastDuration:        m.lastDuration,
		LastError:           m.lastError,
		ConsecutiveFailures: m.consecutiveFailures,
		LastSuccessAt:       m.lastSuccess,
		TotalRuns:           m.totalRuns,
	}
}
