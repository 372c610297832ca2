package monitoring

import "time"

// Summary surfaces aggregated monitoring data for the health endpoint and operators.
type Summary struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Sessions    SessionSummary     `json:"sessions"`
	Signals     SignalSummary      `json:"signals"`
	Moderation  ModerationSummary  `json:"moderation"`
	Policy      PolicySummary      `json:"policy"`
	Realtime    RealtimeSummary    `json:"realtime"`
	Maintenance MaintenanceSummary `json:"maintenance"`
}

type SessionSummary struct {
	Live                   int64         `json:"live"`
	Completed              uint64        `json:"completed"`
	AverageDurationSeconds float64       `json:"average_duration_seconds"`
	LastDuration           time.Duration `json:"last_duration"`
	LastEndedAt            time.Time     `json:"last_ended_at"`
}

type SignalSummary struct {
	Sent      uint64 `json:"sent"`
	Failed    uint64 `json:"failed"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
}

type ModerationSummary struct {
	Blocked        uint64 `json:"blocked"`
	ReportFailures uint64 `json:"report_failures"`
}

type PolicySummary struct {
	Allowed uint64 `json:"allowed"`
	Denied  uint64 `json:"denied"`
	Error   uint64 `json:"error"`
}

type FailureRecord struct {
	Room     string    `json:"room,omitempty"`
	Type     string    `json:"type"`
	Message  string    `json:"message"`
	Occurred time.Time `json:"occurred_at"`
}

type RealtimeSummary struct {
	ActiveConnections int64          `json:"active_connections"`
	Frames            uint64         `json:"frames"`
	Failures          uint64         `json:"failures"`
	LastFailure       *FailureRecord `json:"last_failure,omitempty"`
}

type MaintenanceSummary struct {
	Jobs []MaintenanceJobSummary `json:"jobs"`
}

type MaintenanceJobSummary struct {
	Job                 string        `json:"job"`
	LastStatus          string        `json:"last_status"`
	LastRunAt           time.Time     `json:"last_run_at"`
	LastDuration        time.Duration `json:"last_duration"`
	LastError           string        `json:"last_error,omitempty"`
	ConsecutiveFailures uint64        `json:"consecutive_failures"`
	LastSuccessAt       time.Time     `json:"last_success_at"`
	TotalRuns           uint64        `json:"total_runs"`
}

// Snapshot returns a point-in-time summary from the current module when configured.
func Snapshot() Summary {
	if module := ensureModule(); module != nil && module.stats != nil {
		return module.stats.summary()
	}
	return Summary{GeneratedAt: time.Now()}
}
