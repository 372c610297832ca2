package monitoring

import (
	"strings"
	"time"
)

// ObserveAPILatency captures the HTTP request latency for the supplied route.
func ObserveAPILatency(method, path, status string, duration time.Duration) {
	module := ensureModule()
	if module == nil {
		return
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = "UNKNOWN"
	}
	path = sanitizePath(path)
	if path == "" {
		path = "unknown"
	}
	status = strings.TrimSpace(status)
	if status == "" {
		status = "unknown"
	}
	observeDuration(module.metrics.apiLatency.WithLabelValues(method, path, status), duration)
}

// RecordLifecycleTransition counts a session status change and keeps the live gauge in step.
func RecordLifecycleTransition(from, to string) {
	module := ensureModule()
	if module == nil {
		return
	}
	from = normalizeLabel(from)
	to = normalizeLabel(to)
	module.metrics.lifecycleTransitions.WithLabelValues(from, to).Inc()

	switch {
	case to == "live":
		module.adjustLiveSessions(1)
	case from == "live":
		module.adjustLiveSessions(-1)
	}
}

func (m *Module) adjustLiveSessions(delta int64) {
	m.metrics.liveSessions.Add(float64(delta))
	if m.stats.adjustLiveSessions(delta) < 0 {
		m.stats.liveSessions.Store(0)
		m.metrics.liveSessions.Set(0)
	}
}

// RecordSessionClosed records how long a live session ran.
func RecordSessionClosed(duration time.Duration) {
	module := ensureModule()
	if module == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	observeDuration(module.metrics.sessionDuration, duration)
	module.stats.recordSessionDuration(duration)
}

// RecordSignal counts a signaling bus message. Direction is outbound or inbound; result is
// the outcome (sent, failed, delivered, dropped, malformed, duplicate).
func RecordSignal(topic, direction, result string) {
	module := ensureModule()
	if module == nil {
		return
	}
	topic = normalizeLabel(topic)
	direction = normalizeLabel(direction)
	result = normalizeLabel(result)
	module.metrics.signals.WithLabelValues(topic, direction, result).Inc()
	module.stats.recordSignal(direction, result)
}

// RecordModerationBlock counts an outbound chat message stopped by moderation.
func RecordModerationBlock(severity string) {
	module := ensureModule()
	if module == nil {
		return
	}
	module.metrics.moderationBlocks.WithLabelValues(normalizeLabel(severity)).Inc()
	module.stats.moderationBlocks.Add(1)
}

// RecordViolationReport counts a best-effort violation report delivery.
func RecordViolationReport(result string) {
	module := ensureModule()
	if module == nil {
		return
	}
	label := normalizeLabel(result)
	module.metrics.violationReports.WithLabelValues(label).Inc()
	if label != "success" {
		module.stats.violationReportFailures.Add(1)
	}
}

// RecordPolicyDecision records the outcome of a classroom authorization check.
func RecordPolicyDecision(action, result string) {
	module := ensureModule()
	if module == nil {
		return
	}
	label := normalizeLabel(result)
	module.metrics.policyDecisions.WithLabelValues(normalizeLabel(action), label).Inc()
	module.stats.recordPolicy(label)
}

// RecordRealtimeConnection adjusts the websocket connection gauge.
func RecordRealtimeConnection(delta int64) {
	module := ensureModule()
	if module == nil || delta == 0 {
		return
	}
	module.metrics.realtimeConnections.Add(float64(delta))
	if module.stats.realtimeConnections.Add(delta) < 0 {
		module.stats.realtimeConnections.Store(0)
		module.metrics.realtimeConnections.Set(0)
	}
}

// RecordRealtimeFrame counts a frame relayed by the room hub.
func RecordRealtimeFrame(frameType string) {
	module := ensureModule()
	if module == nil {
		return
	}
	module.metrics.realtimeFrames.WithLabelValues(normalizeLabel(frameType)).Inc()
	module.stats.realtimeFrames.Add(1)
}

// RecordRealtimeFailure snapshots a relay failure.
func RecordRealtimeFailure(room, failureType, message string) {
	module := ensureModule()
	if module == nil {
		return
	}
	failureType = normalizeLabel(failureType)
	module.metrics.realtimeFailures.WithLabelValues(failureType).Inc()
	module.stats.recordRealtimeFailure(FailureRecord{
		Room:     strings.TrimSpace(room),
		Type:     failureType,
		Message:  strings.TrimSpace(message),
		Occurred: time.Now(),
	})
}

// RecordMaintenanceRun records the completion of a maintenance job.
func RecordMaintenanceRun(job, result, message string, duration time.Duration) {
	module := ensureModule()
	if module == nil {
		return
	}
	jobID := normalizeLabel(job)
	result = normalizeLabel(result)
	module.metrics.maintenanceRuns.WithLabelValues(jobID, result).Inc()
	observeDuration(module.metrics.maintenanceDuration.WithLabelValues(jobID), duration)
	if result == "success" {
		module.metrics.maintenanceLastRun.WithLabelValues(jobID).Set(float64(time.Now().Unix()))
	}
	module.stats.maintenanceEntry(jobID).record(result, strings.TrimSpace(message), duration)
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return "unknown"
	}
	return value
}

func sanitizePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "/" {
		return "root"
	}
	path = strings.Trim(path, "/")
	return strings.ReplaceAll(path, " ", "_")
}
