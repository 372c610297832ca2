package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ProbeStatus encodes the outcome of a health probe.
type ProbeStatus string

const (
	StatusUp       ProbeStatus = "up"
	StatusDown     ProbeStatus = "down"
	StatusDegraded ProbeStatus = "degraded"
)

// ProbeResult captures a single dependency check outcome.
type ProbeResult struct {
	Component string        `json:"component"`
	Status    ProbeStatus   `json:"status"`
	Details   string        `json:"details,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// HealthReport aggregates probe results.
type HealthReport struct {
	Success bool          `json:"success"`
	Status  ProbeStatus   `json:"status"`
	Checks  []ProbeResult `json:"checks"`
}

// Check is a named dependency probe.
type Check struct {
	Name string
	Run  func(ctx context.Context) ProbeResult
}

// NewCheck constructs a health check; a nil probe always reports down.
func NewCheck(name string, fn func(ctx context.Context) ProbeResult) Check {
	if fn == nil {
		fn = func(context.Context) ProbeResult {
			return ProbeResult{Status: StatusDown, Details: "probe not implemented"}
		}
	}
	return Check{Name: name, Run: fn}
}

// DefaultProbeTimeout bounds a single probe when the manager has no explicit timeout.
const DefaultProbeTimeout = 3 * time.Second

// HealthManager holds the liveness and readiness probes. Probes of one report run
// concurrently, each under its own timeout, and results keep registration order.
type HealthManager struct {
	mu        sync.RWMutex
	timeout   time.Duration
	liveness  []Check
	readiness []Check
}

// HealthOption customises a HealthManager.
type HealthOption func(*HealthManager)

// WithProbeTimeout overrides the per-probe timeout.
func WithProbeTimeout(d time.Duration) HealthOption {
	return func(m *HealthManager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// NewHealthManager constructs an empty health manager.
func NewHealthManager(opts ...HealthOption) *HealthManager {
	m := &HealthManager{timeout: DefaultProbeTimeout}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterLiveness appends a liveness probe.
func (m *HealthManager) RegisterLiveness(check Check) {
	if check.Name == "" {
		return
	}
	m.mu.Lock()
	m.liveness = append(m.liveness, check)
	m.mu.Unlock()
}

// RegisterReadiness appends a readiness probe.
func (m *HealthManager) RegisterReadiness(check Check) {
	if check.Name == "" {
		return
	}
	m.mu.Lock()
	m.readiness = append(m.readiness, check)
	m.mu.Unlock()
}

// EvaluateLiveness executes all configured liveness checks.
func (m *HealthManager) EvaluateLiveness(ctx context.Context) HealthReport {
	m.mu.RLock()
	checks := append([]Check(nil), m.liveness...)
	m.mu.RUnlock()
	return m.evaluate(ctx, checks)
}

// EvaluateReadiness executes all configured readiness checks.
func (m *HealthManager) EvaluateReadiness(ctx context.Context) HealthReport {
	m.mu.RLock()
	checks := append([]Check(nil), m.readiness...)
	m.mu.RUnlock()
	return m.evaluate(ctx, checks)
}

func (m *HealthManager) evaluate(ctx context.Context, checks []Check) HealthReport {
	if ctx == nil {
		ctx = context.Background()
	}
	results := make([]ProbeResult, len(checks))

	var wg sync.WaitGroup
	for i, check := range checks {
		i, check := i, check
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = m.runCheck(ctx, check)
		}()
	}
	wg.Wait()

	report := HealthReport{Status: StatusUp, Checks: results}
	for _, result := range results {
		report.Status = worse(report.Status, result.Status)
	}
	report.Success = report.Status == StatusUp
	return report
}

// runCheck runs one probe. A probe that ignores its context is abandoned at the timeout and
// reported degraded.
func (m *HealthManager) runCheck(ctx context.Context, check Check) ProbeResult {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	start := time.Now()

	done := make(chan ProbeResult, 1)
	go func() {
		var result ProbeResult
		defer func() {
			if rec := recover(); rec != nil {
				result = ProbeResult{Status: StatusDown, Details: fmt.Sprint(rec)}
			}
			done <- result
		}()
		result = check.Run(probeCtx)
	}()

	var result ProbeResult
	select {
	case result = <-done:
	case <-probeCtx.Done():
		result = ProbeResult{Status: StatusDegraded, Details: "probe timed out"}
	}
	if result.Status == "" {
		result.Status = StatusDown
	}
	if result.Duration == 0 {
		result.Duration = time.Since(start)
	}
	result.Component = check.Name
	return result
}

func worse(current, candidate ProbeStatus) ProbeStatus {
	switch {
	case current == StatusDown || candidate == StatusDown:
		return StatusDown
	case current == StatusDegraded || candidate == StatusDegraded:
		return StatusDegraded
	default:
		return StatusUp
	}
}

// Worse returns the more severe of two probe statuses.
func Worse(current, candidate ProbeStatus) ProbeStatus {
	return worse(current, candidate)
}

// ResultFromError converts an error into a ProbeResult. Context expiry degrades rather than fails.
func ResultFromError(component string, err error, duration time.Duration) ProbeResult {
	if duration < 0 {
		duration = 0
	}
	if err == nil {
		return ProbeResult{Component: component, Status: StatusUp, Duration: duration}
	}

	status := StatusDown
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		status = StatusDegraded
	}
	return ProbeResult{
		Component: component,
		Status:    status,
		Details:   err.Error(),
		Duration:  duration,
	}
}
