package moderation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/liveclass/internal/monitoring"
	"github.com/charlesng35/liveclass/pkg/logger"
)

// ViolationReport describes a blocked outbound message for the audit trail.
type ViolationReport struct {
	SessionID       string    `json:"session_id"`
	ParticipantID   string    `json:"participant_id"`
	DisplayName     string    `json:"display_name"`
	Role            string    `json:"role"`
	OffendingText   string    `json:"offending_text"`
	MatchedPatterns []string  `json:"matched_patterns"`
	Severity        Severity  `json:"severity"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// Reporter delivers violation reports to an audit collaborator.
type Reporter interface {
	ReportViolation(ctx context.Context, report ViolationReport) error
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, report ViolationReport) error

func (f ReporterFunc) ReportViolation(ctx context.Context, report ViolationReport) error {
	return f(ctx, report)
}

const reportTimeout = 10 * time.Second

// Dispatch sends report once in the background. Failures are logged and counted, never
// retried. The returned channel closes when the attempt finishes.
func Dispatch(reporter Reporter, report ViolationReport) <-chan struct{} {
	done := make(chan struct{})
	monitoring.RecordModerationBlock(report.Severity.String())
	if reporter == nil {
		close(done)
		return done
	}

	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
		defer cancel()

		if err := reporter.ReportViolation(ctx, report); err != nil {
			monitoring.RecordViolationReport("failed")
			logger.WithSession("moderation", report.SessionID).Warn("violation report failed",
				zap.String("participant_id", report.ParticipantID),
				zap.Strings("patterns", report.MatchedPatterns),
				zap.Error(err),
			)
			return
		}
		monitoring.RecordViolationReport("success")
	}()
	return done
}
