package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/liveclass/internal/realtime"
	"github.com/charlesng35/liveclass/internal/roster"
	"github.com/charlesng35/liveclass/pkg/logger"
)

const hookTimeout = 5 * time.Second

// RoomHooks records relay joins and leaves as attendance. Failures are logged; they never
// affect the connection.
func (s *AttendanceService) RoomHooks() realtime.Hooks {
	return realtime.Hooks{
		OnJoin: func(sessionID string, participant roster.TransportParticipant, hidden bool) {
			ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
			defer cancel()

			meta := roster.ParseMetadata(participant.Identity, participant.Metadata)
			name := meta.DisplayName
			if name == "" {
				name = participant.Name
			}
			err := s.RecordJoin(ctx, AttendanceEntry{
				SessionID:     sessionID,
				ParticipantID: participant.Identity,
				DisplayName:   name,
				Role:          string(meta.Role),
				Hidden:        hidden,
				At:            s.timeNow(),
			})
			if err != nil {
				logger.WithSession("attendance", sessionID).Warn("failed to record join",
					zap.String("participant_id", participant.Identity), zap.Error(err))
			}
		},
		OnLeave: func(sessionID, identity string) {
			ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
			defer cancel()

			if err := s.RecordLeave(ctx, sessionID, identity, s.timeNow()); err != nil {
				logger.WithSession("attendance", sessionID).Warn("failed to record leave",
					zap.String("participant_id", identity), zap.Error(err))
			}
		},
	}
}
