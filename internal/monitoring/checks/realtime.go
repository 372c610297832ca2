package checks

import (
	"context"
	"fmt"
	"time"

	"github.com/charlesng35/liveclass/internal/monitoring"
)

// RoomObserver exposes the room hub state needed for the probe.
type RoomObserver interface {
	ActiveRooms() int
}

const recentFailureWindow = 5 * time.Minute

// Realtime reports the room relay as degraded while a relay failure is recent.
func Realtime(observer RoomObserver) monitoring.Check {
	return monitoring.NewCheck("realtime", func(ctx context.Context) monitoring.ProbeResult {
		if observer == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "room hub unavailable"}
		}

		snapshot := monitoring.Snapshot().Realtime
		details := fmt.Sprintf("%d rooms, %d connections", observer.ActiveRooms(), snapshot.ActiveConnections)
		if last := snapshot.LastFailure; last != nil && time.Since(last.Occurred) < recentFailureWindow {
			return monitoring.ProbeResult{
				Status:  monitoring.StatusDegraded,
				Details: details + "; last failure: " + last.Type,
			}
		}
		return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: details}
	})
}
