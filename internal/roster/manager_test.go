package roster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/liveclass/internal/signaling"
)

func TestParseMetadataStructured(t *testing.T) {
	meta := ParseMetadata("anything", `{"role":"Teacher","device":"screen","display_name":"Ms. Kim"}`)
	require.Equal(t, SourceStructured, meta.Source)
	require.Equal(t, RoleTeacher, meta.Role)
	require.Equal(t, DeviceScreen, meta.Device)
	require.Equal(t, "Ms. Kim", meta.DisplayName)
	require.False(t, meta.Hidden)
}

func TestParseMetadataObserverVariants(t *testing.T) {
	for _, variant := range []string{"observer", "ghost", "silent_observer", "admin-observer", "supervisor"} {
		meta := ParseMetadata("student-9", `{"role":"`+variant+`"}`)
		require.Equal(t, RoleObserver, meta.Role, variant)
		require.True(t, meta.Hidden, variant)
	}

	hidden := ParseMetadata("student-9", `{"role":"student","hidden":true}`)
	require.Equal(t, RoleStudent, hidden.Role)
	require.True(t, hidden.Hidden)
}

func TestParseMetadataFallsBackToHeuristic(t *testing.T) {
	cases := []struct {
		identity string
		raw      string
		role     Role
		device   DeviceTag
		hidden   bool
	}{
		{identity: "teacher-42", raw: "", role: RoleTeacher, device: DevicePrimary},
		{identity: "teacher-42-screen", raw: "{broken", role: RoleTeacher, device: DeviceScreen},
		{identity: "ghost-7", raw: `{"device":"primary"}`, role: RoleObserver, device: DevicePrimary, hidden: true},
		{identity: "admin_3", raw: "not json", role: RoleObserver, device: DevicePrimary, hidden: true},
		{identity: "student-1", raw: "null", role: RoleStudent, device: DevicePrimary},
		{identity: "alice", raw: "", role: RoleStudent, device: DevicePrimary},
		{identity: "", raw: "", role: RoleStudent, device: DevicePrimary},
	}
	for _, tc := range cases {
		meta := ParseMetadata(tc.identity, tc.raw)
		require.Equal(t, SourceHeuristic, meta.Source, tc.identity)
		require.Equal(t, tc.role, meta.Role, tc.identity)
		require.Equal(t, tc.device, meta.Device, tc.identity)
		require.Equal(t, tc.hidden, meta.Hidden, tc.identity)
	}
}

func join(id, metadata string) Update {
	return Update{Kind: UpdateJoin, Participant: TransportParticipant{Identity: id, Name: id, Metadata: metadata}}
}

func TestVisibleExcludesObservers(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	m := NewManager(WithClock(clock))

	m.Apply(join("teacher-1", ""))
	m.Apply(join("student-1", ""))
	m.Apply(join("ghost-1", ""))
	m.Apply(join("sup", `{"role":"supervisor"}`))
	m.Apply(join("teacher-1-screen", ""))

	visible := m.Visible()
	require.Len(t, visible, 3)
	require.Equal(t, "teacher-1", visible[0].ID)
	require.Equal(t, "student-1", visible[1].ID)
	for _, p := range visible {
		require.NotEqual(t, RoleObserver, p.Role)
	}
	require.Equal(t, 2, m.Count())

	role, ok := m.RoleOf("ghost-1")
	require.True(t, ok)
	require.Equal(t, RoleObserver, role)
}

func TestJoinLeaveEvents(t *testing.T) {
	m := NewManager()
	events := m.Subscribe()

	m.Apply(join("student-1", ""))
	m.Apply(Update{Kind: UpdateTrack, Participant: TransportParticipant{Identity: "student-1"}, Device: signaling.DeviceMic, Enabled: true})
	m.Apply(Update{Kind: UpdateLeave, Participant: TransportParticipant{Identity: "student-1"}})
	m.Apply(Update{Kind: UpdateLeave, Participant: TransportParticipant{Identity: "student-1"}})
	m.Apply(Update{Kind: UpdateLeave, Participant: TransportParticipant{Identity: "never-joined"}})

	require.Equal(t, EventJoined, (<-events).Kind)
	track := <-events
	require.Equal(t, EventTrackChanged, track.Kind)
	require.True(t, track.Participant.MicOn)
	left := <-events
	require.Equal(t, EventLeft, left.Kind)
	require.Equal(t, "student-1", left.Participant.ID)
	require.Len(t, events, 0)
}

func TestSnapshotReconcilesRoster(t *testing.T) {
	m := NewManager()
	events := m.Subscribe()
	m.Apply(join("student-1", ""))
	m.Apply(join("student-2", ""))
	<-events
	<-events

	m.Apply(Update{Kind: UpdateSnapshot, Participants: []TransportParticipant{
		{Identity: "student-2", Name: "Bo"},
		{Identity: "teacher-1", Name: "Kim"},
	}})

	_, ok := m.Participant("student-1")
	require.False(t, ok)
	p, ok := m.Participant("student-2")
	require.True(t, ok)
	require.Equal(t, "Bo", p.DisplayName)

	require.Equal(t, EventJoined, (<-events).Kind)
	left := <-events
	require.Equal(t, EventLeft, left.Kind)
	require.Equal(t, "student-1", left.Participant.ID)
}

func TestRunClosesSubscribers(t *testing.T) {
	m := NewManager()
	events := m.Subscribe()
	updates := make(chan Update, 1)
	updates <- join("student-1", "")
	close(updates)

	require.NoError(t, m.Run(context.Background(), updates))
	require.Equal(t, EventJoined, (<-events).Kind)
	_, ok := <-events
	require.False(t, ok)
}
