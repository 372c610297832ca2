package realtime

import (
	"encoding/json"

	"github.com/charlesng35/liveclass/internal/roster"
)

// FrameType names a websocket frame exchanged between the room relay and its clients.
type FrameType string

const (
	// FrameData carries a signaling payload. Clients send it; the relay stamps Sender.
	FrameData FrameType = "data"
	// FrameJoin announces a visible participant entering the room.
	FrameJoin FrameType = "join"
	// FrameLeave announces a visible participant leaving the room.
	FrameLeave FrameType = "leave"
	// FrameRoster is the full participant list sent to a client when it joins.
	FrameRoster FrameType = "roster"
	// FrameTrack reports a participant's mic or camera state.
	FrameTrack FrameType = "track"
	// FrameClosed tells a client it was removed or the room ended.
	FrameClosed FrameType = "closed"
)

// Frame is the JSON unit on the room websocket.
type Frame struct {
	Type         FrameType                     `json:"type"`
	Topic        string                        `json:"topic,omitempty"`
	Sender       string                        `json:"sender,omitempty"`
	To           []string                      `json:"to,omitempty"`
	Payload      json.RawMessage               `json:"payload,omitempty"`
	SentAt       int64                         `json:"sent_at,omitempty"` // unix nanoseconds
	Participant  *roster.TransportParticipant  `json:"participant,omitempty"`
	Participants []roster.TransportParticipant `json:"participants,omitempty"`
	Device       string                        `json:"device,omitempty"`
	Enabled      bool                          `json:"enabled,omitempty"`
	Reason       string                        `json:"reason,omitempty"`
}
