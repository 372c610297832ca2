package signaling

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charlesng35/liveclass/pkg/validator"
)

// Topic names a message kind on the bus. The set is closed.
type Topic string

const (
	TopicChat         Topic = "chat"
	TopicHandRaise    Topic = "hand_raise"
	TopicMediaRequest Topic = "media_request"
	TopicMediaControl Topic = "media_control"
	TopicLeaveRequest Topic = "leave_request"
	TopicLeaveControl Topic = "leave_control"
)

// Topics lists every known topic.
func Topics() []Topic {
	return []Topic{
		TopicChat,
		TopicHandRaise,
		TopicMediaRequest,
		TopicMediaControl,
		TopicLeaveRequest,
		TopicLeaveControl,
	}
}

// ParseTopic returns the topic for raw and whether it is part of the closed set.
func ParseTopic(raw string) (Topic, bool) {
	topic := Topic(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Topics() {
		if topic == known {
			return topic, true
		}
	}
	return "", false
}

// Device is a media device a participant can toggle.
type Device string

const (
	DeviceMic    Device = "mic"
	DeviceCamera Device = "camera"
)

// Hand-raise actions.
const (
	ActionRaise = "raise"
	ActionLower = "lower"
)

// Payload is implemented by every wire payload.
type Payload interface {
	Topic() Topic
}

// ChatPayload is published under TopicChat. Timestamp is unix milliseconds.
type ChatPayload struct {
	Sender    string `json:"sender" validate:"notblank"`
	Text      string `json:"text" validate:"notblank"`
	Role      string `json:"role"`
	Timestamp int64  `json:"timestamp" validate:"gt=0"`
}

func (ChatPayload) Topic() Topic { return TopicChat }

type HandRaisePayload struct {
	StudentID   string `json:"student_id" validate:"notblank"`
	StudentName string `json:"student_name"`
	Action      string `json:"action" validate:"oneof=raise lower"`
}

func (HandRaisePayload) Topic() Topic { return TopicHandRaise }

type MediaRequestPayload struct {
	StudentID   string `json:"student_id" validate:"notblank"`
	StudentName string `json:"student_name"`
	Type        Device `json:"type" validate:"oneof=mic camera"`
	Desired     bool   `json:"desired"`
}

func (MediaRequestPayload) Topic() Topic { return TopicMediaRequest }

type MediaControlPayload struct {
	TargetID string `json:"target_id" validate:"notblank"`
	Type     Device `json:"type" validate:"oneof=mic camera"`
	Enabled  bool   `json:"enabled"`
}

func (MediaControlPayload) Topic() Topic { return TopicMediaControl }

type LeaveRequestPayload struct {
	StudentID   string `json:"student_id" validate:"notblank"`
	StudentName string `json:"student_name"`
}

func (LeaveRequestPayload) Topic() Topic { return TopicLeaveRequest }

type LeaveControlPayload struct {
	TargetID string `json:"target_id" validate:"notblank"`
	Approved bool   `json:"approved"`
}

func (LeaveControlPayload) Topic() Topic { return TopicLeaveControl }

// Encode marshals and validates a payload for the wire.
func Encode(payload Payload) ([]byte, error) {
	if err := validator.ValidateStruct(payload); err != nil {
		return nil, fmt.Errorf("signaling: invalid %s payload: %w", payload.Topic(), err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("signaling: encode %s payload: %w", payload.Topic(), err)
	}
	return data, nil
}

// Decode parses and validates the payload carried by msg. A topic mismatch, malformed JSON
// or a missing required field is an error; consumers drop such messages.
func Decode[T Payload](msg Message) (T, error) {
	var payload T
	if msg.Topic != payload.Topic() {
		return payload, fmt.Errorf("signaling: topic %q does not carry %s payloads", msg.Topic, payload.Topic())
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return payload, fmt.Errorf("signaling: malformed %s payload: %w", msg.Topic, err)
	}
	if err := validator.ValidateStruct(payload); err != nil {
		return payload, fmt.Errorf("signaling: invalid %s payload: %w", msg.Topic, err)
	}
	return payload, nil
}
