package realtime

import (
	"encoding/json"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/charlesng35/liveclass/internal/monitoring"
	"github.com/charlesng35/liveclass/internal/roster"
	"github.com/charlesng35/liveclass/internal/signaling"
	"github.com/charlesng35/liveclass/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10

	defaultBufferSize = 256
)

// Admission is a participant the API has authorised to enter a room.
type Admission struct {
	SessionID string
	Identity  string
	Name      string
	Metadata  string
}

// Hooks observe room membership. They run synchronously on the connection goroutine.
type Hooks struct {
	OnJoin  func(sessionID string, participant roster.TransportParticipant, hidden bool)
	OnLeave func(sessionID, identity string)
}

// HubOption customises a Hub.
type HubOption func(*Hub)

// WithHooks installs membership hooks.
func WithHooks(hooks Hooks) HubOption {
	return func(h *Hub) {
		h.hooks = hooks
	}
}

// WithAllowedOrigins accepts browser upgrades from the listed origins besides same-host ones.
func WithAllowedOrigins(origins []string) HubOption {
	return func(h *Hub) {
		for _, origin := range origins {
			if host := hostWithoutPort(origin); host != "" {
				h.origins[strings.ToLower(host)] = struct{}{}
			}
		}
	}
}

// Hub is the room relay: the realtime transport of the classroom. Rooms are keyed by
// session id; every data frame is stamped with the sender identity taken from the admission.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]*room
	upgrader websocket.Upgrader
	hooks    Hooks
	origins  map[string]struct{}
	log      *zap.Logger
}

type room struct {
	id      string
	members map[string]*connection
}

// NewHub constructs a room relay.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		rooms:   make(map[string]*room),
		origins: make(map[string]struct{}),
		log:     logger.WithModule("realtime"),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			originHost := hostWithoutPort(origin)
			if _, ok := h.origins[strings.ToLower(originHost)]; ok {
				return true
			}
			return originHost == hostWithoutPort(r.Host) || isLoopback(originHost)
		},
	}
	return h
}

// Serve upgrades the HTTP connection and runs the participant's connection until it closes.
func (h *Hub) Serve(admission Admission, w http.ResponseWriter, r *http.Request) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.String("session_id", admission.SessionID), zap.Error(err))
		return
	}

	client := newConnection(h, socket, admission)
	h.register(client)

	go client.writeLoop()
	client.readLoop()
}

func (h *Hub) register(client *connection) {
	h.mu.Lock()
	rm := h.rooms[client.sessionID]
	if rm == nil {
		rm = &room{id: client.sessionID, members: make(map[string]*connection)}
		h.rooms[client.sessionID] = rm
	}
	previous := rm.members[client.identity]
	rm.members[client.identity] = client

	snapshot := make([]roster.TransportParticipant, 0, len(rm.members))
	for _, member := range rm.members {
		if member.hidden && member != client {
			continue
		}
		snapshot = append(snapshot, member.participant)
	}
	slices.SortFunc(snapshot, func(a, b roster.TransportParticipant) int {
		return strings.Compare(a.Identity, b.Identity)
	})
	h.mu.Unlock()

	monitoring.RecordRealtimeConnection(1)
	if previous != nil {
		// A reconnect under the same identity replaces the older socket without a leave.
		previous.closeWith("replaced by a newer connection")
	}

	h.enqueue(client, Frame{Type: FrameRoster, Participants: snapshot})
	if !client.hidden && previous == nil {
		participant := client.participant
		h.broadcast(client.sessionID, Frame{Type: FrameJoin, Participant: &participant}, client.identity)
	}
	if h.hooks.OnJoin != nil {
		h.hooks.OnJoin(client.sessionID, client.participant, client.hidden)
	}
	h.log.Debug("participant connected",
		zap.String("session_id", client.sessionID),
		zap.String("participant_id", client.identity),
		zap.Bool("hidden", client.hidden),
	)
}

func (h *Hub) unregister(client *connection) {
	h.mu.Lock()
	rm := h.rooms[client.sessionID]
	current := rm != nil && rm.members[client.identity] == client
	if current {
		delete(rm.members, client.identity)
		if len(rm.members) == 0 {
			delete(h.rooms, client.sessionID)
		}
	}
	h.mu.Unlock()

	monitoring.RecordRealtimeConnection(-1)
	if !current {
		return
	}
	if !client.hidden {
		h.broadcast(client.sessionID, Frame{Type: FrameLeave, Participant: &roster.TransportParticipant{Identity: client.identity}}, "")
	}
	if h.hooks.OnLeave != nil {
		h.hooks.OnLeave(client.sessionID, client.identity)
	}
}

// route relays one frame received from client.
func (h *Hub) route(client *connection, frame Frame) {
	monitoring.RecordRealtimeFrame(string(frame.Type))

	switch frame.Type {
	case FrameData:
		if client.hidden {
			h.log.Debug("dropping frame from hidden participant",
				zap.String("session_id", client.sessionID),
				zap.String("participant_id", client.identity),
			)
			return
		}
		topic, ok := signaling.ParseTopic(frame.Topic)
		if !ok || len(frame.Payload) == 0 {
			monitoring.RecordRealtimeFailure(client.sessionID, "invalid_frame", "unknown topic "+frame.Topic)
			return
		}
		out := Frame{
			Type:    FrameData,
			Topic:   string(topic),
			Sender:  client.identity,
			Payload: frame.Payload,
			SentAt:  frame.SentAt,
		}
		if len(frame.To) == 0 {
			h.broadcast(client.sessionID, out, "")
			return
		}
		targets := append(slices.Clone(frame.To), client.identity)
		h.deliver(client.sessionID, out, targets)
	case FrameTrack:
		if client.hidden {
			return
		}
		device := signaling.Device(strings.ToLower(strings.TrimSpace(frame.Device)))
		if device != signaling.DeviceMic && device != signaling.DeviceCamera {
			return
		}
		h.broadcast(client.sessionID, Frame{
			Type:        FrameTrack,
			Participant: &roster.TransportParticipant{Identity: client.identity},
			Device:      string(device),
			Enabled:     frame.Enabled,
		}, "")
	default:
		h.log.Debug("unsupported frame",
			zap.String("type", string(frame.Type)),
			zap.String("participant_id", client.identity),
		)
	}
}

// Disconnect removes one participant from a room. It reports false when the participant
// was not connected, which makes repeated calls no-ops.
func (h *Hub) Disconnect(sessionID, identity, reason string) bool {
	h.mu.RLock()
	var client *connection
	if rm := h.rooms[sessionID]; rm != nil {
		client = rm.members[identity]
	}
	h.mu.RUnlock()

	if client == nil {
		return false
	}
	client.closeWith(reason)
	return true
}

// CloseRoom disconnects everyone in a room. It reports false when the room was empty.
func (h *Hub) CloseRoom(sessionID, reason string) bool {
	h.mu.RLock()
	var members []*connection
	if rm := h.rooms[sessionID]; rm != nil {
		for _, member := range rm.members {
			members = append(members, member)
		}
	}
	h.mu.RUnlock()

	for _, member := range members {
		member.closeWith(reason)
	}
	return len(members) > 0
}

// CloseAll disconnects every connection in every room and returns how many rooms were open.
func (h *Hub) CloseAll(reason string) int {
	h.mu.RLock()
	var members []*connection
	for _, rm := range h.rooms {
		for _, member := range rm.members {
			members = append(members, member)
		}
	}
	rooms := len(h.rooms)
	h.mu.RUnlock()

	for _, member := range members {
		member.closeWith(reason)
	}
	return rooms
}

// ActiveRooms returns the number of rooms with at least one connection.
func (h *Hub) ActiveRooms() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// Participants lists the room's visible participants.
func (h *Hub) Participants(sessionID string) []roster.TransportParticipant {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rm := h.rooms[sessionID]
	if rm == nil {
		return nil
	}
	out := make([]roster.TransportParticipant, 0, len(rm.members))
	for _, member := range rm.members {
		if !member.hidden {
			out = append(out, member.participant)
		}
	}
	slices.SortFunc(out, func(a, b roster.TransportParticipant) int {
		return strings.Compare(a.Identity, b.Identity)
	})
	return out
}

func (h *Hub) broadcast(sessionID string, frame Frame, except string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rm := h.rooms[sessionID]
	if rm == nil {
		return
	}
	for identity, member := range rm.members {
		if identity == except {
			continue
		}
		h.enqueue(member, frame)
	}
}

func (h *Hub) deliver(sessionID string, frame Frame, targets []string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rm := h.rooms[sessionID]
	if rm == nil {
		return
	}
	seen := make(map[string]struct{}, len(targets))
	for _, target := range targets {
		if _, dup := seen[target]; dup {
			continue
		}
		seen[target] = struct{}{}
		if member := rm.members[target]; member != nil {
			h.enqueue(member, frame)
		}
	}
}

func (h *Hub) enqueue(client *connection, frame Frame) {
	if !client.offer(frame) {
		h.log.Warn("dropping backpressure client",
			zap.String("session_id", client.sessionID),
			zap.String("participant_id", client.identity),
		)
		monitoring.RecordRealtimeFailure(client.sessionID, "backpressure", client.identity)
		go client.closeWith("connection too slow")
	}
}

type connection struct {
	hub         *Hub
	socket      *websocket.Conn
	sessionID   string
	identity    string
	participant roster.TransportParticipant
	hidden      bool

	mu     sync.Mutex
	send   chan Frame
	closed bool
	once   sync.Once
}

func newConnection(hub *Hub, socket *websocket.Conn, admission Admission) *connection {
	participant := roster.TransportParticipant{
		Identity: admission.Identity,
		Name:     admission.Name,
		Metadata: admission.Metadata,
	}
	return &connection{
		hub:         hub,
		socket:      socket,
		sessionID:   admission.SessionID,
		identity:    admission.Identity,
		participant: participant,
		hidden:      roster.ParseMetadata(admission.Identity, admission.Metadata).Hidden,
		send:        make(chan Frame, defaultBufferSize),
	}
}

// offer queues a frame without blocking. It returns false when the buffer is full.
func (c *connection) offer(frame Frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return true
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *connection) readLoop() {
	defer c.close()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.log.Info("unexpected close",
					zap.String("session_id", c.sessionID),
					zap.String("participant_id", c.identity),
					zap.Error(err),
				)
			}
			return
		}
		if len(payload) == 0 {
			continue
		}

		var frame Frame
		if err := json.Unmarshal(payload, &frame); err != nil {
			monitoring.RecordRealtimeFailure(c.sessionID, "invalid_frame", err.Error())
			continue
		}
		c.hub.route(c, frame)
	}
}

func (c *connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				_ = c.socket.Close()
				return
			}
			if err := c.socket.WriteJSON(frame); err != nil {
				_ = c.socket.Close()
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.socket.Close()
				return
			}
		}
	}
}

// closeWith sends a closed frame carrying reason and then shuts the connection.
func (c *connection) closeWith(reason string) {
	if reason != "" {
		c.offer(Frame{Type: FrameClosed, Reason: reason})
	}
	c.close()
}

func (c *connection) close() {
	c.once.Do(func() {
		c.hub.unregister(c)
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
	})
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		parsed, err := http.NewRequest(http.MethodGet, host, nil)
		if err == nil {
			return hostWithoutPort(parsed.URL.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
