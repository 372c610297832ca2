package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/charlesng35/liveclass/internal/roster"
	"github.com/charlesng35/liveclass/internal/signaling"
	"github.com/charlesng35/liveclass/pkg/logger"
)

// ErrClientClosed is returned when sending on a connection that has already closed.
var ErrClientClosed = errors.New("realtime: connection closed")

const clientBuffer = 256

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithClientClock overrides the clock used to stamp receipt times.
func WithClientClock(clock func() time.Time) ClientOption {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithDialer overrides the websocket dialer.
func WithDialer(dialer *websocket.Dialer) ClientOption {
	return func(c *Client) {
		if dialer != nil {
			c.dialer = dialer
		}
	}
}

// Client is one participant's connection to the room relay. It implements
// signaling.Transport and yields roster updates for the roster manager.
type Client struct {
	socket *websocket.Conn
	dialer *websocket.Dialer
	clock  func() time.Time
	log    *zap.Logger

	writeMu sync.Mutex
	inbound chan signaling.Message
	updates chan roster.Update
	done    chan struct{}

	mu     sync.Mutex
	closed bool
	reason string
}

// Dial connects to a room websocket URL, typically the one returned by the start-session API.
func Dial(ctx context.Context, url string, header http.Header, opts ...ClientOption) (*Client, error) {
	c := &Client{
		dialer:  websocket.DefaultDialer,
		clock:   time.Now,
		log:     logger.WithModule("realtime.client"),
		inbound: make(chan signaling.Message, clientBuffer),
		updates: make(chan roster.Update, clientBuffer),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	socket, resp, err := c.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime: dial %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("realtime: dial %s: %w", url, err)
	}
	c.socket = socket
	socket.SetReadLimit(maxMessageSize)
	socket.SetPingHandler(func(data string) error {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return socket.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	go c.readLoop()
	return c, nil
}

// Send hands an outbound signaling message to the relay.
func (c *Client) Send(ctx context.Context, out signaling.Outbound) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.write(Frame{
		Type:    FrameData,
		Topic:   string(out.Topic),
		To:      out.To,
		Payload: json.RawMessage(out.Payload),
		SentAt:  out.SentAt.UnixNano(),
	})
}

// Inbound yields signaling messages delivered to this participant.
func (c *Client) Inbound() <-chan signaling.Message {
	return c.inbound
}

// RosterUpdates yields join, leave, snapshot and track updates from the relay.
func (c *Client) RosterUpdates() <-chan roster.Update {
	return c.updates
}

// Done is closed once the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// CloseReason returns the reason the relay gave when it closed the connection, if any.
func (c *Client) CloseReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// SetEnabled publishes this participant's device state. It lets the client act as the
// local media collaborator of the classroom controller.
func (c *Client) SetEnabled(device signaling.Device, enabled bool) error {
	return c.write(Frame{Type: FrameTrack, Device: string(device), Enabled: enabled})
}

// Disconnect closes the connection. It is safe to call more than once.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.socket.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	err := c.socket.Close()

	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (c *Client) write(frame Frame) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClientClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
	return c.socket.WriteJSON(frame)
}

func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		_ = c.socket.Close()
		close(c.inbound)
		close(c.updates)
		close(c.done)
	}()

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Info("connection lost", zap.Error(err))
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(payload, &frame); err != nil {
			c.log.Debug("invalid frame", zap.Error(err))
			continue
		}
		c.dispatch(frame)
	}
}

func (c *Client) dispatch(frame Frame) {
	switch frame.Type {
	case FrameData:
		topic, ok := signaling.ParseTopic(frame.Topic)
		if !ok {
			return
		}
		msg := signaling.Message{
			Topic:      topic,
			SenderID:   frame.Sender,
			Payload:    []byte(frame.Payload),
			ReceivedAt: c.clock(),
		}
		if frame.SentAt > 0 {
			msg.SentAt = time.Unix(0, frame.SentAt)
		}
		select {
		case c.inbound <- msg:
		default:
			c.log.Warn("inbound buffer full, dropping message", zap.String("topic", frame.Topic))
		}
	case FrameJoin:
		if frame.Participant != nil {
			c.pushUpdate(roster.Update{Kind: roster.UpdateJoin, Participant: *frame.Participant})
		}
	case FrameLeave:
		if frame.Participant != nil {
			c.pushUpdate(roster.Update{Kind: roster.UpdateLeave, Participant: *frame.Participant})
		}
	case FrameRoster:
		c.pushUpdate(roster.Update{Kind: roster.UpdateSnapshot, Participants: frame.Participants})
	case FrameTrack:
		if frame.Participant != nil {
			c.pushUpdate(roster.Update{
				Kind:        roster.UpdateTrack,
				Participant: *frame.Participant,
				Device:      signaling.Device(frame.Device),
				Enabled:     frame.Enabled,
			})
		}
	case FrameClosed:
		c.mu.Lock()
		c.reason = frame.Reason
		c.mu.Unlock()
	}
}

func (c *Client) pushUpdate(update roster.Update) {
	select {
	case c.updates <- update:
	default:
		c.log.Warn("roster buffer full, dropping update", zap.String("kind", string(update.Kind)))
	}
}
