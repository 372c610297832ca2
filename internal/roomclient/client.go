// Package roomclient talks to the room server API on behalf of a classroom participant.
package roomclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/liveclass/internal/classroom"
	"github.com/charlesng35/liveclass/internal/lifecycle"
	"github.com/charlesng35/liveclass/internal/moderation"
	apperrors "github.com/charlesng35/liveclass/pkg/errors"
	"github.com/charlesng35/liveclass/pkg/logger"
)

const defaultTimeout = 15 * time.Second

// Client implements classroom.RoomService, classroom.Scheduler and moderation.Reporter
// against the room server HTTP API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *zap.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New creates a client for baseURL authenticating with the bearer token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: defaultTimeout},
		log:        logger.WithModule("roomclient"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SessionInfo is a session as reported by the server.
type SessionInfo struct {
	ID                string     `json:"id"`
	OwnerID           string     `json:"owner_id"`
	Title             string     `json:"title"`
	Status            string     `json:"status"`
	ScheduledStart    *time.Time `json:"scheduled_start"`
	DurationMinutes   int        `json:"duration_minutes"`
	PrepBufferMinutes int        `json:"prep_buffer_minutes"`
	MaxSessionsPerDay int        `json:"max_sessions_per_day"`
	LiveSince         *time.Time `json:"live_since"`
}

// Classroom converts the record into the controller's session description.
func (s SessionInfo) Classroom() classroom.Session {
	var start time.Time
	if s.ScheduledStart != nil {
		start = *s.ScheduledStart
	}
	out := classroom.Session{
		ID:                s.ID,
		OwnerID:           s.OwnerID,
		Schedule:          lifecycle.NewSchedule(start, s.DurationMinutes, s.PrepBufferMinutes),
		Status:            lifecycle.ParseStatus(s.Status),
		MaxSessionsPerDay: s.MaxSessionsPerDay,
	}
	if s.LiveSince != nil {
		out.LiveSince = *s.LiveSince
	}
	return out
}

// ScheduleRequest is the body of a schedule call.
type ScheduleRequest struct {
	Title             string     `json:"title,omitempty"`
	ScheduledStart    *time.Time `json:"scheduled_start,omitempty"`
	DurationMinutes   *int       `json:"duration_minutes,omitempty"`
	PrepBufferMinutes *int       `json:"prep_buffer_minutes,omitempty"`
	MaxSessionsPerDay *int       `json:"max_sessions_per_day,omitempty"`
}

type sessionPayload struct {
	Session SessionInfo `json:"session"`
}

// Schedule creates a session owned by the caller.
func (c *Client) Schedule(ctx context.Context, req ScheduleRequest) (SessionInfo, error) {
	var out sessionPayload
	if err := c.do(ctx, http.MethodPost, "/api/sessions", req, &out); err != nil {
		return SessionInfo{}, err
	}
	return out.Session, nil
}

// Session fetches one session.
func (c *Client) Session(ctx context.Context, sessionID string) (SessionInfo, error) {
	var out sessionPayload
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID, ""), nil, &out); err != nil {
		return SessionInfo{}, err
	}
	return out.Session, nil
}

// StartSession obtains room credentials for the caller.
func (c *Client) StartSession(ctx context.Context, sessionID string) (classroom.Credentials, error) {
	var creds classroom.Credentials
	if err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "/start"), nil, &creds); err != nil {
		return classroom.Credentials{}, err
	}
	return creds, nil
}

// GoLive moves the session live on the server.
func (c *Client) GoLive(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, sessionPath(sessionID, "/live"), nil, nil)
}

// EndSession ends the session for everyone. Ending twice is not an error.
func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, sessionPath(sessionID, "/end"), nil, nil)
}

// RemoveParticipant kicks a participant from the room.
func (c *Client) RemoveParticipant(ctx context.Context, sessionID, participantID string) error {
	return c.do(ctx, http.MethodDelete, sessionPath(sessionID, "/participants/"+url.PathEscape(participantID)), nil, nil)
}

// LiveSessionsOn returns how many sessions the teacher took live on day.
func (c *Client) LiveSessionsOn(ctx context.Context, teacherID string, day time.Time) (int, error) {
	path := "/api/teachers/" + url.PathEscape(teacherID) + "/sessions/count?day=" + day.UTC().Format("2006-01-02")
	var out struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// ReportViolation submits a blocked chat message to the audit trail.
func (c *Client) ReportViolation(ctx context.Context, report moderation.ViolationReport) error {
	return c.do(ctx, http.MethodPost, sessionPath(report.SessionID, "/violations"), report, nil)
}

func sessionPath(sessionID, suffix string) string {
	return "/api/sessions/" + url.PathEscape(sessionID) + suffix
}

func (c *Client) do(ctx context.Context, method, path string, body, dest any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("roomclient: marshal %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("roomclient: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.ErrTransport.WithInternal(fmt.Errorf("roomclient: %s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.ErrTransport.WithInternal(fmt.Errorf("roomclient: read response: %w", err))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("roomclient: %s %s returned status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if resp.StatusCode >= http.StatusBadRequest || !env.Success {
		return c.remoteError(resp.StatusCode, env, method, path)
	}
	if dest == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, dest); err != nil {
		return fmt.Errorf("roomclient: decode %s %s: %w", method, path, err)
	}
	return nil
}

// remoteError rebuilds the server's AppError so callers can match sentinels with errors.Is.
func (c *Client) remoteError(status int, env envelope, method, path string) error {
	code, message := "", ""
	if env.Error != nil {
		code, message = env.Error.Code, env.Error.Message
	}
	if code == "" {
		code = apperrors.ErrInternalServer.Code
	}
	if message == "" {
		message = http.StatusText(status)
	}
	c.log.Debug("request failed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", status),
		zap.String("code", code),
	)
	return apperrors.New(code, message, status)
}
