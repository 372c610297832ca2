package handlers

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	iauth "github.com/charlesng35/liveclass/internal/auth"
	"github.com/charlesng35/liveclass/internal/lifecycle"
	"github.com/charlesng35/liveclass/internal/models"
	"github.com/charlesng35/liveclass/internal/policy"
	"github.com/charlesng35/liveclass/internal/services"
	"github.com/charlesng35/liveclass/pkg/errors"
	"github.com/charlesng35/liveclass/pkg/logger"
	"github.com/charlesng35/liveclass/pkg/response"
)

const (
	reasonEndedByTeacher = "the teacher ended the session"
	reasonCancelled      = "the session was cancelled"
	reasonRemoved        = "removed by the teacher"

	defaultQRSize = 256
	maxQRSize     = 1024
)

// RoomManager closes relay connections on behalf of the API.
type RoomManager interface {
	Disconnect(sessionID, identity, reason string) bool
	CloseRoom(sessionID, reason string) bool
}

// SessionDefaults fill in optional schedule fields.
type SessionDefaults struct {
	DurationMinutes   int
	PrepBufferMinutes int
	MaxSessionsPerDay int
}

// SessionHandler exposes the class session lifecycle over HTTP.
type SessionHandler struct {
	sessions   *services.ClassSessionService
	attendance *services.AttendanceService
	jwt        *iauth.JWTService
	policy     *policy.Engine
	rooms      RoomManager
	defaults   SessionDefaults
	publicURL  string
}

// SessionHandlerDeps bundles the collaborators of a SessionHandler.
type SessionHandlerDeps struct {
	Sessions   *services.ClassSessionService
	Attendance *services.AttendanceService
	JWT        *iauth.JWTService
	Policy     *policy.Engine
	Rooms      RoomManager
	Defaults   SessionDefaults
	// PublicURL is the externally reachable base URL. When empty the request host is used.
	PublicURL string
}

func NewSessionHandler(deps SessionHandlerDeps) (*SessionHandler, error) {
	if deps.Sessions == nil || deps.JWT == nil || deps.Policy == nil {
		return nil, fmt.Errorf("session handler: sessions, jwt and policy are required")
	}
	return &SessionHandler{
		sessions:   deps.Sessions,
		attendance: deps.Attendance,
		jwt:        deps.JWT,
		policy:     deps.Policy,
		rooms:      deps.Rooms,
		defaults:   deps.Defaults,
		publicURL:  strings.TrimRight(strings.TrimSpace(deps.PublicURL), "/"),
	}, nil
}

type scheduleSessionRequest struct {
	Title             string     `json:"title" validate:"max=255"`
	ScheduledStart    *time.Time `json:"scheduled_start"`
	DurationMinutes   *int       `json:"duration_minutes" validate:"omitempty,min=0,max=1440"`
	PrepBufferMinutes *int       `json:"prep_buffer_minutes" validate:"omitempty,min=0,max=240"`
	MaxSessionsPerDay *int       `json:"max_sessions_per_day" validate:"omitempty,min=0,max=100"`
}

// LifecycleView renders a lifecycle snapshot for clients.
type LifecycleView struct {
	Status           lifecycle.Status `json:"status"`
	Phase            lifecycle.Phase  `json:"phase"`
	CanStart         bool             `json:"can_start"`
	Joinable         bool             `json:"joinable"`
	CountdownEnabled bool             `json:"countdown_enabled"`
	RemainingSeconds int64            `json:"remaining_seconds"`
	ElapsedSeconds   int64            `json:"elapsed_seconds"`
	StartsAt         *time.Time       `json:"starts_at,omitempty"`
	EndsAt           *time.Time       `json:"ends_at,omitempty"`
}

// SessionView is the payload of every session endpoint.
type SessionView struct {
	Session   *models.ClassSession `json:"session"`
	Lifecycle LifecycleView        `json:"lifecycle"`
	Changed   *bool                `json:"changed,omitempty"`
}

// JoinCredentials admit one participant to a session room.
type JoinCredentials struct {
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
	Role      string    `json:"role"`
}

func (h *SessionHandler) view(session *models.ClassSession) SessionView {
	snap := h.sessions.Engine(session).Snapshot(h.sessions.Now())
	lv := LifecycleView{
		Status:           snap.Status,
		Phase:            snap.Phase,
		CanStart:         snap.CanStart,
		Joinable:         h.sessions.Joinable(session),
		CountdownEnabled: snap.CountdownEnabled,
		RemainingSeconds: int64(snap.Remaining / time.Second),
		ElapsedSeconds:   int64(snap.Elapsed / time.Second),
	}
	if !snap.StartsAt.IsZero() {
		startsAt := snap.StartsAt
		lv.StartsAt = &startsAt
	}
	if !snap.EndsAt.IsZero() {
		endsAt := snap.EndsAt
		lv.EndsAt = &endsAt
	}
	return SessionView{Session: session, Lifecycle: lv}
}

func (h *SessionHandler) authorize(c *gin.Context, claims *iauth.Claims, action policy.Action, session *models.ClassSession) bool {
	input := policy.Input{Action: action, Role: callerRole(claims)}
	if session != nil {
		input.IsOwner = session.OwnerID == claims.UserID
	}
	if err := h.policy.Authorize(requestContext(c), input); err != nil {
		response.Error(c, err)
		return false
	}
	return true
}

// loadAuthorized resolves the caller, loads :id and checks action against the policy.
func (h *SessionHandler) loadAuthorized(c *gin.Context, action policy.Action) (*iauth.Claims, *models.ClassSession, bool) {
	claims, ok := requireClaims(c)
	if !ok {
		return nil, nil, false
	}
	session, err := h.sessions.Get(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return nil, nil, false
	}
	if !h.authorize(c, claims, action, session) {
		return nil, nil, false
	}
	return claims, session, true
}

// POST /api/sessions
func (h *SessionHandler) Schedule(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	if !h.authorize(c, claims, policy.ActionSchedule, nil) {
		return
	}

	var req scheduleSessionRequest
	if !bindAndValidate(c, &req) {
		return
	}

	params := services.ScheduleSessionParams{
		OwnerID:           claims.UserID,
		Title:             req.Title,
		ScheduledStart:    req.ScheduledStart,
		DurationMinutes:   intOr(req.DurationMinutes, h.defaults.DurationMinutes),
		PrepBufferMinutes: intOr(req.PrepBufferMinutes, h.defaults.PrepBufferMinutes),
		MaxSessionsPerDay: intOr(req.MaxSessionsPerDay, h.defaults.MaxSessionsPerDay),
	}
	session, err := h.sessions.Schedule(requestContext(c), params)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, h.view(session))
}

// GET /api/sessions/:id
func (h *SessionHandler) Get(c *gin.Context) {
	if _, ok := requireClaims(c); !ok {
		return
	}
	session, err := h.sessions.Get(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, h.view(session))
}

// POST /api/sessions/:id/start
func (h *SessionHandler) Start(c *gin.Context) {
	claims, session, ok := h.loadAuthorized(c, policy.ActionStartSession)
	if !ok {
		return
	}
	if !h.sessions.Joinable(session) {
		response.Error(c, errors.ErrNotStartable)
		return
	}

	input := iauth.JoinTokenInput{
		UserID:    claims.UserID,
		Role:      string(callerRole(claims)),
		Name:      claims.Name,
		SessionID: session.ID,
		Metadata:  participantMetadata(claims),
	}
	if endsAt := session.EndsAt(); endsAt != nil {
		input.NotAfter = *endsAt
	}
	token, expiresAt, err := h.jwt.GenerateJoinToken(input)
	if err != nil {
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}

	logger.WithSession("http", session.ID).Info("join credentials issued",
		zap.String("participant_id", claims.UserID),
		zap.String("role", input.Role),
	)
	response.Success(c, http.StatusOK, JoinCredentials{
		Token:     token,
		URL:       h.roomURL(c, session.ID),
		ExpiresAt: expiresAt,
		Role:      input.Role,
	})
}

// GET /api/sessions/:id/join/qr
func (h *SessionHandler) JoinQR(c *gin.Context) {
	if _, ok := requireClaims(c); !ok {
		return
	}
	session, err := h.sessions.Get(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	size := parseBoundedIntQuery(c, "size", defaultQRSize, maxQRSize)
	png, err := qrcode.Encode(h.joinURL(c, session.ID), qrcode.Medium, size)
	if err != nil {
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// POST /api/sessions/:id/live
func (h *SessionHandler) GoLive(c *gin.Context) {
	_, session, ok := h.loadAuthorized(c, policy.ActionGoLive)
	if !ok {
		return
	}
	updated, err := h.sessions.GoLive(requestContext(c), session.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, h.view(updated))
}

// POST /api/sessions/:id/end
func (h *SessionHandler) End(c *gin.Context) {
	_, session, ok := h.loadAuthorized(c, policy.ActionEndSession)
	if !ok {
		return
	}
	updated, changed, err := h.sessions.End(requestContext(c), session.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.closeRoom(c, updated, reasonEndedByTeacher)

	view := h.view(updated)
	view.Changed = &changed
	response.Success(c, http.StatusOK, view)
}

// POST /api/sessions/:id/cancel
func (h *SessionHandler) Cancel(c *gin.Context) {
	_, session, ok := h.loadAuthorized(c, policy.ActionCancelSession)
	if !ok {
		return
	}
	updated, changed, err := h.sessions.Cancel(requestContext(c), session.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.closeRoom(c, updated, reasonCancelled)

	view := h.view(updated)
	view.Changed = &changed
	response.Success(c, http.StatusOK, view)
}

// DELETE /api/sessions/:id/participants/:participantID
func (h *SessionHandler) RemoveParticipant(c *gin.Context) {
	_, session, ok := h.loadAuthorized(c, policy.ActionKick)
	if !ok {
		return
	}
	participantID := strings.TrimSpace(c.Param("participantID"))
	if participantID == "" {
		response.Error(c, errors.NewBadRequest("participant id is required"))
		return
	}

	removed := false
	if h.rooms != nil {
		removed = h.rooms.Disconnect(session.ID, participantID, reasonRemoved)
	}
	response.Success(c, http.StatusOK, gin.H{"removed": removed})
}

func (h *SessionHandler) closeRoom(c *gin.Context, session *models.ClassSession, reason string) {
	if h.rooms != nil {
		h.rooms.CloseRoom(session.ID, reason)
	}
	if h.attendance == nil {
		return
	}
	at := h.sessions.Now()
	if session.ClosedAt != nil {
		at = *session.ClosedAt
	}
	if err := h.attendance.CloseSession(requestContext(c), session.ID, at); err != nil {
		logger.WithSession("http", session.ID).Warn("failed to close attendance", zap.Error(err))
	}
}

func (h *SessionHandler) baseURL(c *gin.Context) *url.URL {
	if h.publicURL != "" {
		if u, err := url.Parse(h.publicURL); err == nil && u.Host != "" {
			return u
		}
	}
	scheme := "http"
	if c.Request.TLS != nil || strings.EqualFold(c.GetHeader("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return &url.URL{Scheme: scheme, Host: c.Request.Host}
}

// roomURL is the websocket endpoint of a session room.
func (h *SessionHandler) roomURL(c *gin.Context, sessionID string) string {
	u := h.baseURL(c)
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/rooms/" + url.PathEscape(sessionID) + "/ws"
	return u.String()
}

// joinURL is the endpoint participants call to obtain room credentials.
func (h *SessionHandler) joinURL(c *gin.Context, sessionID string) string {
	u := h.baseURL(c)
	u.Path = strings.TrimRight(u.Path, "/") + "/api/sessions/" + url.PathEscape(sessionID) + "/start"
	return u.String()
}

func intOr(value *int, fallback int) int {
	if value == nil {
		return fallback
	}
	return *value
}
