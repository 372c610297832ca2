package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/liveclass/internal/api"
	"github.com/charlesng35/liveclass/internal/app"
	iauth "github.com/charlesng35/liveclass/internal/auth"
	sharedtestutil "github.com/charlesng35/liveclass/internal/database/testutil"
	"github.com/charlesng35/liveclass/internal/monitoring"
	"github.com/charlesng35/liveclass/internal/policy"
	"github.com/charlesng35/liveclass/internal/realtime"
	"github.com/charlesng35/liveclass/internal/services"
	"github.com/charlesng35/liveclass/pkg/response"
)

// Clock is a settable time source shared by every service in an Env.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T          *testing.T
	DB         *gorm.DB
	Router     *gin.Engine
	Config     *app.Config
	JWT        *iauth.JWTService
	Sessions   *services.ClassSessionService
	Attendance *services.AttendanceService
	Violations *services.ViolationService
	Hub        *realtime.Hub
	Monitoring *monitoring.Module
	Clock      *Clock
}

// DefaultNow is the wall-clock time every Env starts at.
var DefaultNow = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())
	clock := NewClock(DefaultNow)

	cfg := &app.Config{
		Server: app.ServerConfig{
			PublicURL: "https://class.example.com",
			RateLimit: app.RateLimitConfig{Requests: 10000, Window: time.Minute},
		},
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{
				Secret:  "test-suite-super-secret-key-32-bytes!!",
				Issuer:  "test-suite",
				TTL:     time.Hour,
				JoinTTL: 2 * time.Hour,
			},
		},
		Classroom: app.ClassroomConfig{
			DefaultDurationMinutes:   60,
			DefaultPrepBufferMinutes: 15,
		},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:     app.HealthConfig{Enabled: true},
		},
	}

	jwtCfg := cfg.Auth.JWTServiceConfig()
	jwtCfg.Clock = clock.Now
	jwtSvc, err := iauth.NewJWTService(jwtCfg)
	require.NoError(t, err)

	sessions, err := services.NewClassSessionService(db, services.WithClassSessionClock(clock.Now))
	require.NoError(t, err)
	attendance, err := services.NewAttendanceService(db, services.WithAttendanceClock(clock.Now))
	require.NoError(t, err)
	violations, err := services.NewViolationService(db)
	require.NoError(t, err)

	engine, err := policy.NewEngine(context.Background(), "")
	require.NoError(t, err)

	mod, err := monitoring.NewModule(monitoring.Options{DisableRuntimeCollectors: true})
	require.NoError(t, err)
	monitoring.SetModule(mod)

	hub := realtime.NewHub(realtime.WithHooks(attendance.RoomHooks()))

	router, err := api.NewRouter(api.Dependencies{
		Config:     cfg,
		JWT:        jwtSvc,
		Policy:     engine,
		Sessions:   sessions,
		Attendance: attendance,
		Violations: violations,
		Hub:        hub,
		Monitoring: mod,
	})
	require.NoError(t, err)

	return &Env{
		T:          t,
		DB:         db,
		Router:     router,
		Config:     cfg,
		JWT:        jwtSvc,
		Sessions:   sessions,
		Attendance: attendance,
		Violations: violations,
		Hub:        hub,
		Monitoring: mod,
		Clock:      clock,
	}
}

// Token issues an API access token for a test user.
func (e *Env) Token(userID, role, name string) string {
	e.T.Helper()
	token, err := e.JWT.GenerateAccessToken(iauth.AccessTokenInput{UserID: userID, Role: role, Name: name})
	require.NoError(e.T, err)
	return token
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(e.T, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// SessionPayload mirrors the session endpoints' response data.
type SessionPayload struct {
	Session struct {
		ID                string     `json:"id"`
		OwnerID           string     `json:"owner_id"`
		Title             string     `json:"title"`
		Status            string     `json:"status"`
		ScheduledStart    *time.Time `json:"scheduled_start"`
		DurationMinutes   int        `json:"duration_minutes"`
		PrepBufferMinutes int        `json:"prep_buffer_minutes"`
		MaxSessionsPerDay int        `json:"max_sessions_per_day"`
		LiveSince         *time.Time `json:"live_since"`
		ClosedAt          *time.Time `json:"closed_at"`
	} `json:"session"`
	Lifecycle struct {
		Status           string `json:"status"`
		Phase            string `json:"phase"`
		CanStart         bool   `json:"can_start"`
		Joinable         bool   `json:"joinable"`
		CountdownEnabled bool   `json:"countdown_enabled"`
		RemainingSeconds int64  `json:"remaining_seconds"`
	} `json:"lifecycle"`
	Changed *bool `json:"changed"`
}

// Schedule creates a session as the teacher behind token and returns it.
func (e *Env) Schedule(token string, payload map[string]any) SessionPayload {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/sessions", payload, token)
	require.Equal(e.T, http.StatusCreated, w.Code, w.Body.String())

	var out SessionPayload
	DecodeInto(e.T, DecodeResponse(e.T, w).Data, &out)
	require.NotEmpty(e.T, out.Session.ID)
	return out
}

// DecodeSession decodes a session payload from a successful response.
func DecodeSession(t *testing.T, w *httptest.ResponseRecorder) SessionPayload {
	t.Helper()
	resp := DecodeResponse(t, w)
	require.True(t, resp.Success, w.Body.String())

	var out SessionPayload
	DecodeInto(t, resp.Data, &out)
	return out
}
