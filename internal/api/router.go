package api

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/liveclass/internal/app"
	iauth "github.com/charlesng35/liveclass/internal/auth"
	"github.com/charlesng35/liveclass/internal/handlers"
	"github.com/charlesng35/liveclass/internal/middleware"
	"github.com/charlesng35/liveclass/internal/monitoring"
	"github.com/charlesng35/liveclass/internal/policy"
	"github.com/charlesng35/liveclass/internal/realtime"
	"github.com/charlesng35/liveclass/internal/services"
)

// Dependencies are the collaborators the room server routes need.
type Dependencies struct {
	Config     *app.Config
	JWT        *iauth.JWTService
	Policy     *policy.Engine
	Sessions   *services.ClassSessionService
	Attendance *services.AttendanceService
	Violations *services.ViolationService
	Hub        *realtime.Hub
	Monitoring *monitoring.Module
	// RateStore backs the request limiter; nil selects an in-memory store.
	RateStore middleware.RateStore
}

func (d Dependencies) validate() error {
	switch {
	case d.Config == nil:
		return fmt.Errorf("config must be provided")
	case d.JWT == nil:
		return fmt.Errorf("jwt service must be provided")
	case d.Policy == nil:
		return fmt.Errorf("policy engine must be provided")
	case d.Sessions == nil || d.Attendance == nil || d.Violations == nil:
		return fmt.Errorf("session, attendance and violation services must be provided")
	case d.Hub == nil:
		return fmt.Errorf("realtime hub must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers the classroom routes.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg := deps.Config

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders(cfg.Server.PublicURL))
	r.Use(middleware.CORS(cfg.Server.CORS.AllowedOrigins...))

	store := deps.RateStore
	if store == nil {
		store = middleware.NewMemoryRateStore(cfg.Server.RateLimit.Window)
	}
	r.Use(middleware.RateLimitWithStore(store, cfg.Server.RateLimit.Requests, cfg.Server.RateLimit.Window))

	registerHealthRoutes(r, cfg, deps.Monitoring)
	registerMetricsRoute(r, cfg, deps.Monitoring)

	sessionHandler, err := handlers.NewSessionHandler(handlers.SessionHandlerDeps{
		Sessions:   deps.Sessions,
		Attendance: deps.Attendance,
		JWT:        deps.JWT,
		Policy:     deps.Policy,
		Rooms:      deps.Hub,
		Defaults: handlers.SessionDefaults{
			DurationMinutes:   cfg.Classroom.DefaultDurationMinutes,
			PrepBufferMinutes: cfg.Classroom.DefaultPrepBufferMinutes,
			MaxSessionsPerDay: cfg.Classroom.MaxSessionsPerDay,
		},
		PublicURL: cfg.Server.PublicURL,
	})
	if err != nil {
		return nil, err
	}
	recordsHandler, err := handlers.NewRecordsHandler(sessionHandler, deps.Attendance, deps.Violations)
	if err != nil {
		return nil, err
	}
	realtimeHandler, err := handlers.NewRealtimeHandler(deps.Hub, deps.JWT, deps.Sessions)
	if err != nil {
		return nil, err
	}

	// The relay authenticates with a join token instead of the API bearer token.
	r.GET("/api/rooms/:id/ws", realtimeHandler.Room)

	api := r.Group("/api")
	api.Use(middleware.Auth(deps.JWT))

	registerSessionRoutes(api, sessionHandler, recordsHandler)
	registerMonitoringRoutes(api, handlers.NewMonitoringHandler(deps.Monitoring, cfg))

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

func registerMetricsRoute(r *gin.Engine, cfg *app.Config, mon *monitoring.Module) {
	if mon == nil || !cfg.Monitoring.Prometheus.Enabled {
		return
	}
	endpoint := strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint)
	if endpoint == "" {
		endpoint = "/metrics"
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	r.GET(endpoint, gin.WrapH(mon.Handler()))
}
