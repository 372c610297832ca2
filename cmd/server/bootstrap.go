package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/liveclass/internal/api"
	"github.com/charlesng35/liveclass/internal/app"
	"github.com/charlesng35/liveclass/internal/app/maintenance"
	iauth "github.com/charlesng35/liveclass/internal/auth"
	"github.com/charlesng35/liveclass/internal/cache"
	"github.com/charlesng35/liveclass/internal/database"
	"github.com/charlesng35/liveclass/internal/middleware"
	"github.com/charlesng35/liveclass/internal/monitoring"
	"github.com/charlesng35/liveclass/internal/monitoring/checks"
	"github.com/charlesng35/liveclass/internal/policy"
	"github.com/charlesng35/liveclass/internal/realtime"
	"github.com/charlesng35/liveclass/internal/services"
	"github.com/charlesng35/liveclass/pkg/logger"
)

const (
	databaseProbeTimeout = 2 * time.Second
	maintenanceMaxAge    = 48 * time.Hour

	closeReasonShutdown = "the server is shutting down"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB         *gorm.DB
	Monitoring *monitoring.Module
	Sessions   *services.ClassSessionService
	Attendance *services.AttendanceService
	Violations *services.ViolationService
	Hub        *realtime.Hub
	Counters   *cache.DatabaseStore
	Cleaner    *maintenance.Cleaner
	Router     *gin.Engine
}

// bootstrapRuntime initialises the database, services, room relay and HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, generated map[string]bool, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			_ = stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	// A generated secret only survives restarts once it is persisted.
	if generated["auth.jwt.secret"] {
		secret, err := database.ResolveGeneratedJWTSecret(ctx, stack.DB, cfg.Auth.JWT.Secret)
		if err != nil {
			return nil, fmt.Errorf("persist jwt secret: %w", err)
		}
		cfg.Auth.JWT.Secret = secret
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	stack.Monitoring, err = monitoring.NewModule(monitoring.Options{})
	if err != nil {
		return nil, fmt.Errorf("initialise monitoring: %w", err)
	}
	monitoring.SetModule(stack.Monitoring)

	policySource, err := cfg.Classroom.PolicySource()
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	engine, err := policy.NewEngine(ctx, policySource)
	if err != nil {
		return nil, fmt.Errorf("compile policy: %w", err)
	}

	var sessionOpts []services.ClassSessionOption
	if cfg.Classroom.WarningThreshold > 0 {
		sessionOpts = append(sessionOpts, services.WithWarningThreshold(cfg.Classroom.WarningThreshold))
	}
	stack.Sessions, err = services.NewClassSessionService(stack.DB, sessionOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise session service: %w", err)
	}

	stack.Attendance, err = services.NewAttendanceService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise attendance service: %w", err)
	}

	stack.Violations, err = services.NewViolationService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise violation service: %w", err)
	}

	stack.Hub = realtime.NewHub(
		realtime.WithHooks(stack.Attendance.RoomHooks()),
		realtime.WithAllowedOrigins(cfg.Server.CORS.AllowedOrigins),
	)

	health := stack.Monitoring.Health()
	health.RegisterReadiness(checks.Database(stack.DB, databaseProbeTimeout))
	health.RegisterReadiness(checks.Maintenance(maintenanceMaxAge))
	health.RegisterLiveness(checks.Realtime(stack.Hub))

	var rateStore middleware.RateStore
	cleanerOpts := []maintenance.Option{
		maintenance.WithRooms(stack.Hub),
		maintenance.WithAttendance(stack.Attendance),
		maintenance.WithExpireSchedule(cfg.Maintenance.ExpireSchedule),
		maintenance.WithRetentionSchedule(cfg.Maintenance.RetentionSchedule),
		maintenance.WithViolationRetention(cfg.Maintenance.ViolationRetention),
		maintenance.WithAttendanceRetention(cfg.Maintenance.AttendanceRetention),
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Server.RateLimit.Store)) {
	case "", "memory":
	case "database":
		stack.Counters = cache.NewDatabaseStore(stack.DB)
		rateStore = stack.Counters
		cleanerOpts = append(cleanerOpts, maintenance.WithRateCounters(stack.Counters))
		log.Info("rate limit counters shared through the database")
	default:
		return nil, fmt.Errorf("unsupported rate limit store %q", cfg.Server.RateLimit.Store)
	}

	stack.Cleaner = maintenance.NewCleaner(stack.Sessions, stack.Violations, cleanerOpts...)
	if err := stack.Cleaner.RunOnce(ctx); err != nil {
		log.Warn("start-up maintenance pass failed", zap.Error(err))
	}
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Router, err = api.NewRouter(api.Dependencies{
		Config:     cfg,
		JWT:        jwtSvc,
		Policy:     engine,
		Sessions:   stack.Sessions,
		Attendance: stack.Attendance,
		Violations: stack.Violations,
		Hub:        stack.Hub,
		Monitoring: stack.Monitoring,
		RateStore:  rateStore,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown stops background jobs, closes every open room and releases the database.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) error {
	if s == nil {
		return nil
	}

	var errs error
	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
			errs = multierr.Append(errs, fmt.Errorf("maintenance jobs still running: %w", ctx.Err()))
		}
	}

	s.closeRooms(log)

	if s.DB != nil {
		errs = multierr.Append(errs, closeDatabase(s.DB))
	}

	if errs != nil {
		log.Warn("shutdown finished with errors", zap.Error(errs))
	}
	return errs
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Prepare(db); err != nil {
		_ = closeDatabase(db)
		return nil, fmt.Errorf("prepare database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", dbCfg.Driver))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql", "mariadb":
		dbCfg.Driver = "mysql"
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("obtain sql db: %w", err)
	}
	return sqlDB.Close()
}

func (s *runtimeStack) closeRooms(log *zap.Logger) {
	if s == nil || s.Hub == nil {
		return
	}
	if rooms := s.Hub.CloseAll(closeReasonShutdown); rooms > 0 {
		log.Info("closed open rooms", zap.Int("rooms", rooms))
	}
}
