package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/charlesng35/liveclass/internal/app"
	"github.com/charlesng35/liveclass/internal/database"
	"github.com/charlesng35/liveclass/internal/models"
)

func TestConvertDatabaseConfig(t *testing.T) {
	cfg := &app.Config{}
	cfg.Database.Driver = " MariaDB "
	cfg.Database.MySQL = app.DBAuthConfig{Host: "db", Port: 3307, Database: "classes", Username: "u", Password: "p"}

	dbCfg := convertDatabaseConfig(cfg)
	require.Equal(t, "mysql", dbCfg.Driver)
	require.Equal(t, "db", dbCfg.Host)
	require.Equal(t, 3307, dbCfg.Port)
	require.Equal(t, "classes", dbCfg.Name)

	cfg.Database.Driver = "postgresql"
	cfg.Database.Postgres = app.DBAuthConfig{Host: "pg", Port: 5432, Database: "classes"}
	dbCfg = convertDatabaseConfig(cfg)
	require.Equal(t, "postgres", dbCfg.Driver)
	require.Equal(t, "pg", dbCfg.Host)

	cfg.Database.Driver = ""
	cfg.Database.Path = " ./data/x.sqlite "
	dbCfg = convertDatabaseConfig(cfg)
	require.Equal(t, "sqlite", dbCfg.Driver)
	require.Equal(t, "./data/x.sqlite", dbCfg.Path)
}

func testConfig(t *testing.T) *app.Config {
	t.Helper()
	cfg := &app.Config{}
	cfg.Server.PublicURL = "http://localhost:8000"
	cfg.Server.RateLimit = app.RateLimitConfig{Requests: 100}
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = filepath.Join(t.TempDir(), "liveclass.sqlite")
	cfg.Monitoring.Health.Enabled = true
	cfg.Monitoring.Prometheus = app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"}
	cfg.Maintenance.ExpireSchedule = "@every 1h"
	cfg.Maintenance.RetentionSchedule = "@daily"
	return cfg
}

func TestBootstrapRuntimeServesHealth(t *testing.T) {
	cfg := testConfig(t)
	generated, err := app.ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.True(t, generated["auth.jwt.secret"])

	stack, err := bootstrapRuntime(context.Background(), cfg, generated, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = stack.Shutdown(context.Background(), zap.NewNop()) })

	persisted, err := database.GetSystemSetting(context.Background(), stack.DB, database.JWTSecretSetting)
	require.NoError(t, err)
	require.Equal(t, cfg.Auth.JWT.Secret, persisted)

	w := httptest.NewRecorder()
	stack.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = httptest.NewRecorder()
	stack.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "liveclass_")
}

func TestGeneratedSecretSurvivesRestart(t *testing.T) {
	cfg := testConfig(t)
	generated, err := app.ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)

	first, err := bootstrapRuntime(context.Background(), cfg, generated, zap.NewNop())
	require.NoError(t, err)
	secret := cfg.Auth.JWT.Secret
	require.NoError(t, first.Shutdown(context.Background(), zap.NewNop()))

	cfg.Auth.JWT.Secret = ""
	generated, err = app.ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.NotEqual(t, secret, cfg.Auth.JWT.Secret)

	second, err := bootstrapRuntime(context.Background(), cfg, generated, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Shutdown(context.Background(), zap.NewNop()) })
	require.Equal(t, secret, cfg.Auth.JWT.Secret)
}

func TestBootstrapRejectsUnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "oracle"
	_, err := app.ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)

	_, err = bootstrapRuntime(context.Background(), cfg, nil, zap.NewNop())
	require.Error(t, err)
}

func TestBootstrapSharesRateCountersThroughDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.RateLimit = app.RateLimitConfig{Requests: 2, Window: time.Minute, Store: "database"}
	generated, err := app.ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)

	stack, err := bootstrapRuntime(context.Background(), cfg, generated, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = stack.Shutdown(context.Background(), zap.NewNop()) })
	require.NotNil(t, stack.Counters)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		stack.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))
		codes = append(codes, w.Code)
	}
	require.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	var stored int64
	require.NoError(t, stack.DB.Model(&models.RateCounter{}).Count(&stored).Error)
	require.EqualValues(t, 1, stored)

	cfg.Server.RateLimit.Store = "redis"
	_, err = bootstrapRuntime(context.Background(), cfg, nil, zap.NewNop())
	require.ErrorContains(t, err, "unsupported rate limit store")
}
