package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/charlesng35/liveclass/pkg/logger"
)

func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	previous := logger.Logger()
	logger.Replace(zap.New(core))
	t.Cleanup(func() { logger.Replace(previous) })
	return logs
}

func TestLoggerMiddlewareTagsSessionAndUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logs := observeLogs(t)

	r := gin.New()
	r.Use(Logger())
	r.POST("/api/sessions/:id/live", func(c *gin.Context) {
		c.Set(CtxUserIDKey, "teacher-1")
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/sessions/s-42/live", nil))
	require.Equal(t, http.StatusNoContent, w.Code)

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "s-42", fields["session_id"])
	require.Equal(t, "teacher-1", fields["user_id"])
	require.EqualValues(t, http.StatusNoContent, fields["status"])
	require.Equal(t, "http", fields["module"])
}
