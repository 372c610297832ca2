package api_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/liveclass/internal/handlers/testutil"
)

func TestMonitoringSummaryRequiresAuth(t *testing.T) {
	env := testutil.NewEnv(t)
	token := env.Token("teacher-1", "teacher", "Ms. Kim")

	// unauthenticated request should be rejected
	resp := env.Request(http.MethodGet, "/api/monitoring/summary", nil, "")
	require.Equal(t, http.StatusUnauthorized, resp.Code, resp.Body.String())

	resp = env.Request(http.MethodGet, "/api/monitoring/summary", nil, token)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
}
