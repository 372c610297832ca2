package handlers

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/liveclass/internal/auth"
	"github.com/charlesng35/liveclass/internal/realtime"
	"github.com/charlesng35/liveclass/internal/services"
	"github.com/charlesng35/liveclass/pkg/errors"
	"github.com/charlesng35/liveclass/pkg/response"
)

// RealtimeHandler upgrades room join requests into relay connections.
type RealtimeHandler struct {
	hub      *realtime.Hub
	jwt      *iauth.JWTService
	sessions *services.ClassSessionService
}

func NewRealtimeHandler(hub *realtime.Hub, jwt *iauth.JWTService, sessions *services.ClassSessionService) (*RealtimeHandler, error) {
	if hub == nil || jwt == nil || sessions == nil {
		return nil, fmt.Errorf("realtime handler: hub, jwt and sessions are required")
	}
	return &RealtimeHandler{hub: hub, jwt: jwt, sessions: sessions}, nil
}

// Room validates the join token for :id and hands the connection to the hub.
// GET /api/rooms/:id/ws?token=
func (h *RealtimeHandler) Room(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Param("id"))

	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		authz := c.GetHeader("Authorization")
		if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			token = strings.TrimSpace(authz[7:])
		}
	}
	if token == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	claims, err := h.jwt.ValidateJoinToken(token, sessionID)
	if err != nil || strings.TrimSpace(claims.UserID) == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	session, err := h.sessions.Get(requestContext(c), sessionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !h.sessions.Joinable(session) {
		response.Error(c, errors.ErrNotStartable)
		return
	}

	h.hub.Serve(realtime.Admission{
		SessionID: session.ID,
		Identity:  claims.UserID,
		Name:      claims.Name,
		Metadata:  claims.Metadata,
	}, c.Writer, c.Request)
}
