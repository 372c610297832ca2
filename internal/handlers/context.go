package handlers

import (
	"context"
	"encoding/json"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/liveclass/internal/auth"
	"github.com/charlesng35/liveclass/internal/middleware"
	"github.com/charlesng35/liveclass/internal/roster"
	"github.com/charlesng35/liveclass/pkg/errors"
	"github.com/charlesng35/liveclass/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// requireClaims returns the caller's claims or writes a 401.
func requireClaims(c *gin.Context) (*iauth.Claims, bool) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok || claims.UserID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return nil, false
	}
	return claims, true
}

// participantMetadata renders the structured metadata a room announces for the caller.
func participantMetadata(claims *iauth.Claims) string {
	raw, err := json.Marshal(map[string]string{
		"role":         claims.Role,
		"display_name": claims.Name,
	})
	if err != nil {
		return ""
	}
	return string(raw)
}

// callerRole resolves the caller's classroom role the same way the roster does.
func callerRole(claims *iauth.Claims) roster.Role {
	return roster.ParseMetadata(claims.UserID, participantMetadata(claims)).Role
}
