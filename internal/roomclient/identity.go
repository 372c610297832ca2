package roomclient

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	iauth "github.com/charlesng35/liveclass/internal/auth"
	"github.com/charlesng35/liveclass/internal/classroom"
	"github.com/charlesng35/liveclass/internal/roster"
)

// Identity reads the participant a join token was issued for. The signature is not
// checked here; the room server verifies it on connect.
func Identity(joinToken string) (classroom.Self, error) {
	claims := &iauth.Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(joinToken, claims); err != nil {
		return classroom.Self{}, fmt.Errorf("roomclient: parse join token: %w", err)
	}
	if claims.UserID == "" {
		return classroom.Self{}, fmt.Errorf("roomclient: join token carries no participant")
	}

	meta := roster.ParseMetadata(claims.UserID, claims.Metadata)
	name := claims.Name
	if name == "" {
		name = meta.DisplayName
	}
	return classroom.Self{ID: claims.UserID, DisplayName: name, Role: meta.Role}, nil
}
