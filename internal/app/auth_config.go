package app

import (
	"os"
	"strings"

	"github.com/charlesng35/liveclass/internal/auth"
	"github.com/charlesng35/liveclass/internal/dedup"
)

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	ttl := c.JWT.TTL
	if ttl <= 0 {
		ttl = auth.DefaultAccessTokenTTL
	}
	joinTTL := c.JWT.JoinTTL
	if joinTTL <= 0 {
		joinTTL = auth.DefaultJoinTokenTTL
	}

	return auth.JWTConfig{
		Secret:         c.JWT.Secret,
		Issuer:         c.JWT.Issuer,
		AccessTokenTTL: ttl,
		JoinTokenTTL:   joinTTL,
	}
}

// EffectiveDedupCapacity clamps the configured capacity to the supported 100..1000 range,
// falling back to the default when unset.
func (c ClassroomConfig) EffectiveDedupCapacity() int {
	switch {
	case c.DedupCapacity <= 0:
		return dedup.DefaultCapacity
	case c.DedupCapacity < 100:
		return 100
	case c.DedupCapacity > 1000:
		return 1000
	default:
		return c.DedupCapacity
	}
}

// PolicySource returns the Rego policy to load, or "" for the built-in policy.
func (c ClassroomConfig) PolicySource() (string, error) {
	path := strings.TrimSpace(c.PolicyFile)
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
