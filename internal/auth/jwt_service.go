// Package auth issues and validates the bearer tokens used by the API and the room relay.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultAccessTokenTTL defines the fallback validity period for API access tokens.
	DefaultAccessTokenTTL = 15 * time.Minute
	// DefaultJoinTokenTTL defines the fallback validity period for room join tokens.
	DefaultJoinTokenTTL = 2 * time.Hour

	// AudienceAPI scopes a token to the HTTP API.
	AudienceAPI = "api"
	// AudienceRoom scopes a token to one session's realtime room.
	AudienceRoom = "room"
)

// JWTConfig bundles the configuration required to build a JWTService.
type JWTConfig struct {
	Secret         string
	Issuer         string
	AccessTokenTTL time.Duration
	JoinTokenTTL   time.Duration
	Clock          func() time.Time
}

// Claims represents the custom claims embedded in issued JWTs.
type Claims struct {
	UserID    string `json:"uid"`
	Role      string `json:"role"`
	Name      string `json:"name,omitempty"`
	SessionID string `json:"sid,omitempty"`
	// Metadata is the participant metadata the room announces to other peers.
	Metadata string `json:"meta,omitempty"`
	jwt.RegisteredClaims
}

// AccessTokenInput holds the parameters used when generating a new access token.
type AccessTokenInput struct {
	UserID string
	Role   string
	Name   string
}

// JoinTokenInput holds the parameters for a room join token.
type JoinTokenInput struct {
	UserID    string
	Role      string
	Name      string
	SessionID string
	Metadata  string
	// NotAfter caps the token lifetime, normally at the session end.
	NotAfter time.Time
}

// JWTService is responsible for issuing and validating JSON Web Tokens.
type JWTService struct {
	secret  []byte
	issuer  string
	ttl     time.Duration
	joinTTL time.Duration
	now     func() time.Time
}

// NewJWTService constructs a JWTService instance when provided with the required configuration.
func NewJWTService(cfg JWTConfig) (*JWTService, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt: secret must be provided")
	}

	ttl := cfg.AccessTokenTTL
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}
	joinTTL := cfg.JoinTokenTTL
	if joinTTL <= 0 {
		joinTTL = DefaultJoinTokenTTL
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &JWTService{
		secret:  []byte(cfg.Secret),
		issuer:  cfg.Issuer,
		ttl:     ttl,
		joinTTL: joinTTL,
		now:     now,
	}, nil
}

// GenerateAccessToken issues a signed API token for a user.
func (s *JWTService) GenerateAccessToken(input AccessTokenInput) (string, error) {
	if input.UserID == "" {
		return "", errors.New("jwt: user id is required")
	}

	now := s.now()
	claims := &Claims{
		UserID: input.UserID,
		Role:   strings.ToLower(strings.TrimSpace(input.Role)),
		Name:   input.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   input.UserID,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{AudienceAPI},
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return s.sign(claims)
}

// GenerateJoinToken issues a token admitting one participant to one session room. It returns
// the token and its expiry.
func (s *JWTService) GenerateJoinToken(input JoinTokenInput) (string, time.Time, error) {
	if input.UserID == "" || input.SessionID == "" {
		return "", time.Time{}, errors.New("jwt: user id and session id are required")
	}

	now := s.now()
	expiresAt := now.Add(s.joinTTL)
	if !input.NotAfter.IsZero() && input.NotAfter.After(now) && input.NotAfter.Before(expiresAt) {
		expiresAt = input.NotAfter
	}

	claims := &Claims{
		UserID:    input.UserID,
		Role:      strings.ToLower(strings.TrimSpace(input.Role)),
		Name:      input.Name,
		SessionID: input.SessionID,
		Metadata:  input.Metadata,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        input.SessionID + ":" + input.UserID,
			Subject:   input.UserID,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{AudienceRoom},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token, err := s.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// ValidateAccessToken parses and validates an API token.
func (s *JWTService) ValidateAccessToken(tokenString string) (*Claims, error) {
	return s.validate(tokenString, AudienceAPI)
}

// ValidateJoinToken parses a room token and checks it was issued for sessionID.
func (s *JWTService) ValidateJoinToken(tokenString, sessionID string) (*Claims, error) {
	claims, err := s.validate(tokenString, AudienceRoom)
	if err != nil {
		return nil, err
	}
	if claims.SessionID != sessionID {
		return nil, errors.New("jwt: token was issued for another session")
	}
	return claims, nil
}

func (s *JWTService) sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("jwt: sign token: %w", err)
	}
	return signed, nil
}

func (s *JWTService) validate(tokenString, audience string) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("jwt: token string is empty")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithAudience(audience),
	)

	var claims Claims
	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("jwt: parse token: %w", err)
	}

	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, errors.New("jwt: invalid issuer")
	}

	if claims.UserID == "" {
		return nil, errors.New("jwt: missing user id claim")
	}

	return &claims, nil
}
