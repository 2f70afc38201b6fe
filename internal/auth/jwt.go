// Package auth issues and validates the operator tokens guarding admin endpoints.
//
// Admin tokens are HS256 JWTs signed with a server-side secret. The subject is
// the operator name and the role claim must be "admin". There is no refresh
// flow: an expired token is reissued with the dataset CLI.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTokenExpiry is the admin token lifetime unless configured otherwise.
const DefaultTokenExpiry = 12 * time.Hour

// RoleAdmin is the role claim required by admin endpoints.
const RoleAdmin = "admin"

var (
	ErrInvalidToken   = errors.New("invalid access token")
	ErrTokenExpired   = errors.New("access token has expired")
	ErrMissingRole    = errors.New("access token lacks the admin role")
	ErrMissingSubject = errors.New("token subject is required")
)

// Claims are the claims carried by admin tokens.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// JWTConfig configures a JWTService.
type JWTConfig struct {
	SigningKey string
	Issuer     string // e.g. "https://api.beewatch.pe"
	Audience   string // e.g. "beewatch-admin"

	// Expiry defaults to DefaultTokenExpiry.
	Expiry time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// JWTService signs and verifies admin tokens with one shared key.
type JWTService struct {
	cfg    JWTConfig
	key    []byte
	parser *jwt.Parser
}

// NewJWTService creates a JWTService.
func NewJWTService(cfg JWTConfig) *JWTService {
	if cfg.Expiry <= 0 {
		cfg.Expiry = DefaultTokenExpiry
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &JWTService{
		cfg: cfg,
		key: []byte(cfg.SigningKey),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithAudience(cfg.Audience),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(cfg.Now),
		),
	}
}

// IssueAdminToken signs an admin token for operator and returns it with its expiry.
func (s *JWTService) IssueAdminToken(operator string) (string, time.Time, error) {
	if operator == "" {
		return "", time.Time{}, ErrMissingSubject
	}

	issued := s.cfg.Now().Truncate(time.Second)
	expires := issued.Add(s.cfg.Expiry)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.cfg.Issuer,
			Subject:   operator,
			Audience:  jwt.ClaimStrings{s.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(issued),
			NotBefore: jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Role: RoleAdmin,
	}).SignedString(s.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing admin token: %w", err)
	}
	return signed, expires, nil
}

// ValidateAdminToken verifies signature, issuer, audience and expiry of raw and
// checks the admin role.
func (s *JWTService) ValidateAdminToken(raw string) (*Claims, error) {
	var claims Claims
	_, err := s.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	case claims.Subject == "":
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, ErrMissingSubject)
	case claims.Role != RoleAdmin:
		return nil, ErrMissingRole
	}
	return &claims, nil
}
