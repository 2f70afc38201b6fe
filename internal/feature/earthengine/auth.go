package earthengine

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/beewatch/beewatch/internal/provider/resilience"
)

const (
	// DefaultTokenURL is Google's OAuth 2.0 token endpoint.
	DefaultTokenURL = "https://oauth2.googleapis.com/token"

	// Scope grants access to Earth Engine.
	Scope = "https://www.googleapis.com/auth/earthengine"

	grantTypeJWTBearer = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	// Tokens are refreshed this long before they expire.
	expiryMargin = time.Minute
)

// TokenSource supplies OAuth access tokens.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed access token.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", errors.New("empty access token")
	}
	return string(s), nil
}

// ServiceAccountKey is the JSON key file of a Google service account.
type ServiceAccountKey struct {
	ClientEmail  string `json:"client_email"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	TokenURI     string `json:"token_uri"`
	ProjectID    string `json:"project_id"`
}

// LoadServiceAccountKey reads a service account key file.
func LoadServiceAccountKey(path string) (*ServiceAccountKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service account key: %w", err)
	}
	var key ServiceAccountKey
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, fmt.Errorf("decode service account key: %w", err)
	}
	if key.ClientEmail == "" || key.PrivateKey == "" {
		return nil, errors.New("service account key is missing client_email or private_key")
	}
	return &key, nil
}

// ServiceAccountConfig holds configuration for ServiceAccountTokenSource.
type ServiceAccountConfig struct {
	Key *ServiceAccountKey

	// Scopes requested for the token (default: Scope).
	Scopes []string

	// HTTPClient exchanges assertions. If nil, a resilient client is created.
	HTTPClient HTTPDoer

	// Registry receives the default client's health.
	Registry *resilience.Registry

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// ServiceAccountTokenSource signs RS256 JWT assertions and exchanges them for access tokens.
// Tokens are cached until shortly before expiry.
type ServiceAccountTokenSource struct {
	email      string
	keyID      string
	key        *rsa.PrivateKey
	tokenURL   string
	scope      string
	httpClient HTTPDoer
	now        func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewServiceAccountTokenSource creates a ServiceAccountTokenSource.
func NewServiceAccountTokenSource(cfg ServiceAccountConfig) (*ServiceAccountTokenSource, error) {
	if cfg.Key == nil {
		return nil, errors.New("service account key is required")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.Key.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("parse service account private key: %w", err)
	}

	tokenURL := cfg.Key.TokenURI
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{Scope}
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = resilience.NewClient(resilience.ClientConfig{
			Name:            "oauth",
			Stage:           resilience.StageAuth,
			Timeout:         10 * time.Second,
			MaxRetries:      2,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			Registry:        cfg.Registry,
		})
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &ServiceAccountTokenSource{
		email:      cfg.Key.ClientEmail,
		keyID:      cfg.Key.PrivateKeyID,
		key:        key,
		tokenURL:   tokenURL,
		scope:      strings.Join(scopes, " "),
		httpClient: httpClient,
		now:        now,
	}, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// Token implements TokenSource.
func (s *ServiceAccountTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.token != "" && now.Add(expiryMargin).Before(s.expiry) {
		return s.token, nil
	}

	assertion, err := s.sign(now)
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("grant_type", grantTypeJWTBearer)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("exchange assertion: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", errors.New("token endpoint returned no access token")
	}

	s.token = tr.AccessToken
	s.expiry = now.Add(time.Duration(tr.ExpiresIn) * time.Second)
	return s.token, nil
}

func (s *ServiceAccountTokenSource) sign(now time.Time) (string, error) {
	// The token endpoint requires aud as a plain string.
	claims := jwt.MapClaims{
		"iss":   s.email,
		"scope": s.scope,
		"aud":   s.tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if s.keyID != "" {
		token.Header["kid"] = s.keyID
	}
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign assertion: %w", err)
	}
	return signed, nil
}
