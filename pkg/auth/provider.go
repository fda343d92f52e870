package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/plazadir/gatekeeper/pkg/domain"
)

// IdentityProvider is the hosted identity service this layer fronts. It
// owns passwords and bearer-token lifecycle; the gatekeeper only ever
// verifies access tokens and redeems refresh tokens against it.
type IdentityProvider interface {
	// VerifyAccessToken validates a bearer access token and returns the
	// identity it asserts. Returns domain.ErrInvalidToken for anything
	// that does not verify, without distinguishing why.
	VerifyAccessToken(ctx context.Context, accessToken string) (*domain.Identity, error)

	// Refresh redeems a provider refresh token for a fresh bearer pair.
	Refresh(ctx context.Context, refreshToken string) (*domain.Identity, *domain.TokenPair, error)
}

// AccessTokenClaims are the claims the provider signs into access tokens.
type AccessTokenClaims struct {
	jwt.RegisteredClaims
	Email string   `json:"email,omitempty"`
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// JWTProviderConfig configures the provider client. Secret is the HMAC
// key shared with the provider for local access-token verification;
// TokenURL is the provider's refresh-grant endpoint.
type JWTProviderConfig struct {
	Secret   []byte
	Issuer   string
	TokenURL string
	Client   *http.Client
}

// JWTProvider verifies HS256 access tokens locally and performs the
// refresh grant over HTTP.
type JWTProvider struct {
	config JWTProviderConfig
	client *http.Client
}

func NewJWTProvider(config JWTProviderConfig) *JWTProvider {
	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &JWTProvider{config: config, client: client}
}

func (p *JWTProvider) VerifyAccessToken(ctx context.Context, accessToken string) (*domain.Identity, error) {
	token, err := jwt.ParseWithClaims(accessToken, &AccessTokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.ErrInvalidToken
		}
		return p.config.Secret, nil
	})
	if err != nil {
		return nil, domain.ErrInvalidToken
	}

	claims, ok := token.Claims.(*AccessTokenClaims)
	if !ok || !token.Valid {
		return nil, domain.ErrInvalidToken
	}
	if p.config.Issuer != "" && claims.Issuer != p.config.Issuer {
		return nil, domain.ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, domain.ErrInvalidToken
	}

	return &domain.Identity{
		UserID: userID,
		Email:  claims.Email,
		Name:   claims.Name,
		Roles:  claims.Roles,
	}, nil
}

type refreshGrantRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshGrantResponse struct {
	User         domain.Identity `json:"user"`
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	ExpiresAt    time.Time       `json:"expires_at"`
}

func (p *JWTProvider) Refresh(ctx context.Context, refreshToken string) (*domain.Identity, *domain.TokenPair, error) {
	body, err := json.Marshal(refreshGrantRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, nil, fmt.Errorf("marshal refresh grant: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("refresh grant: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, nil, domain.ErrInvalidToken
	default:
		return nil, nil, fmt.Errorf("refresh grant: unexpected status %d", resp.StatusCode)
	}

	var grant refreshGrantResponse
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		return nil, nil, fmt.Errorf("decode refresh grant: %w", err)
	}
	if grant.AccessToken == "" {
		return nil, nil, domain.ErrInvalidToken
	}

	pair := &domain.TokenPair{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		ExpiresAt:    grant.ExpiresAt,
	}
	return &grant.User, pair, nil
}
