// Package auth obtains bearer tokens for the probed endpoint and attaches
// them to outgoing requests.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/torosent/stagefire/internal/config"
)

const defaultRefreshLeeway = 30 * time.Second

// Provider supplies the Authorization header for probe requests.
type Provider interface {
	// Token returns a bearer token, fetching a new one only when the cached
	// token is missing or about to expire.
	Token(ctx context.Context) (string, error)

	// Authorize sets the Authorization header on req.
	Authorize(ctx context.Context, req *http.Request) error

	Close() error
}

// New builds the provider described by cfg. It returns nil, nil when no
// authentication is configured.
func New(cfg config.AuthConfig) (Provider, error) {
	leeway := cfg.RefreshBeforeExpiry
	if leeway <= 0 {
		leeway = defaultRefreshLeeway
	}

	switch config.AuthType(strings.ToLower(strings.TrimSpace(string(cfg.Type)))) {
	case config.AuthTypeNone:
		return nil, nil
	case config.AuthTypeBearer:
		if strings.TrimSpace(cfg.StaticToken) == "" {
			return nil, fmt.Errorf("auth: static token is required for %s", cfg.Type)
		}
		return NewStaticToken(cfg.StaticToken), nil
	case config.AuthTypeOAuth2ClientCredentials:
		return NewOAuth2(OAuth2Config{
			TokenURL:      cfg.TokenURL,
			ClientID:      cfg.ClientID,
			ClientSecret:  cfg.ClientSecret,
			Scopes:        cfg.Scopes,
			Grant:         GrantClientCredentials,
			RefreshLeeway: leeway,
		})
	case config.AuthTypeOAuth2Password:
		return NewOAuth2(OAuth2Config{
			TokenURL:      cfg.TokenURL,
			ClientID:      cfg.ClientID,
			ClientSecret:  cfg.ClientSecret,
			Username:      cfg.Username,
			Password:      cfg.Password,
			Scopes:        cfg.Scopes,
			Grant:         GrantPassword,
			RefreshLeeway: leeway,
		})
	default:
		return nil, fmt.Errorf("auth: unsupported type %q", cfg.Type)
	}
}

func setBearer(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
}
