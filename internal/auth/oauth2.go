package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// Grant is the OAuth2 grant type used to obtain tokens.
type Grant string

const (
	GrantClientCredentials Grant = "client_credentials"
	GrantPassword          Grant = "password"
)

const (
	tokenRequestTimeout = 30 * time.Second
	maxTokenResponse    = 64 << 10
)

// OAuth2Config describes a token endpoint and the credentials sent to it.
type OAuth2Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Username     string // password grant only
	Password     string // password grant only
	Scopes       []string
	Grant        Grant

	// RefreshLeeway renews a token this long before it expires.
	RefreshLeeway time.Duration

	HTTPClient *http.Client
}

// OAuth2 fetches and caches access tokens. Concurrent VUs that find the cache
// empty wait for a single in-flight fetch instead of each hitting the token
// endpoint.
type OAuth2 struct {
	cfg    OAuth2Config
	client *http.Client
	now    func() time.Time

	mu       sync.Mutex
	cond     *sync.Cond
	fetching bool
	token    string
	expiry   time.Time // zero when the server gave no lifetime
}

func NewOAuth2(cfg OAuth2Config) (*OAuth2, error) {
	if _, err := url.ParseRequestURI(strings.TrimSpace(cfg.TokenURL)); err != nil {
		return nil, fmt.Errorf("auth: invalid token URL %q: %w", cfg.TokenURL, err)
	}
	if cfg.ClientID == "" {
		return nil, errors.New("auth: client ID is required")
	}
	switch cfg.Grant {
	case GrantClientCredentials:
	case GrantPassword:
		if cfg.Username == "" {
			return nil, errors.New("auth: username is required for the password grant")
		}
	default:
		return nil, fmt.Errorf("auth: unsupported grant %q", cfg.Grant)
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: tokenRequestTimeout}
	}
	o := &OAuth2{cfg: cfg, client: client, now: time.Now}
	o.cond = sync.NewCond(&o.mu)
	return o, nil
}

func (o *OAuth2) Token(ctx context.Context) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for {
		if o.validLocked() {
			return o.token, nil
		}
		if !o.fetching {
			break
		}
		o.cond.Wait()
	}

	o.fetching = true
	o.mu.Unlock()
	token, lifetime, err := o.fetch(ctx)
	o.mu.Lock()
	o.fetching = false
	o.cond.Broadcast()

	if err != nil {
		return "", err
	}
	o.token = token
	o.expiry = time.Time{}
	if lifetime > 0 {
		leeway := o.cfg.RefreshLeeway
		if leeway >= lifetime {
			leeway = lifetime / 2
		}
		o.expiry = o.now().Add(lifetime - leeway)
	}
	return o.token, nil
}

func (o *OAuth2) validLocked() bool {
	if o.token == "" {
		return false
	}
	return o.expiry.IsZero() || o.now().Before(o.expiry)
}

// Invalidate drops the cached token so the next request fetches a new one.
func (o *OAuth2) Invalidate() {
	o.mu.Lock()
	o.token = ""
	o.mu.Unlock()
}

func (o *OAuth2) Authorize(ctx context.Context, req *http.Request) error {
	token, err := o.Token(ctx)
	if err != nil {
		return err
	}
	setBearer(req, token)
	return nil
}

func (o *OAuth2) Close() error {
	o.client.CloseIdleConnections()
	return nil
}

func (o *OAuth2) fetch(ctx context.Context) (string, time.Duration, error) {
	form := url.Values{}
	form.Set("grant_type", string(o.cfg.Grant))
	if o.cfg.Grant == GrantPassword {
		form.Set("username", o.cfg.Username)
		form.Set("password", o.cfg.Password)
	}
	if len(o.cfg.Scopes) > 0 {
		form.Set("scope", strings.Join(o.cfg.Scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("auth: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(o.cfg.ClientID, o.cfg.ClientSecret)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("auth: token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponse))
	if err != nil {
		return "", 0, fmt.Errorf("auth: read token response: %w", err)
	}

	if code := gjson.GetBytes(body, "error"); code.Exists() {
		return "", 0, fmt.Errorf("auth: token endpoint returned %s: %s", code.String(), gjson.GetBytes(body, "error_description").String())
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("auth: token endpoint returned status %d", resp.StatusCode)
	}

	token := gjson.GetBytes(body, "access_token").String()
	if token == "" {
		return "", 0, errors.New("auth: token response has no access_token")
	}
	lifetime := time.Duration(gjson.GetBytes(body, "expires_in").Int()) * time.Second
	return token, lifetime, nil
}
