// Package token caches OAuth2 client-credentials access tokens.
//
// Each credential set owns exactly one slot. A cached token is handed out
// while now < expiry-SafetyMargin; otherwise the caller performs the
// exchange itself and publishes the result with an atomic swap. Concurrent
// refreshes may each hit the issuer; the last successful one wins.
package token

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"opsbridge.org/internal/errs"
	"opsbridge.org/internal/obs"
	"opsbridge.org/internal/remote"
)

const (
	// SafetyMargin is subtracted from a token's expiry before it is reused.
	SafetyMargin = 60 * time.Second
	// ExchangeTimeout bounds one call to the token endpoint.
	ExchangeTimeout = 15 * time.Second
)

// CredentialSet identifies one application registration.
type CredentialSet struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Scope        string
}

// Validate reports every missing field at once.
func (c CredentialSet) Validate() error {
	var missing []string
	if c.TenantID == "" {
		missing = append(missing, "tenant_id")
	}
	if c.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "client_secret")
	}
	if c.Scope == "" {
		missing = append(missing, "scope")
	}
	if len(missing) > 0 {
		return errs.Configuration(missing...)
	}
	return nil
}

// Config tunes a Cache. Zero values fall back to production defaults.
type Config struct {
	// TokenURL is the issuer base; the tenant and /oauth2/v2.0/token are appended.
	TokenURL string
	Caller   remote.Caller
	Now      func() time.Time
	Logger   *zap.SugaredLogger
}

func (c Config) withDefaults() Config {
	if c.TokenURL == "" {
		c.TokenURL = "https://login.microsoftonline.com"
	}
	if c.Caller == nil {
		c.Caller = remote.NewHTTPCaller(nil)
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
	return c
}

type cachedToken struct {
	value  string
	expiry time.Time
}

// Cache holds the current token for one credential set.
type Cache struct {
	creds   CredentialSet
	cfg     Config
	current atomic.Pointer[cachedToken]
}

// NewCache returns an empty cache for creds.
func NewCache(creds CredentialSet, cfg Config) *Cache {
	return &Cache{creds: creds, cfg: cfg.withDefaults()}
}

// Credentials returns the set this cache serves.
func (c *Cache) Credentials() CredentialSet { return c.creds }

// GetToken returns a token valid for at least SafetyMargin, exchanging the
// client credentials when needed. A failed exchange leaves the cache as it
// was.
func (c *Cache) GetToken(ctx context.Context) (string, error) {
	now := c.cfg.Now()
	if tok := c.current.Load(); tok != nil && now.Before(tok.expiry.Add(-SafetyMargin)) {
		return tok.value, nil
	}
	if err := c.creds.Validate(); err != nil {
		return "", err
	}

	tok, err := c.exchange(ctx, now)
	if err != nil {
		obs.CountTokenExchange("error")
		c.cfg.Logger.Warnw("token exchange failed", "tenant", c.creds.TenantID, "client_id", c.creds.ClientID, "error", err)
		return "", err
	}
	c.current.Store(tok)
	obs.CountTokenExchange("ok")
	c.cfg.Logger.Infow("token refreshed", "tenant", c.creds.TenantID, "client_id", c.creds.ClientID, "expires_at", tok.expiry)
	return tok.value, nil
}

type tokenResponse struct {
	AccessToken      string          `json:"access_token"`
	ExpiresIn        json.RawMessage `json:"expires_in"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

func (c *Cache) exchange(ctx context.Context, now time.Time) (*cachedToken, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("scope", c.creds.Scope)
	form.Set("client_id", c.creds.ClientID)
	form.Set("client_secret", c.creds.ClientSecret)

	res, err := c.cfg.Caller.Do(ctx, remote.Request{
		BaseURL: c.cfg.TokenURL,
		Method:  http.MethodPost,
		Path:    "/" + url.PathEscape(c.creds.TenantID) + "/oauth2/v2.0/token",
		Header:  http.Header{"Content-Type": []string{"application/x-www-form-urlencoded"}},
		Body:    []byte(form.Encode()),
		Timeout: ExchangeTimeout,
	})
	if err != nil {
		return nil, errs.Mark(err, errs.ErrUpstreamAuth)
	}

	var parsed tokenResponse
	_ = json.Unmarshal(res.Body, &parsed)
	if !ok2xx(res.Status) || parsed.AccessToken == "" {
		return nil, errs.UpstreamAuth(reason(parsed, res.Status))
	}
	lifetime, err := parseExpiresIn(parsed.ExpiresIn)
	if err != nil {
		return nil, errs.UpstreamAuth("invalid expires_in")
	}
	return &cachedToken{value: parsed.AccessToken, expiry: now.Add(lifetime)}, nil
}

func reason(r tokenResponse, status int) string {
	switch {
	case r.ErrorDescription != "":
		return r.ErrorDescription
	case r.Error != "":
		return r.Error
	case !ok2xx(status):
		return "HTTP " + strconv.Itoa(status)
	default:
		return "response missing access_token"
	}
}

func ok2xx(status int) bool { return status >= 200 && status < 300 }

// parseExpiresIn accepts both the numeric and the quoted form some issuers emit.
func parseExpiresIn(raw json.RawMessage) (time.Duration, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" {
		return 0, errs.New("expires_in missing")
	}
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs) * time.Second, nil
}

// Registry hands out one Cache per distinct credential set.
type Registry struct {
	cfg    Config
	mu     sync.Mutex
	caches map[CredentialSet]*Cache
}

// NewRegistry creates caches lazily with cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg.withDefaults(), caches: make(map[CredentialSet]*Cache)}
}

// For returns the shared cache for creds, creating it on first use.
func (r *Registry) For(creds CredentialSet) *Cache {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.caches[creds]; ok {
		return c
	}
	c := NewCache(creds, r.cfg)
	r.caches[creds] = c
	return c
}
