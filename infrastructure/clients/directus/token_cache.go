package directus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"smm-publisher/domain/model"
	"smm-publisher/infrastructure/logger"

	"golang.org/x/oauth2"
)

const (
	defaultTokenTTL  = 15 * time.Minute
	defaultTokenSkew = 30 * time.Second
	loginTimeout     = 15 * time.Second
)

var ErrNoCredentials = errors.New("directus: no token and no admin credentials configured")

// TokenCache holds the CMS access token and refreshes it through
// POST /auth/login once it is within skew of expiring. A static token is
// returned as is and never expires.
type TokenCache struct {
	mu     sync.Mutex
	token  *oauth2.Token
	static string

	baseURL  string
	email    string
	password string
	http     *http.Client

	skew time.Duration
	now  func() time.Time
}

func NewTokenCache(baseURL, staticToken, email, password string, httpClient *http.Client) *TokenCache {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: loginTimeout}
	}
	return &TokenCache{
		static:   staticToken,
		baseURL:  strings.TrimRight(baseURL, "/"),
		email:    email,
		password: password,
		http:     httpClient,
		skew:     defaultTokenSkew,
		now:      time.Now,
	}
}

// Token implements oauth2.TokenSource.
func (c *TokenCache) Token() (*oauth2.Token, error) {
	if c.static != "" {
		return &oauth2.Token{AccessToken: c.static, TokenType: "Bearer"}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != nil && c.now().Add(c.skew).Before(c.token.Expiry) {
		return c.token, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), loginTimeout)
	defer cancel()
	token, err := c.login(ctx)
	if err != nil {
		return nil, err
	}
	c.token = token
	return token, nil
}

// Invalidate drops a cached login token, typically after a 401.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = nil
	c.mu.Unlock()
}

// Refreshable reports whether Invalidate can lead to a different token.
func (c *TokenCache) Refreshable() bool {
	return c.static == ""
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Data struct {
		AccessToken string `json:"access_token"`
		// Expires is the token lifetime in milliseconds.
		Expires int64 `json:"expires"`
	} `json:"data"`
}

func (c *TokenCache) login(ctx context.Context) (*oauth2.Token, error) {
	if c.email == "" || c.password == "" {
		return nil, model.NewPublishError("", model.ErrorKindAuth, "", ErrNoCredentials)
	}
	body, err := json.Marshal(loginRequest{Email: c.email, Password: c.password})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directus login: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		// wrong admin credentials do not get better on retry
		return nil, model.NewPublishError("", model.ErrorKindAuth, fmt.Sprintf("directus login: status %d", resp.StatusCode), nil)
	default:
		return nil, fmt.Errorf("directus login: status %d", resp.StatusCode)
	}

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("directus login: decode: %w", err)
	}
	if out.Data.AccessToken == "" {
		return nil, errors.New("directus login: response without access_token")
	}
	ttl := time.Duration(out.Data.Expires) * time.Millisecond
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	logger.GetLogger().WithField("ttl", ttl.String()).Info("Directus admin token refreshed")
	return &oauth2.Token{
		AccessToken: out.Data.AccessToken,
		TokenType:   "Bearer",
		Expiry:      c.now().Add(ttl),
	}, nil
}
