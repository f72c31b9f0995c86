// Package auth obtains and caches OAuth2 client-credentials tokens for the
// transit feed API.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// RenewalBuffer is how long before the advertised expiry a token is renewed.
const RenewalBuffer = 30 * time.Second

const defaultExpiresIn = 300

// renewTimeout bounds a shared renewal request.
const renewTimeout = 15 * time.Second

var ErrMissingCredentials = errors.New("CLIENT_ID or CLIENT_SECRET is not configured")

// TokenManager hands out a cached bearer token, renewing it before expiry.
// Concurrent callers share a single renewal request.
type TokenManager struct {
	authURL      string
	clientID     string
	clientSecret string
	client       *http.Client
	now          func() time.Time

	mu     sync.RWMutex
	token  string
	expiry time.Time

	renew singleflight.Group
}

type Option func(*TokenManager)

// WithClock injects the clock used for expiry checks.
func WithClock(now func() time.Time) Option { return func(m *TokenManager) { m.now = now } }

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(c *http.Client) Option { return func(m *TokenManager) { m.client = c } }

func NewTokenManager(authURL, clientID, clientSecret string, opts ...Option) *TokenManager {
	m := &TokenManager{
		authURL:      authURL,
		clientID:     strings.TrimSpace(clientID),
		clientSecret: strings.TrimSpace(clientSecret),
		client:       &http.Client{Timeout: 10 * time.Second},
		now:          time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Configured reports whether credentials are present.
func (m *TokenManager) Configured() bool {
	return m.clientID != "" && m.clientSecret != ""
}

// Token returns a valid access token, fetching a new one when the cached
// token is missing or inside the renewal window.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	if !m.Configured() {
		return "", ErrMissingCredentials
	}
	m.mu.RLock()
	tok, exp := m.token, m.expiry
	m.mu.RUnlock()
	if tok != "" && m.now().Before(exp) {
		return tok, nil
	}

	// The shared request outlives any single caller; each caller still
	// stops waiting when its own context ends.
	ch := m.renew.DoChan("token", func() (interface{}, error) {
		// another caller may have renewed while we waited
		m.mu.RLock()
		tok, exp := m.token, m.expiry
		m.mu.RUnlock()
		if tok != "" && m.now().Before(exp) {
			return tok, nil
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), renewTimeout)
		defer cancel()
		return m.obtain(rctx)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops the cached token, e.g. after the API answered 401.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	m.token = ""
	m.expiry = time.Time{}
	m.mu.Unlock()
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (m *TokenManager) obtain(ctx context.Context) (string, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(m.clientID, m.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return "", fmt.Errorf("token request failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	if tr.AccessToken == "" {
		return "", errors.New("token response without access_token")
	}
	if tr.ExpiresIn <= 0 {
		tr.ExpiresIn = defaultExpiresIn
	}
	exp := m.now().Add(time.Duration(tr.ExpiresIn)*time.Second - RenewalBuffer)

	m.mu.Lock()
	m.token = tr.AccessToken
	m.expiry = exp
	m.mu.Unlock()
	log.Printf("access token obtained (valid for %ds)", tr.ExpiresIn)
	return tr.AccessToken, nil
}
