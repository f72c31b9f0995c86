package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func tokenServer(t *testing.T, hits *int32, delay time.Duration) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "id" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		n := atomic.AddInt32(hits, 1)
		time.Sleep(delay)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"tok-%d","expires_in":300}`, n)
	}))
}

func TestTokenIsCachedUntilRenewalWindow(t *testing.T) {
	var hits int32
	srv := tokenServer(t, &hits, 0)
	defer srv.Close()

	clock := &fakeClock{t: time.Date(2025, 11, 16, 12, 0, 0, 0, time.UTC)}
	m := NewTokenManager(srv.URL, " id ", "secret", WithClock(clock.Now))
	ctx := context.Background()

	tok, err := m.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	clock.Advance(269 * time.Second)
	tok, err = m.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	// 300s lifetime minus the 30s buffer
	clock.Advance(time.Second)
	tok, err = m.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestConcurrentCallersShareOneRenewal(t *testing.T) {
	var hits int32
	srv := tokenServer(t, &hits, 50*time.Millisecond)
	defer srv.Close()

	m := NewTokenManager(srv.URL, "id", "secret")
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := m.Token(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "tok-1", tok)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestCancelledCallerDoesNotFailSharedRenewal(t *testing.T) {
	var hits int32
	srv := tokenServer(t, &hits, 200*time.Millisecond)
	defer srv.Close()

	m := NewTokenManager(srv.URL, "id", "secret")
	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := m.Token(ctx)
		first <- err
	}()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&hits) == 1 }, time.Second, 5*time.Millisecond)

	second := make(chan string, 1)
	go func() {
		tok, err := m.Token(context.Background())
		assert.NoError(t, err)
		second <- tok
	}()
	cancel()

	assert.ErrorIs(t, <-first, context.Canceled)
	assert.Equal(t, "tok-1", <-second)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestMissingCredentials(t *testing.T) {
	m := NewTokenManager("http://unused", "", "secret")
	assert.False(t, m.Configured())
	_, err := m.Token(context.Background())
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestTokenFailure(t *testing.T) {
	var hits int32
	srv := tokenServer(t, &hits, 0)
	defer srv.Close()

	m := NewTokenManager(srv.URL, "id", "wrong")
	_, err := m.Token(context.Background())
	assert.Error(t, err)

	m = NewTokenManager(srv.URL, "id", "secret")
	_, err = m.Token(context.Background())
	require.NoError(t, err)
	m.Invalidate()
	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
}
