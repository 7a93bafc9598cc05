package remote_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/nonibytes/docsync/syncsvc/remote"
)

func TestHTTP_StaticToken(t *testing.T) {
	var gotAuth, gotPath string
	var gotReq remote.PushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"synchronized":[{"localId":"l1","serverId":"s1"}]}`))
	}))
	defer srv.Close()

	c, err := remote.NewHTTP(remote.HTTPOptions{BaseURL: srv.URL + "/", Token: "static"})
	require.NoError(t, err)

	resp, err := c.Push(context.Background(), remote.PushRequest{Changes: []remote.Change{
		{LocalID: "l1", Data: map[string]any{"title": "x"}},
	}})
	require.NoError(t, err)
	assert.Equal(t, "Bearer static", gotAuth)
	assert.Equal(t, remote.PushPath, gotPath)
	assert.Equal(t, "l1", gotReq.Changes[0].LocalID)
	assert.Equal(t, []remote.Ack{{LocalID: "l1", ServerID: "s1"}}, resp.Synchronized)
}

func TestNewHTTP_SecretNeedsSubject(t *testing.T) {
	_, err := remote.NewHTTP(remote.HTTPOptions{BaseURL: "http://authority", JWTSecret: []byte("k")})
	assert.ErrorContains(t, err, "subject")
}

func TestHTTP_MintsJWT(t *testing.T) {
	secret := []byte("k")
	var subject string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		claims, err := remote.VerifyToken(secret, token)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		subject = claims.Subject
		w.Write([]byte(`{"items":[{"id":"s1","title":"a"}]}`))
	}))
	defer srv.Close()

	c, err := remote.NewHTTP(remote.HTTPOptions{BaseURL: srv.URL, JWTSecret: secret, Subject: "device-7"})
	require.NoError(t, err)
	resp, err := c.Pull(context.Background(), remote.PullRequest{BatchSize: 10})
	require.NoError(t, err)
	assert.Equal(t, "device-7", subject)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "s1", resp.Items[0]["id"])
}

func TestHTTP_ErrorsAreReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == remote.PullPath {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	c, err := remote.NewHTTP(remote.HTTPOptions{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Pull(context.Background(), remote.PullRequest{})
	var se *remote.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Equal(t, "overloaded", se.Body)

	_, err = c.Push(context.Background(), remote.PushRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

func TestHTTP_RateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"items":[]}`))
	}))
	defer srv.Close()

	c, err := remote.NewHTTP(remote.HTTPOptions{
		BaseURL: srv.URL,
		Limiter: rate.NewLimiter(rate.Every(time.Hour), 1),
	})
	require.NoError(t, err)

	_, err = c.Pull(context.Background(), remote.PullRequest{})
	require.NoError(t, err, "the first request uses the burst")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Pull(ctx, remote.PullRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}

func TestNewHTTP_RequiresBaseURL(t *testing.T) {
	_, err := remote.NewHTTP(remote.HTTPOptions{})
	assert.Error(t, err)
}

func TestVerifyToken(t *testing.T) {
	secret := []byte("k")
	now := time.Now()

	tok, err := remote.MintToken(secret, "me", now, time.Minute)
	require.NoError(t, err)
	claims, err := remote.VerifyToken(secret, tok)
	require.NoError(t, err)
	assert.Equal(t, "me", claims.Subject)

	expired, err := remote.MintToken(secret, "me", now.Add(-time.Hour), time.Minute)
	require.NoError(t, err)
	_, err = remote.VerifyToken(secret, expired)
	assert.Error(t, err)

	_, err = remote.VerifyToken([]byte("other"), tok)
	assert.Error(t, err)

	anon, err := remote.MintToken(secret, "", now, time.Minute)
	require.NoError(t, err)
	_, err = remote.VerifyToken(secret, anon)
	assert.Error(t, err)
}
