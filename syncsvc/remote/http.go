package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	PullPath = "/sync/pull"
	PushPath = "/sync/push"
)

type HTTPOptions struct {
	BaseURL string
	// Token is sent as a static bearer token.
	Token string
	// JWTSecret, when set, mints a short-lived HS256 token per request
	// instead of Token.
	JWTSecret []byte
	Subject   string
	TokenTTL  time.Duration

	// Limiter throttles outgoing requests.
	Limiter *rate.Limiter
	// Base is the underlying transport. nil means http.DefaultTransport.
	Base    http.RoundTripper
	Timeout time.Duration
	Now     func() time.Time
}

// HTTP talks to an authority over JSON POST requests.
type HTTP struct {
	base    string
	client  *http.Client
	limiter *rate.Limiter
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote returned %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("remote returned %d: %s", e.Code, e.Body)
}

func NewHTTP(opts HTTPOptions) (*HTTP, error) {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		return nil, errors.New("remote: base URL is required")
	}
	if len(opts.JWTSecret) > 0 && opts.Subject == "" {
		return nil, errors.New("remote: a subject is required to sign tokens")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}

	var rt http.RoundTripper = opts.Base
	if rt == nil {
		rt = http.DefaultTransport
	}
	if src := tokenSource(opts); src != nil {
		rt = &oauth2.Transport{Source: src, Base: rt}
	}
	return &HTTP{
		base:    base,
		client:  &http.Client{Transport: rt, Timeout: opts.Timeout},
		limiter: opts.Limiter,
	}, nil
}

func tokenSource(opts HTTPOptions) oauth2.TokenSource {
	switch {
	case len(opts.JWTSecret) > 0:
		ttl := opts.TokenTTL
		if ttl <= 0 {
			ttl = 5 * time.Minute
		}
		return oauth2.ReuseTokenSource(nil, &jwtSource{
			secret:  opts.JWTSecret,
			subject: opts.Subject,
			ttl:     ttl,
			now:     opts.Now,
		})
	case opts.Token != "":
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token, TokenType: "Bearer"})
	}
	return nil
}

func (c *HTTP) Pull(ctx context.Context, req PullRequest) (PullResponse, error) {
	var out PullResponse
	err := c.post(ctx, PullPath, req, &out)
	return out, err
}

func (c *HTTP) Push(ctx context.Context, req PushRequest) (PushResponse, error) {
	var out PushResponse
	err := c.post(ctx, PushPath, req, &out)
	return out, err
}

func (c *HTTP) post(ctx context.Context, path string, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
