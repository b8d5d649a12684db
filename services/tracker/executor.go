package tracker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/time/rate"

	"anisync/logger"
	"anisync/models"
)

const (
	// maxAttempts is the total call budget: the initial attempt plus retries
	// after a token refresh or a rate-limit backoff.
	maxAttempts = 3

	// initialRateLimitBackoff is the first 429 sleep; it doubles on every
	// subsequent 429 within one call.
	initialRateLimitBackoff = 5 * time.Second

	maxErrorBodyBytes = 512
)

// AuthStore supplies and persists per-user tracker credentials. The executor
// is the only engine-side writer, on the token-refresh path.
type AuthStore interface {
	AuthFor(userID string, provider models.Provider) (*models.ProviderAuth, error)
	SaveAuth(userID string, auth models.ProviderAuth) error
}

// TokenSource exchanges a refresh token for fresh credentials. The OAuth
// authorization-code flow lives with the host; only refresh-on-401 matters
// here.
type TokenSource interface {
	Refresh(ctx context.Context, provider models.Provider, refreshToken string) (*models.ProviderAuth, error)
}

// sentinel attempt outcomes that advance the retry loop.
var (
	errUnauthorized = errors.New("unauthorized after refresh")
	errRateLimited  = errors.New("rate limited")
)

// Executor issues authenticated tracker requests with per-provider
// self-throttling, refresh-on-401 and bounded rate-limit backoff. Callers
// receive an error on exhaustion and are expected to skip the item, never to
// abort the pass.
type Executor struct {
	httpc    *http.Client
	store    AuthStore
	tokens   TokenSource
	throttle *providerThrottle

	// timer drives both retry scheduling and 429 sleeps; tests swap it to
	// observe the backoff schedule.
	timer   retry.Timer
	backoff time.Duration
}

// NewExecutor creates an executor with production defaults: one call per
// second per provider and real sleeps.
func NewExecutor(store AuthStore, tokens TokenSource) *Executor {
	return &Executor{
		httpc:    &http.Client{Timeout: 30 * time.Second},
		store:    store,
		tokens:   tokens,
		throttle: newProviderThrottle(rate.Every(time.Second), 1),
		timer:    defaultTimer{},
		backoff:  initialRateLimitBackoff,
	}
}

type defaultTimer struct{}

func (defaultTimer) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// callState is the explicit retry state machine for one Call: attempt count,
// current 429 backoff and whether the single refresh has been spent.
type callState struct {
	attempt   int
	token     string
	backoff   time.Duration
	refreshed bool
}

// Call performs one authenticated request against a tracker and returns the
// response body. It fails with ErrNotAuthenticated when no credential is
// stored, refreshes the token once on 401, sleeps and doubles the backoff on
// 429, and treats any other non-2xx status as a terminal APIError.
func (e *Executor) Call(ctx context.Context, userID string, provider models.Provider, method, url string, body []byte, header map[string]string) ([]byte, error) {
	auth, err := e.store.AuthFor(userID, provider)
	if err != nil {
		return nil, fmt.Errorf("load auth: %w", err)
	}
	if auth == nil || auth.AccessToken == "" {
		return nil, ErrNotAuthenticated
	}

	if err := e.throttle.Wait(ctx, provider); err != nil {
		return nil, fmt.Errorf("throttle: %w", err)
	}

	state := &callState{token: auth.AccessToken, backoff: e.backoff}
	var payload []byte

	err = retry.Do(
		func() error {
			state.attempt++
			return e.attempt(ctx, state, userID, provider, auth, method, url, body, header, &payload)
		},
		retry.Attempts(maxAttempts),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.WithTimer(e.timer),
		// 429 sleeps happen inside the attempt so the final failed attempt
		// still waits out its backoff; the loop itself does not delay.
		retry.DelayType(func(uint, error, *retry.Config) time.Duration { return 0 }),
	)
	if err != nil {
		if errors.Is(err, errRateLimited) {
			// Budget exhausted on 429s: surfaced like any other API failure.
			return nil, &APIError{Provider: string(provider), Status: http.StatusTooManyRequests, Body: "retry budget exhausted"}
		}
		return nil, err
	}
	return payload, nil
}

func (e *Executor) attempt(ctx context.Context, state *callState, userID string, provider models.Provider, auth *models.ProviderAuth, method, url string, body []byte, header map[string]string, payload *[]byte) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	req.Header.Set("Authorization", "Bearer "+state.token)

	resp, err := e.httpc.Do(req)
	if err != nil {
		// Network failures consume an attempt and advance the loop.
		logger.Warnf("[executor] %s request failed (attempt %d/%d): %v", provider, state.attempt, maxAttempts, err)
		return fmt.Errorf("%s request: %w", provider, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Warnf("[executor] %s read body failed (attempt %d/%d): %v", provider, state.attempt, maxAttempts, err)
		return fmt.Errorf("%s read body: %w", provider, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		*payload = data
		return nil

	case resp.StatusCode == http.StatusUnauthorized:
		if state.refreshed {
			// The refreshed token was rejected too; re-authentication needed.
			return retry.Unrecoverable(ErrTokenRefreshFailed)
		}
		if auth.RefreshToken == "" {
			return retry.Unrecoverable(ErrTokenRefreshFailed)
		}
		fresh, err := e.tokens.Refresh(ctx, provider, auth.RefreshToken)
		if err != nil {
			logger.Errorf("[executor] %s token refresh failed: %v", provider, err)
			return retry.Unrecoverable(fmt.Errorf("%w: %v", ErrTokenRefreshFailed, err))
		}
		state.refreshed = true
		state.token = fresh.AccessToken
		fresh.Provider = provider
		if fresh.RefreshToken == "" {
			fresh.RefreshToken = auth.RefreshToken
		}
		if err := e.store.SaveAuth(userID, *fresh); err != nil {
			// The call can still proceed with the in-memory token.
			logger.Warnf("[executor] %s persist refreshed token failed: %v", provider, err)
		}
		logger.Infof("[executor] %s token refreshed, retrying", provider)
		return errUnauthorized

	case resp.StatusCode == http.StatusTooManyRequests:
		logger.Warnf("[executor] %s rate limited, backing off %s (attempt %d/%d)", provider, state.backoff, state.attempt, maxAttempts)
		e.sleep(ctx, state.backoff)
		state.backoff *= 2
		return errRateLimited

	default:
		apiErr := &APIError{Provider: string(provider), Status: resp.StatusCode, Body: truncate(data)}
		logger.Errorf("[executor] %v", apiErr)
		return retry.Unrecoverable(apiErr)
	}
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-e.timer.After(d):
	}
}

func truncate(body []byte) string {
	if len(body) > maxErrorBodyBytes {
		return string(body[:maxErrorBodyBytes]) + "..."
	}
	return string(body)
}
