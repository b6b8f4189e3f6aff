package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"callagent/internal/api"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrSessionInvalid means the refresh token was definitively rejected
	// and credentials were cleared. The owning process must stop making
	// authenticated calls until a human re-authenticates.
	ErrSessionInvalid = errors.New("auth: session invalid, re-authentication required")

	// ErrRefreshUnavailable means refresh failed for a transient reason
	// (network blip, 5xx, or a rejection right after a successful refresh).
	// Credentials are kept; callers should retry later.
	ErrRefreshUnavailable = errors.New("auth: refresh temporarily unavailable")
)

// successGrace is how recently a refresh must have succeeded for a
// definitive rejection to be treated as transient instead of fatal. A
// rejection seconds after a legitimate login is far more likely a server
// hiccup than a revoked session.
const successGrace = time.Hour

// RefreshFunc performs the network refresh call. api.ErrRefreshRejected
// marks a definitive rejection; anything else is transient.
type RefreshFunc func(ctx context.Context, refreshToken string) (string, error)

// Coordinator guarantees at most one in-flight refresh process-wide.
// Concurrent callers share the result of the one network call.
// It implements api.TokenSource.
type Coordinator struct {
	creds   *Credentials
	refresh RefreshFunc
	log     *slog.Logger

	sf singleflight.Group

	mu          sync.Mutex
	lastSuccess time.Time
	failures    int

	clock func() time.Time
}

func NewCoordinator(creds *Credentials, refresh RefreshFunc, log *slog.Logger) *Coordinator {
	return &Coordinator{
		creds:   creds,
		refresh: refresh,
		log:     log,
		clock:   time.Now,
	}
}

// AccessToken returns the currently persisted access token.
func (c *Coordinator) AccessToken(ctx context.Context) (string, error) {
	return c.creds.AccessToken(ctx)
}

// Refresh obtains a new access token. Callers arriving while a refresh is
// in flight wait for and share that refresh's result.
func (c *Coordinator) Refresh(ctx context.Context) (string, error) {
	v, err, _ := c.sf.Do("refresh", func() (any, error) {
		return c.doRefresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Coordinator) doRefresh(ctx context.Context) (string, error) {
	refreshToken, err := c.creds.RefreshToken(ctx)
	if err != nil {
		if errors.Is(err, ErrNoCredentials) {
			return "", ErrSessionInvalid
		}
		return "", fmt.Errorf("%w: %v", ErrRefreshUnavailable, err)
	}

	access, err := c.refresh(ctx, refreshToken)
	if err == nil {
		if err := c.creds.SetAccessToken(ctx, access); err != nil {
			return "", fmt.Errorf("%w: persist access token: %v", ErrRefreshUnavailable, err)
		}
		c.mu.Lock()
		c.lastSuccess = c.clock()
		c.failures = 0
		c.mu.Unlock()
		c.log.Debug("access token refreshed")
		return access, nil
	}

	if errors.Is(err, api.ErrRefreshRejected) {
		c.mu.Lock()
		recent := !c.lastSuccess.IsZero() && c.clock().Sub(c.lastSuccess) < successGrace
		c.failures++
		failures := c.failures
		c.mu.Unlock()

		if recent {
			c.log.Warn("refresh rejected shortly after a success, treating as transient", "failures", failures)
			return "", fmt.Errorf("%w: rejected after recent success", ErrRefreshUnavailable)
		}
		c.log.Error("refresh token rejected, clearing credentials")
		if cerr := c.creds.ClearTokens(ctx); cerr != nil {
			c.log.Error("failed to clear credentials", "err", cerr)
		}
		return "", ErrSessionInvalid
	}

	c.mu.Lock()
	c.failures++
	failures := c.failures
	c.mu.Unlock()
	c.log.Warn("refresh failed, keeping credentials", "err", err, "failures", failures)
	return "", fmt.Errorf("%w: %v", ErrRefreshUnavailable, err)
}

// FailureCount is exposed for the diagnostics surface.
func (c *Coordinator) FailureCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}
