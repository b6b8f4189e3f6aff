package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"callagent/internal/api"
	"callagent/internal/kvstore"

	"golang.org/x/sync/errgroup"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seededCreds(t *testing.T) *Credentials {
	t.Helper()
	creds := NewCredentials(kvstore.NewMemory())
	if err := creds.SetSession(context.Background(), "old-access", "refresh-1", "dev-1"); err != nil {
		t.Fatalf("SetSession: %v", err)
	}
	return creds
}

func TestRefreshSingleFlight(t *testing.T) {
	creds := seededCreds(t)
	var networkCalls atomic.Int64
	c := NewCoordinator(creds, func(ctx context.Context, refreshToken string) (string, error) {
		networkCalls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return "new-access", nil
	}, testLogger())

	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			token, err := c.Refresh(context.Background())
			if err != nil {
				return err
			}
			if token != "new-access" {
				return errors.New("wrong token: " + token)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := networkCalls.Load(); got != 1 {
		t.Fatalf("network calls = %d, want 1", got)
	}
	if access, _ := creds.AccessToken(context.Background()); access != "new-access" {
		t.Errorf("persisted access = %q, want new-access", access)
	}
}

func TestRefreshRejectionClearsCredentials(t *testing.T) {
	creds := seededCreds(t)
	c := NewCoordinator(creds, func(ctx context.Context, refreshToken string) (string, error) {
		return "", api.ErrRefreshRejected
	}, testLogger())

	_, err := c.Refresh(context.Background())
	if !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("err = %v, want ErrSessionInvalid", err)
	}
	if _, err := creds.AccessToken(context.Background()); !errors.Is(err, ErrNoCredentials) {
		t.Error("access token should be cleared after a definitive rejection")
	}
	if _, err := creds.RefreshToken(context.Background()); !errors.Is(err, ErrNoCredentials) {
		t.Error("refresh token should be cleared after a definitive rejection")
	}
	// device identity survives re-authentication
	if id, err := creds.DeviceID(context.Background()); err != nil || id != "dev-1" {
		t.Errorf("device id = (%q, %v), want dev-1 kept", id, err)
	}
}

func TestRefreshRejectionWithinGraceIsTransient(t *testing.T) {
	creds := seededCreds(t)
	c := NewCoordinator(creds, func(ctx context.Context, refreshToken string) (string, error) {
		return "", api.ErrRefreshRejected
	}, testLogger())

	now := time.Now()
	c.clock = func() time.Time { return now }
	c.mu.Lock()
	c.lastSuccess = now.Add(-time.Minute)
	c.mu.Unlock()

	_, err := c.Refresh(context.Background())
	if !errors.Is(err, ErrRefreshUnavailable) {
		t.Fatalf("err = %v, want ErrRefreshUnavailable", err)
	}
	if _, err := creds.RefreshToken(context.Background()); err != nil {
		t.Error("credentials must be kept when the rejection follows a recent success")
	}
}

func TestRefreshTransientFailureKeepsCredentials(t *testing.T) {
	creds := seededCreds(t)
	c := NewCoordinator(creds, func(ctx context.Context, refreshToken string) (string, error) {
		return "", &api.TransientError{Op: "refresh", Err: errors.New("dial tcp: timeout")}
	}, testLogger())

	for i := 1; i <= 3; i++ {
		_, err := c.Refresh(context.Background())
		if !errors.Is(err, ErrRefreshUnavailable) {
			t.Fatalf("err = %v, want ErrRefreshUnavailable", err)
		}
		// singleflight shares in-flight calls only; sequential calls each
		// hit the network
		if got := c.FailureCount(); got != i {
			t.Fatalf("failures = %d, want %d", got, i)
		}
	}
	if _, err := creds.RefreshToken(context.Background()); err != nil {
		t.Error("credentials must survive transient refresh failures")
	}
}

func TestRefreshWithoutRefreshTokenIsSessionInvalid(t *testing.T) {
	creds := NewCredentials(kvstore.NewMemory())
	c := NewCoordinator(creds, func(ctx context.Context, refreshToken string) (string, error) {
		t.Fatal("refresh must not hit the network without a refresh token")
		return "", nil
	}, testLogger())

	_, err := c.Refresh(context.Background())
	if !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("err = %v, want ErrSessionInvalid", err)
	}
}

func TestRefreshSuccessResetsFailureCount(t *testing.T) {
	creds := seededCreds(t)
	fail := true
	c := NewCoordinator(creds, func(ctx context.Context, refreshToken string) (string, error) {
		if fail {
			return "", &api.TransientError{Op: "refresh", Status: 503}
		}
		return "fresh", nil
	}, testLogger())

	_, _ = c.Refresh(context.Background())
	fail = false
	if _, err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := c.FailureCount(); got != 0 {
		t.Errorf("failures = %d, want 0 after success", got)
	}
}
