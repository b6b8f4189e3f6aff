package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"callagent/internal/kvstore"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "dev-1",
		"exp": exp.Unix(),
	})
	s, err := token.SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestAccessTokenExpiry(t *testing.T) {
	creds := NewCredentials(kvstore.NewMemory())
	exp := time.Now().Add(10 * time.Minute).Truncate(time.Second)
	if err := creds.SetAccessToken(context.Background(), signedToken(t, exp)); err != nil {
		t.Fatalf("SetAccessToken: %v", err)
	}

	got, err := creds.AccessTokenExpiry(context.Background())
	if err != nil {
		t.Fatalf("AccessTokenExpiry: %v", err)
	}
	if !got.Equal(exp) {
		t.Errorf("expiry = %v, want %v", got, exp)
	}
}

func TestExpiresWithin(t *testing.T) {
	creds := NewCredentials(kvstore.NewMemory())
	now := time.Now()
	_ = creds.SetAccessToken(context.Background(), signedToken(t, now.Add(time.Minute)))

	if creds.ExpiresWithin(context.Background(), now, 30*time.Second) {
		t.Error("token with a minute left should not be expiring within 30s")
	}
	if !creds.ExpiresWithin(context.Background(), now, 2*time.Minute) {
		t.Error("token with a minute left expires within 2m")
	}
}

func TestExpiresWithinFailsClosed(t *testing.T) {
	creds := NewCredentials(kvstore.NewMemory())
	now := time.Now()

	// no token at all
	if !creds.ExpiresWithin(context.Background(), now, time.Second) {
		t.Error("missing token must count as expiring")
	}

	// unparseable token
	_ = creds.SetAccessToken(context.Background(), "not-a-jwt")
	if !creds.ExpiresWithin(context.Background(), now, time.Second) {
		t.Error("garbage token must count as expiring")
	}
}

func TestClearTokensKeepsDeviceID(t *testing.T) {
	creds := NewCredentials(kvstore.NewMemory())
	ctx := context.Background()
	if err := creds.SetSession(ctx, "a", "r", "dev-9"); err != nil {
		t.Fatalf("SetSession: %v", err)
	}
	if err := creds.ClearTokens(ctx); err != nil {
		t.Fatalf("ClearTokens: %v", err)
	}
	if _, err := creds.AccessToken(ctx); !errors.Is(err, ErrNoCredentials) {
		t.Error("access token should be gone")
	}
	if id, err := creds.DeviceID(ctx); err != nil || id != "dev-9" {
		t.Errorf("device id = (%q, %v), want dev-9", id, err)
	}
}
