// Package auth owns the device session: the persisted token pair and the
// single-flight refresh coordinator that recovers from access expiry.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"callagent/internal/kvstore"

	"github.com/golang-jwt/jwt/v5"
)

const (
	keyAccessToken  = "access_token"
	keyRefreshToken = "refresh_token"
	keyDeviceID     = "device_id"
	keyLastStatus   = "last_status"
)

// ErrNoCredentials signals the device has no usable session and must be
// re-authenticated by a human.
var ErrNoCredentials = errors.New("auth: no credentials")

// Credentials persists the session over a key-value store.
// Writes go through the refresh coordinator's lock; reads are safe anywhere.
type Credentials struct {
	kv kvstore.Store
}

func NewCredentials(kv kvstore.Store) *Credentials {
	return &Credentials{kv: kv}
}

func (c *Credentials) AccessToken(ctx context.Context) (string, error) {
	return c.get(ctx, keyAccessToken)
}

func (c *Credentials) RefreshToken(ctx context.Context) (string, error) {
	return c.get(ctx, keyRefreshToken)
}

func (c *Credentials) DeviceID(ctx context.Context) (string, error) {
	return c.get(ctx, keyDeviceID)
}

func (c *Credentials) get(ctx context.Context, key string) (string, error) {
	v, err := c.kv.Get(ctx, key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return "", ErrNoCredentials
	}
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", ErrNoCredentials
	}
	return v, nil
}

func (c *Credentials) SetAccessToken(ctx context.Context, token string) error {
	return c.kv.Set(ctx, keyAccessToken, token)
}

// SetSession stores a full session, as produced by initial enrollment.
func (c *Credentials) SetSession(ctx context.Context, accessToken, refreshToken, deviceID string) error {
	if err := c.kv.Set(ctx, keyAccessToken, accessToken); err != nil {
		return err
	}
	if err := c.kv.Set(ctx, keyRefreshToken, refreshToken); err != nil {
		return err
	}
	return c.kv.Set(ctx, keyDeviceID, deviceID)
}

// SetDeviceID persists the device identity. Written once at first boot;
// it survives ClearTokens so the device keeps its identity across
// re-authentication.
func (c *Credentials) SetDeviceID(ctx context.Context, id string) error {
	return c.kv.Set(ctx, keyDeviceID, id)
}

// ClearTokens removes both tokens in one atomic step.
func (c *Credentials) ClearTokens(ctx context.Context) error {
	return c.kv.DeleteMany(ctx, keyAccessToken, keyRefreshToken)
}

func (c *Credentials) SetLastStatus(ctx context.Context, status string) error {
	return c.kv.Set(ctx, keyLastStatus, status)
}

func (c *Credentials) LastStatus(ctx context.Context) (string, error) {
	return c.get(ctx, keyLastStatus)
}

// AccessTokenExpiry reads the exp claim of the stored access token without
// verifying the signature; the device holds no verification key and only
// needs the timestamp to refresh ahead of expiry.
func (c *Credentials) AccessTokenExpiry(ctx context.Context) (time.Time, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return time.Time{}, err
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("auth: parse access token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("auth: access token has no exp claim")
	}
	return exp.Time, nil
}

// ExpiresWithin reports whether the access token expires inside d.
// Unparseable or missing tokens count as expiring, which routes the next
// request through a refresh.
func (c *Credentials) ExpiresWithin(ctx context.Context, now time.Time, d time.Duration) bool {
	exp, err := c.AccessTokenExpiry(ctx)
	if err != nil {
		return true
	}
	return !exp.After(now.Add(d))
}
