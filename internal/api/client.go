// Package api implements the client side of the command backend's HTTP
// contract: command pull, outcome submission (with legacy fallback), token
// refresh and the best-effort heartbeat/telemetry/log endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	EndpointPull      = "/calls/pull"
	EndpointOutcome   = "/calls/update"
	EndpointRefresh   = "/token/refresh"
	EndpointHeartbeat = "/device/heartbeat"
	EndpointTelemetry = "/device/telemetry"
	EndpointLogs      = "/device/logs"
)

const maxResponseBytes = 1 << 20

// TokenSource supplies the current access token and recovers from
// authorization expiry. Refresh is expected to be single-flight.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

type Client struct {
	baseURL  string
	http     *http.Client
	deviceID string
	tokens   TokenSource
	log      *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, deviceID string, log *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: timeout},
		deviceID: deviceID,
		log:      log,
	}
}

// SetTokenSource wires the refresh coordinator in after construction; the
// coordinator itself needs this client's RefreshToken to do its work.
func (c *Client) SetTokenSource(ts TokenSource) {
	c.tokens = ts
}

// PullCommand asks the server for a pending call command.
// A nil Command with nil error means "no command right now"; that includes
// empty 200/204 bodies and malformed payloads, which are logged and treated
// as empty so the loop never dies on a parse error.
func (c *Client) PullCommand(ctx context.Context) (*Command, error) {
	u := c.baseURL + EndpointPull + "?device_id=" + url.QueryEscape(c.deviceID)
	status, body, err := c.doAuthed(ctx, "pull", http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent || len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var cmd Command
	if err := json.Unmarshal(body, &cmd); err != nil {
		c.log.Warn("pull returned malformed payload, treating as empty", "err", err)
		return nil, nil
	}
	if strings.TrimSpace(cmd.Phone) == "" || strings.TrimSpace(cmd.ID) == "" {
		return nil, nil
	}
	return &cmd, nil
}

// SubmitOutcome reports a finalized call outcome.
func (c *Client) SubmitOutcome(ctx context.Context, p OutcomePayload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.SubmitOutcomeBody(ctx, body)
}

// SubmitOutcomeBody posts a serialized outcome. If the server rejects the
// extended fields (400/415/422), the legacy subset is resubmitted once.
// The outbox flusher uses this entry point so queued payloads stay verbatim
// while still getting the fallback.
func (c *Client) SubmitOutcomeBody(ctx context.Context, body []byte) error {
	_, _, err := c.doAuthed(ctx, "submit outcome", http.MethodPost, c.baseURL+EndpointOutcome, body)
	var pe *PermanentError
	if errors.As(err, &pe) && isExtendedFieldRejection(pe.Status) {
		var p OutcomePayload
		if uerr := json.Unmarshal(body, &p); uerr != nil {
			return err
		}
		legacyBody, merr := json.Marshal(p.legacy())
		if merr != nil {
			return err
		}
		c.log.Info("server rejected extended outcome fields, resubmitting legacy subset",
			"call_request_id", p.CallRequestID, "status", pe.Status)
		_, _, err = c.doAuthed(ctx, "submit outcome legacy", http.MethodPost, c.baseURL+EndpointOutcome, legacyBody)
	}
	return err
}

func isExtendedFieldRejection(status int) bool {
	switch status {
	case http.StatusBadRequest, http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
		return true
	default:
		return false
	}
}

// Heartbeat posts the periodic device status report.
func (c *Client) Heartbeat(ctx context.Context, p HeartbeatPayload) error {
	return c.postJSON(ctx, "heartbeat", EndpointHeartbeat, p)
}

// Telemetry posts a telemetry batch.
func (c *Client) Telemetry(ctx context.Context, payload any) error {
	return c.postJSON(ctx, "telemetry", EndpointTelemetry, payload)
}

// LogBundle posts buffered log records.
func (c *Client) LogBundle(ctx context.Context, payload any) error {
	return c.postJSON(ctx, "log bundle", EndpointLogs, payload)
}

// SubmitRaw redelivers a queued outbox payload verbatim to its endpoint.
func (c *Client) SubmitRaw(ctx context.Context, endpoint string, body []byte) error {
	_, _, err := c.doAuthed(ctx, "outbox "+endpoint, http.MethodPost, c.baseURL+endpoint, body)
	return err
}

func (c *Client) postJSON(ctx context.Context, op, endpoint string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, _, err = c.doAuthed(ctx, op, http.MethodPost, c.baseURL+endpoint, body)
	return err
}

// RefreshToken exchanges the refresh token for a new access token.
// It is the one authenticated-path request that does not carry bearer auth.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (string, error) {
	body, err := json.Marshal(refreshRequest{Refresh: refreshToken})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+EndpointRefresh, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &TransientError{Op: "refresh", Err: err}
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var rr refreshResponse
		if err := json.Unmarshal(respBody, &rr); err != nil {
			return "", &TransientError{Op: "refresh", Err: fmt.Errorf("malformed response: %w", err)}
		}
		if rr.Access == "" {
			return "", &TransientError{Op: "refresh", Err: errors.New("empty access token in response")}
		}
		return rr.Access, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", ErrRefreshRejected
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &RateLimitedError{RetryAfter: retryAfter(resp)}
	default:
		return "", &TransientError{Op: "refresh", Status: resp.StatusCode}
	}
}

// doAuthed performs a bearer-authenticated request. On a 401 it asks the
// token source to refresh and retries the original request exactly once
// with the new token; a second 401 surfaces as ErrUnauthorized.
func (c *Client) doAuthed(ctx context.Context, op, method, u string, body []byte) (int, []byte, error) {
	if c.tokens == nil {
		return 0, nil, fmt.Errorf("api: %s: no token source configured", op)
	}
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("api: %s: %w", op, err)
	}

	status, respBody, err := c.do(ctx, op, method, u, body, token)
	if err != nil || status != http.StatusUnauthorized {
		return status, respBody, err
	}

	token, err = c.tokens.Refresh(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("api: %s: %w", op, err)
	}
	status, respBody, err = c.do(ctx, op, method, u, body, token)
	if err == nil && status == http.StatusUnauthorized {
		return status, respBody, fmt.Errorf("api: %s: %w", op, ErrUnauthorized)
	}
	return status, respBody, err
}

// do executes one request and classifies the response. A 401 is returned
// with a nil error so doAuthed can run the refresh-and-retry cycle.
func (c *Client) do(ctx context.Context, op, method, u string, body []byte, token string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, &TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp.StatusCode, respBody, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return resp.StatusCode, respBody, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return resp.StatusCode, respBody, &RateLimitedError{RetryAfter: retryAfter(resp)}
	case resp.StatusCode >= 500:
		return resp.StatusCode, respBody, &TransientError{Op: op, Status: resp.StatusCode}
	default:
		return resp.StatusCode, respBody, &PermanentError{Op: op, Status: resp.StatusCode}
	}
}

func retryAfter(resp *http.Response) time.Duration {
	v := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
