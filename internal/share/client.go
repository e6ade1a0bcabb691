// Package share implements the sharing protocol: inviting users to a timer
// over the request/response channel and handling the invitee's accept or
// reject decision. Invites deliberately bypass the persistent socket so they
// reach a push layer even when the invitee is offline.
package share

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hourglass-app/hourglass/internal/creds"
	"github.com/hourglass-app/hourglass/internal/observability"
	"github.com/hourglass-app/hourglass/internal/timer"
	"github.com/hourglass-app/hourglass/internal/wire"
)

// InviteResult is the partial outcome of one invite call. Some invitees may
// be unreachable while others succeed; the caller decides whether to retry
// the failed subset.
type InviteResult struct {
	Succeeded []string `json:"success"`
	Failed    []string `json:"failed"`
}

// Client talks to the coordinator's sharing endpoints with bearer auth.
type Client struct {
	baseURL string
	http    *http.Client
	source  creds.Source
}

// NewClient creates a sharing client for the coordinator at baseURL.
func NewClient(baseURL string, httpClient *http.Client, source creds.Source) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: baseURL, http: httpClient, source: source}
}

type inviteRequest struct {
	TimerID   string          `json:"timerId"`
	UserIDs   []string        `json:"userIds"`
	TimerData json.RawMessage `json:"timerData,omitempty"`
}

// Invite asks the coordinator to offer t to each user in userIDs. The timer
// snapshot rides along so the coordinator can build the invitation without a
// store round trip.
func (c *Client) Invite(ctx context.Context, t timer.TimerState, userIDs []string) (InviteResult, error) {
	snapshot, err := wire.Encode(wire.UpdateTimer{Reason: "share", ShareWith: userIDs, Timer: t})
	if err != nil {
		return InviteResult{}, fmt.Errorf("encode timer snapshot: %w", err)
	}
	body, err := json.Marshal(inviteRequest{TimerID: t.ID, UserIDs: userIDs, TimerData: snapshot})
	if err != nil {
		return InviteResult{}, fmt.Errorf("marshal invite request: %w", err)
	}

	data, err := c.do(ctx, http.MethodPost, "/timers/share", bytes.NewReader(body))
	if err != nil {
		return InviteResult{}, err
	}

	var result InviteResult
	if err := json.Unmarshal(data, &result); err != nil {
		return InviteResult{}, fmt.Errorf("unmarshal invite result: %w", err)
	}
	for range result.Succeeded {
		observability.RecordInvitation("sent")
	}
	for range result.Failed {
		observability.RecordInvitation("failed")
	}
	if len(result.Failed) > 0 {
		log.Warn().Str("timer_id", t.ID).Strs("failed", result.Failed).Msg("invite partially failed")
	}
	return result, nil
}

// ListInvitations fetches the invitations pending for the current user.
func (c *Client) ListInvitations(ctx context.Context) ([]timer.Invitation, error) {
	data, err := c.do(ctx, http.MethodGet, "/timers/shared", nil)
	if err != nil {
		return nil, err
	}
	return wire.DecodeInvitationList(data)
}

// Reject tells the coordinator the current user declined the invitation for
// timerID. Duplicate rejects are idempotent on the coordinator side, so
// at-least-once delivery is fine.
func (c *Client) Reject(ctx context.Context, timerID string) error {
	path := "/timers/shared?timerId=" + url.QueryEscape(timerID)
	_, err := c.do(ctx, http.MethodDelete, path, nil)
	return err
}

type deviceTokenRequest struct {
	DeviceID string `json:"deviceId"`
	Token    string `json:"token"`
}

// RegisterDeviceToken registers this device's push token so invites reach it
// while the persistent socket is down.
func (c *Client) RegisterDeviceToken(ctx context.Context, pushToken string) error {
	cred, err := c.source.Credential(ctx)
	if err != nil {
		return err
	}
	body, err := json.Marshal(deviceTokenRequest{DeviceID: cred.DeviceID, Token: pushToken})
	if err != nil {
		return fmt.Errorf("marshal device token request: %w", err)
	}
	_, err = c.do(ctx, http.MethodPost, "/devices/token", bytes.NewReader(body))
	return err
}

// do runs one authenticated request and returns the response body. A 401
// marks the credential stale and surfaces ErrCredentialExpired so the caller
// re-authenticates instead of retrying blindly.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	cred, err := c.source.Credential(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.Token)
	req.Header.Set("X-Device-ID", cred.DeviceID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.source.MarkStale(fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode))
		return nil, creds.ErrCredentialExpired
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}
	return data, nil
}
