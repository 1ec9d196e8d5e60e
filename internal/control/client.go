package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jawad360/phone-detox/internal/domain"
)

// Client talks to a running daemon's control server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for addr ("host:port" or a full http URL).
func NewClient(addr, token string) *Client {
	if addr == "" {
		addr = DefaultListen
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		baseURL: strings.TrimRight(addr, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// APIError is a non-2xx response from the daemon.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daemon returned %d %s: %s", e.Status, e.Code, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr apiErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &APIError{Status: resp.StatusCode, Code: apiErr.Error.Code, Message: apiErr.Error.Message}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// StartMonitoring enables foreground sampling.
func (c *Client) StartMonitoring(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/monitoring/start", nil, nil)
}

// StopMonitoring disables foreground sampling.
func (c *Client) StopMonitoring(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/monitoring/stop", nil, nil)
}

// SetMonitoredApps replaces the monitored set.
func (c *Client) SetMonitoredApps(ctx context.Context, appIDs []string) error {
	if appIDs == nil {
		appIDs = []string{}
	}
	return c.do(ctx, http.MethodPut, "/v1/apps", appsRequest{Apps: appIDs}, nil)
}

// UpdateAppConfig merges a partial config for appID.
func (c *Client) UpdateAppConfig(ctx context.Context, appID string, patch domain.AppConfigPatch) error {
	req := configRequest{CooldownMinutes: patch.CooldownMinutes}
	if patch.Behavior != nil {
		b := string(*patch.Behavior)
		req.Behavior = &b
	}
	return c.do(ctx, http.MethodPatch, "/v1/apps/"+url.PathEscape(appID)+"/config", req, nil)
}

// SetCooldownEnd records a cooldown end time for appID.
func (c *Client) SetCooldownEnd(ctx context.Context, appID string, end time.Time) error {
	ms := domain.ToMillis(end)
	return c.do(ctx, http.MethodPut, "/v1/apps/"+url.PathEscape(appID)+"/cooldown", cooldownRequest{EndTime: &ms}, nil)
}

// ActiveSession returns appID's session, or nil when there is none.
func (c *Client) ActiveSession(ctx context.Context, appID string) (*domain.Session, error) {
	var sess *domain.Session
	if err := c.do(ctx, http.MethodGet, "/v1/apps/"+url.PathEscape(appID)+"/session", nil, &sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// RecordUsage submits a usage event from an external foreground agent.
func (c *Client) RecordUsage(ctx context.Context, ev domain.UsageEvent) error {
	req := usageEventRequest{AppID: ev.AppID, Type: ev.Type}
	if !ev.Time.IsZero() {
		req.Time = domain.ToMillis(ev.Time)
	}
	return c.do(ctx, http.MethodPost, "/v1/usage-events", req, nil)
}

// RespondToPrompt answers a prompt.
func (c *Client) RespondToPrompt(ctx context.Context, resp domain.PromptResponse) error {
	return c.do(ctx, http.MethodPost, "/v1/prompts/"+url.PathEscape(resp.PromptID)+"/response", resp, nil)
}

// Status returns the daemon's current status.
func (c *Client) Status(ctx context.Context) (domain.Status, error) {
	var st domain.Status
	err := c.do(ctx, http.MethodGet, "/v1/status", nil, &st)
	return st, err
}

// Subscribe attaches to the websocket and calls fn for every message
// until ctx is canceled or the connection drops.
func (c *Client) Subscribe(ctx context.Context, fn func(Envelope)) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("websocket read: %w", err)
		}
		fn(env)
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/v1/ws"
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", wsURL, err)
	}
	return conn, nil
}
