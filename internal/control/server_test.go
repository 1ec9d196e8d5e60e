package control

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jawad360/phone-detox/internal/domain"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// fakeController records every call made by the API.
type fakeController struct {
	mu         sync.Mutex
	monitoring bool
	apps       []string
	patches    map[string]domain.AppConfigPatch
	cooldowns  map[string]time.Time
	responses  []domain.PromptResponse
	sessions   map[string]*domain.Session
	statusErr  error
}

func newFakeController() *fakeController {
	return &fakeController{
		patches:   make(map[string]domain.AppConfigPatch),
		cooldowns: make(map[string]time.Time),
		sessions:  make(map[string]*domain.Session),
	}
}

func (f *fakeController) StartMonitoring() { f.mu.Lock(); f.monitoring = true; f.mu.Unlock() }
func (f *fakeController) StopMonitoring()  { f.mu.Lock(); f.monitoring = false; f.mu.Unlock() }

func (f *fakeController) UpdateMonitoredApps(appIDs []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apps = appIDs
}

func (f *fakeController) UpdateAppConfig(appID string, patch domain.AppConfigPatch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches[appID] = patch
}

func (f *fakeController) SetCooldownEnd(appID string, end time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cooldowns[appID] = end
}

func (f *fakeController) ResolvePrompt(resp domain.PromptResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, resp)
}

func (f *fakeController) ActiveSession(appID string) *domain.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[appID]
}

func (f *fakeController) Status(ctx context.Context) (domain.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return domain.Status{}, f.statusErr
	}
	return domain.Status{Monitoring: f.monitoring, Monitored: f.apps, Blocked: []string{}}, nil
}

func (f *fakeController) responseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.responses)
}

// locked runs fn under the controller's lock.
func (f *fakeController) locked(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn()
}

type fakeUsage struct {
	mu     sync.Mutex
	events []domain.UsageEvent
}

func (u *fakeUsage) Record(ev domain.UsageEvent) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.events = append(u.events, ev)
}

type testEnv struct {
	ctrl   *fakeController
	usage  *fakeUsage
	hub    *Hub
	server *httptest.Server
	client *Client
	now    time.Time
}

func newTestEnv(t *testing.T, token string) *testEnv {
	t.Helper()
	env := &testEnv{
		ctrl:  newFakeController(),
		usage: &fakeUsage{},
		hub:   NewHub(HubConfig{InboundRate: 100, InboundBurst: 100}, zap.NewNop()),
		now:   time.UnixMilli(1_700_000_000_000),
	}
	srv := NewServer(ServerConfig{Token: token}, env.ctrl, env.usage, env.hub, fixedClock{env.now}, zap.NewNop())
	env.server = newHTTPTestServer(t, srv)
	env.client = NewClient(env.server.URL, token)
	return env
}

func newHTTPTestServer(t *testing.T, srv *Server) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
		ts.Close()
	})
	return ts
}

func TestServer_MonitoringToggle(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()

	require.NoError(t, env.client.StartMonitoring(ctx))
	st, err := env.client.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Monitoring)

	require.NoError(t, env.client.StopMonitoring(ctx))
	st, err = env.client.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Monitoring)
}

func TestServer_AppsConfigAndCooldown(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()

	require.NoError(t, env.client.SetMonitoredApps(ctx, []string{"steam", "discord"}))
	stop := domain.BehaviorStop
	minutes := 45
	require.NoError(t, env.client.UpdateAppConfig(ctx, "steam", domain.AppConfigPatch{Behavior: &stop, CooldownMinutes: &minutes}))
	end := time.UnixMilli(1_700_000_600_000)
	require.NoError(t, env.client.SetCooldownEnd(ctx, "steam", end))

	env.ctrl.locked(func() {
		assert.Equal(t, []string{"steam", "discord"}, env.ctrl.apps)

		patch := env.ctrl.patches["steam"]
		require.NotNil(t, patch.Behavior)
		assert.Equal(t, domain.BehaviorStop, *patch.Behavior)
		assert.Equal(t, 45, *patch.CooldownMinutes)

		assert.True(t, end.Equal(env.ctrl.cooldowns["steam"]))
	})
}

func TestServer_SetAppsEmptyListClears(t *testing.T) {
	env := newTestEnv(t, "")
	require.NoError(t, env.client.SetMonitoredApps(context.Background(), nil))
	env.ctrl.locked(func() {
		assert.NotNil(t, env.ctrl.apps)
		assert.Empty(t, env.ctrl.apps)
	})
}

func TestServer_Validation(t *testing.T) {
	env := newTestEnv(t, "")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"apps missing", http.MethodPut, "/v1/apps", `{}`, http.StatusBadRequest},
		{"bad json", http.MethodPut, "/v1/apps", `{"apps":`, http.StatusBadRequest},
		{"unknown field", http.MethodPut, "/v1/apps", `{"apps":[],"extra":1}`, http.StatusBadRequest},
		{"bad behavior", http.MethodPatch, "/v1/apps/steam/config", `{"behavior":"maybe"}`, http.StatusBadRequest},
		{"empty patch", http.MethodPatch, "/v1/apps/steam/config", `{}`, http.StatusBadRequest},
		{"legacy cooldown field", http.MethodPatch, "/v1/apps/steam/config", `{"coolingPeriodMinutes":5}`, http.StatusAccepted},
		{"cooldown without end", http.MethodPut, "/v1/apps/steam/cooldown", `{}`, http.StatusBadRequest},
		{"usage without type", http.MethodPost, "/v1/usage-events", `{"appId":"steam"}`, http.StatusBadRequest},
		{"wrong method", http.MethodGet, "/v1/monitoring/start", ``, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, env.server.URL+tt.path, strings.NewReader(tt.body))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestServer_SessionLookup(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()
	env.ctrl.locked(func() {
		env.ctrl.sessions["steam"] = &domain.Session{AppID: "steam", StartTime: env.now, RequestedMinutes: 15, Behavior: domain.BehaviorAsk}
	})

	sess, err := env.client.ActiveSession(ctx, "steam")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, 15, sess.RequestedMinutes)

	none, err := env.client.ActiveSession(ctx, "discord")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestServer_UsageEventDefaultsToNow(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()

	require.NoError(t, env.client.RecordUsage(ctx, domain.UsageEvent{AppID: "steam", Type: domain.UsageMovedToForeground}))
	at := env.now.Add(-time.Second)
	require.NoError(t, env.client.RecordUsage(ctx, domain.UsageEvent{AppID: "steam", Type: domain.UsageMovedToBackground, Time: at}))

	env.usage.mu.Lock()
	defer env.usage.mu.Unlock()
	require.Len(t, env.usage.events, 2)
	assert.True(t, env.now.Equal(env.usage.events[0].Time))
	assert.True(t, at.Equal(env.usage.events[1].Time))
}

func TestServer_PromptResponseUsesPathID(t *testing.T) {
	env := newTestEnv(t, "")
	require.NoError(t, env.client.RespondToPrompt(context.Background(), domain.PromptResponse{PromptID: "p-1", AppID: "steam", Minutes: 10}))

	env.ctrl.locked(func() {
		require.Len(t, env.ctrl.responses, 1)
		assert.Equal(t, "p-1", env.ctrl.responses[0].PromptID)
		assert.Equal(t, 10, env.ctrl.responses[0].Minutes)
	})
}

func TestServer_StatusUnavailable(t *testing.T) {
	env := newTestEnv(t, "")
	env.ctrl.locked(func() { env.ctrl.statusErr = errors.New("loop stopped") })

	_, err := env.client.Status(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
}

func TestServer_TokenAuth(t *testing.T) {
	env := newTestEnv(t, "s3cret")
	ctx := context.Background()

	require.NoError(t, env.client.StartMonitoring(ctx), "bearer token accepted")

	anon := NewClient(env.server.URL, "")
	err := anon.StartMonitoring(ctx)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	resp, err := http.Post(env.server.URL+"/v1/monitoring/stop?token=s3cret", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "query token accepted")

	resp, err = http.Get(env.server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health is open")
}

func TestServer_Metrics(t *testing.T) {
	env := newTestEnv(t, "")
	resp, err := http.Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("  Bearer   abc "))
	assert.Equal(t, "", bearerToken("Basic abc"))
	assert.Equal(t, "", bearerToken(""))
}
