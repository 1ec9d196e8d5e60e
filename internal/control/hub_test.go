package control

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jawad360/phone-detox/internal/domain"
)

func dialWS(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return env.hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func TestHub_ShowWithoutClients(t *testing.T) {
	hub := NewHub(HubConfig{}, zap.NewNop())
	err := hub.Show(domain.Prompt{ID: "p", AppID: "steam", Kind: domain.PromptTimeSelection})
	assert.ErrorIs(t, err, domain.ErrNoUIAttached)

	assert.NotPanics(t, func() {
		hub.Notify(domain.Event{Type: domain.EventSessionStarted, AppID: "steam"})
		hub.Dismiss(domain.Prompt{ID: "p"})
	})
}

func TestHub_BroadcastsToClient(t *testing.T) {
	env := newTestEnv(t, "")
	conn := dialWS(t, env)

	require.NoError(t, env.hub.Show(domain.Prompt{ID: "p-1", AppID: "steam", Kind: domain.PromptTimeSelection, Options: []int{5, 10}}))
	msg := readEnvelope(t, conn)
	assert.Equal(t, MessagePrompt, msg.Type)
	require.NotNil(t, msg.Prompt)
	assert.Equal(t, "p-1", msg.Prompt.ID)
	assert.Equal(t, []int{5, 10}, msg.Prompt.Options)

	env.hub.Notify(domain.Event{ID: "e-1", Type: domain.EventSessionStarted, AppID: "steam"})
	msg = readEnvelope(t, conn)
	assert.Equal(t, MessageEvent, msg.Type)
	require.NotNil(t, msg.Event)
	assert.Equal(t, domain.EventSessionStarted, msg.Event.Type)

	env.hub.Dismiss(domain.Prompt{ID: "p-1"})
	msg = readEnvelope(t, conn)
	assert.Equal(t, MessageDismiss, msg.Type)
}

func TestHub_ClientResponseReachesController(t *testing.T) {
	env := newTestEnv(t, "")
	conn := dialWS(t, env)

	require.NoError(t, conn.WriteJSON(Envelope{
		Type:     MessagePromptResponse,
		Response: &domain.PromptResponse{PromptID: "p-1", AppID: "steam", Minutes: 15},
	}))

	require.Eventually(t, func() bool { return env.ctrl.responseCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	env.ctrl.mu.Lock()
	defer env.ctrl.mu.Unlock()
	assert.Equal(t, 15, env.ctrl.responses[0].Minutes)
}

func TestHub_RejectsBadMessages(t *testing.T) {
	env := newTestEnv(t, "")
	conn := dialWS(t, env)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	msg := readEnvelope(t, conn)
	assert.Equal(t, MessageError, msg.Type)

	require.NoError(t, conn.WriteJSON(Envelope{Type: MessagePromptResponse}))
	msg = readEnvelope(t, conn)
	assert.Equal(t, MessageError, msg.Type)
	assert.Equal(t, 0, env.ctrl.responseCount())
}

func TestHub_InboundRateLimited(t *testing.T) {
	ctrl := newFakeController()
	hub := NewHub(HubConfig{InboundRate: 0.001, InboundBurst: 1}, zap.NewNop())
	env := &testEnv{ctrl: ctrl, hub: hub}
	srv := NewServer(ServerConfig{}, ctrl, &fakeUsage{}, hub, fixedClock{time.Now()}, zap.NewNop())
	env.server = newHTTPTestServer(t, srv)
	conn := dialWS(t, env)

	for i := 0; i < 3; i++ {
		require.NoError(t, conn.WriteJSON(Envelope{
			Type:     MessagePromptResponse,
			Response: &domain.PromptResponse{PromptID: "p", Minutes: i},
		}))
	}

	msg := readEnvelope(t, conn)
	assert.Equal(t, MessageError, msg.Type)
	assert.Equal(t, "rate limited", msg.Message)
	assert.Equal(t, 1, ctrl.responseCount())
}

func TestClient_Subscribe(t *testing.T) {
	env := newTestEnv(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Envelope, 1)
	done := make(chan error, 1)
	go func() {
		done <- env.client.Subscribe(ctx, func(e Envelope) {
			select {
			case got <- e:
			default:
			}
		})
	}()

	require.Eventually(t, func() bool { return env.hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	env.hub.Notify(domain.Event{Type: domain.EventCoolingPeriodEnded, AppID: "steam"})

	select {
	case e := <-got:
		assert.Equal(t, MessageEvent, e.Type)
		assert.Equal(t, domain.EventCoolingPeriodEnded, e.Event.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe did not return after cancel")
	}
}
