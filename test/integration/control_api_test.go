//go:build integration

package integration

import (
	"context"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/jawad360/phone-detox/internal/control"
	"github.com/jawad360/phone-detox/internal/domain"
	"github.com/jawad360/phone-detox/internal/infra"
	"github.com/jawad360/phone-detox/test/fixtures"
)

// envelopes collects everything a websocket subscriber receives.
type envelopes struct {
	mu  sync.Mutex
	all []control.Envelope
}

func (e *envelopes) add(env control.Envelope) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, env)
}

func (e *envelopes) prompt(appID string, kind domain.PromptKind) *domain.Prompt {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.all) - 1; i >= 0; i-- {
		p := e.all[i].Prompt
		if e.all[i].Type == control.MessagePrompt && p != nil && p.AppID == appID && p.Kind == kind {
			return p
		}
	}
	return nil
}

func (e *envelopes) eventTypes(appID string) []domain.EventType {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []domain.EventType
	for _, env := range e.all {
		if env.Type == control.MessageEvent && env.Event != nil && env.Event.AppID == appID {
			out = append(out, env.Event.Type)
		}
	}
	return out
}

var _ = Describe("Control API", func() {
	const (
		app   = "com.example.video"
		token = "integration-token"
	)

	var (
		h      *harness
		hub    *control.Hub
		client *control.Client
		ctx    context.Context
		apiURL string
	)

	BeforeEach(func() {
		logger := zap.NewNop()
		hub = control.NewHub(control.HubConfig{InboundRate: 100, InboundBurst: 100}, logger)
		h = startHarness(harnessOptions{prompter: hub, notifier: hub})
		DeferCleanup(h.stop)

		usage := infra.NewUsageEventLog(infra.DefaultUsageLogCapacity)
		srv := control.NewServer(control.ServerConfig{Token: token}, h.monitor, usage, hub, h.clock, logger)
		ts := httptest.NewServer(srv.Handler())
		DeferCleanup(ts.Close)

		apiURL = ts.URL
		client = control.NewClient(apiURL, token)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		DeferCleanup(cancel)
	})

	subscribe := func() *envelopes {
		got := &envelopes{}
		subCtx, cancel := context.WithCancel(ctx)
		DeferCleanup(cancel)
		go func() {
			defer GinkgoRecover()
			_ = client.Subscribe(subCtx, got.add)
		}()
		Eventually(hub.Clients).Should(Equal(1))
		return got
	}

	It("runs a full session through HTTP and the websocket", func() {
		ui := subscribe()

		Expect(client.SetMonitoredApps(ctx, []string{app})).To(Succeed())
		behavior := domain.BehaviorStop
		cooldown := 20
		Expect(client.UpdateAppConfig(ctx, app, domain.AppConfigPatch{
			Behavior:        &behavior,
			CooldownMinutes: &cooldown,
		})).To(Succeed())
		Eventually(func() []string { return h.status().Monitored }).Should(ConsistOf(app))

		h.device.Launch(app)
		var selection *domain.Prompt
		Eventually(func() *domain.Prompt {
			selection = ui.prompt(app, domain.PromptTimeSelection)
			return selection
		}).ShouldNot(BeNil())
		Expect(selection.Options).To(Equal(domain.DefaultTimeOptions))

		Expect(client.RespondToPrompt(ctx, domain.PromptResponse{
			PromptID: selection.ID,
			AppID:    app,
			Minutes:  5,
		})).To(Succeed())

		Eventually(func() (int, error) {
			s, err := client.ActiveSession(ctx, app)
			if err != nil || s == nil {
				return 0, err
			}
			return s.RequestedMinutes, nil
		}).Should(Equal(5))

		h.clock.Advance(5 * time.Minute)

		Eventually(func() ([]string, error) {
			st, err := client.Status(ctx)
			return st.Blocked, err
		}).Should(ContainElement(app))
		Eventually(func() *domain.Prompt { return ui.prompt(app, domain.PromptCooldown) }).ShouldNot(BeNil())
		Eventually(func() []domain.EventType { return ui.eventTypes(app) }).Should(ContainElements(
			domain.EventSessionStarted,
			domain.EventSessionExpired,
			domain.EventSetCoolingPeriod,
			domain.EventCoolingPeriodStarted,
		))
		Expect(h.device.Running(app)).To(BeFalse())
	})

	It("ends a cooling period set by the owning app", func() {
		ui := subscribe()
		Expect(client.SetMonitoredApps(ctx, []string{app})).To(Succeed())
		Expect(client.SetCooldownEnd(ctx, app, h.clock.Now().Add(time.Minute))).To(Succeed())

		h.device.Launch(app)
		Eventually(func() *domain.Prompt { return ui.prompt(app, domain.PromptCooldown) }).ShouldNot(BeNil())
		Eventually(func() ([]string, error) {
			st, err := client.Status(ctx)
			return st.Blocked, err
		}).Should(ContainElement(app))

		h.clock.Advance(2 * time.Minute)

		Eventually(func() ([]string, error) {
			st, err := client.Status(ctx)
			return st.Blocked, err
		}).ShouldNot(ContainElement(app))
		Eventually(func() []domain.EventType { return ui.eventTypes(app) }).Should(ContainElement(domain.EventCoolingPeriodEnded))
	})

	It("evicts a monitored app when no UI is attached to answer", func() {
		Expect(client.SetMonitoredApps(ctx, []string{app})).To(Succeed())
		Eventually(func() []string { return h.status().Monitored }).Should(ConsistOf(app))

		h.device.Launch(app)

		Eventually(h.device.HomeCalls).Should(ContainElement(app))
		Eventually(h.device.Foreground).Should(Equal(fixtures.HomeApp))
		s, err := client.ActiveSession(ctx, app)
		Expect(err).NotTo(HaveOccurred())
		Expect(s).To(BeNil())
	})

	It("rejects requests without the token", func() {
		anon := control.NewClient(apiURL, "")
		err := anon.StartMonitoring(ctx)
		var apiErr *control.APIError
		Expect(err).To(BeAssignableToTypeOf(apiErr))
	})
})
