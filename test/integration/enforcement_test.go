//go:build integration

package integration

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jawad360/phone-detox/internal/domain"
	"github.com/jawad360/phone-detox/test/fixtures"
)

var _ = Describe("Enforcement", func() {
	var h *harness

	AfterEach(func() {
		if h != nil {
			h.stop()
			h = nil
		}
	})

	Context("with a stop-behavior app", func() {
		const app = "com.example.video"

		BeforeEach(func() {
			h = startHarness(harnessOptions{})
			h.watch(app, domain.BehaviorStop, ptr(30))
		})

		It("evicts, blocks and starts the cooling period when time is up", func() {
			h.startSession(app, 5)
			Expect(h.ui.Events(app, domain.EventSessionStarted)).To(HaveLen(1))

			h.clock.Advance(5 * time.Minute)

			Eventually(h.blocked).Should(ContainElement(app))
			Expect(h.monitor.ActiveSession(app)).To(BeNil())

			end, ok := h.cooldownFor(app)
			Expect(ok).To(BeTrue())
			Expect(end).To(BeTemporally("==", h.clock.Now().Add(30*time.Minute)))

			started := h.ui.Events(app, domain.EventCoolingPeriodStarted)
			Expect(started).To(HaveLen(1))
			Expect(started[0].Cooldown.Minutes).To(Equal(30))
			Expect(h.ui.Events(app, domain.EventSessionExpired)).To(HaveLen(1))

			Expect(h.device.HomeCalls()).To(ContainElement(app))
			Expect(h.device.Running(app)).To(BeFalse())
			Expect(h.device.ForceStops()).To(ContainElement(app))
			h.awaitPrompt(app, domain.PromptCooldown)
		})

		It("evicts the app again when it is relaunched during the cooling period", func() {
			h.startSession(app, 5)
			h.clock.Advance(5 * time.Minute)
			Eventually(h.blocked).Should(ContainElement(app))
			Eventually(h.device.Foreground).Should(Equal(fixtures.HomeApp))

			evictions := len(h.device.HomeCalls())
			h.device.Launch(app)

			Eventually(func() int { return len(h.device.HomeCalls()) }).Should(BeNumerically(">", evictions))
			Eventually(h.device.Foreground).Should(Equal(fixtures.HomeApp))
			Expect(h.ui.Prompts(app, domain.PromptTimeSelection)).To(HaveLen(1))
		})
	})

	Context("with an ask-behavior app", func() {
		const app = "com.example.social"

		BeforeEach(func() {
			h = startHarness(harnessOptions{})
			h.watch(app, domain.BehaviorAsk, nil)
		})

		It("offers more time when the session expires in the foreground", func() {
			h.startSession(app, 10)
			h.clock.Advance(10 * time.Minute)

			h.answer(h.awaitPrompt(app, domain.PromptTimeExtension), 15)

			Eventually(func() int {
				if s := h.monitor.ActiveSession(app); s != nil {
					return s.RequestedMinutes
				}
				return 0
			}).Should(Equal(15))
			s := h.monitor.ActiveSession(app)
			Expect(s.StartTime).To(BeTemporally("==", h.clock.Now()))

			Expect(h.blocked()).NotTo(ContainElement(app))
			Expect(h.ui.Events(app, domain.EventSessionExtended)).To(HaveLen(1))
			Expect(h.device.Running(app)).To(BeTrue())
		})

		It("blocks without a dialog when the session expires in the background", func() {
			h.startSession(app, 10)
			h.device.SwitchTo("org.example.notes")
			Eventually(func() string { return h.status().Foreground }).Should(Equal("org.example.notes"))

			h.clock.Advance(10 * time.Minute)

			Eventually(h.blocked).Should(ContainElement(app))
			end, ok := h.cooldownFor(app)
			Expect(ok).To(BeTrue())
			Expect(end).To(BeTemporally("==", h.clock.Now().Add(defaultCooldownMinutes*time.Minute)))

			Expect(h.ui.Prompts(app, domain.PromptTimeExtension)).To(BeEmpty())
			Expect(h.ui.Prompts(app, domain.PromptCooldown)).To(BeEmpty())
			Expect(h.device.Running(app)).To(BeFalse())
		})

		It("blocks after the user declines more time", func() {
			h.startSession(app, 10)
			h.clock.Advance(10 * time.Minute)

			h.answer(h.awaitPrompt(app, domain.PromptTimeExtension), 0)

			Eventually(h.blocked).Should(ContainElement(app))
			Expect(h.monitor.ActiveSession(app)).To(BeNil())
			Expect(h.device.HomeCalls()).To(ContainElement(app))
			h.awaitPrompt(app, domain.PromptCooldown)
		})
	})

	Context("with an app outside the monitored set", func() {
		const app = "com.example.stale"

		BeforeEach(func() {
			h = startHarness(harnessOptions{snapshot: &domain.StateSnapshot{
				Sessions: []domain.Session{{
					AppID:            app,
					StartTime:        startTime.Add(-time.Hour),
					RequestedMinutes: 5,
					Behavior:         domain.BehaviorStop,
				}},
				Cooldowns: []domain.CooldownEntry{{AppID: app, EndTime: startTime.Add(time.Hour)}},
				Monitored: []string{"com.example.other"},
				Blocked:   []string{app},
			}})
		})

		It("takes no action regardless of stale state", func() {
			h.device.Launch(app)
			Eventually(func() string { return h.status().Foreground }).Should(Equal(app))

			Consistently(func() int { return h.ui.PromptCount(app) }).Should(BeZero())
			Expect(h.device.HomeCalls()).NotTo(ContainElement(app))
			Expect(h.device.Running(app)).To(BeTrue())
			Expect(h.ui.EventTypes(app)).To(BeEmpty())
		})
	})

	Context("with an app in a cooling period", func() {
		const app = "com.example.game"

		BeforeEach(func() {
			h = startHarness(harnessOptions{snapshot: &domain.StateSnapshot{
				Cooldowns: []domain.CooldownEntry{{AppID: app, EndTime: startTime.Add(time.Millisecond)}},
				Monitored: []string{app},
				Blocked:   []string{app},
			}})
		})

		It("unblocks the app once the cooling period ends", func() {
			Expect(h.blocked()).To(ContainElement(app))

			h.clock.Advance(2 * time.Millisecond)

			Eventually(h.blocked).ShouldNot(ContainElement(app))
			Eventually(func() bool {
				_, ok := h.cooldownFor(app)
				return ok
			}).Should(BeFalse())
			Expect(h.ui.Events(app, domain.EventCoolingPeriodEnded)).To(HaveLen(1))
		})

		It("shows the cooling period dialog while the app is relaunched early", func() {
			h.device.Launch(app)

			p := h.awaitPrompt(app, domain.PromptCooldown)
			Expect(p.CooldownEnd).To(Equal(domain.ToMillis(startTime.Add(time.Millisecond))))
			Eventually(h.device.HomeCalls).Should(ContainElement(app))
		})
	})

	Context("when the user cancels the time selection", func() {
		const app = "com.example.shop"

		BeforeEach(func() {
			h = startHarness(harnessOptions{})
			h.watch(app, domain.BehaviorAsk, nil)
		})

		It("evicts the app without creating a session", func() {
			h.device.Launch(app)
			h.answer(h.awaitPrompt(app, domain.PromptTimeSelection), 0)

			Eventually(h.device.HomeCalls).Should(ContainElement(app))
			Expect(h.monitor.ActiveSession(app)).To(BeNil())
			Expect(h.device.Running(app)).To(BeFalse())
			Expect(h.ui.Events(app, domain.EventSessionStarted)).To(BeEmpty())
		})

		It("asks again when the app comes back after nothing was in front", func() {
			h.device.Launch(app)
			h.answer(h.awaitPrompt(app, domain.PromptTimeSelection), 0)
			Eventually(h.device.HomeCalls).Should(ContainElement(app))

			h.device.SwitchTo("")
			Eventually(func() string { return h.status().Foreground }).Should(BeEmpty())

			h.device.Launch(app)
			Eventually(func() int { return len(h.ui.Prompts(app, domain.PromptTimeSelection)) }).Should(Equal(2))
		})
	})

	Context("when monitoring is stopped", func() {
		const app = "com.example.video"

		BeforeEach(func() {
			h = startHarness(harnessOptions{})
			h.watch(app, domain.BehaviorStop, nil)
			h.monitor.StopMonitoring()
			Eventually(h.monitor.IsMonitoring).Should(BeFalse())
		})

		It("does not prompt until monitoring resumes", func() {
			h.device.Launch(app)
			Consistently(func() int { return h.ui.PromptCount(app) }).Should(BeZero())

			h.monitor.StartMonitoring()
			h.awaitPrompt(app, domain.PromptTimeSelection)
		})
	})
})
