//go:build integration

package integration

import (
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/jawad360/phone-detox/internal/domain"
	"github.com/jawad360/phone-detox/internal/infra"
)

var _ = Describe("State persistence", func() {
	const app = "com.example.video"

	var dataDir string

	BeforeEach(func() {
		var err error
		dataDir, err = os.MkdirTemp("", "detox-integration-*")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.RemoveAll, dataDir)
	})

	It("restores blocked apps and cooling periods after a restart", func() {
		store, err := infra.OpenStateStore(dataDir)
		Expect(err).NotTo(HaveOccurred())

		h := startHarness(harnessOptions{journal: infra.NewStoreJournal(store, zap.NewNop())})
		h.watch(app, domain.BehaviorStop, ptr(45))
		h.startSession(app, 5)
		h.clock.Advance(5 * time.Minute)
		Eventually(h.blocked).Should(ContainElement(app))
		wantEnd := h.clock.Now().Add(45 * time.Minute)
		h.stop()
		Expect(store.Close()).To(Succeed())

		store, err = infra.OpenStateStore(dataDir)
		Expect(err).NotTo(HaveOccurred())
		defer store.Close()

		snapshot, err := store.Load()
		Expect(err).NotTo(HaveOccurred())
		Expect(snapshot.Monitored).To(ConsistOf(app))
		Expect(snapshot.Blocked).To(ConsistOf(app))
		Expect(snapshot.Sessions).To(BeEmpty())
		Expect(snapshot.Cooldowns).To(HaveLen(1))
		Expect(snapshot.Cooldowns[0].EndTime).To(BeTemporally("==", wantEnd))

		restarted := startHarness(harnessOptions{
			journal:  infra.NewStoreJournal(store, zap.NewNop()),
			snapshot: snapshot,
		})
		defer restarted.stop()

		Expect(restarted.blocked()).To(ContainElement(app))
		restarted.device.Launch(app)
		Eventually(restarted.device.HomeCalls).Should(ContainElement(app))
		Expect(restarted.ui.Prompts(app, domain.PromptTimeSelection)).To(BeEmpty())
	})

	It("keeps an active session across a restart", func() {
		store, err := infra.OpenStateStore(dataDir)
		Expect(err).NotTo(HaveOccurred())

		h := startHarness(harnessOptions{journal: infra.NewStoreJournal(store, zap.NewNop())})
		h.watch(app, domain.BehaviorAsk, nil)
		h.startSession(app, 30)
		h.stop()

		snapshot, err := store.Load()
		Expect(err).NotTo(HaveOccurred())
		Expect(store.Close()).To(Succeed())

		Expect(snapshot.Sessions).To(HaveLen(1))
		Expect(snapshot.Sessions[0].RequestedMinutes).To(Equal(30))
		Expect(snapshot.Sessions[0].Behavior).To(Equal(domain.BehaviorAsk))

		restarted := startHarness(harnessOptions{snapshot: snapshot})
		defer restarted.stop()

		restarted.device.Launch(app)
		Consistently(func() int { return restarted.ui.PromptCount(app) }).Should(BeZero())
		Expect(restarted.monitor.ActiveSession(app)).NotTo(BeNil())
	})
})
