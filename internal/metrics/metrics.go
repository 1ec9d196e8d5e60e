// Package metrics exposes Prometheus instrumentation for the daemon.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Enforcement
	Evictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "detox_evictions_total",
		Help: "The total number of evictions performed, by outcome of the home step.",
	}, []string{"home"})
	ProcessesKilled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "detox_processes_killed_total",
		Help: "The total number of processes terminated during eviction.",
	})
	BlockedApps = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "detox_blocked_apps",
		Help: "The current number of blocked apps.",
	})

	// Sessions and cooldowns
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "detox_sessions_started_total",
		Help: "The total number of sessions started from a time selection.",
	})
	SessionsExtended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "detox_sessions_extended_total",
		Help: "The total number of sessions extended.",
	})
	SessionsExpired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "detox_sessions_expired_total",
		Help: "The total number of session expiries handled, by behavior.",
	}, []string{"behavior"})
	CooldownsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "detox_cooldowns_started_total",
		Help: "The total number of cooldowns entered.",
	})
	CooldownsEnded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "detox_cooldowns_ended_total",
		Help: "The total number of cooldowns that ended and unblocked an app.",
	})

	// Prompts
	PromptsShown = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "detox_prompts_shown_total",
		Help: "The total number of prompts shown, by kind.",
	}, []string{"kind"})
	PromptFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "detox_prompt_fallbacks_total",
		Help: "The total number of prompts resolved by fallback, by reason.",
	}, []string{"reason"})

	// Transport
	EventsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "detox_events_delivered_total",
		Help: "The total number of event messages written to clients.",
	})
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "detox_events_dropped_total",
		Help: "The total number of events dropped because no client could take them.",
	})
	ActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "detox_ws_clients_active",
		Help: "The current number of attached websocket clients.",
	})
	InboundThrottled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "detox_ws_inbound_throttled_total",
		Help: "The total number of inbound client messages dropped by rate limiting.",
	})

	// Loop health
	LoopPanics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "detox_loop_panics_total",
		Help: "The total number of recovered panics in scheduled tasks.",
	})
	ForegroundUnknown = promauto.NewCounter(prometheus.CounterOpts{
		Name: "detox_foreground_unknown_total",
		Help: "The total number of samples where the foreground app could not be determined.",
	})
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
