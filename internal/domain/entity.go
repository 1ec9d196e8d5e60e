// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"strings"
	"time"
)

// Behavior decides what happens when a session's time runs out.
type Behavior string

const (
	// BehaviorAsk offers the user an extension before enforcing.
	BehaviorAsk Behavior = "ask"
	// BehaviorStop enforces immediately without asking.
	BehaviorStop Behavior = "stop"
)

const (
	// DefaultCooldownMinutes applies to apps without an explicit config.
	DefaultCooldownMinutes = 30
)

// DefaultTimeOptions are the minute choices offered by selection and extension prompts.
var DefaultTimeOptions = []int{5, 10, 15, 30, 60, 120, 180}

// ParseBehavior normalises a behavior string. Unknown values fall back to ask.
func ParseBehavior(s string) Behavior {
	if Behavior(strings.ToLower(strings.TrimSpace(s))) == BehaviorStop {
		return BehaviorStop
	}
	return BehaviorAsk
}

// Valid reports whether b is one of the known behaviors.
func (b Behavior) Valid() bool {
	return b == BehaviorAsk || b == BehaviorStop
}

// Session is an active allotment of time for one app.
type Session struct {
	AppID            string    `json:"appId"`
	StartTime        time.Time `json:"startTime"`
	RequestedMinutes int       `json:"requestedMinutes"`
	Behavior         Behavior  `json:"behavior"`
}

// Elapsed returns the wall-clock time since the session started.
func (s Session) Elapsed(now time.Time) time.Duration {
	d := now.Sub(s.StartTime)
	if d < 0 {
		return 0
	}
	return d
}

// ElapsedMinutes returns whole minutes elapsed (floored).
func (s Session) ElapsedMinutes(now time.Time) int {
	return int(s.Elapsed(now) / time.Minute)
}

// RemainingMinutes returns max(0, requested - elapsed).
func (s Session) RemainingMinutes(now time.Time) int {
	r := s.RequestedMinutes - s.ElapsedMinutes(now)
	if r < 0 {
		return 0
	}
	return r
}

// IsExpired reports whether elapsed minutes reached the requested minutes.
func (s Session) IsExpired(now time.Time) bool {
	return s.ElapsedMinutes(now) >= s.RequestedMinutes
}

// Extended returns a copy restarted at now with a new allotment.
func (s Session) Extended(now time.Time, minutes int) Session {
	s.StartTime = now
	s.RequestedMinutes = minutes
	return s
}

// AppConfig is the per-app enforcement policy.
type AppConfig struct {
	AppID           string   `json:"appId"`
	Behavior        Behavior `json:"behavior"`
	CooldownMinutes int      `json:"coolingPeriodMinutes"`
}

// DefaultAppConfig returns the policy used for apps with no stored config.
func DefaultAppConfig(appID string) AppConfig {
	return AppConfig{
		AppID:           appID,
		Behavior:        BehaviorAsk,
		CooldownMinutes: DefaultCooldownMinutes,
	}
}

// AppConfigPatch carries a partial config update. Nil fields keep their value.
type AppConfigPatch struct {
	Behavior        *Behavior `json:"behavior,omitempty"`
	CooldownMinutes *int      `json:"coolingPeriodMinutes,omitempty"`
}

// Apply merges the patch into c.
func (p AppConfigPatch) Apply(c AppConfig) AppConfig {
	if p.Behavior != nil {
		c.Behavior = *p.Behavior
	}
	if p.CooldownMinutes != nil {
		c.CooldownMinutes = *p.CooldownMinutes
	}
	return c
}

// CooldownEntry marks an app unavailable until EndTime.
type CooldownEntry struct {
	AppID   string    `json:"appId"`
	EndTime time.Time `json:"endTime"`
}

// Active reports whether the cooldown is still running at now.
func (c CooldownEntry) Active(now time.Time) bool {
	return now.Before(c.EndTime)
}

// UsageEventType classifies entries of the usage-event log.
type UsageEventType string

const (
	UsageActivityResumed   UsageEventType = "activity_resumed"
	UsageMovedToForeground UsageEventType = "moved_to_foreground"
	UsageActivityPaused    UsageEventType = "activity_paused"
	UsageMovedToBackground UsageEventType = "moved_to_background"
)

// IsForeground reports whether the event type marks an app coming to the front.
func (t UsageEventType) IsForeground() bool {
	return t == UsageActivityResumed || t == UsageMovedToForeground
}

// UsageEvent is one entry from the host's usage-event log.
type UsageEvent struct {
	AppID string         `json:"appId"`
	Type  UsageEventType `json:"type"`
	Time  time.Time      `json:"time"`
}

// EventType names a notification sent to the owning app.
type EventType string

const (
	EventSessionStarted       EventType = "sessionStarted"
	EventSessionExtended      EventType = "sessionExtended"
	EventSessionExpired       EventType = "sessionExpired"
	EventSetCoolingPeriod     EventType = "setCoolingPeriod"
	EventCoolingPeriodStarted EventType = "coolingPeriodStarted"
	EventCoolingPeriodEnded   EventType = "coolingPeriodEnded"
)

// SessionPayload is the session part of an event.
type SessionPayload struct {
	StartTime        int64    `json:"startTime"`
	RequestedMinutes int      `json:"requestedMinutes"`
	Behavior         Behavior `json:"behavior"`
}

// CooldownPayload is the cooldown part of an event.
type CooldownPayload struct {
	EndTime int64 `json:"endTime"`
	Minutes int   `json:"coolingMinutes,omitempty"`
}

// Event is a fire-and-forget notification. Times are epoch milliseconds.
type Event struct {
	ID       string           `json:"id"`
	Type     EventType        `json:"type"`
	AppID    string           `json:"packageName"`
	Time     int64            `json:"time"`
	Session  *SessionPayload  `json:"session,omitempty"`
	Cooldown *CooldownPayload `json:"cooldown,omitempty"`
}

// PromptKind identifies which dialog a prompt represents.
type PromptKind string

const (
	PromptTimeSelection PromptKind = "timeSelection"
	PromptTimeExtension PromptKind = "timeExtension"
	PromptCooldown      PromptKind = "cooldown"
)

// Prompt is a request for user input. Responses are correlated by ID.
type Prompt struct {
	ID          string     `json:"id"`
	AppID       string     `json:"appId"`
	AppName     string     `json:"appName"`
	Kind        PromptKind `json:"kind"`
	Options     []int      `json:"options,omitempty"`
	CooldownEnd int64      `json:"coolingEndTime,omitempty"`
	IssuedAt    int64      `json:"issuedAt"`
}

// PromptResponse is the user's answer to a Prompt.
// Minutes == 0 means cancel/decline. Dismissed is used by cooldown prompts.
type PromptResponse struct {
	PromptID  string `json:"promptId"`
	AppID     string `json:"appId"`
	Minutes   int    `json:"minutes"`
	Dismissed bool   `json:"dismissed,omitempty"`
}

// EvictionResult captures what happened during one eviction.
type EvictionResult struct {
	AppID        string
	Reason       string
	HomeErr      error
	KilledPIDs   []int
	KillErrs     []error
	ForceStopErr error
	ExecutedAt   time.Time
}

// StateSnapshot is the persisted engine state used on restart.
type StateSnapshot struct {
	Sessions  []Session
	Cooldowns []CooldownEntry
	Configs   []AppConfig
	Monitored []string
	Blocked   []string
}

// Status is a point-in-time view of the engine for status queries.
type Status struct {
	Monitoring bool            `json:"monitoring"`
	Foreground string          `json:"foreground,omitempty"`
	Monitored  []string        `json:"monitored"`
	Blocked    []string        `json:"blocked"`
	Sessions   []Session       `json:"sessions"`
	Cooldowns  []CooldownEntry `json:"cooldowns"`
	Configs    []AppConfig     `json:"configs"`
}

// ToMillis converts t to epoch milliseconds.
func ToMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts epoch milliseconds to time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}
