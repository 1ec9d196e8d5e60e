package fixtures

import (
	"slices"
	"sync"

	"github.com/jawad360/phone-detox/internal/domain"
)

// RecordingUI stands in for the owning app: it accepts every prompt and
// records prompts, dismissals and events for assertions.
type RecordingUI struct {
	mu        sync.Mutex
	shown     []domain.Prompt
	dismissed []domain.Prompt
	events    []domain.Event
}

var (
	_ domain.Prompter = (*RecordingUI)(nil)
	_ domain.Notifier = (*RecordingUI)(nil)
)

// NewRecordingUI creates an empty recorder.
func NewRecordingUI() *RecordingUI {
	return &RecordingUI{}
}

func (u *RecordingUI) Show(p domain.Prompt) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.shown = append(u.shown, p)
	return nil
}

func (u *RecordingUI) Dismiss(p domain.Prompt) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.dismissed = append(u.dismissed, p)
}

func (u *RecordingUI) Notify(ev domain.Event) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.events = append(u.events, ev)
}

// Prompts returns the prompts of kind shown for appID, oldest first.
func (u *RecordingUI) Prompts(appID string, kind domain.PromptKind) []domain.Prompt {
	u.mu.Lock()
	defer u.mu.Unlock()
	var out []domain.Prompt
	for _, p := range u.shown {
		if p.AppID == appID && p.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}

// LastPrompt returns the newest prompt of kind for appID.
func (u *RecordingUI) LastPrompt(appID string, kind domain.PromptKind) (domain.Prompt, bool) {
	ps := u.Prompts(appID, kind)
	if len(ps) == 0 {
		return domain.Prompt{}, false
	}
	return ps[len(ps)-1], true
}

// PromptCount returns how many prompts were shown for appID.
func (u *RecordingUI) PromptCount(appID string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for _, p := range u.shown {
		if p.AppID == appID {
			n++
		}
	}
	return n
}

// Dismissed returns every dismissed prompt.
func (u *RecordingUI) Dismissed() []domain.Prompt {
	u.mu.Lock()
	defer u.mu.Unlock()
	return slices.Clone(u.dismissed)
}

// Events returns the events of type t for appID.
func (u *RecordingUI) Events(appID string, t domain.EventType) []domain.Event {
	u.mu.Lock()
	defer u.mu.Unlock()
	var out []domain.Event
	for _, ev := range u.events {
		if ev.AppID == appID && ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// EventTypes returns the types of all events for appID, in order.
func (u *RecordingUI) EventTypes(appID string) []domain.EventType {
	u.mu.Lock()
	defer u.mu.Unlock()
	var out []domain.EventType
	for _, ev := range u.events {
		if ev.AppID == appID {
			out = append(out, ev.Type)
		}
	}
	return out
}
