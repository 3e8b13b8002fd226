// Package dispatchtest provides a recording domain.Broadcaster for tests.
package dispatchtest

import (
	"context"
	"slices"
	"sync"

	"github.com/crxwnd/digitalizacionTV/internal/domain"
)

// Message is one recorded publish.
type Message struct {
	Event   string
	Payload any
	Scopes  []domain.Scope
}

// Recorder captures every event instead of delivering it.
type Recorder struct {
	mu           sync.Mutex
	messages     []Message
	disconnected []string

	// OnPublish, when set, runs after a publish is recorded.
	OnPublish func(Message)
}

var _ domain.Broadcaster = (*Recorder)(nil)

func (r *Recorder) ToScreen(ctx context.Context, code string, event string, payload any) {
	r.Publish(ctx, event, payload, domain.ScreenScope(code))
}

func (r *Recorder) ToArea(ctx context.Context, areaID int64, event string, payload any) {
	r.Publish(ctx, event, payload, domain.AreaScope(areaID))
}

func (r *Recorder) Broadcast(ctx context.Context, event string, payload any) {
	r.Publish(ctx, event, payload, domain.GlobalScope)
}

func (r *Recorder) Publish(_ context.Context, event string, payload any, scopes ...domain.Scope) {
	msg := Message{Event: event, Payload: payload, Scopes: slices.Clone(scopes)}
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	hook := r.OnPublish
	r.mu.Unlock()
	if hook != nil {
		hook(msg)
	}
}

func (r *Recorder) DisconnectScreen(_ context.Context, code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected = append(r.disconnected, code)
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.messages)
}

// Events returns only messages with the given event name.
func (r *Recorder) Events(event string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for _, m := range r.messages {
		if m.Event == event {
			out = append(out, m)
		}
	}
	return out
}

func (r *Recorder) Disconnected() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.disconnected)
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
	r.disconnected = nil
}
