package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/crxwnd/digitalizacionTV/internal/adapter/metrics"
	"github.com/crxwnd/digitalizacionTV/internal/domain"
	"github.com/jonboulle/clockwork"
)

const (
	commandTimeout  = 5 * time.Second
	stopTimeout     = 10 * time.Second
	commandCapacity = 256
)

var ErrStopped = errors.New("dispatcher stopped")

type member struct {
	session Session
	scopes  []domain.Scope
}

type dispatcherCmd interface{ isDispatcherCmd() }

type baseCmd struct{}

func (baseCmd) isDispatcherCmd() {}

type joinCmd struct {
	baseCmd
	session Session
	scopes  []domain.Scope
	errCh   chan error
}

type leaveCmd struct {
	baseCmd
	session Session
}

type publishCmd struct {
	baseCmd
	event  string
	frame  []byte
	scopes []domain.Scope
}

type disconnectCmd struct {
	baseCmd
	scope  domain.Scope
	reason string
}

type countCmd struct {
	baseCmd
	scope domain.Scope
	reply chan int
}

type stopCmd struct {
	baseCmd
}

// Dispatcher keeps scope membership for live sessions and fans events out to
// them. It implements domain.Broadcaster.
type Dispatcher struct {
	cmdCh       chan dispatcherCmd
	clock       clockwork.Clock
	metrics     *metrics.DispatchMetrics
	sessions    map[string]*member
	scopes      map[domain.Scope]map[string]Session
	done        chan struct{}
	stopTimeout time.Duration
}

var _ domain.Broadcaster = (*Dispatcher)(nil)

// New starts the dispatcher loop. m may be nil.
func New(clock clockwork.Clock, m *metrics.DispatchMetrics) *Dispatcher {
	d := &Dispatcher{
		cmdCh:       make(chan dispatcherCmd, commandCapacity),
		clock:       clock,
		metrics:     m,
		sessions:    make(map[string]*member),
		scopes:      make(map[domain.Scope]map[string]Session),
		done:        make(chan struct{}),
		stopTimeout: stopTimeout,
	}
	go d.run()
	return d
}

// Join binds a session to scopes. Joining again with the same session adds
// scopes. A different session under an already-bound ID replaces the old one,
// which is closed.
func (d *Dispatcher) Join(ctx context.Context, s Session, scopes ...domain.Scope) error {
	errCh := make(chan error, 1)
	if err := d.send(ctx, joinCmd{session: s, scopes: scopes, errCh: errCh}); err != nil {
		return err
	}

	timer := d.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return err
	case <-timer.Chan():
		return fmt.Errorf("join command timed out after %v", commandTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Leave removes a session from every scope. Unknown sessions are ignored.
func (d *Dispatcher) Leave(s Session) {
	_ = d.send(context.Background(), leaveCmd{session: s})
}

func (d *Dispatcher) ToScreen(ctx context.Context, code string, event string, payload any) {
	d.Publish(ctx, event, payload, domain.ScreenScope(code))
}

func (d *Dispatcher) ToArea(ctx context.Context, areaID int64, event string, payload any) {
	d.Publish(ctx, event, payload, domain.AreaScope(areaID))
}

func (d *Dispatcher) Broadcast(ctx context.Context, event string, payload any) {
	d.Publish(ctx, event, payload, domain.GlobalScope)
}

// Publish encodes the event once and delivers it to every session in any of
// the scopes, at most once per session.
func (d *Dispatcher) Publish(ctx context.Context, event string, payload any, scopes ...domain.Scope) {
	if len(scopes) == 0 {
		return
	}
	frame, err := Encode(event, payload, d.clock.Now().UTC())
	if err != nil {
		slog.ErrorContext(ctx, "Failed to encode event", "event", event, "error", err)
		return
	}
	if d.metrics != nil {
		d.metrics.EventsPublished.WithLabelValues(event).Inc()
	}
	if err := d.send(ctx, publishCmd{event: event, frame: frame, scopes: scopes}); err != nil {
		slog.WarnContext(ctx, "Event dropped", "event", event, "error", err)
	}
}

// DisconnectScreen closes every session bound to the screen.
func (d *Dispatcher) DisconnectScreen(ctx context.Context, code string) {
	cmd := disconnectCmd{scope: domain.ScreenScope(code), reason: "screen disconnected"}
	if err := d.send(ctx, cmd); err != nil {
		slog.WarnContext(ctx, "Disconnect dropped", "screen_code", code, "error", err)
	}
}

// Count returns the number of sessions in a scope, or -1 on timeout.
func (d *Dispatcher) Count(scope domain.Scope) int {
	reply := make(chan int, 1)
	if err := d.send(context.Background(), countCmd{scope: scope, reply: reply}); err != nil {
		return -1
	}

	timer := d.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case n := <-reply:
		return n
	case <-timer.Chan():
		slog.Warn("Count timed out", "scope", scope, "timeout", commandTimeout)
		return -1
	}
}

// IsConnected reports whether any session is bound to the screen.
func (d *Dispatcher) IsConnected(code string) bool {
	return d.Count(domain.ScreenScope(code)) > 0
}

// Stop closes all sessions and waits for the loop to exit.
func (d *Dispatcher) Stop() {
	if err := d.send(context.Background(), stopCmd{}); err != nil {
		return
	}

	timeout := d.clock.NewTimer(d.stopTimeout)
	defer timeout.Stop()

	select {
	case <-d.done:
		slog.Info("Dispatcher stopped gracefully")
	case <-timeout.Chan():
		slog.Warn("Dispatcher stop timeout exceeded", "timeout", d.stopTimeout)
	}
}

func (d *Dispatcher) send(ctx context.Context, cmd dispatcherCmd) error {
	select {
	case <-d.done:
		return ErrStopped
	default:
	}
	select {
	case d.cmdCh <- cmd:
		return nil
	case <-d.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Dispatcher panic recovered", "panic", r)
			if d.metrics != nil {
				d.metrics.Panics.Inc()
			}
			d.closeAll("dispatcher failure")
		}
	}()

	depthTicker := d.clock.NewTicker(time.Second)
	defer depthTicker.Stop()

	for {
		select {
		case <-depthTicker.Chan():
			depth := len(d.cmdCh)
			if d.metrics != nil {
				d.metrics.CommandQueueDepth.Set(float64(depth))
			}
			if depth > commandCapacity*8/10 {
				slog.Warn("Command channel near capacity", "depth", depth, "capacity", cap(d.cmdCh))
			}

		case cmd := <-d.cmdCh:
			switch c := cmd.(type) {
			case joinCmd:
				d.handleJoin(c)
			case leaveCmd:
				d.handleLeave(c.session)
			case publishCmd:
				d.handlePublish(c)
			case disconnectCmd:
				d.handleDisconnect(c)
			case countCmd:
				c.reply <- len(d.scopes[c.scope])
			case stopCmd:
				d.closeAll("server shutting down")
				return
			default:
				slog.Warn("Dispatcher received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}
		}
	}
}

func (d *Dispatcher) handleJoin(c joinCmd) {
	id := c.session.ID()
	m, exists := d.sessions[id]
	if exists && m.session != c.session {
		slog.Info("Replacing session", "session_id", id)
		d.remove(id)
		m.session.Close("replaced by a newer connection")
		exists = false
	}
	if !exists {
		m = &member{session: c.session}
		d.sessions[id] = m
		if d.metrics != nil {
			d.metrics.ActiveSessions.Inc()
		}
	}

	for _, scope := range c.scopes {
		if slices.Contains(m.scopes, scope) {
			continue
		}
		m.scopes = append(m.scopes, scope)
		members, ok := d.scopes[scope]
		if !ok {
			members = make(map[string]Session)
			d.scopes[scope] = members
		}
		members[id] = c.session
	}

	slog.Debug("Session joined", "session_id", id, "scopes", len(m.scopes))
	c.errCh <- nil
}

func (d *Dispatcher) handleLeave(s Session) {
	m, ok := d.sessions[s.ID()]
	if !ok || m.session != s {
		return
	}
	d.remove(s.ID())
	slog.Debug("Session left", "session_id", s.ID())
}

func (d *Dispatcher) handlePublish(c publishCmd) {
	seen := make(map[string]struct{})
	var slow []Session

	for _, scope := range c.scopes {
		for id, s := range d.scopes[scope] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if !s.Send(c.frame) {
				slow = append(slow, s)
				continue
			}
			if d.metrics != nil {
				d.metrics.Deliveries.Inc()
			}
		}
	}

	for _, s := range slow {
		slog.Warn("Evicting slow session", "session_id", s.ID(), "event", c.event)
		if d.metrics != nil {
			d.metrics.SlowSessionsEvicted.Inc()
		}
		d.remove(s.ID())
		s.Close("slow consumer")
	}
}

func (d *Dispatcher) handleDisconnect(c disconnectCmd) {
	members := d.scopes[c.scope]
	if len(members) == 0 {
		return
	}
	victims := make([]Session, 0, len(members))
	for _, s := range members {
		victims = append(victims, s)
	}
	for _, s := range victims {
		d.remove(s.ID())
		s.Close(c.reason)
	}
	slog.Info("Sessions disconnected", "scope", c.scope, "count", len(victims))
}

func (d *Dispatcher) remove(id string) {
	m, ok := d.sessions[id]
	if !ok {
		return
	}
	for _, scope := range m.scopes {
		members := d.scopes[scope]
		delete(members, id)
		if len(members) == 0 {
			delete(d.scopes, scope)
		}
	}
	delete(d.sessions, id)
	if d.metrics != nil {
		d.metrics.ActiveSessions.Dec()
	}
}

func (d *Dispatcher) closeAll(reason string) {
	total := len(d.sessions)
	for id, m := range d.sessions {
		m.session.Close(reason)
		delete(d.sessions, id)
	}
	clear(d.scopes)
	if d.metrics != nil {
		d.metrics.ActiveSessions.Set(0)
	}
	slog.Info("Dispatcher closed all sessions", "sessions", total, "reason", reason)
}
