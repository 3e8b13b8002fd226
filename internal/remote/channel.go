// Package remote forwards operator commands to a single screen and brokers
// screen captures over the one-way event channel.
package remote

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/crxwnd/digitalizacionTV/internal/adapter/metrics"
	"github.com/crxwnd/digitalizacionTV/internal/domain"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultCaptureTimeout = 5 * time.Second

	defaultLogLimit = 50
	maxLogLimit     = 200
)

// Actions lists the commands a screen accepts.
var Actions = []string{"play", "pause", "stop", "next", "previous", "volume", "refresh", "restart", "changeContent"}

// ValidAction reports whether action is on the whitelist. Matching is exact.
func ValidAction(action string) bool {
	return slices.Contains(Actions, action)
}

type pendingCapture struct {
	requestID string
	reply     chan domain.CaptureReply
}

// Channel is the remote control surface for screens.
//
// Captures are correlated by screen code. Concurrent requests for the same
// screen share one outstanding request id and all receive its reply or its
// timeout. Once a request is resolved or has timed out its entry is gone, so a
// late reply is dropped rather than handed to a later caller.
type Channel struct {
	screens domain.ScreenRepository
	areas   domain.AreaDirectory
	logs    domain.ScreenLogRepository
	bus     domain.Broadcaster
	clock   clockwork.Clock
	timeout time.Duration
	metrics *metrics.FleetMetrics

	mu       sync.Mutex
	pending  map[string]*pendingCapture
	inflight singleflight.Group
}

// NewChannel builds a channel. A non-positive timeout selects
// DefaultCaptureTimeout; m may be nil.
func NewChannel(screens domain.ScreenRepository, areas domain.AreaDirectory, logs domain.ScreenLogRepository, bus domain.Broadcaster, clock clockwork.Clock, timeout time.Duration, m *metrics.FleetMetrics) *Channel {
	if timeout <= 0 {
		timeout = DefaultCaptureTimeout
	}
	return &Channel{
		screens: screens,
		areas:   areas,
		logs:    logs,
		bus:     bus,
		clock:   clock,
		timeout: timeout,
		metrics: m,
		pending: make(map[string]*pendingCapture),
	}
}

// Send validates the action and forwards it to the screen's sessions. It does
// not wait for the screen to act on it. Every accepted command is written to
// the screen log as REMOTE_<ACTION>.
func (c *Channel) Send(ctx context.Context, op domain.Operator, code, action string, data map[string]any) (*domain.RemoteCommand, error) {
	if !ValidAction(action) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidAction, action)
	}
	screen, err := c.target(ctx, op, code)
	if err != nil {
		return nil, err
	}

	cmd := &domain.RemoteCommand{
		Action:       action,
		Data:         data,
		Timestamp:    c.clock.Now().UTC(),
		ControlledBy: &op.UserID,
	}
	c.bus.ToScreen(ctx, screen.Code, domain.EventRemoteControl, cmd)

	entry := &domain.ScreenLog{
		ScreenID: screen.ID,
		Action:   "REMOTE_" + strings.ToUpper(action),
		Details:  map[string]any{"data": data},
		UserID:   &op.UserID,
	}
	if err := c.logs.Append(ctx, entry); err != nil {
		slog.WarnContext(ctx, "Failed to write remote control log", "screen_code", screen.Code, "action", action, "error", err)
	}
	if c.metrics != nil {
		c.metrics.RemoteCommands.WithLabelValues(action).Inc()
	}

	slog.InfoContext(ctx, "Remote command sent", "screen_code", screen.Code, "action", action, "controlled_by", op.UserID)
	return cmd, nil
}

// RequestCapture asks the screen for a screenshot and waits up to the
// configured timeout for the reply. The caller may give up earlier by
// cancelling ctx; that does not cancel the request for other waiters.
func (c *Channel) RequestCapture(ctx context.Context, op domain.Operator, code string) (*domain.CaptureReply, error) {
	screen, err := c.target(ctx, op, code)
	if err != nil {
		return nil, err
	}

	ch := c.inflight.DoChan(screen.Code, func() (any, error) {
		return c.capture(context.WithoutCancel(ctx), screen.Code)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		reply := *res.Val.(*domain.CaptureReply)
		return &reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Channel) capture(ctx context.Context, code string) (*domain.CaptureReply, error) {
	p := &pendingCapture{
		requestID: uuid.NewString(),
		reply:     make(chan domain.CaptureReply, 1),
	}
	c.mu.Lock()
	c.pending[code] = p
	c.mu.Unlock()
	defer c.forget(code, p)

	start := c.clock.Now()
	c.bus.ToScreen(ctx, code, domain.EventRequestCapture, domain.CaptureRequest{RequestID: p.requestID})
	slog.DebugContext(ctx, "Capture requested", "screen_code", code, "request_id", p.requestID)

	timer := c.clock.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case reply := <-p.reply:
		c.observe("ok", start)
		return &reply, nil
	case <-timer.Chan():
		c.observe("timeout", start)
		slog.InfoContext(ctx, "Capture timed out", "screen_code", code, "request_id", p.requestID, "timeout", c.timeout)
		return nil, domain.ErrCaptureTimeout
	}
}

// ResolveCapture delivers a screen's reply to the outstanding request for that
// screen. It reports false when the reply was dropped: nothing is waiting, or
// the reply names a different request id. A reply without a request id
// matches whatever is outstanding.
func (c *Channel) ResolveCapture(ctx context.Context, code string, reply domain.CaptureReply) bool {
	c.mu.Lock()
	p, ok := c.pending[code]
	if !ok || (reply.RequestID != "" && reply.RequestID != p.requestID) {
		c.mu.Unlock()
		slog.DebugContext(ctx, "Dropping unsolicited capture reply", "screen_code", code, "request_id", reply.RequestID)
		return false
	}
	delete(c.pending, code)
	c.mu.Unlock()

	reply.RequestID = p.requestID
	reply.ScreenCode = code
	if reply.CapturedAt.IsZero() {
		reply.CapturedAt = c.clock.Now().UTC()
	}
	p.reply <- reply
	return true
}

// Outstanding reports whether a capture is awaiting a reply for the screen.
func (c *Channel) Outstanding(code string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[code]
	return ok
}

func (c *Channel) forget(code string, p *pendingCapture) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[code] == p {
		delete(c.pending, code)
	}
}

// Logs returns one page of the screen's audit log, newest first, and the total.
func (c *Channel) Logs(ctx context.Context, op domain.Operator, code string, limit, offset int) ([]domain.ScreenLog, int, error) {
	screen, err := c.screens.GetByCode(ctx, code)
	if err != nil {
		return nil, 0, err
	}
	if err := c.authorize(ctx, op, screen); err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = defaultLogLimit
	}
	limit = min(limit, maxLogLimit)
	offset = max(offset, 0)
	return c.logs.List(ctx, screen.ID, limit, offset)
}

func (c *Channel) target(ctx context.Context, op domain.Operator, code string) (*domain.Screen, error) {
	screen, err := c.screens.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := c.authorize(ctx, op, screen); err != nil {
		return nil, err
	}
	if !screen.Approved {
		return nil, domain.ErrNotApproved
	}
	return screen, nil
}

func (c *Channel) authorize(ctx context.Context, op domain.Operator, screen *domain.Screen) error {
	if op.IsAdmin() {
		return nil
	}
	managed, err := c.areas.ManagedAreaIDs(ctx, op.UserID)
	if err != nil {
		return fmt.Errorf("load managed areas: %w", err)
	}
	if !domain.MayAccess(op, managed, screen.AreaID) {
		return domain.ErrForbidden
	}
	return nil
}

func (c *Channel) observe(outcome string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.CaptureRequests.WithLabelValues(outcome).Inc()
	c.metrics.CaptureDuration.Observe(c.clock.Since(start).Seconds())
}
