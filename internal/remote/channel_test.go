package remote

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/crxwnd/digitalizacionTV/internal/adapter/memory"
	"github.com/crxwnd/digitalizacionTV/internal/adapter/metrics"
	"github.com/crxwnd/digitalizacionTV/internal/dispatch/dispatchtest"
	"github.com/crxwnd/digitalizacionTV/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	admin   = domain.Operator{UserID: 1, Role: domain.RoleAdmin}
	manager = domain.Operator{UserID: 2, Role: domain.RoleManager}
)

const (
	lobbyCode   = "SCR-LOBBY001"
	kitchenCode = "SCR-KITCHEN1"
	pendingCode = "SCR-PENDING1"
)

func int64Ptr(v int64) *int64 { return &v }

type fixture struct {
	db      *memory.DB
	clock   *clockwork.FakeClock
	bus     *dispatchtest.Recorder
	metrics *metrics.FleetMetrics
	channel *Channel
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	db := memory.New(clock)
	db.PutArea(domain.Area{ID: 10, Name: "Lobby", ManagerID: int64Ptr(manager.UserID)})
	db.PutArea(domain.Area{ID: 20, Name: "Kitchen"})

	ctx := context.Background()
	for _, s := range []domain.Screen{
		{Code: lobbyCode, IPAddress: "10.0.0.1", AreaID: int64Ptr(10), Approved: true},
		{Code: kitchenCode, IPAddress: "10.0.0.2", AreaID: int64Ptr(20), Approved: true},
		{Code: pendingCode, IPAddress: "10.0.0.3", AreaID: int64Ptr(10)},
	} {
		s.Name = s.Code
		_, err := db.Screens().Create(ctx, &s)
		require.NoError(t, err)
	}

	bus := &dispatchtest.Recorder{}
	m := metrics.NewFleetMetrics(prometheus.NewRegistry())
	return &fixture{
		db:      db,
		clock:   clock,
		bus:     bus,
		metrics: m,
		channel: NewChannel(db.Screens(), db.Areas(), db.ScreenLogs(), bus, clock, 0, m),
	}
}

// lastRequestID returns the id carried by the most recent capture request.
func (f *fixture) lastRequestID(t *testing.T) string {
	t.Helper()
	reqs := f.bus.Events(domain.EventRequestCapture)
	require.NotEmpty(t, reqs)
	return reqs[len(reqs)-1].Payload.(domain.CaptureRequest).RequestID
}

func TestSend_ForwardsAndLogs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cmd, err := f.channel.Send(ctx, admin, lobbyCode, "volume", map[string]any{"level": 40})
	require.NoError(t, err)

	assert.Equal(t, "volume", cmd.Action)
	assert.Equal(t, f.clock.Now(), cmd.Timestamp)
	require.NotNil(t, cmd.ControlledBy)
	assert.Equal(t, admin.UserID, *cmd.ControlledBy)

	msgs := f.bus.Events(domain.EventRemoteControl)
	require.Len(t, msgs, 1)
	assert.Equal(t, []domain.Scope{domain.ScreenScope(lobbyCode)}, msgs[0].Scopes)
	assert.Equal(t, cmd, msgs[0].Payload)

	logs, total, err := f.channel.Logs(ctx, admin, lobbyCode, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, logs, 1)
	assert.Equal(t, "REMOTE_VOLUME", logs[0].Action)
	assert.Equal(t, map[string]any{"data": map[string]any{"level": 40}}, logs[0].Details)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RemoteCommands.WithLabelValues("volume")))
}

func TestSend_Whitelist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, action := range Actions {
		_, err := f.channel.Send(ctx, admin, lobbyCode, action, nil)
		assert.NoError(t, err, action)
	}

	for _, action := range []string{"", "shutdown", "PLAY", "changecontent", "rm -rf"} {
		_, err := f.channel.Send(ctx, admin, lobbyCode, action, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidAction, action)
	}

	assert.Len(t, f.bus.Events(domain.EventRemoteControl), len(Actions))
}

func TestSend_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.channel.Send(ctx, admin, "SCR-NOPE0000", "play", nil)
	assert.ErrorIs(t, err, domain.ErrScreenNotFound)

	_, err = f.channel.Send(ctx, admin, pendingCode, "play", nil)
	assert.ErrorIs(t, err, domain.ErrNotApproved)

	_, err = f.channel.Send(ctx, manager, kitchenCode, "play", nil)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.channel.Send(ctx, manager, lobbyCode, "play", nil)
	assert.NoError(t, err)

	assert.Len(t, f.bus.Messages(), 1)
}

func TestRequestCapture_ReturnsReply(t *testing.T) {
	f := newFixture(t)
	f.bus.OnPublish = func(msg dispatchtest.Message) {
		if msg.Event != domain.EventRequestCapture {
			return
		}
		req := msg.Payload.(domain.CaptureRequest)
		go f.channel.ResolveCapture(context.Background(), lobbyCode, domain.CaptureReply{RequestID: req.RequestID, Image: "data:image/png;base64,AAAA"})
	}

	reply, err := f.channel.RequestCapture(context.Background(), admin, lobbyCode)
	require.NoError(t, err)

	assert.Equal(t, "data:image/png;base64,AAAA", reply.Image)
	assert.Equal(t, lobbyCode, reply.ScreenCode)
	assert.Equal(t, f.lastRequestID(t), reply.RequestID)
	assert.False(t, f.channel.Outstanding(lobbyCode))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CaptureRequests.WithLabelValues("ok")))
}

func TestRequestCapture_TimesOutWithoutSession(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := f.channel.RequestCapture(ctx, admin, lobbyCode)
		errCh <- err
	}()

	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	f.clock.Advance(DefaultCaptureTimeout - time.Millisecond)
	assert.True(t, f.channel.Outstanding(lobbyCode))
	f.clock.Advance(time.Millisecond)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, domain.ErrCaptureTimeout)
	case <-ctx.Done():
		t.Fatal("capture never timed out")
	}
	assert.False(t, f.channel.Outstanding(lobbyCode))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CaptureRequests.WithLabelValues("timeout")))
}

func TestRequestCapture_LateReplyIsDropped(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := f.channel.RequestCapture(ctx, admin, lobbyCode)
		errCh <- err
	}()
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	expired := f.lastRequestID(t)
	f.clock.Advance(DefaultCaptureTimeout)
	require.ErrorIs(t, <-errCh, domain.ErrCaptureTimeout)

	assert.False(t, f.channel.ResolveCapture(ctx, lobbyCode, domain.CaptureReply{RequestID: expired, Image: "late"}))

	// A newer request must not be satisfied by the stale reply either.
	replies := make(chan *domain.CaptureReply, 1)
	go func() {
		reply, err := f.channel.RequestCapture(ctx, admin, lobbyCode)
		assert.NoError(t, err)
		replies <- reply
	}()
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	current := f.lastRequestID(t)
	require.NotEqual(t, expired, current)

	assert.False(t, f.channel.ResolveCapture(ctx, lobbyCode, domain.CaptureReply{RequestID: expired, Image: "late"}))
	assert.True(t, f.channel.ResolveCapture(ctx, lobbyCode, domain.CaptureReply{RequestID: current, Image: "fresh"}))

	select {
	case reply := <-replies:
		assert.Equal(t, "fresh", reply.Image)
	case <-ctx.Done():
		t.Fatal("capture never resolved")
	}
}

func TestResolveCapture_NothingOutstanding(t *testing.T) {
	f := newFixture(t)

	assert.False(t, f.channel.ResolveCapture(context.Background(), lobbyCode, domain.CaptureReply{Image: "x"}))
}

func TestRequestCapture_ConcurrentCallersShareOneRequest(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const callers = 3
	var wg sync.WaitGroup
	replies := make(chan *domain.CaptureReply, callers)
	call := func() {
		defer wg.Done()
		reply, err := f.channel.RequestCapture(ctx, admin, lobbyCode)
		assert.NoError(t, err)
		replies <- reply
	}

	wg.Add(1)
	go call()
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	for range callers - 1 {
		wg.Add(1)
		go call()
	}
	time.Sleep(50 * time.Millisecond)

	require.Len(t, f.bus.Events(domain.EventRequestCapture), 1)
	// A reply without a request id answers whatever is outstanding.
	require.True(t, f.channel.ResolveCapture(ctx, lobbyCode, domain.CaptureReply{Image: "shared"}))
	wg.Wait()
	close(replies)

	for reply := range replies {
		assert.Equal(t, "shared", reply.Image)
	}
	assert.Len(t, f.bus.Events(domain.EventRequestCapture), 1)
}

func TestRequestCapture_CallerMayGiveUpEarly(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := f.channel.RequestCapture(ctx, admin, lobbyCode)
		errCh <- err
	}()
	wait, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	require.NoError(t, f.clock.BlockUntilContext(wait, 1))

	cancel()
	assert.True(t, errors.Is(<-errCh, context.Canceled))
	// The request itself stays outstanding until it times out.
	assert.True(t, f.channel.Outstanding(lobbyCode))

	f.clock.Advance(DefaultCaptureTimeout)
	assert.Eventually(t, func() bool { return !f.channel.Outstanding(lobbyCode) }, time.Second, 5*time.Millisecond)
}

func TestRequestCapture_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.channel.RequestCapture(ctx, admin, "SCR-NOPE0000")
	assert.ErrorIs(t, err, domain.ErrScreenNotFound)

	_, err = f.channel.RequestCapture(ctx, admin, pendingCode)
	assert.ErrorIs(t, err, domain.ErrNotApproved)

	_, err = f.channel.RequestCapture(ctx, manager, kitchenCode)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	assert.Empty(t, f.bus.Messages())
}

func TestLogs_Paging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, action := range []string{"play", "pause", "next"} {
		f.clock.Advance(time.Second)
		_, err := f.channel.Send(ctx, admin, lobbyCode, action, nil)
		require.NoError(t, err)
	}

	page, total, err := f.channel.Logs(ctx, manager, lobbyCode, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 2)
	assert.Equal(t, "REMOTE_NEXT", page[0].Action)
	assert.Equal(t, "REMOTE_PAUSE", page[1].Action)

	rest, _, err := f.channel.Logs(ctx, admin, lobbyCode, 2, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "REMOTE_PLAY", rest[0].Action)

	_, _, err = f.channel.Logs(ctx, manager, kitchenCode, 10, 0)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}
