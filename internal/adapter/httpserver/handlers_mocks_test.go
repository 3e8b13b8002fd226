package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/crxwnd/digitalizacionTV/internal/content"
	"github.com/crxwnd/digitalizacionTV/internal/dispatch"
	"github.com/crxwnd/digitalizacionTV/internal/domain"
	"github.com/crxwnd/digitalizacionTV/internal/monitor"
	"github.com/crxwnd/digitalizacionTV/internal/platform/config"
	"github.com/crxwnd/digitalizacionTV/internal/screen"
	"github.com/jonboulle/clockwork"
)

var errNotImplemented = errors.New("not implemented")

var (
	admin   = domain.Operator{UserID: 1, Email: "admin@example.com", Role: domain.RoleAdmin}
	manager = domain.Operator{UserID: 2, Email: "manager@example.com", Role: domain.RoleManager}
)

const (
	adminToken   = "admin-token"
	managerToken = "manager-token"
)

// --- Mock implementations ---

type mockScreens struct {
	registerFn        func(ctx context.Context, op domain.Operator, req screen.Registration) (*domain.Screen, error)
	approveFn         func(ctx context.Context, op domain.Operator, id int64) (*domain.Screen, error)
	rejectFn          func(ctx context.Context, op domain.Operator, id int64) (*domain.Screen, error)
	recordHeartbeatFn func(ctx context.Context, code string, report screen.HeartbeatReport) (*domain.Screen, error)
	getByCodeFn       func(ctx context.Context, code string) (*domain.Screen, error)
	getFn             func(ctx context.Context, op domain.Operator, id int64) (*domain.Screen, error)
	listFn            func(ctx context.Context, op domain.Operator) ([]domain.Screen, error)
	updateFn          func(ctx context.Context, op domain.Operator, id int64, update domain.ScreenUpdate) (*domain.Screen, error)
	deleteFn          func(ctx context.Context, op domain.Operator, id int64) (*domain.Screen, error)
	statsFn           func(ctx context.Context, op domain.Operator) (domain.ScreenStats, error)
}

func (m *mockScreens) Register(ctx context.Context, op domain.Operator, req screen.Registration) (*domain.Screen, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, op, req)
	}
	return nil, errNotImplemented
}

func (m *mockScreens) Approve(ctx context.Context, op domain.Operator, id int64) (*domain.Screen, error) {
	if m.approveFn != nil {
		return m.approveFn(ctx, op, id)
	}
	return nil, errNotImplemented
}

func (m *mockScreens) Reject(ctx context.Context, op domain.Operator, id int64) (*domain.Screen, error) {
	if m.rejectFn != nil {
		return m.rejectFn(ctx, op, id)
	}
	return nil, errNotImplemented
}

func (m *mockScreens) RecordHeartbeat(ctx context.Context, code string, report screen.HeartbeatReport) (*domain.Screen, error) {
	if m.recordHeartbeatFn != nil {
		return m.recordHeartbeatFn(ctx, code, report)
	}
	return nil, errNotImplemented
}

func (m *mockScreens) GetByCode(ctx context.Context, code string) (*domain.Screen, error) {
	if m.getByCodeFn != nil {
		return m.getByCodeFn(ctx, code)
	}
	return nil, domain.ErrScreenNotFound
}

func (m *mockScreens) Get(ctx context.Context, op domain.Operator, id int64) (*domain.Screen, error) {
	if m.getFn != nil {
		return m.getFn(ctx, op, id)
	}
	return nil, domain.ErrScreenNotFound
}

func (m *mockScreens) List(ctx context.Context, op domain.Operator) ([]domain.Screen, error) {
	if m.listFn != nil {
		return m.listFn(ctx, op)
	}
	return nil, nil
}

func (m *mockScreens) Update(ctx context.Context, op domain.Operator, id int64, update domain.ScreenUpdate) (*domain.Screen, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, op, id, update)
	}
	return nil, errNotImplemented
}

func (m *mockScreens) Delete(ctx context.Context, op domain.Operator, id int64) (*domain.Screen, error) {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, op, id)
	}
	return nil, errNotImplemented
}

func (m *mockScreens) Stats(ctx context.Context, op domain.Operator) (domain.ScreenStats, error) {
	if m.statsFn != nil {
		return m.statsFn(ctx, op)
	}
	return domain.ScreenStats{}, nil
}

type mockContent struct {
	assignFn    func(ctx context.Context, op domain.Operator, req content.AssignRequest) (*domain.ContentAssignment, error)
	refreshFn   func(ctx context.Context, op domain.Operator, code string) (*domain.ContentAssignment, error)
	forScreenFn func(ctx context.Context, code string) (*domain.ContentAssignment, error)

	mu        sync.Mutex
	forgotten []string
}

func (m *mockContent) Assign(ctx context.Context, op domain.Operator, req content.AssignRequest) (*domain.ContentAssignment, error) {
	if m.assignFn != nil {
		return m.assignFn(ctx, op, req)
	}
	return nil, errNotImplemented
}

func (m *mockContent) Refresh(ctx context.Context, op domain.Operator, code string) (*domain.ContentAssignment, error) {
	if m.refreshFn != nil {
		return m.refreshFn(ctx, op, code)
	}
	return nil, errNotImplemented
}

func (m *mockContent) ForScreen(ctx context.Context, code string) (*domain.ContentAssignment, error) {
	if m.forScreenFn != nil {
		return m.forScreenFn(ctx, code)
	}
	return nil, nil
}

func (m *mockContent) Forget(_ context.Context, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forgotten = append(m.forgotten, code)
}

type mockNotifications struct {
	createFn          func(ctx context.Context, op domain.Operator, n domain.Notification, displayImmediately bool) (*domain.Notification, error)
	emergencyFn       func(ctx context.Context, op domain.Operator, title, message string) (*domain.Notification, error)
	activeForScreenFn func(ctx context.Context, code string) ([]domain.Notification, error)
	listFn            func(ctx context.Context, op domain.Operator) ([]domain.Notification, error)
	getFn             func(ctx context.Context, op domain.Operator, id int64) (*domain.Notification, error)
	updateFn          func(ctx context.Context, op domain.Operator, id int64, upd domain.NotificationUpdate) (*domain.Notification, error)
	deleteFn          func(ctx context.Context, op domain.Operator, id int64) error
	statsFn           func(ctx context.Context, op domain.Operator) (domain.NotificationStats, error)
}

func (m *mockNotifications) Create(ctx context.Context, op domain.Operator, n domain.Notification, displayImmediately bool) (*domain.Notification, error) {
	if m.createFn != nil {
		return m.createFn(ctx, op, n, displayImmediately)
	}
	return nil, errNotImplemented
}

func (m *mockNotifications) SendEmergencyAlert(ctx context.Context, op domain.Operator, title, message string) (*domain.Notification, error) {
	if m.emergencyFn != nil {
		return m.emergencyFn(ctx, op, title, message)
	}
	return nil, errNotImplemented
}

func (m *mockNotifications) ActiveForScreen(ctx context.Context, code string) ([]domain.Notification, error) {
	if m.activeForScreenFn != nil {
		return m.activeForScreenFn(ctx, code)
	}
	return nil, nil
}

func (m *mockNotifications) List(ctx context.Context, op domain.Operator) ([]domain.Notification, error) {
	if m.listFn != nil {
		return m.listFn(ctx, op)
	}
	return nil, nil
}

func (m *mockNotifications) Get(ctx context.Context, op domain.Operator, id int64) (*domain.Notification, error) {
	if m.getFn != nil {
		return m.getFn(ctx, op, id)
	}
	return nil, domain.ErrNotificationNotFound
}

func (m *mockNotifications) Update(ctx context.Context, op domain.Operator, id int64, upd domain.NotificationUpdate) (*domain.Notification, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, op, id, upd)
	}
	return nil, errNotImplemented
}

func (m *mockNotifications) Delete(ctx context.Context, op domain.Operator, id int64) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, op, id)
	}
	return errNotImplemented
}

func (m *mockNotifications) Stats(ctx context.Context, op domain.Operator) (domain.NotificationStats, error) {
	if m.statsFn != nil {
		return m.statsFn(ctx, op)
	}
	return domain.NotificationStats{}, nil
}

type mockRemote struct {
	sendFn    func(ctx context.Context, op domain.Operator, code, action string, data map[string]any) (*domain.RemoteCommand, error)
	captureFn func(ctx context.Context, op domain.Operator, code string) (*domain.CaptureReply, error)
	logsFn    func(ctx context.Context, op domain.Operator, code string, limit, offset int) ([]domain.ScreenLog, int, error)
}

func (m *mockRemote) Send(ctx context.Context, op domain.Operator, code, action string, data map[string]any) (*domain.RemoteCommand, error) {
	if m.sendFn != nil {
		return m.sendFn(ctx, op, code, action, data)
	}
	return nil, errNotImplemented
}

func (m *mockRemote) RequestCapture(ctx context.Context, op domain.Operator, code string) (*domain.CaptureReply, error) {
	if m.captureFn != nil {
		return m.captureFn(ctx, op, code)
	}
	return nil, errNotImplemented
}

func (m *mockRemote) Logs(ctx context.Context, op domain.Operator, code string, limit, offset int) ([]domain.ScreenLog, int, error) {
	if m.logsFn != nil {
		return m.logsFn(ctx, op, code, limit, offset)
	}
	return nil, 0, nil
}

type mockMonitor struct {
	globalFn   func(ctx context.Context, op domain.Operator) (*monitor.GlobalView, error)
	areaFn     func(ctx context.Context, op domain.Operator, areaID int64) (*monitor.AreaBucket, error)
	realtimeFn func(ctx context.Context, op domain.Operator) (*monitor.RealtimeView, error)
}

func (m *mockMonitor) Global(ctx context.Context, op domain.Operator) (*monitor.GlobalView, error) {
	if m.globalFn != nil {
		return m.globalFn(ctx, op)
	}
	return nil, errNotImplemented
}

func (m *mockMonitor) Area(ctx context.Context, op domain.Operator, areaID int64) (*monitor.AreaBucket, error) {
	if m.areaFn != nil {
		return m.areaFn(ctx, op, areaID)
	}
	return nil, errNotImplemented
}

func (m *mockMonitor) Realtime(ctx context.Context, op domain.Operator) (*monitor.RealtimeView, error) {
	if m.realtimeFn != nil {
		return m.realtimeFn(ctx, op)
	}
	return nil, errNotImplemented
}

// mockAuth accepts the two fixed tokens, with or without the Bearer scheme.
type mockAuth struct{}

func (mockAuth) Verify(_ context.Context, token string) (*domain.Operator, error) {
	switch strings.TrimPrefix(token, "Bearer ") {
	case adminToken:
		op := admin
		return &op, nil
	case managerToken:
		op := manager
		return &op, nil
	default:
		return nil, domain.ErrUnauthorized
	}
}

type mockAreas struct {
	managed map[int64][]int64
	err     error
}

func (m *mockAreas) ListAreas(context.Context) ([]domain.Area, error) {
	return nil, nil
}

func (m *mockAreas) ManagedAreaIDs(_ context.Context, userID int64) ([]int64, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.managed[userID], nil
}

type mockInbound struct {
	handleFn func(ctx context.Context, code string, env dispatch.Envelope) (*domain.Screen, error)
}

func (m *mockInbound) Handle(ctx context.Context, code string, env dispatch.Envelope) (*domain.Screen, error) {
	if m.handleFn != nil {
		return m.handleFn(ctx, code, env)
	}
	return nil, nil
}

// --- Test helpers ---

type testDeps struct {
	screens       *mockScreens
	content       *mockContent
	notifications *mockNotifications
	remote        *mockRemote
	monitor       *mockMonitor
	areas         *mockAreas
	inbound       *mockInbound
	hub           sessionHub
	clock         *clockwork.FakeClock
}

func newTestDeps() *testDeps {
	return &testDeps{
		screens:       &mockScreens{},
		content:       &mockContent{},
		notifications: &mockNotifications{},
		remote:        &mockRemote{},
		monitor:       &mockMonitor{},
		areas:         &mockAreas{managed: map[int64][]int64{manager.UserID: {10}}},
		inbound:       &mockInbound{},
		hub:           dispatch.New(clockwork.NewRealClock(), nil),
		clock:         clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
}

func newTestServer(t *testing.T, deps *testDeps, opts ...Option) *Server {
	t.Helper()
	if d, ok := deps.hub.(*dispatch.Dispatcher); ok {
		t.Cleanup(d.Stop)
	}

	cfg := &config.Config{
		AppEnv:             "development",
		AppURL:             "http://localhost:8080",
		HeartbeatRateLimit: 100,
	}
	return NewServer(cfg, deps.clock, Services{
		Screens:       deps.screens,
		Content:       deps.content,
		Notifications: deps.notifications,
		Remote:        deps.remote,
		Monitor:       deps.monitor,
		Auth:          mockAuth{},
		Areas:         deps.areas,
		Hub:           deps.hub,
		Inbound:       deps.inbound,
	}, opts...)
}

// do runs a request through the full router, middleware included.
func do(t *testing.T, srv *Server, method, target, token string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func jsonBody(s string) io.Reader {
	return strings.NewReader(s)
}

func int64Ptr(v int64) *int64 { return &v }

var _ http.Handler = (*Server)(nil)
