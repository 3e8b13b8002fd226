package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/crxwnd/digitalizacionTV/internal/adapter/metrics"
	"github.com/crxwnd/digitalizacionTV/internal/adapter/websocket"
	"github.com/crxwnd/digitalizacionTV/internal/content"
	"github.com/crxwnd/digitalizacionTV/internal/dispatch"
	"github.com/crxwnd/digitalizacionTV/internal/domain"
	"github.com/crxwnd/digitalizacionTV/internal/monitor"
	"github.com/crxwnd/digitalizacionTV/internal/platform/config"
	"github.com/crxwnd/digitalizacionTV/internal/screen"
	gorillaws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

type screenService interface {
	Register(ctx context.Context, op domain.Operator, req screen.Registration) (*domain.Screen, error)
	Approve(ctx context.Context, op domain.Operator, id int64) (*domain.Screen, error)
	Reject(ctx context.Context, op domain.Operator, id int64) (*domain.Screen, error)
	RecordHeartbeat(ctx context.Context, code string, report screen.HeartbeatReport) (*domain.Screen, error)
	GetByCode(ctx context.Context, code string) (*domain.Screen, error)
	Get(ctx context.Context, op domain.Operator, id int64) (*domain.Screen, error)
	List(ctx context.Context, op domain.Operator) ([]domain.Screen, error)
	Update(ctx context.Context, op domain.Operator, id int64, update domain.ScreenUpdate) (*domain.Screen, error)
	Delete(ctx context.Context, op domain.Operator, id int64) (*domain.Screen, error)
	Stats(ctx context.Context, op domain.Operator) (domain.ScreenStats, error)
}

type contentService interface {
	Assign(ctx context.Context, op domain.Operator, req content.AssignRequest) (*domain.ContentAssignment, error)
	Refresh(ctx context.Context, op domain.Operator, code string) (*domain.ContentAssignment, error)
	ForScreen(ctx context.Context, code string) (*domain.ContentAssignment, error)
	Forget(ctx context.Context, code string)
}

type notificationService interface {
	Create(ctx context.Context, op domain.Operator, n domain.Notification, displayImmediately bool) (*domain.Notification, error)
	SendEmergencyAlert(ctx context.Context, op domain.Operator, title, message string) (*domain.Notification, error)
	ActiveForScreen(ctx context.Context, code string) ([]domain.Notification, error)
	List(ctx context.Context, op domain.Operator) ([]domain.Notification, error)
	Get(ctx context.Context, op domain.Operator, id int64) (*domain.Notification, error)
	Update(ctx context.Context, op domain.Operator, id int64, upd domain.NotificationUpdate) (*domain.Notification, error)
	Delete(ctx context.Context, op domain.Operator, id int64) error
	Stats(ctx context.Context, op domain.Operator) (domain.NotificationStats, error)
}

type remoteService interface {
	Send(ctx context.Context, op domain.Operator, code, action string, data map[string]any) (*domain.RemoteCommand, error)
	RequestCapture(ctx context.Context, op domain.Operator, code string) (*domain.CaptureReply, error)
	Logs(ctx context.Context, op domain.Operator, code string, limit, offset int) ([]domain.ScreenLog, int, error)
}

type monitorService interface {
	Global(ctx context.Context, op domain.Operator) (*monitor.GlobalView, error)
	Area(ctx context.Context, op domain.Operator, areaID int64) (*monitor.AreaBucket, error)
	Realtime(ctx context.Context, op domain.Operator) (*monitor.RealtimeView, error)
}

// sessionHub binds socket sessions to scopes.
type sessionHub interface {
	Join(ctx context.Context, s dispatch.Session, scopes ...domain.Scope) error
	Leave(s dispatch.Session)
	Count(scope domain.Scope) int
}

type deviceInbound interface {
	Handle(ctx context.Context, code string, env dispatch.Envelope) (*domain.Screen, error)
}

// Services are the collaborators behind the HTTP surface.
type Services struct {
	Screens       screenService
	Content       contentService
	Notifications notificationService
	Remote        remoteService
	Monitor       monitorService
	Auth          domain.Authenticator
	Areas         domain.AreaDirectory
	Hub           sessionHub
	Inbound       deviceInbound
}

type Server struct {
	echo   *echo.Echo
	config *config.Config
	clock  clockwork.Clock

	screens       screenService
	content       contentService
	notifications notificationService
	remote        remoteService
	monitor       monitorService
	auth          domain.Authenticator
	areas         domain.AreaDirectory
	hub           sessionHub
	inbound       deviceInbound

	upgrader     *gorillaws.Upgrader
	registry     *prometheus.Registry
	httpMetrics  *metrics.HTTPMetrics
	healthChecks []HealthCheck
	startTime    time.Time
}

type Option func(*Server)

// WithMetrics exposes reg on /metrics and records request metrics.
func WithMetrics(reg *prometheus.Registry, m *metrics.HTTPMetrics) Option {
	return func(s *Server) {
		s.registry = reg
		s.httpMetrics = m
	}
}

func WithHealthChecks(checks ...HealthCheck) Option {
	return func(s *Server) { s.healthChecks = checks }
}

func NewServer(cfg *config.Config, clock clockwork.Clock, svc Services, opts ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = httpErrorHandler

	srv := &Server{
		echo:          e,
		config:        cfg,
		clock:         clock,
		screens:       svc.Screens,
		content:       svc.Content,
		notifications: svc.Notifications,
		remote:        svc.Remote,
		monitor:       svc.Monitor,
		auth:          svc.Auth,
		areas:         svc.Areas,
		hub:           svc.Hub,
		inbound:       svc.Inbound,
		upgrader:      websocket.NewUpgrader(websocket.OriginPolicy{
			AppURL:         cfg.AppURL,
			Extra:          cfg.AllowedOrigins,
			AllowLocalhost: !cfg.IsProduction(),
		}),
		startTime:     clock.Now(),
	}
	for _, opt := range opts {
		opt(srv)
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP lets tests and embedding callers drive the router directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
