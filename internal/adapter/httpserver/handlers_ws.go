package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/crxwnd/digitalizacionTV/internal/dispatch"
	"github.com/crxwnd/digitalizacionTV/internal/domain"
	apperrors "github.com/crxwnd/digitalizacionTV/internal/platform/errors"
	"github.com/labstack/echo/v4"
)

func (s *Server) registerSocketRoutes() {
	s.echo.GET("/ws/screen/:code", s.handleScreenSocket)
	s.echo.GET("/ws/dashboard", s.handleDashboardSocket)
}

// handleScreenSocket is the device channel. Only approved screens may connect;
// the session joins the screen, its area and global.
func (s *Server) handleScreenSocket(c echo.Context) error {
	ctx := c.Request().Context()
	code := c.Param("code")

	screen, err := s.screens.GetByCode(ctx, code)
	if err != nil {
		return err
	}
	if !screen.Approved {
		return domain.ErrNotApproved
	}

	conn, ok := s.upgrade(c)
	if !ok {
		return nil
	}
	scopes := domain.DeviceScopes(screen)
	if err := s.hub.Join(ctx, conn, scopes...); err != nil {
		slog.ErrorContext(ctx, "Failed to join screen session", "screen_code", code, "error", err)
		conn.Close("join failed")
		return nil
	}
	defer s.hub.Leave(conn)

	// A reject or area move between the lookup and Join disconnected nothing,
	// so check again now that the session is reachable.
	if reason, ok := s.stillJoinable(ctx, code, scopes); !ok {
		conn.Close(reason)
		return nil
	}

	slog.InfoContext(ctx, "Screen connected", "screen_code", code, "session_id", conn.ID())
	conn.ReadLoop(ctx, func(ctx context.Context, env dispatch.Envelope) {
		_, err := s.inbound.Handle(ctx, code, env)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrScreenNotFound), errors.Is(err, domain.ErrNotApproved):
			conn.Close("screen no longer approved")
		default:
			slog.WarnContext(ctx, "Failed to handle screen message", "screen_code", code, "event", env.Event, "error", err)
		}
	})
	conn.Close("connection closed")
	slog.InfoContext(ctx, "Screen disconnected", "screen_code", code, "session_id", conn.ID())
	return nil
}

func (s *Server) stillJoinable(ctx context.Context, code string, scopes []domain.Scope) (string, bool) {
	current, err := s.screens.GetByCode(ctx, code)
	switch {
	case errors.Is(err, domain.ErrScreenNotFound):
		return "screen no longer approved", false
	case err != nil:
		slog.WarnContext(ctx, "Failed to recheck screen after join", "screen_code", code, "error", err)
		return "", true
	case !current.Approved:
		return "screen no longer approved", false
	case !slices.Equal(domain.DeviceScopes(current), scopes):
		return "screen moved, reconnect", false
	}
	return "", true
}

// handleDashboardSocket takes the operator token from the query string since
// browsers cannot set headers on a socket upgrade.
func (s *Server) handleDashboardSocket(c echo.Context) error {
	ctx := c.Request().Context()

	token := c.QueryParam("token")
	if token == "" {
		token = c.Request().Header.Get(echo.HeaderAuthorization)
	}
	op, err := s.auth.Verify(ctx, token)
	if err != nil {
		return apperrors.UnauthorizedError("authentication required").WithField("reason", err.Error())
	}

	scopes, err := s.dashboardScopes(ctx, *op)
	if err != nil {
		return err
	}

	conn, ok := s.upgrade(c)
	if !ok {
		return nil
	}
	if err := s.hub.Join(ctx, conn, scopes...); err != nil {
		slog.ErrorContext(ctx, "Failed to join dashboard session", "user_id", op.UserID, "error", err)
		conn.Close("join failed")
		return nil
	}
	defer s.hub.Leave(conn)

	conn.ReadLoop(ctx, func(ctx context.Context, env dispatch.Envelope) {
		slog.DebugContext(ctx, "Ignoring dashboard message", "user_id", op.UserID, "event", env.Event)
	})
	conn.Close("connection closed")
	return nil
}

// dashboardScopes: admins watch everything through global; managers add each
// area they run.
func (s *Server) dashboardScopes(ctx context.Context, op domain.Operator) ([]domain.Scope, error) {
	scopes := []domain.Scope{domain.GlobalScope}
	if op.IsAdmin() {
		return scopes, nil
	}

	managed, err := s.areas.ManagedAreaIDs(ctx, op.UserID)
	if err != nil {
		return nil, apperrors.InternalError("failed to load managed areas", err)
	}
	for _, id := range managed {
		scopes = append(scopes, domain.AreaScope(id))
	}
	return scopes, nil
}

// upgrade hands the request to gorilla. On failure the upgrader has already
// written the response.
func (s *Server) upgrade(c echo.Context) (*dispatch.Conn, bool) {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.WarnContext(c.Request().Context(), "WebSocket upgrade failed", "path", c.Path(), "error", err)
		return nil, false
	}
	return dispatch.NewConn(ws, s.clock), true
}
