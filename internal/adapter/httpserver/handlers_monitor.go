package httpserver

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/crxwnd/digitalizacionTV/internal/domain"
	apperrors "github.com/crxwnd/digitalizacionTV/internal/platform/errors"
	"github.com/labstack/echo/v4"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 200
)

func (s *Server) registerMonitorRoutes() {
	controlLimit := newKeyedRateLimiter(byOperator, controlRatePerSecond, controlBurst)

	s.echo.GET("/api/monitor/global", s.handleGlobalMonitor, s.requireOperator)
	s.echo.GET("/api/monitor/area/:id", s.handleAreaMonitor, s.requireOperator)
	s.echo.GET("/api/monitor/realtime", s.handleRealtimeStatus, s.requireOperator)
	s.echo.POST("/api/monitor/capture/:code", s.handleCapture, s.requireOperator)
	s.echo.POST("/api/monitor/control/:code", s.handleRemoteControl, s.requireOperator, controlLimit)
	s.echo.GET("/api/monitor/logs/:code", s.handleScreenLogs, s.requireOperator)
}

type remoteControlRequest struct {
	Action string         `json:"action"`
	Data   map[string]any `json:"data"`
}

type logsResponse struct {
	Logs   []domain.ScreenLog `json:"logs"`
	Total  int                `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

func (s *Server) handleGlobalMonitor(c echo.Context) error {
	op, err := operatorFrom(c)
	if err != nil {
		return err
	}

	view, err := s.monitor.Global(c.Request().Context(), op)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, view); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleAreaMonitor(c echo.Context) error {
	op, err := operatorFrom(c)
	if err != nil {
		return err
	}
	areaID, err := pathID(c, "id")
	if err != nil {
		return err
	}

	bucket, err := s.monitor.Area(c.Request().Context(), op, areaID)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, bucket); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleRealtimeStatus(c echo.Context) error {
	op, err := operatorFrom(c)
	if err != nil {
		return err
	}

	view, err := s.monitor.Realtime(c.Request().Context(), op)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, view); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// handleCapture blocks until the screen replies or the capture times out.
func (s *Server) handleCapture(c echo.Context) error {
	op, err := operatorFrom(c)
	if err != nil {
		return err
	}

	reply, err := s.remote.RequestCapture(c.Request().Context(), op, c.Param("code"))
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, reply); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleRemoteControl(c echo.Context) error {
	op, err := operatorFrom(c)
	if err != nil {
		return err
	}

	var req remoteControlRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("malformed request body")
	}

	cmd, err := s.remote.Send(c.Request().Context(), op, c.Param("code"), req.Action, req.Data)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusAccepted, cmd); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleScreenLogs(c echo.Context) error {
	op, err := operatorFrom(c)
	if err != nil {
		return err
	}

	limit, err := queryInt(c, "limit", defaultLogLimit)
	if err != nil {
		return err
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		return err
	}
	limit = min(max(limit, 1), maxLogLimit)

	logs, total, err := s.remote.Logs(c.Request().Context(), op, c.Param("code"), limit, offset)
	if err != nil {
		return err
	}
	if logs == nil {
		logs = []domain.ScreenLog{}
	}

	response := logsResponse{Logs: logs, Total: total, Limit: limit, Offset: offset}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func queryInt(c echo.Context, name string, fallback int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, apperrors.ValidationError("invalid " + name).WithField(name, raw)
	}
	return v, nil
}
