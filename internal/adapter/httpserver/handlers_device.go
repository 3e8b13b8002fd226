package httpserver

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/crxwnd/digitalizacionTV/internal/device"
	"github.com/crxwnd/digitalizacionTV/internal/domain"
	apperrors "github.com/crxwnd/digitalizacionTV/internal/platform/errors"
	"github.com/labstack/echo/v4"
)

// Device routes are unauthenticated; players identify themselves by code.
func (s *Server) registerDeviceRoutes() {
	limit := newRateLimiter(s.config.HeartbeatRateLimit, heartbeatBurst)

	s.echo.POST("/api/screens/heartbeat", s.handleHeartbeat, limit)
	s.echo.GET("/api/screens/code/:code", s.handleScreenByCode)
	s.echo.GET("/api/content/screen/:code", s.handleContentForScreen)
	s.echo.GET("/api/notifications/screen/:code", s.handleNotificationsForScreen)
}

type heartbeatRequest struct {
	Code string `json:"code"`
	device.HeartbeatMessage
}

// screenSummary is what a player learns about itself.
type screenSummary struct {
	ID            int64      `json:"id"`
	Code          string     `json:"code"`
	Name          string     `json:"name"`
	Location      string     `json:"location,omitempty"`
	AreaID        *int64     `json:"areaId"`
	Approved      bool       `json:"approved"`
	Online        bool       `json:"online"`
	LastHeartbeat *time.Time `json:"lastHeartbeat"`
	PlayerStatus  string     `json:"playerStatus,omitempty"`
}

func summarize(screen *domain.Screen) screenSummary {
	return screenSummary{
		ID:            screen.ID,
		Code:          screen.Code,
		Name:          screen.Name,
		Location:      screen.Location,
		AreaID:        screen.AreaID,
		Approved:      screen.Approved,
		Online:        screen.Online,
		LastHeartbeat: screen.LastHeartbeat,
		PlayerStatus:  screen.PlayerStatus,
	}
}

func (s *Server) handleHeartbeat(c echo.Context) error {
	var req heartbeatRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("malformed heartbeat body")
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return apperrors.ValidationError("code is required")
	}

	screen, err := s.screens.RecordHeartbeat(c.Request().Context(), code, req.Report())
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, summarize(screen)); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleScreenByCode(c echo.Context) error {
	screen, err := s.screens.GetByCode(c.Request().Context(), c.Param("code"))
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, summarize(screen)); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

type contentForScreenResponse struct {
	ScreenCode string                    `json:"screenCode"`
	Assignment *domain.ContentAssignment `json:"assignment"`
}

func (s *Server) handleContentForScreen(c echo.Context) error {
	code := c.Param("code")
	assignment, err := s.content.ForScreen(c.Request().Context(), code)
	if err != nil {
		return err
	}

	response := contentForScreenResponse{ScreenCode: code, Assignment: assignment}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleNotificationsForScreen(c echo.Context) error {
	active, err := s.notifications.ActiveForScreen(c.Request().Context(), c.Param("code"))
	if err != nil {
		return err
	}

	summaries := make([]domain.NotificationSummary, 0, len(active))
	for i := range active {
		summaries = append(summaries, active[i].Summary())
	}
	if err := c.JSON(http.StatusOK, summaries); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
