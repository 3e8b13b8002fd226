package httpserver

import (
	"fmt"
	"net/http"
	"time"

	"github.com/crxwnd/digitalizacionTV/internal/domain"
	apperrors "github.com/crxwnd/digitalizacionTV/internal/platform/errors"
	"github.com/labstack/echo/v4"
)

func (s *Server) registerNotificationRoutes() {
	s.echo.GET("/api/notifications", s.handleListNotifications, s.requireOperator)
	s.echo.GET("/api/notifications/stats", s.handleNotificationStats, s.requireOperator)
	s.echo.POST("/api/notifications", s.handleCreateNotification, s.requireOperator)
	s.echo.POST("/api/notifications/emergency", s.handleEmergencyAlert, s.requireOperator, requireAdmin)
	s.echo.GET("/api/notifications/:id", s.handleGetNotification, s.requireOperator)
	s.echo.PUT("/api/notifications/:id", s.handleUpdateNotification, s.requireOperator)
	s.echo.DELETE("/api/notifications/:id", s.handleDeleteNotification, s.requireOperator)
}

type createNotificationRequest struct {
	Title              string                  `json:"title"`
	Message            string                  `json:"message"`
	Type               domain.NotificationType `json:"type"`
	Priority           domain.Priority         `json:"priority"`
	AreaID             *int64                  `json:"areaId"`
	ScreenCodes        []string                `json:"screenCodes"`
	ValidFrom          *time.Time              `json:"validFrom"`
	ValidUntil         *time.Time              `json:"validUntil"`
	Duration           int                     `json:"duration"`
	DisplayImmediately bool                    `json:"displayImmediately"`
}

// updateNotificationRequest is partial. clearValidUntil and clearArea null the
// respective field, since JSON null cannot be told apart from absence here.
type updateNotificationRequest struct {
	Title           *string                  `json:"title"`
	Message         *string                  `json:"message"`
	Type            *domain.NotificationType `json:"type"`
	Priority        *domain.Priority         `json:"priority"`
	Active          *bool                    `json:"active"`
	ValidFrom       *time.Time               `json:"validFrom"`
	ValidUntil      *time.Time               `json:"validUntil"`
	ClearValidUntil bool                     `json:"clearValidUntil"`
	AreaID          *int64                   `json:"areaId"`
	ClearArea       bool                     `json:"clearArea"`
	ScreenCodes     *[]string                `json:"screenCodes"`
	Duration        *int                     `json:"duration"`
}

type emergencyRequest struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

func (s *Server) handleListNotifications(c echo.Context) error {
	op, err := operatorFrom(c)
	if err != nil {
		return err
	}

	list, err := s.notifications.List(c.Request().Context(), op)
	if err != nil {
		return err
	}
	if list == nil {
		list = []domain.Notification{}
	}

	if err := c.JSON(http.StatusOK, list); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleNotificationStats(c echo.Context) error {
	op, err := operatorFrom(c)
	if err != nil {
		return err
	}

	stats, err := s.notifications.Stats(c.Request().Context(), op)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, stats); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleCreateNotification(c echo.Context) error {
	op, err := operatorFrom(c)
	if err != nil {
		return err
	}

	var req createNotificationRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("malformed request body")
	}

	n := domain.Notification{
		Title:       req.Title,
		Message:     req.Message,
		Type:        req.Type,
		Priority:    req.Priority,
		AreaID:      req.AreaID,
		ScreenCodes: req.ScreenCodes,
		ValidUntil:  req.ValidUntil,
		Duration:    req.Duration,
	}
	if req.ValidFrom != nil {
		n.ValidFrom = *req.ValidFrom
	}

	created, err := s.notifications.Create(c.Request().Context(), op, n, req.DisplayImmediately)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusCreated, created); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleEmergencyAlert(c echo.Context) error {
	op, err := operatorFrom(c)
	if err != nil {
		return err
	}

	var req emergencyRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("malformed request body")
	}

	alert, err := s.notifications.SendEmergencyAlert(c.Request().Context(), op, req.Title, req.Message)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusCreated, alert); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleGetNotification(c echo.Context) error {
	op, err := operatorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	n, err := s.notifications.Get(c.Request().Context(), op, id)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, n); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleUpdateNotification(c echo.Context) error {
	op, err := operatorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	var req updateNotificationRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("malformed request body")
	}

	updated, err := s.notifications.Update(c.Request().Context(), op, id, domain.NotificationUpdate{
		Title:       req.Title,
		Message:     req.Message,
		Type:        req.Type,
		Priority:    req.Priority,
		Active:      req.Active,
		ValidFrom:   req.ValidFrom,
		ValidUntil:  req.ValidUntil,
		ClearUntil:  req.ClearValidUntil,
		AreaID:      req.AreaID,
		ClearArea:   req.ClearArea,
		ScreenCodes: req.ScreenCodes,
		Duration:    req.Duration,
	})
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, updated); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleDeleteNotification(c echo.Context) error {
	op, err := operatorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	if err := s.notifications.Delete(c.Request().Context(), op, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
