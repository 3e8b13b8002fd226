package httpserver

import (
	"fmt"
	"net/http"

	"github.com/crxwnd/digitalizacionTV/internal/content"
	apperrors "github.com/crxwnd/digitalizacionTV/internal/platform/errors"
	"github.com/labstack/echo/v4"
)

func (s *Server) registerContentRoutes() {
	s.echo.POST("/api/content/assign", s.handleAssignContent, s.requireOperator)
	s.echo.POST("/api/content/screen/:code/refresh", s.handleRefreshContent, s.requireOperator)
}

type assignRequest struct {
	ScreenCode string `json:"screenCode"`
	ContentID  *int64 `json:"contentId"`
	PlaylistID *int64 `json:"playlistId"`
	Duration   int    `json:"duration"`
	Immediate  bool   `json:"immediate"`
}

func (s *Server) handleAssignContent(c echo.Context) error {
	op, err := operatorFrom(c)
	if err != nil {
		return err
	}

	var req assignRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("malformed request body")
	}
	if req.ScreenCode == "" {
		return apperrors.ValidationError("screenCode is required")
	}

	assignment, err := s.content.Assign(c.Request().Context(), op, content.AssignRequest{
		ScreenCode: req.ScreenCode,
		ContentID:  req.ContentID,
		PlaylistID: req.PlaylistID,
		Duration:   req.Duration,
		Immediate:  req.Immediate,
	})
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, assignment); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleRefreshContent(c echo.Context) error {
	op, err := operatorFrom(c)
	if err != nil {
		return err
	}

	assignment, err := s.content.Refresh(c.Request().Context(), op, c.Param("code"))
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, assignment); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
