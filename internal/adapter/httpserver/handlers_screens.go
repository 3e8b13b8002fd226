package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/crxwnd/digitalizacionTV/internal/domain"
	apperrors "github.com/crxwnd/digitalizacionTV/internal/platform/errors"
	"github.com/crxwnd/digitalizacionTV/internal/screen"
	"github.com/labstack/echo/v4"
)

func (s *Server) registerScreenRoutes() {
	s.echo.GET("/api/screens", s.handleListScreens, s.requireOperator)
	s.echo.GET("/api/screens/stats", s.handleScreenStats, s.requireOperator)
	s.echo.POST("/api/screens", s.handleRegisterScreen, s.requireOperator)
	s.echo.GET("/api/screens/:id", s.handleGetScreen, s.requireOperator)
	s.echo.PUT("/api/screens/:id", s.handleUpdateScreen, s.requireOperator)
	s.echo.DELETE("/api/screens/:id", s.handleDeleteScreen, s.requireOperator)
	s.echo.POST("/api/screens/:id/approve", s.handleApproveScreen, s.requireOperator, requireAdmin)
	s.echo.POST("/api/screens/:id/reject", s.handleRejectScreen, s.requireOperator, requireAdmin)
}

func pathID(c echo.Context, name string) (int64, error) {
	raw := c.Param(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.ValidationError("invalid " + name).WithField(name, raw)
	}
	return id, nil
}

type registerScreenRequest struct {
	Name      string `json:"name"`
	Location  string `json:"location"`
	IPAddress string `json:"ipAddress"`
	AreaID    *int64 `json:"areaId"`
}

// updateScreenRequest replaces the editable fields. An absent areaId unassigns
// the screen, matching a form that always submits its area selector.
type updateScreenRequest struct {
	Name      *string `json:"name"`
	Location  *string `json:"location"`
	IPAddress *string `json:"ipAddress"`
	AreaID    *int64  `json:"areaId"`
}

func (s *Server) handleListScreens(c echo.Context) error {
	op, err := operatorFrom(c)
	if err != nil {
		return err
	}

	screens, err := s.screens.List(c.Request().Context(), op)
	if err != nil {
		return err
	}
	if screens == nil {
		screens = []domain.Screen{}
	}

	if err := c.JSON(http.StatusOK, screens); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleScreenStats(c echo.Context) error {
	op, err := operatorFrom(c)
	if err != nil {
		return err
	}

	stats, err := s.screens.Stats(c.Request().Context(), op)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, stats); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleRegisterScreen(c echo.Context) error {
	op, err := operatorFrom(c)
	if err != nil {
		return err
	}

	var req registerScreenRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("malformed request body")
	}

	created, err := s.screens.Register(c.Request().Context(), op, screen.Registration{
		Name:      req.Name,
		Location:  req.Location,
		IPAddress: req.IPAddress,
		AreaID:    req.AreaID,
	})
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusCreated, created); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleGetScreen(c echo.Context) error {
	op, err := operatorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	found, err := s.screens.Get(c.Request().Context(), op, id)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, found); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleUpdateScreen(c echo.Context) error {
	op, err := operatorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	var req updateScreenRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("malformed request body")
	}

	updated, err := s.screens.Update(c.Request().Context(), op, id, domain.ScreenUpdate{
		Name:      req.Name,
		Location:  req.Location,
		IPAddress: req.IPAddress,
		AreaID:    req.AreaID,
	})
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, updated); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleDeleteScreen(c echo.Context) error {
	op, err := operatorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	deleted, err := s.screens.Delete(ctx, op, id)
	if err != nil {
		return err
	}
	s.content.Forget(ctx, deleted.Code)

	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleApproveScreen(c echo.Context) error {
	return s.setApproval(c, s.screens.Approve)
}

func (s *Server) handleRejectScreen(c echo.Context) error {
	return s.setApproval(c, s.screens.Reject)
}

func (s *Server) setApproval(c echo.Context, apply func(ctx context.Context, op domain.Operator, id int64) (*domain.Screen, error)) error {
	op, err := operatorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	updated, err := apply(c.Request().Context(), op, id)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, updated); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
