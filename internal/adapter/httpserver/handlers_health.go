package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/crxwnd/digitalizacionTV/internal/domain"
	"github.com/crxwnd/digitalizacionTV/internal/platform/version"
	"github.com/labstack/echo/v4"
)

// Probe budgets. Startup is tighter so a wedged dependency fails the
// container fast instead of holding the rollout.
const (
	startupProbeBudget = 2 * time.Second
	readyProbeBudget   = 5 * time.Second
)

// HealthCheck probes one backing dependency (postgres, redis, the broker).
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type probeReport struct {
	Status      string            `json:"status"`
	FailedCheck string            `json:"failed_check,omitempty"`
	Error       string            `json:"error,omitempty"`
	Checks      map[string]string `json:"checks,omitempty"`
}

type liveReport struct {
	Status   string  `json:"status"`
	Uptime   float64 `json:"uptime"`
	Sessions int     `json:"sessions"`
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.probeHandler(startupProbeBudget))
	s.echo.GET("/health/ready", s.probeHandler(readyProbeBudget))
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/version", s.handleVersion)
}

// handleStartup is the startup probe; kept addressable for direct handler tests.
func (s *Server) handleStartup(c echo.Context) error {
	return s.probeHandler(startupProbeBudget)(c)
}

// probeHandler runs every dependency check within budget. All checks run so the
// report names each dependency's state, but the first failure is the headline.
func (s *Server) probeHandler(budget time.Duration) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), budget)
		defer cancel()

		report := s.probe(ctx)
		status := http.StatusOK
		if report.Status != "ready" {
			status = http.StatusServiceUnavailable
		}
		if err := c.JSON(status, report); err != nil {
			return fmt.Errorf("write probe report: %w", err)
		}
		return nil
	}
}

func (s *Server) probe(ctx context.Context) probeReport {
	report := probeReport{Status: "ready"}
	if len(s.healthChecks) == 0 {
		return report
	}

	report.Checks = make(map[string]string, len(s.healthChecks))
	for _, hc := range s.healthChecks {
		if err := hc.Check(ctx); err != nil {
			report.Checks[hc.Name] = err.Error()
			if report.FailedCheck == "" {
				report.Status = "unhealthy"
				report.FailedCheck = hc.Name
				report.Error = err.Error()
			}
			continue
		}
		report.Checks[hc.Name] = "ok"
	}
	return report
}

// handleLiveness never touches dependencies; it reports process uptime and
// how many sessions the dispatcher currently fans out to.
func (s *Server) handleLiveness(c echo.Context) error {
	report := liveReport{
		Status: "ok",
		Uptime: s.clock.Since(s.startTime).Seconds(),
	}
	if s.hub != nil {
		report.Sessions = s.hub.Count(domain.GlobalScope)
	}
	if err := c.JSON(http.StatusOK, report); err != nil {
		return fmt.Errorf("write liveness report: %w", err)
	}
	return nil
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("write version: %w", err)
	}
	return nil
}
