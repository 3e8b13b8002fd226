package liveness

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crxwnd/digitalizacionTV/internal/adapter/metrics"
	"github.com/crxwnd/digitalizacionTV/internal/domain"
	"github.com/crxwnd/digitalizacionTV/internal/platform/correlation"
	"github.com/jonboulle/clockwork"
)

const sweepTimeout = 30 * time.Second

// SweepResult summarises one sweep.
type SweepResult struct {
	Candidates int
	Demoted    int
	Skipped    int
	Failed     int
}

// Tracker runs the periodic sweep that writes online=false back for screens
// whose heartbeat has gone stale.
type Tracker struct {
	screens    domain.ScreenRepository
	bus        domain.Broadcaster
	clock      clockwork.Clock
	thresholds Thresholds
	interval   time.Duration
	metrics    *metrics.FleetMetrics

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewTracker builds a tracker. bus and m may be nil.
func NewTracker(screens domain.ScreenRepository, bus domain.Broadcaster, clock clockwork.Clock, thresholds Thresholds, interval time.Duration, m *metrics.FleetMetrics) *Tracker {
	return &Tracker{
		screens:    screens,
		bus:        bus,
		clock:      clock,
		thresholds: thresholds,
		interval:   interval,
		metrics:    m,
		stopCh:     make(chan struct{}),
	}
}

func (t *Tracker) Thresholds() Thresholds {
	return t.thresholds
}

// Start launches the sweep loop. It runs until Stop is called or ctx ends.
func (t *Tracker) Start(ctx context.Context) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		ticker := t.clock.NewTicker(t.interval)
		defer ticker.Stop()

		slog.Info("Liveness sweep started", "interval", t.interval, "offline_after", t.thresholds.OfflineAfter)

		for {
			select {
			case <-ticker.Chan():
				sweepCtx, cancel := context.WithTimeout(correlation.WithID(ctx, correlation.NewID()), sweepTimeout)
				if _, err := t.SweepOnce(sweepCtx); err != nil {
					slog.ErrorContext(sweepCtx, "Liveness sweep failed", "error", err)
				}
				cancel()
			case <-t.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the sweep loop and waits for an in-flight sweep to finish.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	t.wg.Wait()
}

// Stale lists screens the next sweep would demote, without writing.
func (t *Tracker) Stale(ctx context.Context) ([]domain.Screen, error) {
	return t.screens.ListStaleOnline(ctx, t.thresholds.Cutoff(t.clock.Now()))
}

// SweepOnce demotes every stale screen. Each demotion is conditional on the
// heartbeat still being stale, so a heartbeat that lands mid-sweep wins.
// A failure on one screen does not stop the others.
func (t *Tracker) SweepOnce(ctx context.Context) (SweepResult, error) {
	start := t.clock.Now()
	cutoff := t.thresholds.Cutoff(start)

	var result SweepResult
	defer func() {
		if t.metrics == nil {
			return
		}
		t.metrics.SweepDuration.Observe(t.clock.Since(start).Seconds())
		t.metrics.ScreensDemoted.Add(float64(result.Demoted))
	}()

	stale, err := t.screens.ListStaleOnline(ctx, cutoff)
	if err != nil {
		t.countSweep("error")
		return result, fmt.Errorf("list stale screens: %w", err)
	}
	result.Candidates = len(stale)

	for i := range stale {
		screen := &stale[i]
		demoted, err := t.screens.MarkOffline(ctx, screen.ID, cutoff)
		if err != nil {
			result.Failed++
			slog.WarnContext(ctx, "Failed to mark screen offline", "screen_code", screen.Code, "error", err)
			continue
		}
		if !demoted {
			result.Skipped++
			slog.DebugContext(ctx, "Screen recovered before demotion", "screen_code", screen.Code)
			continue
		}

		result.Demoted++
		screen.Online = false
		t.publish(ctx, screen)
	}

	if result.Failed > 0 {
		t.countSweep("partial")
	} else {
		t.countSweep("ok")
	}
	if result.Demoted > 0 || result.Failed > 0 {
		slog.InfoContext(ctx, "Liveness sweep finished",
			"candidates", result.Candidates,
			"demoted", result.Demoted,
			"skipped", result.Skipped,
			"failed", result.Failed,
		)
	}
	return result, nil
}

func (t *Tracker) publish(ctx context.Context, screen *domain.Screen) {
	if t.bus == nil {
		return
	}
	update := domain.ScreenStatusUpdate{
		ScreenCode:    screen.Code,
		Online:        false,
		LastHeartbeat: screen.LastHeartbeat,
		PlayerStatus:  screen.PlayerStatus,
	}
	t.bus.Publish(ctx, domain.EventScreenStatusUpdate, update, domain.StatusScopes(screen)...)
}

func (t *Tracker) countSweep(result string) {
	if t.metrics != nil {
		t.metrics.SweepRuns.WithLabelValues(result).Inc()
	}
}
