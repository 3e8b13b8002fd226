// Package screen owns screen registration, the approval workflow, and the
// single write path for heartbeats.
package screen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/crxwnd/digitalizacionTV/internal/adapter/metrics"
	"github.com/crxwnd/digitalizacionTV/internal/domain"
	"github.com/jonboulle/clockwork"
)

// Registration is the operator-supplied part of a new screen.
type Registration struct {
	Name      string
	Location  string
	IPAddress string
	AreaID    *int64
}

// HeartbeatReport is what a device sends with each heartbeat.
type HeartbeatReport struct {
	Content *domain.AssignmentPayload
	Status  string
}

type Registry struct {
	screens domain.ScreenRepository
	areas   domain.AreaDirectory
	bus     domain.Broadcaster
	clock   clockwork.Clock
	metrics *metrics.FleetMetrics
	newCode func() (string, error)
}

type Option func(*Registry)

// WithCodeGenerator replaces the random code source.
func WithCodeGenerator(fn func() (string, error)) Option {
	return func(r *Registry) { r.newCode = fn }
}

func WithMetrics(m *metrics.FleetMetrics) Option {
	return func(r *Registry) { r.metrics = m }
}

func NewRegistry(screens domain.ScreenRepository, areas domain.AreaDirectory, bus domain.Broadcaster, clock clockwork.Clock, opts ...Option) *Registry {
	r := &Registry{
		screens: screens,
		areas:   areas,
		bus:     bus,
		clock:   clock,
		newCode: GenerateCode,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register creates a screen under a freshly generated code. Admin registrations
// are approved immediately; manager registrations wait for an admin and must
// target an area the manager runs.
func (r *Registry) Register(ctx context.Context, op domain.Operator, req Registration) (*domain.Screen, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.IPAddress = strings.TrimSpace(req.IPAddress)
	if req.Name == "" || req.IPAddress == "" {
		return nil, fmt.Errorf("%w: name and ipAddress are required", domain.ErrInvalidInput)
	}
	if err := r.authorize(ctx, op, req.AreaID); err != nil {
		return nil, err
	}

	for {
		code, err := r.uniqueCode(ctx)
		if err != nil {
			return nil, err
		}

		created, err := r.screens.Create(ctx, &domain.Screen{
			Code:        code,
			Name:        req.Name,
			Location:    req.Location,
			IPAddress:   req.IPAddress,
			AreaID:      req.AreaID,
			Approved:    op.IsAdmin(),
			CreatedByID: &op.UserID,
		})
		if errors.Is(err, domain.ErrCodeConflict) {
			// Lost a race for the code between the check and the insert.
			slog.DebugContext(ctx, "Screen code taken at insert, retrying", "screen_code", code)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create screen: %w", err)
		}

		slog.InfoContext(ctx, "Screen registered",
			"screen_code", created.Code,
			"approved", created.Approved,
			"registered_by", op.UserID,
		)
		return created, nil
	}
}

func (r *Registry) uniqueCode(ctx context.Context) (string, error) {
	for {
		code, err := r.newCode()
		if err != nil {
			return "", fmt.Errorf("generate screen code: %w", err)
		}
		exists, err := r.screens.CodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check screen code: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
}

// Approve marks a screen approved. Approving twice is harmless.
func (r *Registry) Approve(ctx context.Context, op domain.Operator, id int64) (*domain.Screen, error) {
	if !op.IsAdmin() {
		return nil, domain.ErrForbidden
	}
	screen, err := r.screens.SetApproved(ctx, id, true)
	if err != nil {
		return nil, err
	}

	r.bus.Publish(ctx, domain.EventScreenApproved, screen, domain.StatusScopes(screen)...)
	slog.InfoContext(ctx, "Screen approved", "screen_code", screen.Code, "approved_by", op.UserID)
	return screen, nil
}

// Reject revokes approval and drops the screen's live sessions so it stops
// receiving events.
func (r *Registry) Reject(ctx context.Context, op domain.Operator, id int64) (*domain.Screen, error) {
	if !op.IsAdmin() {
		return nil, domain.ErrForbidden
	}
	screen, err := r.screens.SetApproved(ctx, id, false)
	if err != nil {
		return nil, err
	}

	r.bus.DisconnectScreen(ctx, screen.Code)
	r.publishStatus(ctx, screen)
	slog.InfoContext(ctx, "Screen rejected", "screen_code", screen.Code, "rejected_by", op.UserID)
	return screen, nil
}

// RecordHeartbeat is the only writer of online/lastHeartbeat on the heartbeat
// side. A nil report content keeps the stored content.
func (r *Registry) RecordHeartbeat(ctx context.Context, code string, report HeartbeatReport) (*domain.Screen, error) {
	if report.Content != nil {
		if err := report.Content.Validate(); err != nil {
			r.countHeartbeat("invalid")
			return nil, err
		}
	}

	screen, err := r.screens.RecordHeartbeat(ctx, code, domain.Heartbeat{
		At:           r.clock.Now().UTC(),
		Content:      report.Content,
		PlayerStatus: report.Status,
	})
	switch {
	case errors.Is(err, domain.ErrScreenNotFound):
		r.countHeartbeat("not_found")
		return nil, err
	case errors.Is(err, domain.ErrNotApproved):
		r.countHeartbeat("not_approved")
		return nil, err
	case err != nil:
		r.countHeartbeat("error")
		return nil, fmt.Errorf("record heartbeat: %w", err)
	}

	r.countHeartbeat("ok")
	r.publishStatus(ctx, screen)
	return screen, nil
}

func (r *Registry) countHeartbeat(result string) {
	if r.metrics != nil {
		r.metrics.Heartbeats.WithLabelValues(result).Inc()
	}
}

func (r *Registry) publishStatus(ctx context.Context, screen *domain.Screen) {
	update := domain.ScreenStatusUpdate{
		ScreenCode:    screen.Code,
		Online:        screen.Online,
		LastHeartbeat: screen.LastHeartbeat,
		PlayerStatus:  screen.PlayerStatus,
	}
	r.bus.Publish(ctx, domain.EventScreenStatusUpdate, update, domain.StatusScopes(screen)...)
}

// GetByCode is the public lookup players use to resolve their own record.
func (r *Registry) GetByCode(ctx context.Context, code string) (*domain.Screen, error) {
	return r.screens.GetByCode(ctx, code)
}

func (r *Registry) Get(ctx context.Context, op domain.Operator, id int64) (*domain.Screen, error) {
	screen, err := r.screens.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.authorize(ctx, op, screen.AreaID); err != nil {
		return nil, err
	}
	return screen, nil
}

// GetForOperator resolves a code and checks the operator may act on it.
func (r *Registry) GetForOperator(ctx context.Context, op domain.Operator, code string) (*domain.Screen, error) {
	screen, err := r.screens.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := r.authorize(ctx, op, screen.AreaID); err != nil {
		return nil, err
	}
	return screen, nil
}

// List returns every screen for admins and the managed areas' screens for managers.
func (r *Registry) List(ctx context.Context, op domain.Operator) ([]domain.Screen, error) {
	filter, err := r.filterFor(ctx, op)
	if err != nil {
		return nil, err
	}
	return r.screens.List(ctx, filter)
}

// Update edits a screen. Moving it to another area closes its sessions so the
// device rejoins under the new area scope.
func (r *Registry) Update(ctx context.Context, op domain.Operator, id int64, update domain.ScreenUpdate) (*domain.Screen, error) {
	current, err := r.Get(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if err := r.authorize(ctx, op, update.AreaID); err != nil {
		return nil, err
	}
	if update.Name != nil && strings.TrimSpace(*update.Name) == "" {
		return nil, fmt.Errorf("%w: name cannot be empty", domain.ErrInvalidInput)
	}
	if update.IPAddress != nil && strings.TrimSpace(*update.IPAddress) == "" {
		return nil, fmt.Errorf("%w: ipAddress cannot be empty", domain.ErrInvalidInput)
	}
	updated, err := r.screens.Update(ctx, id, update)
	if err != nil {
		return nil, err
	}
	if !sameArea(current.AreaID, updated.AreaID) {
		r.bus.DisconnectScreen(ctx, updated.Code)
	}
	return updated, nil
}

func sameArea(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Delete removes the screen and its assignment, and closes its sessions.
func (r *Registry) Delete(ctx context.Context, op domain.Operator, id int64) (*domain.Screen, error) {
	screen, err := r.Get(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if err := r.screens.Delete(ctx, id); err != nil {
		return nil, err
	}
	r.bus.DisconnectScreen(ctx, screen.Code)
	slog.InfoContext(ctx, "Screen deleted", "screen_code", screen.Code, "deleted_by", op.UserID)
	return screen, nil
}

// Stats counts over what the operator can see.
func (r *Registry) Stats(ctx context.Context, op domain.Operator) (domain.ScreenStats, error) {
	if op.IsAdmin() {
		return r.screens.Stats(ctx)
	}
	screens, err := r.List(ctx, op)
	if err != nil {
		return domain.ScreenStats{}, err
	}
	var stats domain.ScreenStats
	for _, s := range screens {
		stats.Total++
		if s.Online {
			stats.Online++
		} else {
			stats.Offline++
		}
		if s.Approved {
			stats.Approved++
		} else {
			stats.Pending++
		}
	}
	return stats, nil
}

func (r *Registry) filterFor(ctx context.Context, op domain.Operator) (domain.ScreenFilter, error) {
	if op.IsAdmin() {
		return domain.ScreenFilter{}, nil
	}
	managed, err := r.areas.ManagedAreaIDs(ctx, op.UserID)
	if err != nil {
		return domain.ScreenFilter{}, fmt.Errorf("load managed areas: %w", err)
	}
	if managed == nil {
		managed = []int64{}
	}
	return domain.ScreenFilter{AreaIDs: managed}, nil
}

func (r *Registry) authorize(ctx context.Context, op domain.Operator, areaID *int64) error {
	if op.IsAdmin() {
		return nil
	}
	managed, err := r.areas.ManagedAreaIDs(ctx, op.UserID)
	if err != nil {
		return fmt.Errorf("load managed areas: %w", err)
	}
	if !domain.MayAccess(op, managed, areaID) {
		return domain.ErrForbidden
	}
	return nil
}
