// Package notification routes operator announcements to screens, both pushed
// at creation time and pulled by players.
package notification

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/crxwnd/digitalizacionTV/internal/domain"
	"github.com/jonboulle/clockwork"
)

// ActiveLimit caps the pull path.
const ActiveLimit = 10

type Router struct {
	notifications domain.NotificationRepository
	screens       domain.ScreenRepository
	areas         domain.AreaDirectory
	bus           domain.Broadcaster
	clock         clockwork.Clock
}

func NewRouter(notifications domain.NotificationRepository, screens domain.ScreenRepository, areas domain.AreaDirectory, bus domain.Broadcaster, clock clockwork.Clock) *Router {
	return &Router{
		notifications: notifications,
		screens:       screens,
		areas:         areas,
		bus:           bus,
		clock:         clock,
	}
}

// Create stores the notification and, when displayImmediately is set, pushes
// it to the most specific audience it names: each listed screen, else its
// area, else everyone.
func (r *Router) Create(ctx context.Context, op domain.Operator, n domain.Notification, displayImmediately bool) (*domain.Notification, error) {
	n.Title = strings.TrimSpace(n.Title)
	n.Message = strings.TrimSpace(n.Message)
	if n.Type == "" {
		n.Type = domain.NotificationInfo
	}
	if n.Priority == 0 {
		n.Priority = domain.PriorityNormal
	}
	if n.ScreenCodes == nil {
		n.ScreenCodes = []string{}
	}
	if n.ValidFrom.IsZero() {
		n.ValidFrom = r.clock.Now().UTC()
	}
	if err := validate(&n); err != nil {
		return nil, err
	}
	if n.Type == domain.NotificationEmergency && !op.IsAdmin() {
		return nil, domain.ErrForbidden
	}
	if err := r.authorizeTarget(ctx, op, n.AreaID, n.ScreenCodes); err != nil {
		return nil, err
	}

	n.Active = true
	n.CreatedByID = &op.UserID
	created, err := r.notifications.Create(ctx, &n)
	if err != nil {
		return nil, fmt.Errorf("store notification: %w", err)
	}

	slog.InfoContext(ctx, "Notification created",
		"notification_id", created.ID,
		"type", created.Type,
		"priority", created.Priority,
		"display_immediately", displayImmediately,
	)

	if displayImmediately {
		r.push(ctx, created)
	}
	return created, nil
}

func (r *Router) push(ctx context.Context, n *domain.Notification) {
	event := domain.EventNotification
	if n.Urgent() {
		event = domain.EventUrgentNotification
	}
	summary := n.Summary()

	switch {
	case len(n.ScreenCodes) > 0:
		for _, code := range n.ScreenCodes {
			r.bus.ToScreen(ctx, code, event, summary)
		}
	case n.AreaID != nil:
		r.bus.ToArea(ctx, *n.AreaID, event, summary)
	default:
		r.bus.Broadcast(ctx, event, summary)
	}
}

// SendEmergencyAlert persists an EMERGENCY notification at maximum priority and
// broadcasts it to every connected screen, ignoring targeting and validity.
func (r *Router) SendEmergencyAlert(ctx context.Context, op domain.Operator, title, message string) (*domain.Notification, error) {
	if !op.IsAdmin() {
		return nil, domain.ErrForbidden
	}
	title = strings.TrimSpace(title)
	message = strings.TrimSpace(message)
	if title == "" || message == "" {
		return nil, fmt.Errorf("%w: title and message are required", domain.ErrInvalidInput)
	}

	created, err := r.notifications.Create(ctx, &domain.Notification{
		Title:       title,
		Message:     message,
		Type:        domain.NotificationEmergency,
		Priority:    domain.PriorityEmergency,
		ScreenCodes: []string{},
		ValidFrom:   r.clock.Now().UTC(),
		Active:      true,
		CreatedByID: &op.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("store emergency alert: %w", err)
	}

	r.bus.Broadcast(ctx, domain.EventEmergencyAlert, created.Summary())
	slog.WarnContext(ctx, "Emergency alert broadcast", "notification_id", created.ID, "sent_by", op.UserID)
	return created, nil
}

// ActiveForScreen is the device pull path: notifications that are active,
// inside their validity window and target the screen, highest priority first,
// newest first within a priority, capped at ActiveLimit. Emergency
// notifications skip the targeting check.
func (r *Router) ActiveForScreen(ctx context.Context, code string) ([]domain.Notification, error) {
	screen, err := r.screens.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	candidates, err := r.notifications.ListActiveCandidates(ctx, r.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("list active notifications: %w", err)
	}

	out := make([]domain.Notification, 0, min(len(candidates), ActiveLimit))
	for _, n := range candidates {
		if n.Type == domain.NotificationEmergency || n.Targets(screen) {
			out = append(out, n)
		}
	}
	sortByPriority(out)
	if len(out) > ActiveLimit {
		out = out[:ActiveLimit]
	}
	return out, nil
}

// List returns everything for admins. Managers see notifications in their
// areas, their own, and global ones.
func (r *Router) List(ctx context.Context, op domain.Operator) ([]domain.Notification, error) {
	filter := domain.NotificationFilter{}
	if !op.IsAdmin() {
		managed, err := r.areas.ManagedAreaIDs(ctx, op.UserID)
		if err != nil {
			return nil, fmt.Errorf("load managed areas: %w", err)
		}
		filter = domain.NotificationFilter{
			AreaIDs:       managed,
			CreatedByID:   &op.UserID,
			IncludeGlobal: true,
			Restricted:    true,
		}
	}
	return r.notifications.List(ctx, filter)
}

func (r *Router) Get(ctx context.Context, op domain.Operator, id int64) (*domain.Notification, error) {
	n, err := r.notifications.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if op.IsAdmin() || n.IsGlobal() || owns(op, n) {
		return n, nil
	}
	if err := r.authorizeArea(ctx, op, n.AreaID); err != nil {
		return nil, err
	}
	return n, nil
}

// Update applies a partial update. Managers may edit notifications they
// created or that sit in their areas, and may not move them out of reach.
func (r *Router) Update(ctx context.Context, op domain.Operator, id int64, upd domain.NotificationUpdate) (*domain.Notification, error) {
	current, err := r.notifications.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.authorizeMutation(ctx, op, current); err != nil {
		return nil, err
	}

	next := apply(*current, upd)
	if err := validate(&next); err != nil {
		return nil, err
	}
	if next.Type == domain.NotificationEmergency && current.Type != domain.NotificationEmergency && !op.IsAdmin() {
		return nil, domain.ErrForbidden
	}
	if upd.AreaID != nil || upd.ClearArea || upd.ScreenCodes != nil {
		if err := r.authorizeTarget(ctx, op, next.AreaID, next.ScreenCodes); err != nil {
			return nil, err
		}
	}

	updated, err := r.notifications.Update(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Notification updated", "notification_id", id, "updated_by", op.UserID)
	return updated, nil
}

func (r *Router) Delete(ctx context.Context, op domain.Operator, id int64) error {
	current, err := r.notifications.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := r.authorizeMutation(ctx, op, current); err != nil {
		return err
	}
	if err := r.notifications.Delete(ctx, id); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Notification deleted", "notification_id", id, "deleted_by", op.UserID)
	return nil
}

// Stats counts what the operator can see.
func (r *Router) Stats(ctx context.Context, op domain.Operator) (domain.NotificationStats, error) {
	if op.IsAdmin() {
		return r.notifications.Stats(ctx)
	}
	visible, err := r.List(ctx, op)
	if err != nil {
		return domain.NotificationStats{}, err
	}
	stats := domain.NotificationStats{ByType: make(map[domain.NotificationType]int)}
	for _, n := range visible {
		stats.Total++
		if n.Active {
			stats.Active++
		}
		stats.ByType[n.Type]++
	}
	return stats, nil
}

func validate(n *domain.Notification) error {
	switch {
	case n.Title == "" || n.Message == "":
		return fmt.Errorf("%w: title and message are required", domain.ErrInvalidInput)
	case !n.Type.Valid():
		return fmt.Errorf("%w: unknown notification type %q", domain.ErrInvalidInput, n.Type)
	case n.Priority != domain.PriorityEmergency && (n.Priority < domain.PriorityLow || n.Priority > domain.PriorityUrgent):
		return fmt.Errorf("%w: priority %d out of range", domain.ErrInvalidInput, n.Priority)
	case n.Duration < 0:
		return fmt.Errorf("%w: duration cannot be negative", domain.ErrInvalidInput)
	case n.ValidUntil != nil && !n.ValidFrom.IsZero() && n.ValidUntil.Before(n.ValidFrom):
		return fmt.Errorf("%w: validUntil precedes validFrom", domain.ErrInvalidInput)
	}
	return nil
}

func apply(n domain.Notification, u domain.NotificationUpdate) domain.Notification {
	if u.Title != nil {
		n.Title = strings.TrimSpace(*u.Title)
	}
	if u.Message != nil {
		n.Message = strings.TrimSpace(*u.Message)
	}
	if u.Type != nil {
		n.Type = *u.Type
	}
	if u.Priority != nil {
		n.Priority = *u.Priority
	}
	if u.ValidFrom != nil {
		n.ValidFrom = *u.ValidFrom
	}
	if u.ClearUntil {
		n.ValidUntil = nil
	} else if u.ValidUntil != nil {
		n.ValidUntil = u.ValidUntil
	}
	if u.ClearArea {
		n.AreaID = nil
	} else if u.AreaID != nil {
		n.AreaID = u.AreaID
	}
	if u.ScreenCodes != nil {
		n.ScreenCodes = *u.ScreenCodes
	}
	if u.Duration != nil {
		n.Duration = *u.Duration
	}
	return n
}

func sortByPriority(ns []domain.Notification) {
	slices.SortStableFunc(ns, func(a, b domain.Notification) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
}

func owns(op domain.Operator, n *domain.Notification) bool {
	return n.CreatedByID != nil && *n.CreatedByID == op.UserID
}

func (r *Router) authorizeMutation(ctx context.Context, op domain.Operator, n *domain.Notification) error {
	if op.IsAdmin() || owns(op, n) {
		return nil
	}
	return r.authorizeArea(ctx, op, n.AreaID)
}

func (r *Router) authorizeArea(ctx context.Context, op domain.Operator, areaID *int64) error {
	managed, err := r.areas.ManagedAreaIDs(ctx, op.UserID)
	if err != nil {
		return fmt.Errorf("load managed areas: %w", err)
	}
	if !domain.MayAccess(op, managed, areaID) {
		return domain.ErrForbidden
	}
	return nil
}

// authorizeTarget checks that every named screen exists and, for managers,
// that the audience lies inside their areas. Managers cannot address everyone.
func (r *Router) authorizeTarget(ctx context.Context, op domain.Operator, areaID *int64, codes []string) error {
	var managed []int64
	if !op.IsAdmin() {
		var err error
		managed, err = r.areas.ManagedAreaIDs(ctx, op.UserID)
		if err != nil {
			return fmt.Errorf("load managed areas: %w", err)
		}
		if len(codes) == 0 && !domain.MayAccess(op, managed, areaID) {
			return domain.ErrForbidden
		}
	}

	for _, code := range codes {
		screen, err := r.screens.GetByCode(ctx, code)
		if err != nil {
			return err
		}
		if !domain.MayAccess(op, managed, screen.AreaID) {
			return domain.ErrForbidden
		}
	}
	return nil
}
