package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/crxwnd/digitalizacionTV/internal/domain"
)

type NotificationRepo struct {
	db *DB
}

var _ domain.NotificationRepository = (*NotificationRepo)(nil)

func (r *NotificationRepo) Create(_ context.Context, n *domain.Notification) (*domain.Notification, error) {
	db := r.db
	db.mu.Lock()
	defer db.mu.Unlock()

	db.nextNotificationID++
	now := db.clock.Now().UTC()
	stored := cloneNotification(n)
	stored.ID = db.nextNotificationID
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if stored.ValidFrom.IsZero() {
		stored.ValidFrom = now
	}
	db.notifications[stored.ID] = stored
	return cloneNotification(stored), nil
}

func (r *NotificationRepo) GetByID(_ context.Context, id int64) (*domain.Notification, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	n, ok := r.db.notifications[id]
	if !ok {
		return nil, domain.ErrNotificationNotFound
	}
	return cloneNotification(n), nil
}

func (r *NotificationRepo) Update(_ context.Context, id int64, u domain.NotificationUpdate) (*domain.Notification, error) {
	db := r.db
	db.mu.Lock()
	defer db.mu.Unlock()

	current, ok := db.notifications[id]
	if !ok {
		return nil, domain.ErrNotificationNotFound
	}
	n := cloneNotification(current)
	if u.Title != nil {
		n.Title = *u.Title
	}
	if u.Message != nil {
		n.Message = *u.Message
	}
	if u.Type != nil {
		n.Type = *u.Type
	}
	if u.Priority != nil {
		n.Priority = *u.Priority
	}
	if u.Active != nil {
		n.Active = *u.Active
	}
	if u.ValidFrom != nil {
		n.ValidFrom = *u.ValidFrom
	}
	if u.ClearUntil {
		n.ValidUntil = nil
	} else if u.ValidUntil != nil {
		n.ValidUntil = ptr(*u.ValidUntil)
	}
	if u.ClearArea {
		n.AreaID = nil
	} else if u.AreaID != nil {
		n.AreaID = ptr(*u.AreaID)
	}
	if u.ScreenCodes != nil {
		n.ScreenCodes = slices.Clone(*u.ScreenCodes)
	}
	if u.Duration != nil {
		n.Duration = *u.Duration
	}
	n.UpdatedAt = db.clock.Now().UTC()
	db.notifications[id] = n
	return cloneNotification(n), nil
}

func (r *NotificationRepo) Delete(_ context.Context, id int64) error {
	db := r.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.notifications[id]; !ok {
		return domain.ErrNotificationNotFound
	}
	delete(db.notifications, id)
	return nil
}

func (r *NotificationRepo) List(_ context.Context, f domain.NotificationFilter) ([]domain.Notification, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var out []domain.Notification
	for _, n := range r.db.notifications {
		if f.Restricted && !visible(n, f) {
			continue
		}
		out = append(out, *cloneNotification(n))
	}
	sortNotifications(out)
	return out, nil
}

func visible(n *domain.Notification, f domain.NotificationFilter) bool {
	if n.AreaID != nil && slices.Contains(f.AreaIDs, *n.AreaID) {
		return true
	}
	if f.CreatedByID != nil && n.CreatedByID != nil && *n.CreatedByID == *f.CreatedByID {
		return true
	}
	return f.IncludeGlobal && n.IsGlobal()
}

func (r *NotificationRepo) ListActiveCandidates(_ context.Context, now time.Time) ([]domain.Notification, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var out []domain.Notification
	for _, n := range r.db.notifications {
		if n.Active && n.ValidAt(now) {
			out = append(out, *cloneNotification(n))
		}
	}
	sortNotifications(out)
	return out, nil
}

func (r *NotificationRepo) Stats(_ context.Context) (domain.NotificationStats, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	stats := domain.NotificationStats{ByType: make(map[domain.NotificationType]int)}
	for _, n := range r.db.notifications {
		stats.Total++
		if n.Active {
			stats.Active++
		}
		stats.ByType[n.Type]++
	}
	return stats, nil
}

func sortNotifications(ns []domain.Notification) {
	slices.SortFunc(ns, func(a, b domain.Notification) int {
		if a.Priority != b.Priority {
			return int(b.Priority - a.Priority)
		}
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
}

func cloneNotification(n *domain.Notification) *domain.Notification {
	out := *n
	out.ScreenCodes = slices.Clone(n.ScreenCodes)
	if out.ScreenCodes == nil {
		out.ScreenCodes = []string{}
	}
	return &out
}
