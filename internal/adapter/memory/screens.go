package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/crxwnd/digitalizacionTV/internal/domain"
)

type ScreenRepo struct {
	db *DB
}

var _ domain.ScreenRepository = (*ScreenRepo)(nil)

func (r *ScreenRepo) Create(_ context.Context, screen *domain.Screen) (*domain.Screen, error) {
	db := r.db
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, s := range db.screens {
		if s.Code == screen.Code {
			return nil, domain.ErrCodeConflict
		}
		if s.IPAddress == screen.IPAddress {
			return nil, domain.ErrIPConflict
		}
	}

	db.nextScreenID++
	now := db.clock.Now().UTC()
	stored := *screen
	stored.ID = db.nextScreenID
	stored.Online = false
	stored.LastHeartbeat = nil
	stored.CreatedAt = now
	stored.UpdatedAt = now
	db.screens[stored.ID] = &stored

	out := stored
	return &out, nil
}

func (r *ScreenRepo) CodeExists(_ context.Context, code string) (bool, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	_, ok := r.byCode(code)
	return ok, nil
}

func (r *ScreenRepo) GetByID(_ context.Context, id int64) (*domain.Screen, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	s, ok := r.db.screens[id]
	if !ok {
		return nil, domain.ErrScreenNotFound
	}
	out := *s
	return &out, nil
}

func (r *ScreenRepo) GetByCode(_ context.Context, code string) (*domain.Screen, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	s, ok := r.byCode(code)
	if !ok {
		return nil, domain.ErrScreenNotFound
	}
	out := *s
	return &out, nil
}

func (r *ScreenRepo) List(_ context.Context, filter domain.ScreenFilter) ([]domain.Screen, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	out := make([]domain.Screen, 0, len(r.db.screens))
	for _, s := range r.db.screens {
		if filter.AreaIDs != nil && (s.AreaID == nil || !slices.Contains(filter.AreaIDs, *s.AreaID)) {
			continue
		}
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b domain.Screen) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

func (r *ScreenRepo) Update(_ context.Context, id int64, update domain.ScreenUpdate) (*domain.Screen, error) {
	db := r.db
	db.mu.Lock()
	defer db.mu.Unlock()

	s, ok := db.screens[id]
	if !ok {
		return nil, domain.ErrScreenNotFound
	}
	if update.IPAddress != nil {
		for _, other := range db.screens {
			if other.ID != id && other.IPAddress == *update.IPAddress {
				return nil, domain.ErrIPConflict
			}
		}
	}

	next := *s
	if update.Name != nil {
		next.Name = *update.Name
	}
	if update.Location != nil {
		next.Location = *update.Location
	}
	if update.IPAddress != nil {
		next.IPAddress = *update.IPAddress
	}
	next.AreaID = update.AreaID
	next.UpdatedAt = db.clock.Now().UTC()
	db.screens[id] = &next

	out := next
	return &out, nil
}

func (r *ScreenRepo) SetApproved(_ context.Context, id int64, approved bool) (*domain.Screen, error) {
	db := r.db
	db.mu.Lock()
	defer db.mu.Unlock()

	s, ok := db.screens[id]
	if !ok {
		return nil, domain.ErrScreenNotFound
	}
	next := *s
	next.Approved = approved
	next.UpdatedAt = db.clock.Now().UTC()
	db.screens[id] = &next

	out := next
	return &out, nil
}

func (r *ScreenRepo) Delete(_ context.Context, id int64) error {
	db := r.db
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.screens[id]; !ok {
		return domain.ErrScreenNotFound
	}
	delete(db.screens, id)
	delete(db.assignments, id)
	return nil
}

func (r *ScreenRepo) Stats(_ context.Context) (domain.ScreenStats, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var stats domain.ScreenStats
	for _, s := range r.db.screens {
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

func (r *ScreenRepo) RecordHeartbeat(_ context.Context, code string, hb domain.Heartbeat) (*domain.Screen, error) {
	db := r.db
	db.mu.Lock()
	defer db.mu.Unlock()

	s, ok := r.byCode(code)
	if !ok {
		return nil, domain.ErrScreenNotFound
	}
	if !s.Approved {
		return nil, domain.ErrNotApproved
	}

	next := *s
	next.Online = true
	next.LastHeartbeat = ptr(hb.At)
	if hb.Content != nil {
		next.CurrentContent = hb.Content
	}
	if hb.PlayerStatus != "" {
		next.PlayerStatus = hb.PlayerStatus
	}
	next.UpdatedAt = hb.At
	db.screens[next.ID] = &next

	out := next
	return &out, nil
}

func (r *ScreenRepo) ListStaleOnline(_ context.Context, cutoff time.Time) ([]domain.Screen, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var out []domain.Screen
	for _, s := range r.db.screens {
		if s.Online && stale(s, cutoff) {
			out = append(out, *s)
		}
	}
	slices.SortFunc(out, func(a, b domain.Screen) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (r *ScreenRepo) MarkOffline(_ context.Context, id int64, cutoff time.Time) (bool, error) {
	db := r.db
	db.mu.Lock()
	defer db.mu.Unlock()

	s, ok := db.screens[id]
	if !ok || !s.Online || !stale(s, cutoff) {
		return false, nil
	}
	next := *s
	next.Online = false
	next.UpdatedAt = db.clock.Now().UTC()
	db.screens[id] = &next
	return true, nil
}

func stale(s *domain.Screen, cutoff time.Time) bool {
	return s.LastHeartbeat == nil || !s.LastHeartbeat.After(cutoff)
}

// byCode expects the caller to hold the lock.
func (r *ScreenRepo) byCode(code string) (*domain.Screen, bool) {
	for _, s := range r.db.screens {
		if s.Code == code {
			return s, true
		}
	}
	return nil, false
}
