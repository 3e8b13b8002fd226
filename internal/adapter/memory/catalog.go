package memory

import (
	"cmp"
	"context"
	"slices"

	"github.com/crxwnd/digitalizacionTV/internal/domain"
)

type CatalogRepo struct {
	db *DB
}

var _ domain.CatalogRepository = (*CatalogRepo)(nil)

func (r *CatalogRepo) GetContent(_ context.Context, id int64) (*domain.Content, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	c, ok := r.db.contents[id]
	if !ok {
		return nil, domain.ErrContentNotFound
	}
	return &c, nil
}

func (r *CatalogRepo) GetContents(_ context.Context, ids []int64) ([]domain.Content, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	out := make([]domain.Content, 0, len(ids))
	for _, id := range ids {
		if c, ok := r.db.contents[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *CatalogRepo) GetPlaylist(_ context.Context, id int64) (*domain.Playlist, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	p, ok := r.db.playlists[id]
	if !ok {
		return nil, domain.ErrPlaylistNotFound
	}
	p.ContentIDs = slices.Clone(p.ContentIDs)
	return &p, nil
}

type AssignmentRepo struct {
	db *DB
}

var _ domain.AssignmentRepository = (*AssignmentRepo)(nil)

func (r *AssignmentRepo) Replace(_ context.Context, a *domain.ContentAssignment) (*domain.ContentAssignment, error) {
	db := r.db
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.screens[a.ScreenID]; !ok {
		return nil, domain.ErrScreenNotFound
	}
	db.nextAssignmentID++
	stored := *a
	stored.ID = db.nextAssignmentID
	stored.CreatedAt = db.clock.Now().UTC()
	db.assignments[a.ScreenID] = &stored

	out := stored
	return &out, nil
}

func (r *AssignmentRepo) GetByScreen(_ context.Context, screenID int64) (*domain.ContentAssignment, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	a, ok := r.db.assignments[screenID]
	if !ok {
		return nil, domain.ErrAssignmentNotFound
	}
	out := *a
	return &out, nil
}

type AreaDirectory struct {
	db *DB
}

var _ domain.AreaDirectory = (*AreaDirectory)(nil)

func (d *AreaDirectory) ListAreas(_ context.Context) ([]domain.Area, error) {
	d.db.mu.RLock()
	defer d.db.mu.RUnlock()
	out := make([]domain.Area, 0, len(d.db.areas))
	for _, a := range d.db.areas {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b domain.Area) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (d *AreaDirectory) ManagedAreaIDs(_ context.Context, userID int64) ([]int64, error) {
	d.db.mu.RLock()
	defer d.db.mu.RUnlock()
	var ids []int64
	for _, a := range d.db.areas {
		if a.ManagerID != nil && *a.ManagerID == userID {
			ids = append(ids, a.ID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

type ScreenLogRepo struct {
	db *DB
}

var _ domain.ScreenLogRepository = (*ScreenLogRepo)(nil)

func (r *ScreenLogRepo) Append(_ context.Context, entry *domain.ScreenLog) error {
	db := r.db
	db.mu.Lock()
	defer db.mu.Unlock()
	db.nextLogID++
	entry.ID = db.nextLogID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = db.clock.Now().UTC()
	}
	db.logs = append(db.logs, *entry)
	return nil
}

// List returns newest first.
func (r *ScreenLogRepo) List(_ context.Context, screenID int64, limit, offset int) ([]domain.ScreenLog, int, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var matching []domain.ScreenLog
	for i := len(r.db.logs) - 1; i >= 0; i-- {
		if r.db.logs[i].ScreenID == screenID {
			matching = append(matching, r.db.logs[i])
		}
	}
	total := len(matching)
	if offset >= total {
		return []domain.ScreenLog{}, total, nil
	}
	end := min(offset+limit, total)
	return matching[offset:end], total, nil
}
