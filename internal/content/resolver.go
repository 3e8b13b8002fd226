// Package content resolves what a screen should display and keeps the
// content-for-screen pull path cached.
package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/crxwnd/digitalizacionTV/internal/domain"
	"golang.org/x/sync/singleflight"
)

// AssignRequest names exactly one of ContentID or PlaylistID. Duration, when
// positive, overrides the display time of a single content item.
type AssignRequest struct {
	ScreenCode string
	ContentID  *int64
	PlaylistID *int64
	Duration   int
	Immediate  bool
}

type Resolver struct {
	screens     domain.ScreenRepository
	areas       domain.AreaDirectory
	catalog     domain.CatalogRepository
	assignments domain.AssignmentRepository
	cache       domain.AssignmentCache
	bus         domain.Broadcaster
	fill        singleflight.Group

	// generations counts Forget calls per screen code, so a fill that read
	// the store before a newer write does not cache what it read.
	genMu       sync.Mutex
	generations map[string]uint64
}

// NewResolver wires the resolver. cache may be nil.
func NewResolver(screens domain.ScreenRepository, areas domain.AreaDirectory, catalog domain.CatalogRepository, assignments domain.AssignmentRepository, cache domain.AssignmentCache, bus domain.Broadcaster) *Resolver {
	return &Resolver{
		screens:     screens,
		areas:       areas,
		catalog:     catalog,
		assignments: assignments,
		cache:       cache,
		bus:         bus,
		generations: make(map[string]uint64),
	}
}

// Assign resolves the request into a self-contained payload and replaces the
// screen's assignment. With Immediate set and an approved screen, the payload
// is pushed as content-change right after the write.
func (r *Resolver) Assign(ctx context.Context, op domain.Operator, req AssignRequest) (*domain.ContentAssignment, error) {
	if (req.ContentID == nil) == (req.PlaylistID == nil) {
		return nil, fmt.Errorf("%w: exactly one of contentId or playlistId is required", domain.ErrInvalidInput)
	}
	if req.Duration < 0 {
		return nil, fmt.Errorf("%w: duration cannot be negative", domain.ErrInvalidInput)
	}

	screen, err := r.screens.GetByCode(ctx, req.ScreenCode)
	if err != nil {
		return nil, err
	}
	if err := r.authorize(ctx, op, screen); err != nil {
		return nil, err
	}

	assignment := &domain.ContentAssignment{
		ScreenID:   screen.ID,
		ScreenCode: screen.Code,
		ContentID:  req.ContentID,
		PlaylistID: req.PlaylistID,
		Duration:   req.Duration,
		Immediate:  req.Immediate,
		AssignedBy: &op.UserID,
	}
	payload, err := r.resolve(ctx, assignment)
	if err != nil {
		return nil, err
	}
	assignment.Payload = *payload

	stored, err := r.assignments.Replace(ctx, assignment)
	if err != nil {
		return nil, fmt.Errorf("store assignment: %w", err)
	}
	r.Forget(ctx, screen.Code)

	if req.Immediate {
		if screen.Approved {
			r.bus.ToScreen(ctx, screen.Code, domain.EventContentChange, stored.Payload)
		} else {
			slog.InfoContext(ctx, "Skipping push to unapproved screen", "screen_code", screen.Code)
		}
	}

	slog.InfoContext(ctx, "Content assigned",
		"screen_code", screen.Code,
		"kind", stored.Payload.Kind,
		"immediate", req.Immediate,
		"assigned_by", op.UserID,
	)
	return stored, nil
}

// Refresh re-resolves the screen's current assignment against the catalogue
// and pushes content-updated, so edits to content or playlists reach players
// without a new assignment.
func (r *Resolver) Refresh(ctx context.Context, op domain.Operator, code string) (*domain.ContentAssignment, error) {
	screen, err := r.screens.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := r.authorize(ctx, op, screen); err != nil {
		return nil, err
	}

	current, err := r.assignments.GetByScreen(ctx, screen.ID)
	if err != nil {
		return nil, err
	}
	payload, err := r.resolve(ctx, current)
	if err != nil {
		return nil, err
	}
	current.Payload = *payload

	stored, err := r.assignments.Replace(ctx, current)
	if err != nil {
		return nil, fmt.Errorf("store assignment: %w", err)
	}
	r.Forget(ctx, screen.Code)

	if screen.Approved {
		r.bus.ToScreen(ctx, screen.Code, domain.EventContentUpdated, stored.Payload)
	}
	return stored, nil
}

// ForScreen is the device pull path. It returns nil without error when the
// screen exists but has nothing assigned.
func (r *Resolver) ForScreen(ctx context.Context, code string) (*domain.ContentAssignment, error) {
	if r.cache != nil {
		if cached, ok := r.cache.Get(ctx, code); ok {
			return cached, nil
		}
	}

	v, err, _ := r.fill.Do(code, func() (any, error) {
		// Shared by every coalesced caller, so one caller leaving must not
		// fail the rest.
		ctx := context.WithoutCancel(ctx)
		gen := r.generation(code)

		screen, err := r.screens.GetByCode(ctx, code)
		if err != nil {
			return nil, err
		}
		assignment, err := r.assignments.GetByScreen(ctx, screen.ID)
		if errors.Is(err, domain.ErrAssignmentNotFound) {
			return (*domain.ContentAssignment)(nil), nil
		}
		if err != nil {
			return nil, fmt.Errorf("load assignment: %w", err)
		}
		r.store(ctx, code, gen, assignment)
		return assignment, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.ContentAssignment), nil
}

// store caches a filled assignment unless Forget ran since the fill began.
func (r *Resolver) store(ctx context.Context, code string, gen uint64, a *domain.ContentAssignment) {
	if r.cache == nil || r.generation(code) != gen {
		return
	}
	r.cache.Set(ctx, code, a)
	if r.generation(code) != gen {
		r.Forget(ctx, code)
	}
}

func (r *Resolver) generation(code string) uint64 {
	r.genMu.Lock()
	defer r.genMu.Unlock()
	return r.generations[code]
}

// Forget drops the cached payload for a screen.
func (r *Resolver) Forget(ctx context.Context, code string) {
	if r.cache == nil {
		return
	}
	r.genMu.Lock()
	r.generations[code]++
	r.genMu.Unlock()

	if err := r.cache.Invalidate(ctx, code); err != nil {
		slog.WarnContext(ctx, "Failed to invalidate content cache", "screen_code", code, "error", err)
	}
}

func (r *Resolver) resolve(ctx context.Context, a *domain.ContentAssignment) (*domain.AssignmentPayload, error) {
	if a.ContentID != nil {
		return r.resolveContent(ctx, *a.ContentID, a.Duration)
	}
	if a.PlaylistID != nil {
		return r.resolvePlaylist(ctx, *a.PlaylistID)
	}
	return nil, fmt.Errorf("%w: assignment references nothing", domain.ErrInvalidInput)
}

func (r *Resolver) resolveContent(ctx context.Context, id int64, duration int) (*domain.AssignmentPayload, error) {
	c, err := r.catalog.GetContent(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.Active {
		return nil, fmt.Errorf("%w: content %d is inactive", domain.ErrInvalidInput, id)
	}

	item := playable(*c, 0)
	if duration > 0 {
		item.DisplayDuration = duration
	}
	return &domain.AssignmentPayload{Kind: domain.KindContent, Content: &item}, nil
}

func (r *Resolver) resolvePlaylist(ctx context.Context, id int64) (*domain.AssignmentPayload, error) {
	p, err := r.catalog.GetPlaylist(ctx, id)
	if err != nil {
		return nil, err
	}
	contents, err := r.catalog.GetContents(ctx, p.ContentIDs)
	if err != nil {
		return nil, fmt.Errorf("load playlist contents: %w", err)
	}

	byID := make(map[int64]domain.Content, len(contents))
	for _, c := range contents {
		byID[c.ID] = c
	}

	items := make([]domain.PlayableItem, 0, len(p.ContentIDs))
	for _, cid := range p.ContentIDs {
		c, ok := byID[cid]
		if !ok || !c.Active {
			continue
		}
		items = append(items, playable(c, len(items)))
	}

	return &domain.AssignmentPayload{
		Kind: domain.KindPlaylist,
		Playlist: &domain.PlaylistPayload{
			ID:      p.ID,
			Name:    p.Name,
			Loop:    p.Loop,
			Shuffle: p.Shuffle,
			Items:   items,
		},
	}, nil
}

func playable(c domain.Content, order int) domain.PlayableItem {
	return domain.PlayableItem{
		ContentID:       c.ID,
		Title:           c.Title,
		Type:            c.Type,
		URL:             c.URL,
		DisplayDuration: c.Duration,
		Order:           order,
	}
}

func (r *Resolver) authorize(ctx context.Context, op domain.Operator, screen *domain.Screen) error {
	if op.IsAdmin() {
		return nil
	}
	managed, err := r.areas.ManagedAreaIDs(ctx, op.UserID)
	if err != nil {
		return fmt.Errorf("load managed areas: %w", err)
	}
	if !domain.MayAccess(op, managed, screen.AreaID) {
		return domain.ErrForbidden
	}
	return nil
}
