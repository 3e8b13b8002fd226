// Package monitor builds the read-time fleet views operators watch. Status is
// always classified from heartbeat age at the moment of the read; the stored
// online flag is only reported alongside.
package monitor

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/crxwnd/digitalizacionTV/internal/domain"
	"github.com/crxwnd/digitalizacionTV/internal/liveness"
	"github.com/jonboulle/clockwork"
)

// ScreenStatus is one screen as seen by a dashboard.
type ScreenStatus struct {
	ID                    int64           `json:"id"`
	Code                  string          `json:"code"`
	Name                  string          `json:"name"`
	Location              string          `json:"location,omitempty"`
	AreaID                *int64          `json:"areaId"`
	Approved              bool            `json:"approved"`
	Status                liveness.Status `json:"status"`
	StoredOnline          bool            `json:"storedOnline"`
	LastHeartbeat         *time.Time      `json:"lastHeartbeat"`
	SecondsSinceHeartbeat *int64          `json:"secondsSinceHeartbeat"`
	PlayerStatus          string          `json:"playerStatus,omitempty"`
}

// Summary counts screens per classified status.
type Summary struct {
	Total      int     `json:"total"`
	Online     int     `json:"online"`
	Warning    int     `json:"warning"`
	Offline    int     `json:"offline"`
	Approved   int     `json:"approved"`
	Pending    int     `json:"pending"`
	HealthRate float64 `json:"healthRate"`
}

// AreaBucket groups the screens of one area. Area is nil for unassigned screens.
type AreaBucket struct {
	Area    *domain.Area   `json:"area"`
	Screens []ScreenStatus `json:"screens"`
	Summary Summary        `json:"summary"`
}

type GlobalView struct {
	Areas       []AreaBucket `json:"areas"`
	Unassigned  AreaBucket   `json:"unassigned"`
	Summary     Summary      `json:"summary"`
	GeneratedAt time.Time    `json:"generatedAt"`
}

type RealtimeView struct {
	Screens     []ScreenStatus `json:"screens"`
	Summary     Summary        `json:"summary"`
	GeneratedAt time.Time      `json:"generatedAt"`
}

type Monitor struct {
	screens    domain.ScreenRepository
	areas      domain.AreaDirectory
	clock      clockwork.Clock
	thresholds liveness.Thresholds
}

func New(screens domain.ScreenRepository, areas domain.AreaDirectory, clock clockwork.Clock, thresholds liveness.Thresholds) *Monitor {
	return &Monitor{
		screens:    screens,
		areas:      areas,
		clock:      clock,
		thresholds: thresholds,
	}
}

// Global buckets every visible screen by area. Managers only see their areas
// and never the unassigned bucket.
func (m *Monitor) Global(ctx context.Context, op domain.Operator) (*GlobalView, error) {
	areas, err := m.areas.ListAreas(ctx)
	if err != nil {
		return nil, fmt.Errorf("list areas: %w", err)
	}
	filter, err := m.filter(ctx, op)
	if err != nil {
		return nil, err
	}
	screens, err := m.screens.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list screens: %w", err)
	}

	now := m.clock.Now()
	view := &GlobalView{
		Areas:       make([]AreaBucket, 0, len(areas)),
		Unassigned:  AreaBucket{Screens: []ScreenStatus{}},
		GeneratedAt: now.UTC(),
	}

	index := make(map[int64]int, len(areas))
	for _, a := range areas {
		if filter.AreaIDs != nil && !slices.Contains(filter.AreaIDs, a.ID) {
			continue
		}
		index[a.ID] = len(view.Areas)
		view.Areas = append(view.Areas, AreaBucket{Area: &a, Screens: []ScreenStatus{}})
	}

	all := make([]ScreenStatus, 0, len(screens))
	for i := range screens {
		st := m.status(&screens[i], now)
		all = append(all, st)

		bucket := &view.Unassigned
		if st.AreaID != nil {
			if idx, ok := index[*st.AreaID]; ok {
				bucket = &view.Areas[idx]
			}
		}
		bucket.Screens = append(bucket.Screens, st)
	}

	for i := range view.Areas {
		view.Areas[i].Summary = summarize(view.Areas[i].Screens)
	}
	view.Unassigned.Summary = summarize(view.Unassigned.Screens)
	view.Summary = summarize(all)
	return view, nil
}

// Area is the view of a single area.
func (m *Monitor) Area(ctx context.Context, op domain.Operator, areaID int64) (*AreaBucket, error) {
	areas, err := m.areas.ListAreas(ctx)
	if err != nil {
		return nil, fmt.Errorf("list areas: %w", err)
	}
	var area *domain.Area
	for i := range areas {
		if areas[i].ID == areaID {
			area = &areas[i]
			break
		}
	}
	if area == nil {
		return nil, domain.ErrAreaNotFound
	}

	if !op.IsAdmin() {
		managed, err := m.areas.ManagedAreaIDs(ctx, op.UserID)
		if err != nil {
			return nil, fmt.Errorf("load managed areas: %w", err)
		}
		if !domain.MayAccess(op, managed, &areaID) {
			return nil, domain.ErrForbidden
		}
	}

	screens, err := m.screens.List(ctx, domain.ScreenFilter{AreaIDs: []int64{areaID}})
	if err != nil {
		return nil, fmt.Errorf("list screens: %w", err)
	}
	now := m.clock.Now()
	bucket := &AreaBucket{Area: area, Screens: make([]ScreenStatus, 0, len(screens))}
	for i := range screens {
		bucket.Screens = append(bucket.Screens, m.status(&screens[i], now))
	}
	bucket.Summary = summarize(bucket.Screens)
	return bucket, nil
}

// Realtime lists every visible screen with its classified status.
func (m *Monitor) Realtime(ctx context.Context, op domain.Operator) (*RealtimeView, error) {
	filter, err := m.filter(ctx, op)
	if err != nil {
		return nil, err
	}
	screens, err := m.screens.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list screens: %w", err)
	}

	now := m.clock.Now()
	view := &RealtimeView{GeneratedAt: now.UTC(), Screens: make([]ScreenStatus, 0, len(screens))}
	for i := range screens {
		view.Screens = append(view.Screens, m.status(&screens[i], now))
	}
	view.Summary = summarize(view.Screens)
	return view, nil
}

func (m *Monitor) status(s *domain.Screen, now time.Time) ScreenStatus {
	st := ScreenStatus{
		ID:            s.ID,
		Code:          s.Code,
		Name:          s.Name,
		Location:      s.Location,
		AreaID:        s.AreaID,
		Approved:      s.Approved,
		Status:        m.thresholds.Classify(s.LastHeartbeat, now),
		StoredOnline:  s.Online,
		LastHeartbeat: s.LastHeartbeat,
		PlayerStatus:  s.PlayerStatus,
	}
	if s.LastHeartbeat != nil {
		secs := max(int64(now.Sub(*s.LastHeartbeat)/time.Second), 0)
		st.SecondsSinceHeartbeat = &secs
	}
	return st
}

func (m *Monitor) filter(ctx context.Context, op domain.Operator) (domain.ScreenFilter, error) {
	if op.IsAdmin() {
		return domain.ScreenFilter{}, nil
	}
	managed, err := m.areas.ManagedAreaIDs(ctx, op.UserID)
	if err != nil {
		return domain.ScreenFilter{}, fmt.Errorf("load managed areas: %w", err)
	}
	if managed == nil {
		managed = []int64{}
	}
	return domain.ScreenFilter{AreaIDs: managed}, nil
}

func summarize(screens []ScreenStatus) Summary {
	var s Summary
	for _, st := range screens {
		s.Total++
		switch st.Status {
		case liveness.StatusOnline:
			s.Online++
		case liveness.StatusWarning:
			s.Warning++
		default:
			s.Offline++
		}
		if st.Approved {
			s.Approved++
		} else {
			s.Pending++
		}
	}
	if s.Total > 0 {
		s.HealthRate = math.Round(float64(s.Online)/float64(s.Total)*1000) / 10
	}
	return s
}
