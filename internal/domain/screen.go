package domain

import (
	"context"
	"time"
)

// Screen is a registered display device.
// Online is the last-known flag; read-time views classify from LastHeartbeat instead.
type Screen struct {
	ID             int64              `json:"id"`
	Code           string             `json:"code"`
	Name           string             `json:"name"`
	Location       string             `json:"location,omitempty"`
	IPAddress      string             `json:"ipAddress"`
	AreaID         *int64             `json:"areaId"`
	Approved       bool               `json:"approved"`
	Online         bool               `json:"online"`
	LastHeartbeat  *time.Time         `json:"lastHeartbeat"`
	CurrentContent *AssignmentPayload `json:"currentContent"`
	PlayerStatus   string             `json:"playerStatus,omitempty"`
	CreatedByID    *int64             `json:"createdById,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

// InArea reports whether the screen belongs to the given area.
func (s *Screen) InArea(areaID int64) bool {
	return s.AreaID != nil && *s.AreaID == areaID
}

// ScreenUpdate carries the operator-editable fields. Nil leaves a field unchanged
// except AreaID, which is always written (nil unassigns).
type ScreenUpdate struct {
	Name      *string
	Location  *string
	IPAddress *string
	AreaID    *int64
}

// Heartbeat is a single liveness report written atomically with online=true.
type Heartbeat struct {
	At           time.Time
	Content      *AssignmentPayload
	PlayerStatus string
}

type ScreenStats struct {
	Total    int `json:"total"`
	Online   int `json:"online"`
	Offline  int `json:"offline"`
	Approved int `json:"approved"`
	Pending  int `json:"pending"`
}

// ScreenFilter restricts listings. A nil AreaIDs means every screen.
type ScreenFilter struct {
	AreaIDs []int64
}

type ScreenRepository interface {
	Create(ctx context.Context, screen *Screen) (*Screen, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	GetByID(ctx context.Context, id int64) (*Screen, error)
	GetByCode(ctx context.Context, code string) (*Screen, error)
	List(ctx context.Context, filter ScreenFilter) ([]Screen, error)
	Update(ctx context.Context, id int64, update ScreenUpdate) (*Screen, error)
	SetApproved(ctx context.Context, id int64, approved bool) (*Screen, error)
	Delete(ctx context.Context, id int64) error
	Stats(ctx context.Context) (ScreenStats, error)

	// RecordHeartbeat fails with ErrScreenNotFound or ErrNotApproved.
	RecordHeartbeat(ctx context.Context, code string, hb Heartbeat) (*Screen, error)
	// ListStaleOnline returns screens flagged online whose heartbeat is older than cutoff or missing.
	ListStaleOnline(ctx context.Context, cutoff time.Time) ([]Screen, error)
	// MarkOffline clears the online flag only if the heartbeat is still older than cutoff.
	MarkOffline(ctx context.Context, id int64, cutoff time.Time) (bool, error)
}

// ScreenLog is an audit entry for operator actions against a screen.
type ScreenLog struct {
	ID        int64          `json:"id"`
	ScreenID  int64          `json:"screenId"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
	UserID    *int64         `json:"userId,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

type ScreenLogRepository interface {
	Append(ctx context.Context, entry *ScreenLog) error
	List(ctx context.Context, screenID int64, limit, offset int) ([]ScreenLog, int, error)
}
