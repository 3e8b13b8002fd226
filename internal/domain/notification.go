package domain

import (
	"context"
	"slices"
	"time"
)

type NotificationType string

const (
	NotificationInfo      NotificationType = "INFO"
	NotificationWarning   NotificationType = "WARNING"
	NotificationAlert     NotificationType = "ALERT"
	NotificationEmergency NotificationType = "EMERGENCY"
)

func (t NotificationType) Valid() bool {
	switch t {
	case NotificationInfo, NotificationWarning, NotificationAlert, NotificationEmergency:
		return true
	}
	return false
}

// Priority is ordinal; higher is shown first.
type Priority int

const (
	PriorityLow       Priority = 1
	PriorityNormal    Priority = 2
	PriorityHigh      Priority = 3
	PriorityUrgent    Priority = 4
	PriorityEmergency Priority = 100
)

type Notification struct {
	ID          int64            `json:"id"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	Type        NotificationType `json:"type"`
	Priority    Priority         `json:"priority"`
	AreaID      *int64           `json:"areaId"`
	ScreenCodes []string         `json:"screenCodes"`
	ValidFrom   time.Time        `json:"validFrom"`
	ValidUntil  *time.Time       `json:"validUntil"`
	Duration    int              `json:"duration"`
	Active      bool             `json:"active"`
	CreatedByID *int64           `json:"createdById,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// IsGlobal is true when the notification names neither an area nor screens.
func (n *Notification) IsGlobal() bool {
	return n.AreaID == nil && len(n.ScreenCodes) == 0
}

// ValidAt reports whether now falls inside [ValidFrom, ValidUntil].
func (n *Notification) ValidAt(now time.Time) bool {
	if now.Before(n.ValidFrom) {
		return false
	}
	return n.ValidUntil == nil || !now.After(*n.ValidUntil)
}

// Targets reports whether the notification addresses the screen: by code,
// by the screen's area, or globally through a null area.
func (n *Notification) Targets(screen *Screen) bool {
	if slices.Contains(n.ScreenCodes, screen.Code) {
		return true
	}
	if n.AreaID == nil {
		return true
	}
	return screen.InArea(*n.AreaID)
}

// ActiveFor combines the active flag, the validity window, and targeting.
func (n *Notification) ActiveFor(screen *Screen, now time.Time) bool {
	return n.Active && n.ValidAt(now) && n.Targets(screen)
}

// NotificationUpdate is a partial update; nil fields are left unchanged.
type NotificationUpdate struct {
	Title       *string
	Message     *string
	Type        *NotificationType
	Priority    *Priority
	Active      *bool
	ValidFrom   *time.Time
	ValidUntil  *time.Time
	ClearUntil  bool
	AreaID      *int64
	ClearArea   bool
	ScreenCodes *[]string
	Duration    *int
}

// NotificationFilter scopes the operator list. Zero value lists everything.
type NotificationFilter struct {
	AreaIDs       []int64
	CreatedByID   *int64
	IncludeGlobal bool
	Restricted    bool
}

type NotificationStats struct {
	Total  int                      `json:"total"`
	Active int                      `json:"active"`
	ByType map[NotificationType]int `json:"byType"`
}

type NotificationRepository interface {
	Create(ctx context.Context, n *Notification) (*Notification, error)
	GetByID(ctx context.Context, id int64) (*Notification, error)
	Update(ctx context.Context, id int64, update NotificationUpdate) (*Notification, error)
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, filter NotificationFilter) ([]Notification, error)
	// ListActiveCandidates returns active notifications valid at now. Targeting is left to the caller.
	ListActiveCandidates(ctx context.Context, now time.Time) ([]Notification, error)
	Stats(ctx context.Context) (NotificationStats, error)
}

// NotificationSummary is what screens receive when a notification is pushed.
type NotificationSummary struct {
	ID        int64            `json:"id"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Type      NotificationType `json:"type"`
	Priority  Priority         `json:"priority"`
	Duration  int              `json:"duration"`
	CreatedAt time.Time        `json:"createdAt"`
}

func (n *Notification) Summary() NotificationSummary {
	return NotificationSummary{
		ID:        n.ID,
		Title:     n.Title,
		Message:   n.Message,
		Type:      n.Type,
		Priority:  n.Priority,
		Duration:  n.Duration,
		CreatedAt: n.CreatedAt,
	}
}

// Urgent notifications are pushed under EventUrgentNotification.
func (n *Notification) Urgent() bool {
	return n.Type == NotificationEmergency || n.Priority >= PriorityUrgent
}
