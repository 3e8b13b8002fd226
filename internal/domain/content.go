package domain

import (
	"context"
	"fmt"
	"time"
)

type ContentType string

const (
	ContentImage        ContentType = "IMAGE"
	ContentVideo        ContentType = "VIDEO"
	ContentPresentation ContentType = "PRESENTATION"
	ContentHTML         ContentType = "HTML"
)

func (t ContentType) Valid() bool {
	switch t {
	case ContentImage, ContentVideo, ContentPresentation, ContentHTML:
		return true
	}
	return false
}

// Content is a playable unit. Duration is in seconds.
type Content struct {
	ID        int64       `json:"id"`
	Title     string      `json:"title"`
	Type      ContentType `json:"type"`
	URL       string      `json:"url"`
	Duration  int         `json:"duration"`
	Active    bool        `json:"active"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Playlist references content in display order.
type Playlist struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	AreaID     *int64    `json:"areaId"`
	Loop       bool      `json:"loop"`
	Shuffle    bool      `json:"shuffle"`
	ContentIDs []int64   `json:"contentIds"`
	CreatedAt  time.Time `json:"createdAt"`
}

type CatalogRepository interface {
	GetContent(ctx context.Context, id int64) (*Content, error)
	// GetContents returns the requested items that exist, in no particular order.
	GetContents(ctx context.Context, ids []int64) ([]Content, error)
	GetPlaylist(ctx context.Context, id int64) (*Playlist, error)
}

type ContentKind string

const (
	KindContent  ContentKind = "content"
	KindPlaylist ContentKind = "playlist"
)

// PlayableItem is one resolved content entry as a player renders it.
type PlayableItem struct {
	ContentID       int64       `json:"contentId"`
	Title           string      `json:"title"`
	Type            ContentType `json:"type"`
	URL             string      `json:"url"`
	DisplayDuration int         `json:"displayDuration"`
	Order           int         `json:"order"`
}

type PlaylistPayload struct {
	ID      int64          `json:"id"`
	Name    string         `json:"name"`
	Loop    bool           `json:"loop"`
	Shuffle bool           `json:"shuffle"`
	Items   []PlayableItem `json:"items"`
}

// AssignmentPayload is the tagged union a screen renders: exactly one of
// Content or Playlist is set, matching Kind.
type AssignmentPayload struct {
	Kind     ContentKind      `json:"kind"`
	Content  *PlayableItem    `json:"content,omitempty"`
	Playlist *PlaylistPayload `json:"playlist,omitempty"`
}

func (p *AssignmentPayload) Validate() error {
	switch p.Kind {
	case KindContent:
		if p.Content == nil || p.Playlist != nil {
			return fmt.Errorf("%w: content payload must carry only content", ErrInvalidInput)
		}
	case KindPlaylist:
		if p.Playlist == nil || p.Content != nil {
			return fmt.Errorf("%w: playlist payload must carry only playlist", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown payload kind %q", ErrInvalidInput, p.Kind)
	}
	return nil
}

// ContentAssignment designates what a screen should display. At most one
// exists per screen; a new one replaces the previous.
type ContentAssignment struct {
	ID         int64             `json:"id"`
	ScreenID   int64             `json:"screenId"`
	ScreenCode string            `json:"screenCode"`
	ContentID  *int64            `json:"contentId,omitempty"`
	PlaylistID *int64            `json:"playlistId,omitempty"`
	Duration   int               `json:"duration"`
	Order      int               `json:"order"`
	Immediate  bool              `json:"immediate"`
	Payload    AssignmentPayload `json:"payload"`
	AssignedBy *int64            `json:"assignedBy,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

type AssignmentRepository interface {
	// Replace deletes any assignment of the screen and stores the new one in one step.
	Replace(ctx context.Context, assignment *ContentAssignment) (*ContentAssignment, error)
	GetByScreen(ctx context.Context, screenID int64) (*ContentAssignment, error)
}

// AssignmentCache fronts the content-for-screen pull path.
type AssignmentCache interface {
	Get(ctx context.Context, screenCode string) (*ContentAssignment, bool)
	Set(ctx context.Context, screenCode string, assignment *ContentAssignment)
	Invalidate(ctx context.Context, screenCode string) error
}

// Items flattens the payload into what the player renders, in order.
func (p *AssignmentPayload) Items() []PlayableItem {
	switch {
	case p.Content != nil:
		return []PlayableItem{*p.Content}
	case p.Playlist != nil:
		return p.Playlist.Items
	}
	return nil
}
