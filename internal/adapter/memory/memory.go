// Package memory is a process-local store implementing every repository the
// core needs. It backs development runs without a database and service tests.
package memory

import (
	"sync"

	"github.com/crxwnd/digitalizacionTV/internal/domain"
	"github.com/jonboulle/clockwork"
)

// DB holds all state under one lock so cross-entity steps (screen delete
// cascading its assignment) are atomic.
type DB struct {
	mu    sync.RWMutex
	clock clockwork.Clock

	screens       map[int64]*domain.Screen
	logs          []domain.ScreenLog
	areas         map[int64]domain.Area
	contents      map[int64]domain.Content
	playlists     map[int64]domain.Playlist
	assignments   map[int64]*domain.ContentAssignment
	notifications map[int64]*domain.Notification

	nextScreenID       int64
	nextLogID          int64
	nextAssignmentID   int64
	nextNotificationID int64
}

func New(clock clockwork.Clock) *DB {
	return &DB{
		clock:         clock,
		screens:       make(map[int64]*domain.Screen),
		areas:         make(map[int64]domain.Area),
		contents:      make(map[int64]domain.Content),
		playlists:     make(map[int64]domain.Playlist),
		assignments:   make(map[int64]*domain.ContentAssignment),
		notifications: make(map[int64]*domain.Notification),
	}
}

func (db *DB) Screens() *ScreenRepo             { return &ScreenRepo{db: db} }
func (db *DB) ScreenLogs() *ScreenLogRepo       { return &ScreenLogRepo{db: db} }
func (db *DB) Areas() *AreaDirectory            { return &AreaDirectory{db: db} }
func (db *DB) Catalog() *CatalogRepo            { return &CatalogRepo{db: db} }
func (db *DB) Assignments() *AssignmentRepo     { return &AssignmentRepo{db: db} }
func (db *DB) Notifications() *NotificationRepo { return &NotificationRepo{db: db} }

// PutArea inserts or replaces an area. Areas are owned by an external service.
func (db *DB) PutArea(a domain.Area) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.areas[a.ID] = a
}

// PutContent inserts or replaces a catalogue entry.
func (db *DB) PutContent(c domain.Content) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = db.clock.Now().UTC()
	}
	db.contents[c.ID] = c
}

// PutPlaylist inserts or replaces a playlist.
func (db *DB) PutPlaylist(p domain.Playlist) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = db.clock.Now().UTC()
	}
	p.ContentIDs = append([]int64(nil), p.ContentIDs...)
	db.playlists[p.ID] = p
}

func ptr[T any](v T) *T { return &v }
