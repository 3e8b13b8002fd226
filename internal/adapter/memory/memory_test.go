package memory

import (
	"context"
	"testing"
	"time"

	"github.com/crxwnd/digitalizacionTV/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB() (*DB, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return New(clock), clock
}

func createScreen(t *testing.T, db *DB, code, ip string, approved bool) *domain.Screen {
	t.Helper()
	ctx := context.Background()
	s, err := db.Screens().Create(ctx, &domain.Screen{Code: code, Name: code, IPAddress: ip})
	require.NoError(t, err)
	if approved {
		s, err = db.Screens().SetApproved(ctx, s.ID, true)
		require.NoError(t, err)
	}
	return s
}

func TestScreenRepo_CreateRejectsDuplicates(t *testing.T) {
	db, _ := newTestDB()
	createScreen(t, db, "SCR-AAAA0001", "10.0.0.1", false)

	_, err := db.Screens().Create(context.Background(), &domain.Screen{Code: "SCR-AAAA0001", IPAddress: "10.0.0.2"})
	assert.ErrorIs(t, err, domain.ErrCodeConflict)

	_, err = db.Screens().Create(context.Background(), &domain.Screen{Code: "SCR-BBBB0002", IPAddress: "10.0.0.1"})
	assert.ErrorIs(t, err, domain.ErrIPConflict)
}

func TestScreenRepo_CreateIgnoresCallerLiveness(t *testing.T) {
	db, clock := newTestDB()
	beat := clock.Now()

	s, err := db.Screens().Create(context.Background(), &domain.Screen{
		Code: "SCR-AAAA0001", IPAddress: "10.0.0.1", Online: true, LastHeartbeat: &beat,
	})

	require.NoError(t, err)
	assert.False(t, s.Online)
	assert.Nil(t, s.LastHeartbeat)
}

func TestScreenRepo_ReturnsCopies(t *testing.T) {
	db, _ := newTestDB()
	s := createScreen(t, db, "SCR-AAAA0001", "10.0.0.1", false)

	s.Name = "mutated"
	stored, err := db.Screens().GetByID(context.Background(), s.ID)

	require.NoError(t, err)
	assert.Equal(t, "SCR-AAAA0001", stored.Name)
}

func TestScreenRepo_RecordHeartbeat(t *testing.T) {
	ctx := context.Background()
	db, clock := newTestDB()
	pending := createScreen(t, db, "SCR-PEND0001", "10.0.0.1", false)
	approved := createScreen(t, db, "SCR-APPR0002", "10.0.0.2", true)

	_, err := db.Screens().RecordHeartbeat(ctx, pending.Code, domain.Heartbeat{At: clock.Now()})
	assert.ErrorIs(t, err, domain.ErrNotApproved)

	_, err = db.Screens().RecordHeartbeat(ctx, "SCR-NOPE0000", domain.Heartbeat{At: clock.Now()})
	assert.ErrorIs(t, err, domain.ErrScreenNotFound)

	payload := &domain.AssignmentPayload{Kind: domain.KindContent, Content: &domain.PlayableItem{ContentID: 1}}
	got, err := db.Screens().RecordHeartbeat(ctx, approved.Code, domain.Heartbeat{At: clock.Now(), Content: payload, PlayerStatus: "playing"})
	require.NoError(t, err)
	assert.True(t, got.Online)
	require.NotNil(t, got.LastHeartbeat)
	assert.Equal(t, clock.Now(), *got.LastHeartbeat)
	assert.Equal(t, payload, got.CurrentContent)

	// An empty report keeps the previously known content and status.
	got, err = db.Screens().RecordHeartbeat(ctx, approved.Code, domain.Heartbeat{At: clock.Now().Add(time.Second)})
	require.NoError(t, err)
	assert.Equal(t, payload, got.CurrentContent)
	assert.Equal(t, "playing", got.PlayerStatus)
}

func TestScreenRepo_MarkOfflineIsConditional(t *testing.T) {
	ctx := context.Background()
	db, clock := newTestDB()
	s := createScreen(t, db, "SCR-AAAA0001", "10.0.0.1", true)
	_, err := db.Screens().RecordHeartbeat(ctx, s.Code, domain.Heartbeat{At: clock.Now()})
	require.NoError(t, err)

	cutoff := clock.Now().Add(-time.Minute)
	stale, err := db.Screens().ListStaleOnline(ctx, cutoff)
	require.NoError(t, err)
	assert.Empty(t, stale)

	demoted, err := db.Screens().MarkOffline(ctx, s.ID, cutoff)
	require.NoError(t, err)
	assert.False(t, demoted, "fresh heartbeat must not be demoted")

	clock.Advance(2 * time.Minute)
	cutoff = clock.Now().Add(-time.Minute)
	stale, err = db.Screens().ListStaleOnline(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, stale, 1)

	demoted, err = db.Screens().MarkOffline(ctx, s.ID, cutoff)
	require.NoError(t, err)
	assert.True(t, demoted)

	demoted, err = db.Screens().MarkOffline(ctx, s.ID, cutoff)
	require.NoError(t, err)
	assert.False(t, demoted, "already offline")
}

func TestScreenRepo_StaleIncludesCutoff(t *testing.T) {
	ctx := context.Background()
	db, clock := newTestDB()
	s := createScreen(t, db, "SCR-EDGE0001", "10.0.0.1", true)
	_, err := db.Screens().RecordHeartbeat(ctx, s.Code, domain.Heartbeat{At: clock.Now()})
	require.NoError(t, err)

	cutoff := clock.Now()
	stale, err := db.Screens().ListStaleOnline(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, stale, 1)

	demoted, err := db.Screens().MarkOffline(ctx, s.ID, cutoff.Add(-time.Nanosecond))
	require.NoError(t, err)
	assert.False(t, demoted)

	demoted, err = db.Screens().MarkOffline(ctx, s.ID, cutoff)
	require.NoError(t, err)
	assert.True(t, demoted)
}

func TestScreenRepo_ListFiltersByArea(t *testing.T) {
	ctx := context.Background()
	db, clock := newTestDB()
	a := createScreen(t, db, "SCR-AAAA0001", "10.0.0.1", false)
	clock.Advance(time.Second)
	b := createScreen(t, db, "SCR-BBBB0002", "10.0.0.2", false)
	createScreen(t, db, "SCR-CCCC0003", "10.0.0.3", false)

	_, err := db.Screens().Update(ctx, a.ID, domain.ScreenUpdate{AreaID: ptr(int64(10))})
	require.NoError(t, err)
	_, err = db.Screens().Update(ctx, b.ID, domain.ScreenUpdate{AreaID: ptr(int64(20))})
	require.NoError(t, err)

	all, err := db.Screens().List(ctx, domain.ScreenFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	scoped, err := db.Screens().List(ctx, domain.ScreenFilter{AreaIDs: []int64{10}})
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, a.Code, scoped[0].Code)

	none, err := db.Screens().List(ctx, domain.ScreenFilter{AreaIDs: []int64{}})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestScreenRepo_DeleteCascadesAssignment(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB()
	s := createScreen(t, db, "SCR-AAAA0001", "10.0.0.1", true)

	_, err := db.Assignments().Replace(ctx, &domain.ContentAssignment{ScreenID: s.ID, ScreenCode: s.Code})
	require.NoError(t, err)

	require.NoError(t, db.Screens().Delete(ctx, s.ID))

	_, err = db.Assignments().GetByScreen(ctx, s.ID)
	assert.ErrorIs(t, err, domain.ErrAssignmentNotFound)
	assert.ErrorIs(t, db.Screens().Delete(ctx, s.ID), domain.ErrScreenNotFound)
}

func TestAssignmentRepo_ReplaceKeepsOnePerScreen(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB()
	s := createScreen(t, db, "SCR-AAAA0001", "10.0.0.1", true)

	first, err := db.Assignments().Replace(ctx, &domain.ContentAssignment{ScreenID: s.ID, ContentID: ptr(int64(1))})
	require.NoError(t, err)
	second, err := db.Assignments().Replace(ctx, &domain.ContentAssignment{ScreenID: s.ID, PlaylistID: ptr(int64(2))})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	current, err := db.Assignments().GetByScreen(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, current.ID)
	assert.Nil(t, current.ContentID)

	_, err = db.Assignments().Replace(ctx, &domain.ContentAssignment{ScreenID: 999})
	assert.ErrorIs(t, err, domain.ErrScreenNotFound)
}

func TestScreenLogRepo_NewestFirstWithPagination(t *testing.T) {
	ctx := context.Background()
	db, clock := newTestDB()
	for _, action := range []string{"a", "b", "c"} {
		require.NoError(t, db.ScreenLogs().Append(ctx, &domain.ScreenLog{ScreenID: 1, Action: action}))
		clock.Advance(time.Second)
	}
	require.NoError(t, db.ScreenLogs().Append(ctx, &domain.ScreenLog{ScreenID: 2, Action: "other"}))

	logs, total, err := db.ScreenLogs().List(ctx, 1, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, logs, 2)
	assert.Equal(t, "c", logs[0].Action)
	assert.Equal(t, "b", logs[1].Action)

	logs, _, err = db.ScreenLogs().List(ctx, 1, 2, 2)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "a", logs[0].Action)

	logs, total, err = db.ScreenLogs().List(ctx, 1, 2, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Empty(t, logs)
}

func TestAreaDirectory_ManagedAreaIDs(t *testing.T) {
	db, _ := newTestDB()
	db.PutArea(domain.Area{ID: 20, Name: "Cafeteria", ManagerID: ptr(int64(2))})
	db.PutArea(domain.Area{ID: 10, Name: "Lobby", ManagerID: ptr(int64(2))})
	db.PutArea(domain.Area{ID: 30, Name: "Gym"})

	ids, err := db.Areas().ManagedAreaIDs(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 20}, ids)

	areas, err := db.Areas().ListAreas(context.Background())
	require.NoError(t, err)
	require.Len(t, areas, 3)
	assert.Equal(t, int64(10), areas[0].ID)
}

func TestCatalogRepo_GetPlaylistReturnsCopy(t *testing.T) {
	db, _ := newTestDB()
	db.PutPlaylist(domain.Playlist{ID: 2, Name: "Morning", ContentIDs: []int64{1, 2}})

	p, err := db.Catalog().GetPlaylist(context.Background(), 2)
	require.NoError(t, err)
	p.ContentIDs[0] = 99

	again, err := db.Catalog().GetPlaylist(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, again.ContentIDs)

	_, err = db.Catalog().GetPlaylist(context.Background(), 3)
	assert.ErrorIs(t, err, domain.ErrPlaylistNotFound)
	_, err = db.Catalog().GetContent(context.Background(), 3)
	assert.ErrorIs(t, err, domain.ErrContentNotFound)
}

func TestNotificationRepo_ListVisibility(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB()
	repo := db.Notifications()

	global, err := repo.Create(ctx, &domain.Notification{Title: "global", Type: domain.NotificationInfo, Active: true})
	require.NoError(t, err)
	area, err := repo.Create(ctx, &domain.Notification{Title: "area", AreaID: ptr(int64(10)), Type: domain.NotificationInfo, Active: true})
	require.NoError(t, err)
	_, err = repo.Create(ctx, &domain.Notification{Title: "foreign", AreaID: ptr(int64(20)), Type: domain.NotificationInfo})
	require.NoError(t, err)
	own, err := repo.Create(ctx, &domain.Notification{Title: "own", ScreenCodes: []string{"SCR-AAAA0001"}, CreatedByID: ptr(int64(2)), Priority: domain.PriorityUrgent})
	require.NoError(t, err)

	all, err := repo.List(ctx, domain.NotificationFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, own.ID, all[0].ID, "highest priority first")

	visible, err := repo.List(ctx, domain.NotificationFilter{
		Restricted:    true,
		AreaIDs:       []int64{10},
		CreatedByID:   ptr(int64(2)),
		IncludeGlobal: true,
	})
	require.NoError(t, err)
	var ids []int64
	for _, n := range visible {
		ids = append(ids, n.ID)
	}
	assert.ElementsMatch(t, []int64{global.ID, area.ID, own.ID}, ids)
}

func TestNotificationRepo_CreateDefaultsValidFrom(t *testing.T) {
	db, clock := newTestDB()

	n, err := db.Notifications().Create(context.Background(), &domain.Notification{Title: "x"})

	require.NoError(t, err)
	assert.Equal(t, clock.Now(), n.ValidFrom)
	assert.NotNil(t, n.ScreenCodes)
}

func TestNotificationRepo_UpdateClearsFields(t *testing.T) {
	ctx := context.Background()
	db, clock := newTestDB()
	until := clock.Now().Add(time.Hour)
	n, err := db.Notifications().Create(ctx, &domain.Notification{Title: "x", AreaID: ptr(int64(10)), ValidUntil: &until})
	require.NoError(t, err)

	updated, err := db.Notifications().Update(ctx, n.ID, domain.NotificationUpdate{ClearUntil: true, ClearArea: true, Title: ptr("y")})

	require.NoError(t, err)
	assert.Nil(t, updated.ValidUntil)
	assert.Nil(t, updated.AreaID)
	assert.Equal(t, "y", updated.Title)

	_, err = db.Notifications().Update(ctx, 999, domain.NotificationUpdate{})
	assert.ErrorIs(t, err, domain.ErrNotificationNotFound)
}

func TestNotificationRepo_ActiveCandidatesAndStats(t *testing.T) {
	ctx := context.Background()
	db, clock := newTestDB()
	repo := db.Notifications()
	expired := clock.Now().Add(-time.Minute)
	future := clock.Now().Add(time.Hour)

	_, err := repo.Create(ctx, &domain.Notification{Title: "live", Type: domain.NotificationInfo, Active: true})
	require.NoError(t, err)
	_, err = repo.Create(ctx, &domain.Notification{Title: "expired", Type: domain.NotificationInfo, Active: true, ValidUntil: &expired})
	require.NoError(t, err)
	_, err = repo.Create(ctx, &domain.Notification{Title: "scheduled", Type: domain.NotificationAlert, Active: true, ValidFrom: future})
	require.NoError(t, err)
	_, err = repo.Create(ctx, &domain.Notification{Title: "inactive", Type: domain.NotificationAlert})
	require.NoError(t, err)

	candidates, err := repo.ListActiveCandidates(ctx, clock.Now())
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "live", candidates[0].Title)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 3, stats.Active)
	assert.Equal(t, 2, stats.ByType[domain.NotificationAlert])
}
