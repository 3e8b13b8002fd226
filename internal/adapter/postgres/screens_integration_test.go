package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/crxwnd/digitalizacionTV/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScreenRepo_CreateAndGet(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewScreenRepo(pool)
	ctx := context.Background()
	areaID := insertArea(t, pool, "Lobby", nil)

	created := createScreen(t, repo, "SCR-LOBBY001", "10.0.0.1", &areaID, false)

	assert.NotZero(t, created.ID)
	assert.False(t, created.Online)
	assert.Nil(t, created.LastHeartbeat)
	assert.Nil(t, created.CurrentContent)

	byCode, err := repo.GetByCode(ctx, "SCR-LOBBY001")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byCode.ID)
	assert.Equal(t, &areaID, byCode.AreaID)

	byID, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "SCR-LOBBY001", byID.Code)

	exists, err := repo.CodeExists(ctx, "SCR-LOBBY001")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = repo.CodeExists(ctx, "SCR-NOPE0001")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestScreenRepo_NotFound(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewScreenRepo(pool)
	ctx := context.Background()

	_, err := repo.GetByCode(ctx, "SCR-MISSING1")
	assert.ErrorIs(t, err, domain.ErrScreenNotFound)
	_, err = repo.GetByID(ctx, 404)
	assert.ErrorIs(t, err, domain.ErrScreenNotFound)
	_, err = repo.SetApproved(ctx, 404, true)
	assert.ErrorIs(t, err, domain.ErrScreenNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, 404), domain.ErrScreenNotFound)
}

func TestScreenRepo_Conflicts(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewScreenRepo(pool)
	ctx := context.Background()
	createScreen(t, repo, "SCR-LOBBY001", "10.0.0.1", nil, false)
	other := createScreen(t, repo, "SCR-LOBBY002", "10.0.0.2", nil, false)

	_, err := repo.Create(ctx, &domain.Screen{Code: "SCR-LOBBY001", Name: "dup", IPAddress: "10.0.0.9"})
	assert.ErrorIs(t, err, domain.ErrCodeConflict)

	_, err = repo.Create(ctx, &domain.Screen{Code: "SCR-LOBBY003", Name: "dup", IPAddress: "10.0.0.1"})
	assert.ErrorIs(t, err, domain.ErrIPConflict)

	ip := "10.0.0.1"
	_, err = repo.Update(ctx, other.ID, domain.ScreenUpdate{IPAddress: &ip})
	assert.ErrorIs(t, err, domain.ErrIPConflict)

	missingArea := int64(999)
	_, err = repo.Create(ctx, &domain.Screen{Code: "SCR-LOBBY004", Name: "x", IPAddress: "10.0.0.4", AreaID: &missingArea})
	assert.ErrorIs(t, err, domain.ErrAreaNotFound)
}

func TestScreenRepo_UpdateAndApprove(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewScreenRepo(pool)
	ctx := context.Background()
	areaID := insertArea(t, pool, "Lobby", nil)
	s := createScreen(t, repo, "SCR-LOBBY001", "10.0.0.1", &areaID, false)

	name := "Main entrance"
	updated, err := repo.Update(ctx, s.ID, domain.ScreenUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Main entrance", updated.Name)
	assert.Equal(t, "10.0.0.1", updated.IPAddress)
	assert.Nil(t, updated.AreaID, "area is always written")

	approved, err := repo.SetApproved(ctx, s.ID, true)
	require.NoError(t, err)
	assert.True(t, approved.Approved)
}

func TestScreenRepo_ListFilter(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewScreenRepo(pool)
	ctx := context.Background()
	a1 := insertArea(t, pool, "One", nil)
	a2 := insertArea(t, pool, "Two", nil)
	createScreen(t, repo, "SCR-AREA1001", "10.0.1.1", &a1, true)
	createScreen(t, repo, "SCR-AREA2001", "10.0.2.1", &a2, true)
	createScreen(t, repo, "SCR-NOAREA01", "10.0.3.1", nil, true)

	all, err := repo.List(ctx, domain.ScreenFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	scoped, err := repo.List(ctx, domain.ScreenFilter{AreaIDs: []int64{a1}})
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "SCR-AREA1001", scoped[0].Code)

	none, err := repo.List(ctx, domain.ScreenFilter{AreaIDs: []int64{}})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestScreenRepo_Heartbeat(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewScreenRepo(pool)
	ctx := context.Background()
	createScreen(t, repo, "SCR-LOBBY001", "10.0.0.1", nil, true)
	createScreen(t, repo, "SCR-PENDING1", "10.0.0.2", nil, false)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	payload := &domain.AssignmentPayload{
		Kind:    domain.KindContent,
		Content: &domain.PlayableItem{ContentID: 1, Title: "Welcome", Type: domain.ContentImage, DisplayDuration: 10},
	}
	s, err := repo.RecordHeartbeat(ctx, "SCR-LOBBY001", domain.Heartbeat{At: at, Content: payload, PlayerStatus: "playing"})
	require.NoError(t, err)
	assert.True(t, s.Online)
	require.NotNil(t, s.LastHeartbeat)
	assert.True(t, at.Equal(*s.LastHeartbeat))
	assert.Equal(t, payload, s.CurrentContent)
	assert.Equal(t, "playing", s.PlayerStatus)

	// An empty report keeps what the screen said last time.
	s, err = repo.RecordHeartbeat(ctx, "SCR-LOBBY001", domain.Heartbeat{At: at.Add(10 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, payload, s.CurrentContent)
	assert.Equal(t, "playing", s.PlayerStatus)

	_, err = repo.RecordHeartbeat(ctx, "SCR-PENDING1", domain.Heartbeat{At: at})
	assert.ErrorIs(t, err, domain.ErrNotApproved)
	_, err = repo.RecordHeartbeat(ctx, "SCR-MISSING1", domain.Heartbeat{At: at})
	assert.ErrorIs(t, err, domain.ErrScreenNotFound)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.ScreenStats{Total: 2, Online: 1, Offline: 1, Approved: 1, Pending: 1}, stats)
}

func TestScreenRepo_StaleAndMarkOffline(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewScreenRepo(pool)
	ctx := context.Background()
	stale := createScreen(t, repo, "SCR-STALE001", "10.0.0.1", nil, true)
	fresh := createScreen(t, repo, "SCR-FRESH001", "10.0.0.2", nil, true)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_, err := repo.RecordHeartbeat(ctx, stale.Code, domain.Heartbeat{At: now.Add(-2 * time.Minute)})
	require.NoError(t, err)
	_, err = repo.RecordHeartbeat(ctx, fresh.Code, domain.Heartbeat{At: now.Add(-10 * time.Second)})
	require.NoError(t, err)

	cutoff := now.Add(-60 * time.Second)
	candidates, err := repo.ListStaleOnline(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, stale.ID, candidates[0].ID)

	// A heartbeat racing the sweep wins.
	_, err = repo.RecordHeartbeat(ctx, stale.Code, domain.Heartbeat{At: now})
	require.NoError(t, err)
	demoted, err := repo.MarkOffline(ctx, stale.ID, cutoff)
	require.NoError(t, err)
	assert.False(t, demoted)

	// A heartbeat exactly at the cutoff is stale.
	demoted, err = repo.MarkOffline(ctx, fresh.ID, now.Add(-10*time.Second))
	require.NoError(t, err)
	assert.True(t, demoted)

	demoted, err = repo.MarkOffline(ctx, fresh.ID, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, demoted, "already offline")
}

func TestScreenRepo_DeleteCascades(t *testing.T) {
	pool := setupTestDB(t)
	screens := NewScreenRepo(pool)
	logs := NewScreenLogRepo(pool)
	assignments := NewAssignmentRepo(pool)
	ctx := context.Background()
	s := createScreen(t, screens, "SCR-LOBBY001", "10.0.0.1", nil, true)
	contentID := insertContent(t, pool, "welcome.png", domain.ContentImage, 10, true)

	require.NoError(t, logs.Append(ctx, &domain.ScreenLog{ScreenID: s.ID, Action: "REMOTE_PLAY"}))
	_, err := assignments.Replace(ctx, &domain.ContentAssignment{
		ScreenID:  s.ID,
		ContentID: &contentID,
		Payload:   domain.AssignmentPayload{Kind: domain.KindContent, Content: &domain.PlayableItem{ContentID: contentID}},
	})
	require.NoError(t, err)

	require.NoError(t, screens.Delete(ctx, s.ID))

	_, err = assignments.GetByScreen(ctx, s.ID)
	assert.ErrorIs(t, err, domain.ErrAssignmentNotFound)
	entries, total, err := logs.List(ctx, s.ID, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, entries)
}

func TestScreenLogRepo_AppendAndPage(t *testing.T) {
	pool := setupTestDB(t)
	screens := NewScreenRepo(pool)
	logs := NewScreenLogRepo(pool)
	ctx := context.Background()
	s := createScreen(t, screens, "SCR-LOBBY001", "10.0.0.1", nil, true)
	userID := int64(1)

	for _, action := range []string{"REMOTE_PLAY", "REMOTE_PAUSE", "REMOTE_VOLUME"} {
		entry := &domain.ScreenLog{
			ScreenID: s.ID,
			Action:   action,
			Details:  map[string]any{"data": map[string]any{"level": 40.0}},
			UserID:   &userID,
		}
		require.NoError(t, logs.Append(ctx, entry))
		assert.NotZero(t, entry.ID)
	}

	page, total, err := logs.List(ctx, s.ID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 2)
	assert.Equal(t, "REMOTE_VOLUME", page[0].Action)
	assert.Equal(t, "REMOTE_PAUSE", page[1].Action)
	assert.Equal(t, map[string]any{"data": map[string]any{"level": 40.0}}, page[0].Details)

	page, _, err = logs.List(ctx, s.ID, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "REMOTE_PLAY", page[0].Action)

	assert.ErrorIs(t, logs.Append(ctx, &domain.ScreenLog{ScreenID: 404, Action: "REMOTE_PLAY"}), domain.ErrScreenNotFound)
}
