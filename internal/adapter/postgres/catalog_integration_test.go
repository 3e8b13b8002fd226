package postgres

import (
	"context"
	"testing"

	"github.com/crxwnd/digitalizacionTV/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogRepo_Content(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewCatalogRepo(pool)
	ctx := context.Background()
	welcome := insertContent(t, pool, "welcome.png", domain.ContentImage, 10, true)
	promo := insertContent(t, pool, "promo.mp4", domain.ContentVideo, 30, false)

	c, err := repo.GetContent(ctx, welcome)
	require.NoError(t, err)
	assert.Equal(t, domain.ContentImage, c.Type)
	assert.Equal(t, 10, c.Duration)
	assert.True(t, c.Active)

	_, err = repo.GetContent(ctx, 404)
	assert.ErrorIs(t, err, domain.ErrContentNotFound)

	found, err := repo.GetContents(ctx, []int64{promo, 404, welcome})
	require.NoError(t, err)
	assert.Len(t, found, 2)
}

func TestCatalogRepo_Playlist(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewCatalogRepo(pool)
	ctx := context.Background()
	areaID := insertArea(t, pool, "Lobby", nil)

	var id int64
	err := pool.QueryRow(ctx, `
		INSERT INTO playlists (name, area_id, loop, shuffle, content_ids)
		VALUES ('Morning', $1, true, false, '{4,3,1}') RETURNING id`, areaID).Scan(&id)
	require.NoError(t, err)

	p, err := repo.GetPlaylist(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Morning", p.Name)
	assert.Equal(t, &areaID, p.AreaID)
	assert.True(t, p.Loop)
	assert.Equal(t, []int64{4, 3, 1}, p.ContentIDs)

	_, err = repo.GetPlaylist(ctx, 404)
	assert.ErrorIs(t, err, domain.ErrPlaylistNotFound)
}

func TestAssignmentRepo_ReplaceKeepsOnePerScreen(t *testing.T) {
	pool := setupTestDB(t)
	screens := NewScreenRepo(pool)
	repo := NewAssignmentRepo(pool)
	ctx := context.Background()
	s := createScreen(t, screens, "SCR-LOBBY001", "10.0.0.1", nil, true)
	first := insertContent(t, pool, "welcome.png", domain.ContentImage, 10, true)
	second := insertContent(t, pool, "promo.mp4", domain.ContentVideo, 30, true)
	assignedBy := int64(1)

	_, err := repo.Replace(ctx, &domain.ContentAssignment{
		ScreenID:  s.ID,
		ContentID: &first,
		Payload:   domain.AssignmentPayload{Kind: domain.KindContent, Content: &domain.PlayableItem{ContentID: first}},
	})
	require.NoError(t, err)

	stored, err := repo.Replace(ctx, &domain.ContentAssignment{
		ScreenID:   s.ID,
		ContentID:  &second,
		Duration:   45,
		Immediate:  true,
		AssignedBy: &assignedBy,
		Payload: domain.AssignmentPayload{Kind: domain.KindContent, Content: &domain.PlayableItem{
			ContentID: second, Title: "promo.mp4", Type: domain.ContentVideo, DisplayDuration: 45,
		}},
	})
	require.NoError(t, err)
	assert.NotZero(t, stored.ID)
	assert.False(t, stored.CreatedAt.IsZero())

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM content_assignments WHERE screen_id = $1`, s.ID).Scan(&count))
	assert.Equal(t, 1, count)

	got, err := repo.GetByScreen(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.ID, got.ID)
	assert.Equal(t, "SCR-LOBBY001", got.ScreenCode)
	assert.Equal(t, &second, got.ContentID)
	assert.Nil(t, got.PlaylistID)
	assert.Equal(t, 45, got.Duration)
	assert.True(t, got.Immediate)
	assert.Equal(t, &assignedBy, got.AssignedBy)
	assert.Equal(t, 45, got.Payload.Content.DisplayDuration)
}

func TestAssignmentRepo_Errors(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewAssignmentRepo(pool)
	ctx := context.Background()
	contentID := int64(1)

	_, err := repo.GetByScreen(ctx, 404)
	assert.ErrorIs(t, err, domain.ErrAssignmentNotFound)

	_, err = repo.Replace(ctx, &domain.ContentAssignment{
		ScreenID:  404,
		ContentID: &contentID,
		Payload:   domain.AssignmentPayload{Kind: domain.KindContent, Content: &domain.PlayableItem{ContentID: 1}},
	})
	assert.ErrorIs(t, err, domain.ErrScreenNotFound)
}

func TestAreaDirectory(t *testing.T) {
	pool := setupTestDB(t)
	dir := NewAreaDirectory(pool)
	ctx := context.Background()
	manager := int64(7)
	lobby := insertArea(t, pool, "Lobby", &manager)
	insertArea(t, pool, "Kitchen", nil)
	terrace := insertArea(t, pool, "Terrace", &manager)

	areas, err := dir.ListAreas(ctx)
	require.NoError(t, err)
	require.Len(t, areas, 3)
	assert.Equal(t, "Lobby", areas[0].Name)
	assert.Equal(t, &manager, areas[0].ManagerID)
	assert.Nil(t, areas[1].ManagerID)

	ids, err := dir.ManagedAreaIDs(ctx, manager)
	require.NoError(t, err)
	assert.Equal(t, []int64{lobby, terrace}, ids)

	ids, err = dir.ManagedAreaIDs(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
