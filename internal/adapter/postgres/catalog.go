package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/crxwnd/digitalizacionTV/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CatalogRepo reads content and playlists. Both are managed elsewhere.
type CatalogRepo struct {
	pool *pgxpool.Pool
}

var _ domain.CatalogRepository = (*CatalogRepo)(nil)

func NewCatalogRepo(pool *pgxpool.Pool) *CatalogRepo {
	return &CatalogRepo{pool: pool}
}

const contentColumns = `id, title, type, url, duration, active, created_at`

func scanContent(row pgx.Row) (*domain.Content, error) {
	var c domain.Content
	if err := row.Scan(&c.ID, &c.Title, &c.Type, &c.URL, &c.Duration, &c.Active, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CatalogRepo) GetContent(ctx context.Context, id int64) (*domain.Content, error) {
	c, err := scanContent(r.pool.QueryRow(ctx, `SELECT `+contentColumns+` FROM contents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrContentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get content: %w", err)
	}
	return c, nil
}

func (r *CatalogRepo) GetContents(ctx context.Context, ids []int64) ([]domain.Content, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+contentColumns+` FROM contents WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get contents: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Content, 0, len(ids))
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan content: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get contents: %w", err)
	}
	return out, nil
}

func (r *CatalogRepo) GetPlaylist(ctx context.Context, id int64) (*domain.Playlist, error) {
	var p domain.Playlist
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, area_id, loop, shuffle, content_ids, created_at
		FROM playlists WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.AreaID, &p.Loop, &p.Shuffle, &p.ContentIDs, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPlaylistNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get playlist: %w", err)
	}
	return &p, nil
}

type AssignmentRepo struct {
	pool *pgxpool.Pool
}

var _ domain.AssignmentRepository = (*AssignmentRepo)(nil)

func NewAssignmentRepo(pool *pgxpool.Pool) *AssignmentRepo {
	return &AssignmentRepo{pool: pool}
}

// Replace swaps the screen's assignment inside one transaction; readers
// never see the screen with none or with two.
func (r *AssignmentRepo) Replace(ctx context.Context, a *domain.ContentAssignment) (*domain.ContentAssignment, error) {
	payload, err := json.Marshal(a.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode assignment payload: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM content_assignments WHERE screen_id = $1`, a.ScreenID); err != nil {
		return nil, fmt.Errorf("failed to clear previous assignment: %w", err)
	}

	stored := *a
	err = tx.QueryRow(ctx, `
		INSERT INTO content_assignments
			(screen_id, content_id, playlist_id, duration, sort_order, immediate, payload, assigned_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)
		RETURNING id, created_at`,
		a.ScreenID, a.ContentID, a.PlaylistID, a.Duration, a.Order, a.Immediate, payload, a.AssignedBy).
		Scan(&stored.ID, &stored.CreatedAt)
	if foreignKeyViolation(err) {
		return nil, domain.ErrScreenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert assignment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &stored, nil
}

func (r *AssignmentRepo) GetByScreen(ctx context.Context, screenID int64) (*domain.ContentAssignment, error) {
	var (
		a       domain.ContentAssignment
		payload []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT a.id, a.screen_id, s.code, a.content_id, a.playlist_id, a.duration, a.sort_order,
		       a.immediate, a.payload, a.assigned_by, a.created_at
		FROM content_assignments a
		JOIN screens s ON s.id = a.screen_id
		WHERE a.screen_id = $1`, screenID).
		Scan(&a.ID, &a.ScreenID, &a.ScreenCode, &a.ContentID, &a.PlaylistID, &a.Duration, &a.Order,
			&a.Immediate, &payload, &a.AssignedBy, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAssignmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	if err := json.Unmarshal(payload, &a.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode assignment payload: %w", err)
	}
	return &a, nil
}

// AreaDirectory reads areas and their managers.
type AreaDirectory struct {
	pool *pgxpool.Pool
}

var _ domain.AreaDirectory = (*AreaDirectory)(nil)

func NewAreaDirectory(pool *pgxpool.Pool) *AreaDirectory {
	return &AreaDirectory{pool: pool}
}

func (d *AreaDirectory) ListAreas(ctx context.Context) ([]domain.Area, error) {
	rows, err := d.pool.Query(ctx, `SELECT id, name, manager_id FROM areas ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list areas: %w", err)
	}
	defer rows.Close()

	areas := []domain.Area{}
	for rows.Next() {
		var a domain.Area
		if err := rows.Scan(&a.ID, &a.Name, &a.ManagerID); err != nil {
			return nil, fmt.Errorf("failed to scan area: %w", err)
		}
		areas = append(areas, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list areas: %w", err)
	}
	return areas, nil
}

func (d *AreaDirectory) ManagedAreaIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := d.pool.Query(ctx, `SELECT id FROM areas WHERE manager_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list managed areas: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to list managed areas: %w", err)
	}
	return ids, nil
}
