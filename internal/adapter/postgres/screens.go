package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/crxwnd/digitalizacionTV/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const screenColumns = `id, code, name, location, ip_address, area_id, approved, online,
	last_heartbeat, current_content, player_status, created_by_id, created_at, updated_at`

type ScreenRepo struct {
	pool *pgxpool.Pool
}

var _ domain.ScreenRepository = (*ScreenRepo)(nil)

func NewScreenRepo(pool *pgxpool.Pool) *ScreenRepo {
	return &ScreenRepo{pool: pool}
}

func scanScreen(row pgx.Row) (*domain.Screen, error) {
	var (
		s       domain.Screen
		content []byte
	)
	err := row.Scan(&s.ID, &s.Code, &s.Name, &s.Location, &s.IPAddress, &s.AreaID, &s.Approved, &s.Online,
		&s.LastHeartbeat, &content, &s.PlayerStatus, &s.CreatedByID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(content) > 0 {
		var payload domain.AssignmentPayload
		if err := json.Unmarshal(content, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode current content: %w", err)
		}
		s.CurrentContent = &payload
	}
	return &s, nil
}

func collectScreens(rows pgx.Rows) ([]domain.Screen, error) {
	defer rows.Close()
	out := []domain.Screen{}
	for rows.Next() {
		s, err := scanScreen(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func screenConflict(err error) error {
	switch uniqueViolation(err) {
	case "screens_code_key":
		return domain.ErrCodeConflict
	case "screens_ip_address_key":
		return domain.ErrIPConflict
	}
	if foreignKeyViolation(err) {
		return domain.ErrAreaNotFound
	}
	return nil
}

func (r *ScreenRepo) Create(ctx context.Context, screen *domain.Screen) (*domain.Screen, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO screens (code, name, location, ip_address, area_id, approved, created_by_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+screenColumns,
		screen.Code, screen.Name, screen.Location, screen.IPAddress, screen.AreaID, screen.Approved, screen.CreatedByID)

	s, err := scanScreen(row)
	if err != nil {
		if mapped := screenConflict(err); mapped != nil {
			return nil, mapped
		}
		return nil, fmt.Errorf("failed to create screen: %w", err)
	}
	return s, nil
}

func (r *ScreenRepo) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM screens WHERE code = $1)`, code).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check screen code: %w", err)
	}
	return exists, nil
}

func (r *ScreenRepo) GetByID(ctx context.Context, id int64) (*domain.Screen, error) {
	s, err := scanScreen(r.pool.QueryRow(ctx, `SELECT `+screenColumns+` FROM screens WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrScreenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get screen by ID: %w", err)
	}
	return s, nil
}

func (r *ScreenRepo) GetByCode(ctx context.Context, code string) (*domain.Screen, error) {
	s, err := scanScreen(r.pool.QueryRow(ctx, `SELECT `+screenColumns+` FROM screens WHERE code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrScreenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get screen by code: %w", err)
	}
	return s, nil
}

func (r *ScreenRepo) List(ctx context.Context, filter domain.ScreenFilter) ([]domain.Screen, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+screenColumns+` FROM screens
		WHERE $1::bigint[] IS NULL OR area_id = ANY($1)
		ORDER BY created_at DESC, id DESC`, filter.AreaIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list screens: %w", err)
	}
	screens, err := collectScreens(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list screens: %w", err)
	}
	return screens, nil
}

func (r *ScreenRepo) Update(ctx context.Context, id int64, u domain.ScreenUpdate) (*domain.Screen, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE screens SET
			name       = COALESCE($2::text, name),
			location   = COALESCE($3::text, location),
			ip_address = COALESCE($4::text, ip_address),
			area_id    = $5,
			updated_at = now()
		WHERE id = $1
		RETURNING `+screenColumns,
		id, u.Name, u.Location, u.IPAddress, u.AreaID)

	s, err := scanScreen(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrScreenNotFound
	}
	if err != nil {
		if mapped := screenConflict(err); mapped != nil {
			return nil, mapped
		}
		return nil, fmt.Errorf("failed to update screen: %w", err)
	}
	return s, nil
}

func (r *ScreenRepo) SetApproved(ctx context.Context, id int64, approved bool) (*domain.Screen, error) {
	s, err := scanScreen(r.pool.QueryRow(ctx, `
		UPDATE screens SET approved = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+screenColumns, id, approved))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrScreenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set screen approval: %w", err)
	}
	return s, nil
}

// Delete cascades to the screen's assignment and logs.
func (r *ScreenRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM screens WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete screen: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrScreenNotFound
	}
	return nil
}

func (r *ScreenRepo) Stats(ctx context.Context) (domain.ScreenStats, error) {
	var stats domain.ScreenStats
	err := r.pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE online),
		       count(*) FILTER (WHERE NOT online),
		       count(*) FILTER (WHERE approved),
		       count(*) FILTER (WHERE NOT approved)
		FROM screens`).Scan(&stats.Total, &stats.Online, &stats.Offline, &stats.Approved, &stats.Pending)
	if err != nil {
		return domain.ScreenStats{}, fmt.Errorf("failed to count screens: %w", err)
	}
	return stats, nil
}

// RecordHeartbeat writes the timestamp, the online flag and the reported
// player state in one statement.
func (r *ScreenRepo) RecordHeartbeat(ctx context.Context, code string, hb domain.Heartbeat) (*domain.Screen, error) {
	var content []byte
	if hb.Content != nil {
		encoded, err := json.Marshal(hb.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to encode current content: %w", err)
		}
		content = encoded
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE screens SET
			online          = true,
			last_heartbeat  = $2,
			current_content = COALESCE($3::jsonb, current_content),
			player_status   = COALESCE(NULLIF($4::text, ''), player_status),
			updated_at      = $2
		WHERE code = $1 AND approved
		RETURNING `+screenColumns,
		code, hb.At, content, hb.PlayerStatus)

	s, err := scanScreen(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, r.heartbeatRejection(ctx, code)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record heartbeat: %w", err)
	}
	return s, nil
}

func (r *ScreenRepo) heartbeatRejection(ctx context.Context, code string) error {
	var approved bool
	err := r.pool.QueryRow(ctx, `SELECT approved FROM screens WHERE code = $1`, code).Scan(&approved)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrScreenNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}
	return domain.ErrNotApproved
}

func (r *ScreenRepo) ListStaleOnline(ctx context.Context, cutoff time.Time) ([]domain.Screen, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+screenColumns+` FROM screens
		WHERE online AND (last_heartbeat IS NULL OR last_heartbeat <= $1)
		ORDER BY id`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale screens: %w", err)
	}
	screens, err := collectScreens(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale screens: %w", err)
	}
	return screens, nil
}

// MarkOffline re-checks staleness in the UPDATE itself, so a heartbeat that
// lands between listing and demotion keeps the screen online.
func (r *ScreenRepo) MarkOffline(ctx context.Context, id int64, cutoff time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE screens SET online = false, updated_at = now()
		WHERE id = $1 AND online AND (last_heartbeat IS NULL OR last_heartbeat <= $2)`, id, cutoff)
	if err != nil {
		return false, fmt.Errorf("failed to mark screen offline: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

type ScreenLogRepo struct {
	pool *pgxpool.Pool
}

var _ domain.ScreenLogRepository = (*ScreenLogRepo)(nil)

func NewScreenLogRepo(pool *pgxpool.Pool) *ScreenLogRepo {
	return &ScreenLogRepo{pool: pool}
}

func (r *ScreenLogRepo) Append(ctx context.Context, entry *domain.ScreenLog) error {
	var details []byte
	if entry.Details != nil {
		encoded, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("failed to encode log details: %w", err)
		}
		details = encoded
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO screen_logs (screen_id, action, details, user_id)
		VALUES ($1, $2, $3::jsonb, $4)
		RETURNING id, created_at`,
		entry.ScreenID, entry.Action, details, entry.UserID).Scan(&entry.ID, &entry.CreatedAt)
	if foreignKeyViolation(err) {
		return domain.ErrScreenNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to append screen log: %w", err)
	}
	return nil
}

// List returns newest first along with the total count for the screen.
func (r *ScreenLogRepo) List(ctx context.Context, screenID int64, limit, offset int) ([]domain.ScreenLog, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM screen_logs WHERE screen_id = $1`, screenID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count screen logs: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, screen_id, action, details, user_id, created_at
		FROM screen_logs
		WHERE screen_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, screenID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list screen logs: %w", err)
	}
	defer rows.Close()

	logs := []domain.ScreenLog{}
	for rows.Next() {
		var (
			l       domain.ScreenLog
			details []byte
		)
		if err := rows.Scan(&l.ID, &l.ScreenID, &l.Action, &details, &l.UserID, &l.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan screen log: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &l.Details); err != nil {
				return nil, 0, fmt.Errorf("failed to decode log details: %w", err)
			}
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to list screen logs: %w", err)
	}
	return logs, total, nil
}
