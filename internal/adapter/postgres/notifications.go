package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crxwnd/digitalizacionTV/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const notificationColumns = `id, title, message, type, priority, area_id, screen_codes, valid_from,
	valid_until, duration, active, created_by_id, created_at, updated_at`

const notificationOrder = `ORDER BY priority DESC, created_at DESC, id DESC`

type NotificationRepo struct {
	pool *pgxpool.Pool
}

var _ domain.NotificationRepository = (*NotificationRepo)(nil)

func NewNotificationRepo(pool *pgxpool.Pool) *NotificationRepo {
	return &NotificationRepo{pool: pool}
}

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var (
		n        domain.Notification
		typ      string
		priority int
	)
	err := row.Scan(&n.ID, &n.Title, &n.Message, &typ, &priority, &n.AreaID, &n.ScreenCodes, &n.ValidFrom,
		&n.ValidUntil, &n.Duration, &n.Active, &n.CreatedByID, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	n.Type = domain.NotificationType(typ)
	n.Priority = domain.Priority(priority)
	if n.ScreenCodes == nil {
		n.ScreenCodes = []string{}
	}
	return &n, nil
}

func (r *NotificationRepo) list(ctx context.Context, query string, args ...any) ([]domain.Notification, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func (r *NotificationRepo) Create(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	codes := n.ScreenCodes
	if codes == nil {
		codes = []string{}
	}
	var validFrom *time.Time
	if !n.ValidFrom.IsZero() {
		validFrom = &n.ValidFrom
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO notifications
			(title, message, type, priority, area_id, screen_codes, valid_from, valid_until, duration, active, created_by_id)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7::timestamptz, now()), $8, $9, $10, $11)
		RETURNING `+notificationColumns,
		n.Title, n.Message, string(n.Type), int(n.Priority), n.AreaID, codes, validFrom, n.ValidUntil,
		n.Duration, n.Active, n.CreatedByID)

	created, err := scanNotification(row)
	if foreignKeyViolation(err) {
		return nil, domain.ErrAreaNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}
	return created, nil
}

func (r *NotificationRepo) GetByID(ctx context.Context, id int64) (*domain.Notification, error) {
	n, err := scanNotification(r.pool.QueryRow(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return n, nil
}

func (r *NotificationRepo) Update(ctx context.Context, id int64, u domain.NotificationUpdate) (*domain.Notification, error) {
	var typ *string
	if u.Type != nil {
		typ = new(string)
		*typ = string(*u.Type)
	}
	var priority *int
	if u.Priority != nil {
		priority = new(int)
		*priority = int(*u.Priority)
	}
	var codes []string
	if u.ScreenCodes != nil {
		codes = *u.ScreenCodes
		if codes == nil {
			codes = []string{}
		}
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE notifications SET
			title        = COALESCE($2::text, title),
			message      = COALESCE($3::text, message),
			type         = COALESCE($4::text, type),
			priority     = COALESCE($5::int, priority),
			active       = COALESCE($6::boolean, active),
			valid_from   = COALESCE($7::timestamptz, valid_from),
			valid_until  = CASE WHEN $8::boolean THEN NULL ELSE COALESCE($9::timestamptz, valid_until) END,
			area_id      = CASE WHEN $10::boolean THEN NULL ELSE COALESCE($11::bigint, area_id) END,
			screen_codes = COALESCE($12::text[], screen_codes),
			duration     = COALESCE($13::int, duration),
			updated_at   = now()
		WHERE id = $1
		RETURNING `+notificationColumns,
		id, u.Title, u.Message, typ, priority, u.Active, u.ValidFrom, u.ClearUntil, u.ValidUntil,
		u.ClearArea, u.AreaID, codes, u.Duration)

	n, err := scanNotification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotificationNotFound
	}
	if foreignKeyViolation(err) {
		return nil, domain.ErrAreaNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update notification: %w", err)
	}
	return n, nil
}

func (r *NotificationRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}

func (r *NotificationRepo) List(ctx context.Context, f domain.NotificationFilter) ([]domain.Notification, error) {
	out, err := r.list(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE NOT $1::boolean
		   OR area_id = ANY($2::bigint[])
		   OR created_by_id = $3::bigint
		   OR ($4::boolean AND area_id IS NULL AND cardinality(screen_codes) = 0)
		`+notificationOrder,
		f.Restricted, f.AreaIDs, f.CreatedByID, f.IncludeGlobal)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return out, nil
}

func (r *NotificationRepo) ListActiveCandidates(ctx context.Context, now time.Time) ([]domain.Notification, error) {
	out, err := r.list(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE active AND valid_from <= $1 AND (valid_until IS NULL OR valid_until >= $1)
		`+notificationOrder, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list active notifications: %w", err)
	}
	return out, nil
}

func (r *NotificationRepo) Stats(ctx context.Context) (domain.NotificationStats, error) {
	stats := domain.NotificationStats{ByType: make(map[domain.NotificationType]int)}

	rows, err := r.pool.Query(ctx, `
		SELECT type, count(*), count(*) FILTER (WHERE active)
		FROM notifications GROUP BY type`)
	if err != nil {
		return stats, fmt.Errorf("failed to count notifications: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			typ           string
			total, active int
		)
		if err := rows.Scan(&typ, &total, &active); err != nil {
			return stats, fmt.Errorf("failed to scan notification stats: %w", err)
		}
		stats.ByType[domain.NotificationType(typ)] = total
		stats.Total += total
		stats.Active += active
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("failed to count notifications: %w", err)
	}
	return stats, nil
}
