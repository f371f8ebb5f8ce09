// Package sqldb reads stencil state and mail groups from the target store.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"es-schedule/internal/platform/database"
	"es-schedule/internal/stencil/domain"
)

// Clock provides current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Repository implements the stencil ports over database/sql.
type Repository struct {
	db    *database.DB
	clock Clock
}

// Option configures the repository.
type Option func(*Repository)

// WithClock overrides the clock stamped on flag updates.
func WithClock(clock Clock) Option {
	return func(r *Repository) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewRepository constructs a stencil repository.
func NewRepository(db *database.DB, opts ...Option) (*Repository, error) {
	if db == nil || db.DB == nil {
		return nil, errors.New("sqldb: nil stencil db")
	}
	r := &Repository{db: db, clock: systemClock{}}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// ListActive returns active stencils joined with their latest deployment.
func (r *Repository) ListActive(ctx context.Context) ([]domain.Asset, error) {
	query := r.db.Rebind(fmt.Sprintf(`
SELECT
	i.steel_plate_id,
	i.steel_plate_no,
	COALESCE(i.items, ''),
	COALESCE(i.storage_location, ''),
	i.used_times,
	i.be_use_times,
	COALESCE(i.usage_frequency_alert, ''),
	COALESCE(m.wip_no, ''),
	m.on_date,
	m.off_date,
	COALESCE(u.user_name, '')
FROM %[1]s i
LEFT JOIN %[2]s m ON m.steel_plate_id = i.steel_plate_id
	AND m.on_date = (SELECT MAX(m2.on_date) FROM %[2]s m2 WHERE m2.steel_plate_id = i.steel_plate_id)
LEFT JOIN %[3]s u ON u.user_id = i.create_userid
WHERE i.status = '1'
ORDER BY i.steel_plate_no`,
		r.db.Table("steel_plate_info"),
		r.db.Table("steel_plate_measure"),
		r.db.Table("user_info"),
	))

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqldb: query stencils: %w", err)
	}
	defer rows.Close()

	var assets []domain.Asset
	for rows.Next() {
		asset, err := scanAsset(rows, r.db)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqldb: iterate stencils: %w", err)
	}
	return assets, nil
}

func scanAsset(scanner interface{ Scan(dest ...any) error }, db *database.DB) (domain.Asset, error) {
	var (
		a    domain.Asset
		flag string
	)
	onDate, offDate := db.NullTime(), db.NullTime()
	if err := scanner.Scan(
		&a.ID,
		&a.StencilNo,
		&a.EngineeringNo,
		&a.StorageLocation,
		&a.MaxUses,
		&a.UsedCount,
		&flag,
		&a.CurrentWIP,
		&onDate,
		&offDate,
		&a.CreatedBy,
	); err != nil {
		return domain.Asset{}, fmt.Errorf("sqldb: scan stencil: %w", err)
	}
	a.Flag = domain.ParseAlertFlag(strings.TrimSpace(flag))
	a.OnDate = onDate.Ptr()
	a.OffDate = offDate.Ptr()
	return a, nil
}

// Recipients resolves the active members of a mail group that have an email.
func (r *Repository) Recipients(ctx context.Context, groupNo string) ([]domain.Recipient, error) {
	query := r.db.Rebind(fmt.Sprintf(`
SELECT u.user_id, u.user_name, u.user_email
FROM %[1]s g
JOIN %[2]s d ON d.group_id = g.group_id
JOIN %[3]s u ON u.user_id = d.user_id
WHERE g.group_no = ?
	AND u.user_statusid = 1
	AND u.user_email IS NOT NULL
	AND u.user_email <> ''
ORDER BY u.user_name`,
		r.db.Table("mail_group"),
		r.db.Table("mail_group_detail"),
		r.db.Table("user_info"),
	))

	rows, err := r.db.QueryContext(ctx, query, groupNo)
	if err != nil {
		return nil, fmt.Errorf("sqldb: query recipients: %w", err)
	}
	defer rows.Close()

	var recipients []domain.Recipient
	for rows.Next() {
		var (
			rcpt  domain.Recipient
			email sql.NullString
		)
		if err := rows.Scan(&rcpt.UserID, &rcpt.Name, &email); err != nil {
			return nil, fmt.Errorf("sqldb: scan recipient: %w", err)
		}
		rcpt.Email = strings.TrimSpace(email.String)
		recipients = append(recipients, rcpt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqldb: iterate recipients: %w", err)
	}
	return recipients, nil
}

// MarkAlerted sets the alert flag of a stencil that has not been alerted yet.
// It reports whether a row changed.
func (r *Repository) MarkAlerted(ctx context.Context, id int64) (bool, error) {
	query := r.db.Rebind(fmt.Sprintf(`
UPDATE %s
SET usage_frequency_alert = 'Y', update_date = ?, update_userid = 0
WHERE steel_plate_id = ?
	AND (usage_frequency_alert IS NULL OR usage_frequency_alert IN ('', 'N'))`,
		r.db.Table("steel_plate_info")))

	res, err := r.db.ExecContext(ctx, query, r.clock.Now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("sqldb: mark stencil %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqldb: mark stencil %d: %w", id, err)
	}
	return affected > 0, nil
}
