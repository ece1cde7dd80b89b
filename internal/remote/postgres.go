package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"tamtap/internal/model"
)

// Postgres implements Client on a Postgres database via pgx. All
// tables live in a dedicated schema (the configured namespace) so one
// server can serve several appliance fleets.
type Postgres struct {
	db *sql.DB
	ns string
}

// DialPostgres opens a connection pool, verifies connectivity within
// the timeout, and ensures the schema exists. A failure here leaves
// the appliance in cache-only mode; the supervisor retries later.
func DialPostgres(ctx context.Context, uri, namespace string, timeout time.Duration) (*Postgres, error) {
	db, err := sql.Open("pgx", uri)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	p := &Postgres{db: db, ns: namespace}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := p.ensureSchema(pctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return p, nil
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, p.ns),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.identities (
			badge_key    TEXT PRIMARY KEY,
			sequence_id  TEXT NOT NULL UNIQUE,
			role         TEXT NOT NULL,
			display_name TEXT NOT NULL,
			group_name   TEXT NOT NULL DEFAULT '',
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, p.ns),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.attendance (
			id          TEXT PRIMARY KEY,
			badge_key   TEXT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			day         TEXT NOT NULL,
			session     TEXT NOT NULL,
			status      TEXT NOT NULL,
			capture_ref TEXT NOT NULL DEFAULT '',
			UNIQUE (badge_key, day)
		)`, p.ns),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS attendance_day_idx ON %s.attendance (day)`, p.ns),
	}
	for _, s := range stmts {
		if _, err := p.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) FindIdentity(ctx context.Context, badgeKey string) (*model.Identity, error) {
	row := p.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT badge_key, sequence_id, role, display_name, group_name, created_at
		FROM %s.identities WHERE badge_key = $1
	`, p.ns), badgeKey)
	return scanIdentity(row)
}

func (p *Postgres) FindBySequence(ctx context.Context, sequenceID string) (*model.Identity, error) {
	row := p.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT badge_key, sequence_id, role, display_name, group_name, created_at
		FROM %s.identities WHERE sequence_id = $1
	`, p.ns), sequenceID)
	return scanIdentity(row)
}

func scanIdentity(row *sql.Row) (*model.Identity, error) {
	var id model.Identity
	if err := row.Scan(&id.BadgeKey, &id.SequenceID, &id.Role, &id.DisplayName, &id.Group, &id.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &id, nil
}

func (p *Postgres) InsertIdentity(ctx context.Context, id model.Identity) error {
	_, err := p.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s.identities (badge_key, sequence_id, role, display_name, group_name, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (badge_key) DO NOTHING
	`, p.ns), id.BadgeKey, id.SequenceID, id.Role, id.DisplayName, id.Group, id.CreatedAt)
	return err
}

func (p *Postgres) DeleteIdentity(ctx context.Context, badgeKey string) (model.Role, bool, error) {
	row := p.db.QueryRowContext(ctx, fmt.Sprintf(`
		DELETE FROM %s.identities WHERE badge_key = $1 RETURNING role
	`, p.ns), badgeKey)
	var role model.Role
	if err := row.Scan(&role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return role, true, nil
}

func (p *Postgres) ListIdentities(ctx context.Context) ([]model.Identity, error) {
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT badge_key, sequence_id, role, display_name, group_name, created_at
		FROM %s.identities ORDER BY sequence_id
	`, p.ns))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Identity
	for rows.Next() {
		var id model.Identity
		if err := rows.Scan(&id.BadgeKey, &id.SequenceID, &id.Role, &id.DisplayName, &id.Group, &id.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (p *Postgres) MaxSequence(ctx context.Context) (int, error) {
	row := p.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COALESCE(MAX(sequence_id::int), 0)
		FROM %s.identities WHERE sequence_id ~ '^[0-9]+$'
	`, p.ns))
	var max int
	if err := row.Scan(&max); err != nil {
		return 0, err
	}
	return max, nil
}

func (p *Postgres) HasAttendanceOn(ctx context.Context, badgeKey, day string) (bool, error) {
	row := p.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT EXISTS (SELECT 1 FROM %s.attendance WHERE badge_key = $1 AND day = $2)
	`, p.ns), badgeKey, day)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (p *Postgres) InsertAttendance(ctx context.Context, evt model.AttendanceEvent) error {
	_, err := p.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s.attendance (id, badge_key, occurred_at, day, session, status, capture_ref)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (badge_key, day) DO NOTHING
	`, p.ns), evt.ID, evt.BadgeKey, evt.OccurredAt, evt.Day(), evt.Session, evt.Status, evt.CaptureRef)
	return err
}

func (p *Postgres) ListAttendanceOn(ctx context.Context, day string) ([]model.AttendanceEvent, error) {
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, badge_key, occurred_at, session, status, capture_ref
		FROM %s.attendance WHERE day = $1 ORDER BY occurred_at DESC
	`, p.ns), day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AttendanceEvent
	for rows.Next() {
		var evt model.AttendanceEvent
		if err := rows.Scan(&evt.ID, &evt.BadgeKey, &evt.OccurredAt, &evt.Session, &evt.Status, &evt.CaptureRef); err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
