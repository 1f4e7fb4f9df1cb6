package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/NicolasHaas/screenshare/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05.000"

// SQLite is a Journal backed by a SQLite database file.
type SQLite struct {
	db *sql.DB
}

var _ Journal = (*SQLite)(nil)

// OpenSQLite opens (or creates) a SQLite journal and runs migrations.
func OpenSQLite(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("journal: open db: %w", err)
	}

	ctx := context.Background()

	// WAL keeps history reads from blocking the coordinator's writes
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: set WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: set busy_timeout: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS events (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		kind       TEXT    NOT NULL,
		user_id    TEXT    NOT NULL,
		username   TEXT    NOT NULL DEFAULT '',
		requester  TEXT    NOT NULL DEFAULT '',
		origin     TEXT    NOT NULL DEFAULT '',
		target     TEXT    NOT NULL DEFAULT '',
		detail     TEXT    NOT NULL DEFAULT '',
		created_at TEXT    NOT NULL
	);
	`
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version      int
		statements   []string
		ignoreErrors bool
	}{
		{
			version:    1,
			statements: []string{schema},
		},
		{
			version: 2,
			statements: []string{
				"CREATE INDEX IF NOT EXISTS idx_events_user ON events (user_id, id)",
				"CREATE INDEX IF NOT EXISTS idx_events_created ON events (created_at)",
			},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil && !m.ignoreErrors {
				return fmt.Errorf("journal: migrate v%d: %w", m.version, err)
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("journal: create schema_migrations: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("journal: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("journal: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *SQLite) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("journal: read schema version: %w", err)
	}
	return version, nil
}

func (s *SQLite) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("journal: update schema version: %w", err)
	}
	return nil
}

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

// Record appends an event.
func (s *SQLite) Record(ctx context.Context, ev model.Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (kind, user_id, username, requester, origin, target, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(ev.Kind), ev.UserID.String(), ev.Username, ev.Requester, ev.Origin, ev.Target, ev.Detail, formatDBTime(ev.At))
	if err != nil {
		return fmt.Errorf("journal: record %s: %w", ev.Kind, err)
	}
	return nil
}

// List returns matching events, newest first.
func (s *SQLite) List(ctx context.Context, filters model.EventFilters) ([]model.Event, error) {
	query := `
		SELECT id, kind, user_id, username, requester, origin, target, detail, created_at
		FROM events
		WHERE (? IS NULL OR user_id = ?)
		AND (? IS NULL OR kind = ?)
		ORDER BY id DESC
		LIMIT ?
		OFFSET ?
	`
	var user, kind *string
	if filters.LimitToUserID != nil {
		v := filters.LimitToUserID.String()
		user = &v
	}
	if filters.LimitToKind != nil {
		v := string(*filters.LimitToKind)
		kind = &v
	}

	rows, err := s.db.QueryContext(ctx, query, user, user, kind, kind, pageSize(filters), offset(filters))
	if err != nil {
		return nil, fmt.Errorf("journal: list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []model.Event
	for rows.Next() {
		var ev model.Event
		var kindStr, userID, createdAt string
		if err := rows.Scan(&ev.ID, &kindStr, &userID, &ev.Username, &ev.Requester, &ev.Origin, &ev.Target, &ev.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("journal: scan event: %w", err)
		}
		ev.Kind = model.EventKind(kindStr)
		if ev.UserID, err = model.ParseUserID(userID); err != nil {
			return nil, fmt.Errorf("journal: scan event %d: %w", ev.ID, err)
		}
		if ev.At, err = parseDBTime(createdAt); err != nil {
			return nil, fmt.Errorf("journal: scan event %d: %w", ev.ID, err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Prune deletes events recorded before cutoff.
func (s *SQLite) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE created_at < ?", formatDBTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
