// Package pgeventsink implements eventsink.Sink over PostgreSQL using
// jackc/pgx/v5's database/sql driver, selected when Config.Database.Driver
// is "postgres" (sqliteeventsink.Store is the embedded default). Grounded
// on the teacher's internal/db.OpenPostgres connection setup and
// internal/common/database package's pool-sizing conventions.
package pgeventsink

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mnemnk/runtime/internal/agent/value"
	"github.com/mnemnk/runtime/internal/eventsink"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	value_json TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_created_at ON events (created_at);
CREATE INDEX IF NOT EXISTS idx_events_kind ON events (kind);
`

// Store persists events and their image sidecars to Postgres, with image
// sidecars written to the filesystem under dataDir just as sqliteeventsink
// does — only the indexed row storage differs between the two backends.
type Store struct {
	db      *sqlx.DB
	dataDir string
}

// Open connects to Postgres using dsn (see config.DatabaseConfig.DSN),
// initializes the schema, and returns a Store rooted at dataDir for image
// sidecars.
func Open(dsn, dataDir string, maxConns, minConns int) (*Store, error) {
	if maxConns <= 0 {
		maxConns = 25
	}
	if minConns <= 0 {
		minConns = 5
	}

	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("event sink: open postgres: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(minConns)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("event sink: ping postgres: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("event sink: init schema: %w", err)
	}

	return &Store{db: db, dataDir: dataDir}, nil
}

var _ eventsink.Sink = (*Store)(nil)

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Store(agentID, kind string, v value.Value) error {
	now := time.Now().UTC()

	if img, ok := v.AsImage(); ok && img != nil {
		imageID, err := eventsink.SaveImage(s.dataDir, kind, *img, now)
		if err != nil {
			return fmt.Errorf("event sink: save image: %w", err)
		}
		v = value.Object(map[string]value.Value{"imageId": value.String(imageID)})
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("event sink: marshal value: %w", err)
	}

	_, err = s.db.Exec(
		s.db.Rebind(`INSERT INTO events (id, agent_id, kind, value_json, created_at) VALUES (?, ?, ?, ?, ?)`),
		uuid.New().String(), agentID, kind, string(raw), now,
	)
	if err != nil {
		return fmt.Errorf("event sink: insert event: %w", err)
	}
	return nil
}

func (s *Store) QueryByDay(year, month, day int) ([]eventsink.EventRecord, error) {
	start := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	var rows []eventsink.EventRecord
	err := s.db.Select(&rows, s.db.Rebind(`
		SELECT id, agent_id, kind, value_json, created_at
		FROM events
		WHERE created_at >= ? AND created_at < ?
		ORDER BY created_at ASC
	`), start, end)
	if err != nil {
		return nil, fmt.Errorf("event sink: query by day: %w", err)
	}
	return rows, nil
}

func (s *Store) IndexYear(year int) ([]eventsink.DayCount, error) {
	start := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(year+1, 1, 1, 0, 0, 0, 0, time.UTC)

	var counts []eventsink.DayCount
	err := s.db.Select(&counts, s.db.Rebind(`
		SELECT to_char(created_at, 'YYYY-MM-DD') AS date, COUNT(*) AS count
		FROM events
		WHERE created_at >= ? AND created_at < ?
		GROUP BY to_char(created_at, 'YYYY-MM-DD')
		ORDER BY date ASC
	`), start, end)
	if err != nil {
		return nil, fmt.Errorf("event sink: index year: %w", err)
	}
	return counts, nil
}

func (s *Store) Search(query string) ([]eventsink.EventRecord, error) {
	var rows []eventsink.EventRecord
	err := s.db.Select(&rows, s.db.Rebind(`
		SELECT id, agent_id, kind, value_json, created_at
		FROM events
		WHERE value_json ILIKE ? OR agent_id ILIKE ? OR kind ILIKE ?
		ORDER BY created_at DESC
		LIMIT 200
	`), "%"+query+"%", "%"+query+"%", "%"+query+"%")
	if err != nil {
		return nil, fmt.Errorf("event sink: search: %w", err)
	}
	return rows, nil
}

func (s *Store) ResolveImage(kind, imageID string) ([]byte, error) {
	return eventsink.ResolveImage(s.dataDir, kind, imageID)
}
