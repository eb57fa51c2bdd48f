// Package sqliteeventsink implements eventsink.Sink over an embedded
// modernc.org/sqlite database, grounded on the teacher's
// internal/prompts/store.sqliteRepository and internal/user/store.SQLiteRepository
// schema-init pattern (single-writer sql.DB wrapped by sqlx, schema created
// with CREATE TABLE IF NOT EXISTS on open).
package sqliteeventsink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mnemnk/runtime/internal/agent/value"
	"github.com/mnemnk/runtime/internal/eventsink"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	value_json TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_created_at ON events (created_at);
CREATE INDEX IF NOT EXISTS idx_events_kind ON events (kind);
`

// Store persists events and their image sidecars under dataDir, the same
// <data_dir> root the flow store and definition registry read manifests
// from.
type Store struct {
	db      *sqlx.DB
	dataDir string
}

// Open creates (or reuses) the sqlite file at dbPath, initializes the
// schema, and returns a Store rooted at dataDir for image sidecars.
func Open(dbPath, dataDir string) (*Store, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("event sink: create db dir: %w", err)
			}
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	if dbPath == ":memory:" {
		dsn = dbPath
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("event sink: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("event sink: init schema: %w", err)
	}

	return &Store{db: db, dataDir: dataDir}, nil
}

var _ eventsink.Sink = (*Store)(nil)

func (s *Store) Close() error { return s.db.Close() }

// Store appends a timestamped event row. Image-kind values are additionally
// written to the filesystem sidecar layout; the stored value_json keeps the
// image id returned by the sidecar write rather than the raw pixel payload.
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
		SELECT date(created_at) AS date, COUNT(*) AS count
		FROM events
		WHERE created_at >= ? AND created_at < ?
		GROUP BY date(created_at)
		ORDER BY date(created_at) ASC
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
		WHERE value_json LIKE ? OR agent_id LIKE ? OR kind LIKE ?
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
