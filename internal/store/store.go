// Package store manages the SQLite database that holds the local calendar
// replica: cached events, per-calendar sync watermarks, the durable queue of
// pending mutations, and the cached calendar list.
//
// Only this package may open or query the database. All other packages
// receive a [*Store] and call its methods. Every method can fail if the
// underlying storage is unavailable; callers treat such failures as a
// degraded cache, never as fatal.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/bikegriffith/chronos-calendar/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
    calendar_id TEXT    NOT NULL,
    event_id    TEXT    NOT NULL,
    payload     BLOB    NOT NULL,
    start_at    INTEGER NOT NULL,
    end_at      INTEGER NOT NULL,
    pending     INTEGER NOT NULL DEFAULT 0,
    cached_at   TEXT    NOT NULL,
    PRIMARY KEY (calendar_id, event_id)
);

CREATE INDEX IF NOT EXISTS idx_events_start ON events (calendar_id, start_at);

CREATE TABLE IF NOT EXISTS sync_meta (
    calendar_id  TEXT PRIMARY KEY,
    last_sync_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS pending_mutations (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    kind          TEXT NOT NULL,
    calendar_id   TEXT NOT NULL,
    event_id      TEXT NOT NULL DEFAULT '',
    temp_event_id TEXT NOT NULL DEFAULT '',
    payload       BLOB NOT NULL DEFAULT x'',
    created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS calendar_list (
    id        INTEGER PRIMARY KEY CHECK (id = 1),
    payload   BLOB NOT NULL,
    cached_at TEXT NOT NULL
);
`

// CachedEvent is one cached event row: the event payload plus cache-local
// metadata. Pending marks an optimistic row written for an offline create
// that the server has not confirmed yet.
type CachedEvent struct {
	model.Event
	Pending  bool
	CachedAt time.Time
}

// Store is the SQLite-backed cache repository.
type Store struct {
	db *sql.DB
}

// DefaultPath returns the default path for the cache database:
// ~/.local/share/chronos/cache.db
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "chronos", "cache.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies the schema,
// and configures WAL mode for better concurrent read performance.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- events ------------------------------------------------------------------

// PutEvents upserts a batch of confirmed events for one calendar in a single
// transaction. Existing rows for the same (calendarID, eventID) are
// overwritten; rows for other calendars are untouched.
func (s *Store) PutEvents(ctx context.Context, calendarID string, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning event batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for _, ev := range events {
		if err := upsertEvent(ctx, tx, calendarID, ev, false, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing event batch: %w", err)
	}
	return nil
}

// ApplyEvent upserts a single event row. pending tags the row as an
// optimistic offline create awaiting server confirmation.
func (s *Store) ApplyEvent(ctx context.Context, ev model.Event, pending bool) error {
	return upsertEvent(ctx, s.db, ev.CalendarID, ev, pending, time.Now().UTC())
}

// RemoveEvent deletes a single event row. Removing a row that does not exist
// is not an error.
func (s *Store) RemoveEvent(ctx context.Context, calendarID, eventID string) error {
	const q = `DELETE FROM events WHERE calendar_id = ? AND event_id = ?`
	if _, err := s.db.ExecContext(ctx, q, calendarID, eventID); err != nil {
		return fmt.Errorf("removing event %s/%s: %w", calendarID, eventID, err)
	}
	return nil
}

// EventsInRange returns all cached events across the given calendars whose
// [start, end) interval overlaps [rangeStart, rangeEnd]:
// start <= rangeEnd AND end >= rangeStart. No ordering is guaranteed beyond
// grouping by calendar; callers sort as needed.
func (s *Store) EventsInRange(ctx context.Context, calendarIDs []string, rangeStart, rangeEnd time.Time) ([]CachedEvent, error) {
	if len(calendarIDs) == 0 {
		return nil, nil
	}

	q := `SELECT payload, pending, cached_at FROM events
	      WHERE start_at <= ? AND end_at >= ? AND calendar_id IN (?` +
		repeatPlaceholder(len(calendarIDs)-1) + `)`

	args := make([]any, 0, len(calendarIDs)+2)
	args = append(args, rangeEnd.UnixMilli(), rangeStart.UnixMilli())
	for _, id := range calendarIDs {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events in range: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []CachedEvent
	for rows.Next() {
		var (
			payload  []byte
			pending  bool
			cachedAt string
		)
		if err := rows.Scan(&payload, &pending, &cachedAt); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		var ce CachedEvent
		if err := json.Unmarshal(payload, &ce.Event); err != nil {
			return nil, fmt.Errorf("decoding cached event payload: %w", err)
		}
		ce.Pending = pending
		ce.CachedAt, _ = parseTime(cachedAt)
		out = append(out, ce)
	}
	return out, rows.Err()
}

// PruneOutsideWindow deletes every cached event whose start instant falls
// outside [now-radius, now+radius] and returns the number of rows removed.
// This bounds storage growth for a long-running offline-capable client.
func (s *Store) PruneOutsideWindow(ctx context.Context, now time.Time, radius time.Duration) (int64, error) {
	const q = `DELETE FROM events WHERE start_at < ? OR start_at > ?`
	res, err := s.db.ExecContext(ctx, q, now.Add(-radius).UnixMilli(), now.Add(radius).UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("pruning events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned events: %w", err)
	}
	return n, nil
}

// execer matches both *sql.DB and *sql.Tx so upsertEvent can be reused.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertEvent(ctx context.Context, db execer, calendarID string, ev model.Event, pending bool, cachedAt time.Time) error {
	ev.CalendarID = calendarID
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event %q: %w", ev.ID, err)
	}

	const q = `
		INSERT INTO events (calendar_id, event_id, payload, start_at, end_at, pending, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(calendar_id, event_id) DO UPDATE SET
		    payload   = excluded.payload,
		    start_at  = excluded.start_at,
		    end_at    = excluded.end_at,
		    pending   = excluded.pending,
		    cached_at = excluded.cached_at`

	_, err = db.ExecContext(ctx, q,
		calendarID,
		ev.ID,
		payload,
		ev.Start.UnixMilli(),
		ev.End.UnixMilli(),
		pending,
		formatTime(cachedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting event %s/%s: %w", calendarID, ev.ID, err)
	}
	return nil
}

// --- sync watermarks ---------------------------------------------------------

// SetSyncMeta records the last successful fetch time for a calendar,
// overwriting any previous watermark.
func (s *Store) SetSyncMeta(ctx context.Context, calendarID string, lastSyncAt time.Time) error {
	const q = `
		INSERT INTO sync_meta (calendar_id, last_sync_at) VALUES (?, ?)
		ON CONFLICT(calendar_id) DO UPDATE SET last_sync_at = excluded.last_sync_at`
	if _, err := s.db.ExecContext(ctx, q, calendarID, formatTime(lastSyncAt)); err != nil {
		return fmt.Errorf("writing sync meta for %s: %w", calendarID, err)
	}
	return nil
}

// AllSyncMeta returns the watermark for every calendar that has ever synced.
func (s *Store) AllSyncMeta(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT calendar_id, last_sync_at FROM sync_meta`)
	if err != nil {
		return nil, fmt.Errorf("querying sync meta: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]time.Time)
	for rows.Next() {
		var id, ts string
		if err := rows.Scan(&id, &ts); err != nil {
			return nil, fmt.Errorf("scanning sync meta row: %w", err)
		}
		t, err := parseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("parsing watermark for %s: %w", id, err)
		}
		out[id] = t
	}
	return out, rows.Err()
}

// --- mutation queue ----------------------------------------------------------

// mutationPayload is the JSON shape stored in the pending_mutations payload
// column.
type mutationPayload struct {
	Draft *model.EventDraft `json:"draft,omitempty"`
	Patch *model.EventPatch `json:"patch,omitempty"`
}

// EnqueueMutation appends a mutation to the durable queue and fills in its
// queue position (ID).
func (s *Store) EnqueueMutation(ctx context.Context, m *model.Mutation) error {
	payload, err := json.Marshal(mutationPayload{Draft: m.Draft, Patch: m.Patch})
	if err != nil {
		return fmt.Errorf("encoding mutation payload: %w", err)
	}

	const q = `
		INSERT INTO pending_mutations (kind, calendar_id, event_id, temp_event_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, q,
		string(m.Kind),
		m.CalendarID,
		m.EventID,
		m.TempEventID,
		payload,
		formatTime(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("enqueueing %s mutation: %w", m.Kind, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading mutation id: %w", err)
	}
	m.ID = id
	return nil
}

// Mutations returns all queued mutations in insertion order.
func (s *Store) Mutations(ctx context.Context) ([]model.Mutation, error) {
	const q = `
		SELECT id, kind, calendar_id, event_id, temp_event_id, payload, created_at
		FROM pending_mutations ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying mutation queue: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Mutation
	for rows.Next() {
		var (
			m         model.Mutation
			kind      string
			payload   []byte
			createdAt string
		)
		if err := rows.Scan(&m.ID, &kind, &m.CalendarID, &m.EventID, &m.TempEventID, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning mutation row: %w", err)
		}
		m.Kind = model.MutationKind(kind)
		if len(payload) > 0 {
			var mp mutationPayload
			if err := json.Unmarshal(payload, &mp); err != nil {
				return nil, fmt.Errorf("decoding payload for mutation %d: %w", m.ID, err)
			}
			m.Draft = mp.Draft
			m.Patch = mp.Patch
		}
		m.CreatedAt, _ = parseTime(createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// DequeueMutation removes an acknowledged mutation from the queue.
func (s *Store) DequeueMutation(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_mutations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("dequeueing mutation %d: %w", id, err)
	}
	return nil
}

// CountMutations returns the number of queued mutations.
func (s *Store) CountMutations(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_mutations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting mutations: %w", err)
	}
	return n, nil
}

// --- calendar list -----------------------------------------------------------

// SetCalendarList overwrites the singleton calendar-list snapshot.
func (s *Store) SetCalendarList(ctx context.Context, list []model.Calendar, cachedAt time.Time) error {
	payload, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encoding calendar list: %w", err)
	}
	const q = `
		INSERT INTO calendar_list (id, payload, cached_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, cached_at = excluded.cached_at`
	if _, err := s.db.ExecContext(ctx, q, payload, formatTime(cachedAt)); err != nil {
		return fmt.Errorf("writing calendar list: %w", err)
	}
	return nil
}

// CalendarList returns the cached calendar list and the time it was fetched,
// or (nil, zero, nil) if no list has ever been cached.
func (s *Store) CalendarList(ctx context.Context) ([]model.Calendar, time.Time, error) {
	var (
		payload  []byte
		cachedAt string
	)
	err := s.db.QueryRowContext(ctx, `SELECT payload, cached_at FROM calendar_list WHERE id = 1`).
		Scan(&payload, &cachedAt)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("querying calendar list: %w", err)
	}

	var list []model.Calendar
	if err := json.Unmarshal(payload, &list); err != nil {
		return nil, time.Time{}, fmt.Errorf("decoding calendar list: %w", err)
	}
	at, _ := parseTime(cachedAt)
	return list, at, nil
}

// --- helpers -----------------------------------------------------------------

func repeatPlaceholder(n int) string {
	out := ""
	for range n {
		out += ", ?"
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
