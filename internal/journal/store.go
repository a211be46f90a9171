package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SegmentStatus tracks where an archival segment ended up.
type SegmentStatus string

const (
	StatusSpooled  SegmentStatus = "spooled"
	StatusArchived SegmentStatus = "archived"
	StatusDropped  SegmentStatus = "dropped"
)

// Segment is one row of the segment ledger.
type Segment struct {
	ID        int64
	RunID     string
	Name      string
	Path      string
	ClosedAt  time.Time
	SizeBytes int64
	Status    SegmentStatus
	UpdatedAt time.Time
}

// Transition is one pipeline state change.
type Transition struct {
	ID    int64
	RunID string
	State string
	At    time.Time
	Error string
}

// Store is the SQLite-backed journal.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the journal at path and applies migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordSegment inserts a segment or updates the row with the same name.
func (s *Store) RecordSegment(ctx context.Context, seg Segment) error {
	if seg.Name == "" {
		return errors.New("segment name is required")
	}
	if seg.Status == "" {
		seg.Status = StatusSpooled
	}
	closedAt := seg.ClosedAt
	if closedAt.IsZero() {
		closedAt = time.Now()
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO segments (run_id, name, path, closed_at, size_bytes, status, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(name) DO UPDATE SET
            path = excluded.path,
            size_bytes = excluded.size_bytes,
            status = excluded.status,
            updated_at = excluded.updated_at`,
		seg.RunID,
		seg.Name,
		seg.Path,
		closedAt.UTC().Format(time.RFC3339Nano),
		seg.SizeBytes,
		string(seg.Status),
		now,
	)
	if err != nil {
		return fmt.Errorf("record segment %s: %w", seg.Name, err)
	}
	return nil
}

// MarkSegment updates status and location of a known segment.
func (s *Store) MarkSegment(ctx context.Context, name string, status SegmentStatus, path string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE segments SET status = ?, path = ?, updated_at = ? WHERE name = ?`,
		string(status), path, time.Now().UTC().Format(time.RFC3339Nano), name,
	)
	if err != nil {
		return fmt.Errorf("mark segment %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark segment %s: %w", name, sql.ErrNoRows)
	}
	return nil
}

// ListSegments returns the newest segments first. An empty status lists all.
func (s *Store) ListSegments(ctx context.Context, status SegmentStatus, limit int) ([]Segment, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, run_id, name, path, closed_at, size_bytes, status, updated_at FROM segments`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY closed_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	var out []Segment
	for rows.Next() {
		var seg Segment
		var closedAt, updatedAt, st string
		if err := rows.Scan(&seg.ID, &seg.RunID, &seg.Name, &seg.Path, &closedAt, &seg.SizeBytes, &st, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		seg.Status = SegmentStatus(st)
		seg.ClosedAt = parseTime(closedAt)
		seg.UpdatedAt = parseTime(updatedAt)
		out = append(out, seg)
	}
	return out, rows.Err()
}

// SegmentCounts returns the number of segments per status.
func (s *Store) SegmentCounts(ctx context.Context) (map[SegmentStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM segments GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count segments: %w", err)
	}
	defer rows.Close()
	counts := make(map[SegmentStatus]int)
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[SegmentStatus(st)] = n
	}
	return counts, rows.Err()
}

// RecordTransition appends a pipeline state change.
func (s *Store) RecordTransition(ctx context.Context, tr Transition) error {
	at := tr.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transitions (run_id, state, at, error) VALUES (?, ?, ?, ?)`,
		tr.RunID, tr.State, at.UTC().Format(time.RFC3339Nano), nullableString(tr.Error),
	)
	if err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	return nil
}

// ListTransitions returns the newest transitions first.
func (s *Store) ListTransitions(ctx context.Context, limit int) ([]Transition, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, state, at, error FROM transitions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()
	var out []Transition
	for rows.Next() {
		var tr Transition
		var at string
		var errText sql.NullString
		if err := rows.Scan(&tr.ID, &tr.RunID, &tr.State, &at, &errText); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		tr.At = parseTime(at)
		tr.Error = errText.String
		out = append(out, tr)
	}
	return out, rows.Err()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
