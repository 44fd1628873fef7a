// Package checkpoint persists sync cursors, initial-sync progress, and
// error/stat history in an embedded SQLite database separate from the
// source database being captured.
package checkpoint

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/uschtwill/hermod-cdc/internal/cdcerr"
)

// SyncState is the lifecycle state of an initial-sync checkpoint.
type SyncState string

const (
	StateRunning   SyncState = "running"
	StateCompleted SyncState = "completed"
)

// InitialCheckpoint tracks initial-sync progress for one source table.
type InitialCheckpoint struct {
	TableName   string
	LastPK      sql.NullString
	TotalSynced int64
	Status      SyncState
	StartedAt   time.Time
	UpdatedAt   time.Time
}

// Complete reports whether this checkpoint represents a finished sync.
func (c InitialCheckpoint) Complete() bool { return c.Status == StateCompleted }

// SyncError is a recorded delivery failure, kept until resolved.
type SyncError struct {
	ID         string
	SourcePath string
	TargetName string
	TableName  sql.NullString
	Message    string
	RetryCount int
	CreatedAt  time.Time
}

// Store is the checkpoint database, one file shared by every (source,
// target) pair this process manages.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the checkpoint database at dsn.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, cdcerr.Connect("open_checkpoint", err)
	}
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		db.Close()
		return nil, cdcerr.Connect("ensure_checkpoint_schema", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// SavePosition records the last audit log id successfully delivered to
// target for sourcePath.
func (s *Store) SavePosition(ctx context.Context, sourcePath, target string, lastAuditID int64) error {
	if _, err := s.db.ExecContext(ctx, qSavePosition, sourcePath, target, lastAuditID); err != nil {
		return cdcerr.Write("save_position", "", err)
	}
	return nil
}

// LoadPosition returns the last recorded audit id for (sourcePath, target),
// or 0 if none has been saved yet.
func (s *Store) LoadPosition(ctx context.Context, sourcePath, target string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, qLoadPosition, sourcePath, target).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, cdcerr.Read("load_position", err)
	}
	return id, nil
}

// SaveInitialCheckpoint upserts initial-sync progress, preserving the
// original started_at timestamp across updates.
func (s *Store) SaveInitialCheckpoint(ctx context.Context, sourcePath string, cp InitialCheckpoint) error {
	now := nowRFC3339()
	_, err := s.db.ExecContext(ctx, qSaveInitialCheckpoint,
		sourcePath, cp.TableName, cp.LastPK, cp.TotalSynced, string(cp.Status), now)
	if err != nil {
		return cdcerr.Write("save_initial_checkpoint", cp.TableName, err)
	}
	return nil
}

// LoadInitialCheckpoint returns the saved checkpoint for (sourcePath,
// table), or ok=false if none exists.
func (s *Store) LoadInitialCheckpoint(ctx context.Context, sourcePath, table string) (InitialCheckpoint, bool, error) {
	var cp InitialCheckpoint
	var status, startedAt, updatedAt string
	err := s.db.QueryRowContext(ctx, qLoadInitialCheckpoint, sourcePath, table).Scan(
		&cp.TableName, &cp.LastPK, &cp.TotalSynced, &status, &startedAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return InitialCheckpoint{}, false, nil
	}
	if err != nil {
		return InitialCheckpoint{}, false, cdcerr.Read("load_initial_checkpoint", err)
	}
	cp.StartedAt, cp.UpdatedAt = parseTimestamp(startedAt), parseTimestamp(updatedAt)
	cp.Status = SyncState(status)
	return cp, true, nil
}

// ListInitialCheckpoints returns every table's initial-sync checkpoint for
// sourcePath.
func (s *Store) ListInitialCheckpoints(ctx context.Context, sourcePath string) ([]InitialCheckpoint, error) {
	rows, err := s.db.QueryContext(ctx, qListInitialCheckpoints, sourcePath)
	if err != nil {
		return nil, cdcerr.Read("list_initial_checkpoints", err)
	}
	defer rows.Close()

	var out []InitialCheckpoint
	for rows.Next() {
		var cp InitialCheckpoint
		var status, startedAt, updatedAt string
		if err := rows.Scan(&cp.TableName, &cp.LastPK, &cp.TotalSynced, &status, &startedAt, &updatedAt); err != nil {
			return nil, cdcerr.Read("scan_initial_checkpoint", err)
		}
		cp.StartedAt, cp.UpdatedAt = parseTimestamp(startedAt), parseTimestamp(updatedAt)
		cp.Status = SyncState(status)
		out = append(out, cp)
	}
	return out, rows.Err()
}

// MarkInitialComplete flags a table's initial sync as finished.
func (s *Store) MarkInitialComplete(ctx context.Context, sourcePath, table string) error {
	if _, err := s.db.ExecContext(ctx, qMarkInitialComplete, sourcePath, table); err != nil {
		return cdcerr.Write("mark_initial_complete", table, err)
	}
	return nil
}

// DeleteInitialCheckpoint removes a table's initial-sync checkpoint,
// forcing a full resync on next run.
func (s *Store) DeleteInitialCheckpoint(ctx context.Context, sourcePath, table string) error {
	if _, err := s.db.ExecContext(ctx, qDeleteInitialCheckpoint, sourcePath, table); err != nil {
		return cdcerr.Write("delete_initial_checkpoint", table, err)
	}
	return nil
}

// LogError records a delivery failure and returns its generated id.
func (s *Store) LogError(ctx context.Context, sourcePath, target, table, message string) (string, error) {
	id := uuid.NewString()
	var tableArg sql.NullString
	if table != "" {
		tableArg = sql.NullString{String: table, Valid: true}
	}
	if _, err := s.db.ExecContext(ctx, qLogError, id, sourcePath, target, tableArg, message); err != nil {
		return "", cdcerr.Write("log_error", table, err)
	}
	return id, nil
}

// ListUnresolvedErrors returns every unresolved error for sourcePath,
// oldest first.
func (s *Store) ListUnresolvedErrors(ctx context.Context, sourcePath string) ([]SyncError, error) {
	rows, err := s.db.QueryContext(ctx, qListUnresolvedErrors, sourcePath)
	if err != nil {
		return nil, cdcerr.Read("list_unresolved_errors", err)
	}
	defer rows.Close()

	var out []SyncError
	for rows.Next() {
		var e SyncError
		var createdAt string
		if err := rows.Scan(&e.ID, &e.SourcePath, &e.TargetName, &e.TableName, &e.Message, &e.RetryCount, &createdAt); err != nil {
			return nil, cdcerr.Read("scan_error", err)
		}
		e.CreatedAt = parseTimestamp(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ResolveError marks an error record resolved.
func (s *Store) ResolveError(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, qResolveError, id); err != nil {
		return cdcerr.Write("resolve_error", "", err)
	}
	return nil
}

// IncrementRetryCount bumps the retry counter on an error record.
func (s *Store) IncrementRetryCount(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, qIncrementRetryCount, id); err != nil {
		return cdcerr.Write("increment_retry_count", "", err)
	}
	return nil
}

// UpdateStats increments a named counter for (sourcePath, target) by delta.
func (s *Store) UpdateStats(ctx context.Context, sourcePath, target, metric string, delta int64) error {
	if _, err := s.db.ExecContext(ctx, qUpdateStats, sourcePath, target, metric, delta); err != nil {
		return cdcerr.Write("update_stats", "", err)
	}
	return nil
}

// GetStats returns all counters recorded for (sourcePath, target).
func (s *Store) GetStats(ctx context.Context, sourcePath, target string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, qGetStats, sourcePath, target)
	if err != nil {
		return nil, cdcerr.Read("get_stats", err)
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var metric string
		var count int64
		if err := rows.Scan(&metric, &count); err != nil {
			return nil, cdcerr.Read("scan_stats", err)
		}
		out[metric] = count
	}
	return out, rows.Err()
}

// ResetStats clears all counters for (sourcePath, target).
func (s *Store) ResetStats(ctx context.Context, sourcePath, target string) error {
	if _, err := s.db.ExecContext(ctx, qResetStats, sourcePath, target); err != nil {
		return cdcerr.Write("reset_stats", "", err)
	}
	return nil
}

func nowRFC3339() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// parseTimestamp reads the TEXT timestamps the schema stores; an
// unparseable value yields the zero time.
func parseTimestamp(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
