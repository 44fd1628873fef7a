// Package initsync performs the one-time bulk copy of existing source rows
// into every target before incremental streaming begins.
package initsync

import (
	"context"
	"database/sql"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/uschtwill/hermod-cdc/internal/audit"
	"github.com/uschtwill/hermod-cdc/internal/cdcerr"
	"github.com/uschtwill/hermod-cdc/internal/checkpoint"
	hermodcdc "github.com/uschtwill/hermod-cdc"
)

// TableSpec describes one table's initial-sync configuration.
type TableSpec struct {
	SourceTable  string
	TargetTable  string
	PrimaryKey   string // configured override; empty triggers catalog lookup
	BatchSize    int
}

// Syncer copies existing rows from the source database to every target.
type Syncer struct {
	sourceDB   *sql.DB
	sourcePath string
	targets    []hermodcdc.TargetWriter
	checkpoint *checkpoint.Store
}

func New(sourceDB *sql.DB, sourcePath string, targets []hermodcdc.TargetWriter, cp *checkpoint.Store) *Syncer {
	return &Syncer{sourceDB: sourceDB, sourcePath: sourcePath, targets: targets, checkpoint: cp}
}

const checkpointEveryNBatches = 10

// SyncTable copies spec.SourceTable to every target using keyset pagination,
// resuming from any saved checkpoint unless the table is already complete.
func (s *Syncer) SyncTable(ctx context.Context, spec TableSpec) (int64, error) {
	if existing, ok, err := s.checkpoint.LoadInitialCheckpoint(ctx, s.sourcePath, spec.SourceTable); err != nil {
		return 0, err
	} else if ok && existing.Complete() {
		return existing.TotalSynced, nil
	} else if ok {
		return s.resumeFrom(ctx, spec, existing)
	}
	return s.resumeFrom(ctx, spec, checkpoint.InitialCheckpoint{TableName: spec.SourceTable})
}

func (s *Syncer) resumeFrom(ctx context.Context, spec TableSpec, cp checkpoint.InitialCheckpoint) (int64, error) {
	pkColumn, err := s.effectivePrimaryKey(ctx, spec)
	if err != nil {
		return 0, err
	}

	batchSize := spec.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}

	var lastPK any
	if cp.LastPK.Valid {
		lastPK = cp.LastPK.String
	}

	synced := cp.TotalSynced
	batchNum := 0

	for {
		rows, err := s.fetchBatch(ctx, spec.SourceTable, pkColumn, lastPK, batchSize)
		if err != nil {
			return synced, err
		}
		if len(rows) == 0 {
			break
		}

		if err := s.syncBatchToAllTargets(ctx, spec.TargetTable, rows, pkColumn); err != nil {
			return synced, err
		}

		synced += int64(len(rows))
		lastPK = rows[len(rows)-1][pkColumn]
		batchNum++

		if batchNum%checkpointEveryNBatches == 0 {
			if err := s.saveProgress(ctx, spec.SourceTable, lastPK, synced, checkpoint.StateRunning); err != nil {
				return synced, err
			}
		}

		if len(rows) < batchSize {
			break
		}
	}

	if err := s.saveProgress(ctx, spec.SourceTable, lastPK, synced, checkpoint.StateCompleted); err != nil {
		return synced, err
	}
	return synced, nil
}

func (s *Syncer) saveProgress(ctx context.Context, table string, lastPK any, synced int64, status checkpoint.SyncState) error {
	var pk sql.NullString
	if lastPK != nil {
		pk = sql.NullString{String: fmt.Sprintf("%v", lastPK), Valid: true}
	}
	return s.checkpoint.SaveInitialCheckpoint(ctx, s.sourcePath, checkpoint.InitialCheckpoint{
		TableName:   table,
		LastPK:      pk,
		TotalSynced: synced,
		Status:      status,
	})
}

func (s *Syncer) fetchBatch(ctx context.Context, table, pkColumn string, lastPK any, batchSize int) ([]map[string]any, error) {
	var rows *sql.Rows
	var err error
	if lastPK == nil {
		q := fmt.Sprintf("SELECT * FROM %s ORDER BY %s LIMIT ?", table, pkColumn)
		rows, err = s.sourceDB.QueryContext(ctx, q, batchSize)
	} else {
		q := fmt.Sprintf("SELECT * FROM %s WHERE %s > ? ORDER BY %s LIMIT ?", table, pkColumn, pkColumn)
		rows, err = s.sourceDB.QueryContext(ctx, q, lastPK, batchSize)
	}
	if err != nil {
		return nil, cdcerr.Read("fetch_batch", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, cdcerr.Read("columns", err)
	}

	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, cdcerr.Read("scan", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = vals[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// syncBatchToAllTargets fans a batch out to every target concurrently. One
// target's failure fails the whole batch. Initial-sync progress is a single
// checkpoint per table shared by all targets, so a failed batch is copied
// again to every target on the next run; upserts make that repeat harmless
// for targets that had already committed it.
func (s *Syncer) syncBatchToAllTargets(ctx context.Context, table string, rows []map[string]any, pkColumn string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range s.targets {
		t := t
		g.Go(func() error {
			return t.BatchUpsert(gctx, table, rows, pkColumn)
		})
	}
	return g.Wait()
}

// effectivePrimaryKey resolves the ordering column for pagination: the
// configured override, else the table's declared primary key, else ROWID.
func (s *Syncer) effectivePrimaryKey(ctx context.Context, spec TableSpec) (string, error) {
	if spec.PrimaryKey != "" {
		return spec.PrimaryKey, nil
	}

	rows, err := s.sourceDB.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", spec.SourceTable))
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var cid int
			var name, colType string
			var notNull, pk int
			var dflt sql.NullString
			if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
				continue
			}
			if pk == 1 {
				return name, nil
			}
		}
	}

	return "ROWID", nil
}

// MaxAuditLogID returns the current maximum id in the audit log, used as
// the streaming handover point.
func MaxAuditLogID(ctx context.Context, db *sql.DB) (int64, error) {
	var maxID sql.NullInt64
	if err := db.QueryRowContext(ctx, "SELECT MAX(id) FROM "+audit.TableName).Scan(&maxID); err != nil {
		return 0, cdcerr.Read("max_audit_log_id", err)
	}
	return maxID.Int64, nil
}

// RunWithHandover captures the audit log's current max id before syncing
// any table, so incremental streaming that starts after that id misses no
// event. Events written while the copy runs are delivered again by
// streaming; idempotent upserts absorb that overlap.
func (s *Syncer) RunWithHandover(ctx context.Context, specs []TableSpec) (int64, error) {
	handoverID, err := MaxAuditLogID(ctx, s.sourceDB)
	if err != nil {
		return 0, err
	}

	for _, spec := range specs {
		if _, err := s.SyncTable(ctx, spec); err != nil {
			return 0, fmt.Errorf("sync table %s: %w", spec.SourceTable, err)
		}
	}

	return handoverID, nil
}
