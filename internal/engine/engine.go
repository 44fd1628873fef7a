// Package engine orchestrates the two-phase CDC pipeline: an initial bulk
// sync followed by continuous incremental streaming from the audit log to
// every configured target, with per-target cursors so a slow or failing
// target never blocks the others.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/uschtwill/hermod-cdc/internal/audit"
	"github.com/uschtwill/hermod-cdc/internal/auditreader"
	"github.com/uschtwill/hermod-cdc/internal/cdcerr"
	"github.com/uschtwill/hermod-cdc/internal/checkpoint"
	"github.com/uschtwill/hermod-cdc/internal/initsync"
	"github.com/uschtwill/hermod-cdc/internal/notify"
	"github.com/uschtwill/hermod-cdc/internal/transform"
	hermodcdc "github.com/uschtwill/hermod-cdc"
)

var tracer = otel.Tracer("github.com/uschtwill/hermod-cdc/internal/engine")

// Target is a single delivery destination. The primary-key column its
// upserts and deletes key on is resolved per table from that table's
// mapping, not fixed per target, since different tables can use different
// key columns on the same target.
type Target struct {
	Writer hermodcdc.TargetWriter
}

// Config tunes the engine's polling and batching behavior.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	MaxRetries   int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	return c
}

// StatusUpdate is a snapshot of engine health, suitable for the CLI's
// status command or an external monitor.
type StatusUpdate struct {
	Running         bool
	ProcessedCount  int64
	DeadLetterCount int64
	LastError       string
	TargetPositions map[string]int64
	AuditBacklog    int64
}

// Engine runs the capture-to-target pipeline for a single source database.
type Engine struct {
	sourceDB   *sql.DB
	sourcePath string
	cfg        Config
	checkpoint *checkpoint.Store
	targets    []Target
	mappings   map[string]transform.Mapping
	logger     hermodcdc.Logger
	notifier   notify.Notifier

	mu              sync.RWMutex
	running         bool
	processedCount  int64
	deadLetterCount int64
	lastError       string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an Engine. mappings keys by source table name.
func New(
	sourceDB *sql.DB,
	sourcePath string,
	cp *checkpoint.Store,
	targets []Target,
	mappings map[string]transform.Mapping,
	logger hermodcdc.Logger,
	cfg Config,
) *Engine {
	return &Engine{
		sourceDB:   sourceDB,
		sourcePath: sourcePath,
		cfg:        cfg.withDefaults(),
		checkpoint: cp,
		targets:    targets,
		mappings:   mappings,
		logger:     logger,
		notifier:   notify.NoOp{},
	}
}

// WithNotifier sets the optional alerting hook.
func (e *Engine) WithNotifier(n notify.Notifier) *Engine {
	e.notifier = n
	return e
}

// Start runs the initial sync (if any tables aren't already complete), then
// launches the incremental streaming loop in the background. Start returns
// once the initial sync finishes; streaming continues until Stop is called
// or ctx is cancelled.
func (e *Engine) Start(ctx context.Context, specs []initsync.TableSpec) error {
	activeEngines.Inc()

	syncer := initsync.New(e.sourceDB, e.sourcePath, e.writers(), e.checkpoint)
	handoverID, err := syncer.RunWithHandover(ctx, specs)
	if err != nil {
		activeEngines.Dec()
		return fmt.Errorf("initial sync: %w", err)
	}

	for _, t := range e.targets {
		pos, err := e.checkpoint.LoadPosition(ctx, e.sourcePath, t.Writer.Name())
		if err != nil {
			activeEngines.Dec()
			return err
		}
		if pos == 0 {
			if err := e.checkpoint.SavePosition(ctx, e.sourcePath, t.Writer.Name(), handoverID); err != nil {
				activeEngines.Dec()
				return err
			}
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.mu.Lock()
	e.running = true
	e.mu.Unlock()

	e.wg.Add(1)
	go e.streamLoop(runCtx)

	return nil
}

// Stop signals the streaming loop to exit and waits for it to finish.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()

	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	activeEngines.Dec()
}

func (e *Engine) writers() []hermodcdc.TargetWriter {
	out := make([]hermodcdc.TargetWriter, len(e.targets))
	for i, t := range e.targets {
		out[i] = t.Writer
	}
	return out
}

func (e *Engine) streamLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.tick(ctx); err != nil && ctx.Err() == nil {
				e.logger.Error("engine tick failed", "error", err)
				e.recordError(err)
			}
		}
	}
}

// tick fetches one batch of unconsumed audit events relative to the
// slowest target's cursor, delivers it to every target independently, and
// marks audit rows consumed once every target has caught up past them.
func (e *Engine) tick(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "engine.tick")
	defer span.End()

	minPos, err := e.minTargetPosition(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	reader := auditreader.New(e.sourceDB, minPos)
	events, err := reader.FetchBatch(ctx, e.cfg.BatchSize)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if len(events) == 0 {
		return nil
	}

	var g errgroup.Group
	for _, t := range e.targets {
		t := t
		g.Go(func() error {
			return e.deliverToTarget(ctx, t, events)
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.Warn("batch delivery had target failures", "error", err)
	}

	newMinPos, err := e.minTargetPosition(ctx)
	if err != nil {
		return err
	}
	var consumable []int64
	for _, evt := range events {
		if evt.ID <= newMinPos {
			consumable = append(consumable, evt.ID)
		}
	}
	if err := reader.MarkConsumed(ctx, consumable); err != nil {
		return err
	}

	stats, err := reader.Stats(ctx)
	if err == nil {
		auditBacklog.WithLabelValues(e.sourcePath).Set(float64(stats.Pending))
	}

	return nil
}

func (e *Engine) minTargetPosition(ctx context.Context) (int64, error) {
	var min int64 = -1
	for _, t := range e.targets {
		pos, err := e.checkpoint.LoadPosition(ctx, e.sourcePath, t.Writer.Name())
		if err != nil {
			return 0, err
		}
		if min == -1 || pos < min {
			min = pos
		}
	}
	if min == -1 {
		return 0, nil
	}
	return min, nil
}

// deliverToTarget applies only the events this target hasn't already
// durably applied, grouped by table, then advances the target's own
// checkpoint position. A delivery failure is recorded and surfaced but
// does not advance the position, so the same events retry on the next tick.
func (e *Engine) deliverToTarget(ctx context.Context, t Target, events []hermodcdc.ChangeEvent) error {
	start := time.Now()
	defer func() {
		processingLatency.WithLabelValues(t.Writer.Name()).Observe(time.Since(start).Seconds())
	}()

	pos, err := e.checkpoint.LoadPosition(ctx, e.sourcePath, t.Writer.Name())
	if err != nil {
		return err
	}

	pending := make([]hermodcdc.ChangeEvent, 0, len(events))
	for _, evt := range events {
		if evt.ID > pos {
			pending = append(pending, evt)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	grouped := groupByTable(pending)
	tables := sortedTableNames(grouped)

	var lastDelivered int64
	for _, table := range tables {
		tableEvents := grouped[table]
		mapping, ok := e.mappings[table]
		if !ok {
			continue
		}

		transformed, err := transform.TransformBatch(ctx, mapping, tableEvents)
		if err != nil {
			e.fail(ctx, t, table, tableEvents, err)
			return err
		}

		if err := e.applyToTarget(ctx, t, mapping, transformed); err != nil {
			e.fail(ctx, t, table, tableEvents, err)
			return err
		}

		for _, evt := range tableEvents {
			if evt.ID > lastDelivered {
				lastDelivered = evt.ID
			}
			eventsProcessed.WithLabelValues(t.Writer.Name(), table, string(evt.Operation)).Inc()
		}
	}

	if lastDelivered > pos {
		if err := e.checkpoint.SavePosition(ctx, e.sourcePath, t.Writer.Name(), lastDelivered); err != nil {
			return err
		}
		if err := e.checkpoint.UpdateStats(ctx, e.sourcePath, t.Writer.Name(), "rows_written", int64(len(pending))); err != nil {
			return err
		}
		e.addProcessed(int64(len(pending)))
	}

	return nil
}

func (e *Engine) applyToTarget(ctx context.Context, t Target, mapping transform.Mapping, events []hermodcdc.ChangeEvent) error {
	table := mapping.TargetTable
	pkColumn := mapping.PrimaryKey
	if pkColumn == "" {
		pkColumn = "id"
	}

	var upserts []map[string]any
	for _, evt := range events {
		switch evt.Operation {
		case hermodcdc.OpDelete:
			if len(upserts) > 0 {
				if err := t.Writer.BatchUpsert(ctx, table, upserts, pkColumn); err != nil {
					return err
				}
				upserts = upserts[:0]
			}
			pkValue := pkValueFromDelete(evt, pkColumn)
			if pkValue != nil {
				if err := t.Writer.Delete(ctx, table, pkColumn, pkValue); err != nil {
					return err
				}
			}
		default:
			if evt.After != nil {
				upserts = append(upserts, evt.After)
			}
		}
	}
	if len(upserts) > 0 {
		return t.Writer.BatchUpsert(ctx, table, upserts, pkColumn)
	}
	return nil
}

func pkValueFromDelete(evt hermodcdc.ChangeEvent, pkColumn string) any {
	if evt.Before != nil {
		if v, ok := evt.Before[pkColumn]; ok {
			return v
		}
	}
	return nil
}

func (e *Engine) fail(ctx context.Context, t Target, table string, tableEvents []hermodcdc.ChangeEvent, err error) {
	e.recordError(err)
	deadLetterCount.WithLabelValues(t.Writer.Name(), table).Inc()
	e.mu.Lock()
	e.deadLetterCount++
	e.mu.Unlock()

	if _, logErr := e.checkpoint.LogError(ctx, e.sourcePath, t.Writer.Name(), table, err.Error()); logErr != nil {
		e.logger.Error("failed to persist sync error", "error", logErr)
	}

	ids := make([]int64, len(tableEvents))
	for i, evt := range tableEvents {
		ids[i] = evt.ID
	}
	if retryErr := audit.IncrementRetryCount(ctx, e.sourceDB, ids); retryErr != nil {
		e.logger.Error("failed to record audit retry count", "error", retryErr)
	}

	if !cdcerr.IsRetryable(err) {
		if notifyErr := e.notifier.Notify(ctx, "hermod-cdc delivery failure", fmt.Sprintf("target=%s table=%s err=%v", t.Writer.Name(), table, err)); notifyErr != nil {
			e.logger.Error("notifier failed", "error", notifyErr)
		}
	}
}

func (e *Engine) recordError(err error) {
	e.mu.Lock()
	e.lastError = err.Error()
	e.mu.Unlock()
}

func (e *Engine) addProcessed(n int64) {
	e.mu.Lock()
	e.processedCount += n
	e.mu.Unlock()
}

// GetStatus returns a point-in-time snapshot of engine health.
func (e *Engine) GetStatus(ctx context.Context) (StatusUpdate, error) {
	e.mu.RLock()
	status := StatusUpdate{
		Running:         e.running,
		ProcessedCount:  e.processedCount,
		DeadLetterCount: e.deadLetterCount,
		LastError:       e.lastError,
		TargetPositions: map[string]int64{},
	}
	e.mu.RUnlock()

	for _, t := range e.targets {
		pos, err := e.checkpoint.LoadPosition(ctx, e.sourcePath, t.Writer.Name())
		if err != nil {
			return status, err
		}
		status.TargetPositions[t.Writer.Name()] = pos
	}

	minPos, err := e.minTargetPosition(ctx)
	if err != nil {
		return status, err
	}
	stats, err := auditreader.New(e.sourceDB, minPos).Stats(ctx)
	if err != nil {
		return status, err
	}
	status.AuditBacklog = stats.Pending

	return status, nil
}

func groupByTable(events []hermodcdc.ChangeEvent) map[string][]hermodcdc.ChangeEvent {
	out := map[string][]hermodcdc.ChangeEvent{}
	for _, evt := range events {
		out[evt.Table] = append(out[evt.Table], evt)
	}
	return out
}

func sortedTableNames(grouped map[string][]hermodcdc.ChangeEvent) []string {
	names := make([]string, 0, len(grouped))
	for name := range grouped {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
