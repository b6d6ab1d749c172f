package etl

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"ingest/internal/flatten"
)

// ── SyncJob ────────────────────────────────────────────────
// Orchestrates: source.Read → flatten → transform chain → destination.
//
// Pattern: Airbyte sync / Singer tap→target pipeline.

// Connector bundles everything needed to turn one API's payloads into
// tables: the root table, the flattening declarations and the schemas.
type Connector struct {
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	RootTable   string            `json:"rootTable" yaml:"root_table"`
	SourceType  string            `json:"sourceType,omitempty" yaml:"source_type,omitempty"`
	Source      SourceConfig      `json:"source,omitempty" yaml:"source,omitempty"`
	Flatten     flatten.Config    `json:"flatten" yaml:"flatten"`
	Tables      []TableSchema     `json:"tables" yaml:"tables"`
	Transforms  []TransformConfig `json:"transforms,omitempty" yaml:"transforms,omitempty"`
}

// SyncJob holds the configuration for a single ETL sync.
type SyncJob struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Connector        string            `json:"connector"`
	RootTable        string            `json:"rootTable,omitempty"` // overrides the connector's root table
	SourceType       string            `json:"sourceType,omitempty"`
	SourceCfg        SourceConfig      `json:"sourceConfig"`
	Transforms       []TransformConfig `json:"transforms,omitempty"`
	DestinationID    string            `json:"destinationId"`
	Dedupe           bool              `json:"dedupe"`
	Incremental      bool              `json:"incremental"`
	InitialSyncStart string            `json:"initialSyncStart,omitempty"`
	TriggerType      string            `json:"triggerType"`   // "manual" | "schedule" | "file_watch"
	TriggerConfig    string            `json:"triggerConfig"` // cron expression or watch path
	Enabled          bool              `json:"enabled"`
	LastRunAt        time.Time         `json:"lastRunAt"`
	LastStatus       string            `json:"lastStatus"` // "success" | "error" | "running" | ""
	LastError        string            `json:"lastError"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// TransformConfig is a declarative transform definition (stored as JSON).
// Table scopes the transform to one table; empty means every table.
type TransformConfig struct {
	Type   string         `json:"type" yaml:"type"` // "inject" | "filter" | "rename" | "select" | "type_cast"
	Table  string         `json:"table,omitempty" yaml:"table,omitempty"`
	Config map[string]any `json:"config" yaml:"config"`
}

// SyncResult is the outcome of running a sync job.
type SyncResult struct {
	JobID         string        `json:"jobId"`
	Status        string        `json:"status"` // "success" | "error"
	RecordsRead   int           `json:"recordsRead"`
	RecordsFailed int           `json:"recordsFailed"`
	RowsWritten   int           `json:"rowsWritten"`
	RowsDeleted   int           `json:"rowsDeleted"`
	Windows       int           `json:"windows"`
	State         State         `json:"state,omitempty"`
	Duration      time.Duration `json:"duration"`
	Error         string        `json:"error,omitempty"`
}

// SyncRunLog is a historical record of a sync run.
type SyncRunLog struct {
	ID            string    `json:"id"`
	JobID         string    `json:"jobId"`
	StartedAt     time.Time `json:"startedAt"`
	FinishedAt    time.Time `json:"finishedAt"`
	Status        string    `json:"status"`
	RecordsRead   int       `json:"recordsRead"`
	RecordsFailed int       `json:"recordsFailed"`
	RowsWritten   int       `json:"rowsWritten"`
	RowsDeleted   int       `json:"rowsDeleted"`
	Error         string    `json:"error,omitempty"`
}

// ── Engine ─────────────────────────────────────────────────
// The Engine orchestrates sync execution.

// Engine runs sync jobs using the registered sources and a destination.
type Engine struct {
	Dest Destination

	// Keys overrides the synthetic key generator (tests use SeededKeys).
	Keys flatten.KeyGenerator
	// MaxDepth overrides the connector's recursion limit when positive.
	MaxDepth int
	// Now is the run's reference clock; defaults to time.Now.
	Now func() time.Time
}

// RunSync executes a sync job end-to-end. state is the checkpoint of the
// previous run (nil on the first). Incremental jobs walk forward window by
// window and checkpoint each completed window; a window containing a
// record that failed to decompose is not checkpointed, so the next run
// retries it.
func (e *Engine) RunSync(ctx context.Context, job *SyncJob, conn *Connector, state State) (*SyncResult, error) {
	start := time.Now()
	result := &SyncResult{JobID: job.ID, State: state}
	fail := func(err error) (*SyncResult, error) {
		result.Status = "error"
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result, err
	}

	// 1. Resolve source from registry.
	source, err := GetSource(sourceType(job, conn))
	if err != nil {
		return fail(err)
	}

	// 2. Build the flattening engine and the transform chain.
	fe, err := e.flattener(conn)
	if err != nil {
		return fail(err)
	}
	schemas := NewSchemas(conn.Tables)
	transforms := make([]TransformConfig, 0, len(conn.Transforms)+len(job.Transforms))
	transforms = append(append(transforms, conn.Transforms...), job.Transforms...)
	run := &syncRun{
		engine:     e,
		job:        job,
		root:       rootTable(job, conn),
		flattener:  fe,
		schemas:    schemas,
		transforms: BuildTransformers(transforms, schemas, job.Dedupe),
		result:     result,
	}

	// 3. Declare tables before the first write.
	if err := e.Dest.Declare(ctx, conn.Tables); err != nil {
		return fail(fmt.Errorf("declare: %w", err))
	}

	cfg := conn.Source.Merge(job.SourceCfg)

	// 4. Read → flatten → write, window by window for incremental jobs.
	if !job.Incremental || !source.Spec().Incremental {
		if err := run.read(ctx, source, cfg, nil); err != nil {
			return fail(err)
		}
		if err := run.failure(); err != nil {
			return fail(err)
		}
		result.Status = "success"
		result.Duration = time.Since(start)
		return result, nil
	}

	var initial time.Time
	if job.InitialSyncStart != "" {
		if initial, err = ParseTime(job.InitialSyncStart); err != nil {
			return fail(fmt.Errorf("initial sync start: %w", err))
		}
	}
	now := e.now()
	for {
		win, done, err := NextWindow(result.State, initial, now, MaxWindow)
		if err != nil {
			return fail(err)
		}
		if !win.To.After(win.From) {
			break
		}

		log.Printf("[ETL] job %s: window %s", job.ID, win)
		if err := run.read(ctx, source, cfg, &win); err != nil {
			return fail(err)
		}
		if err := run.failure(); err != nil {
			return fail(err)
		}

		// 5. Checkpoint the completed window.
		result.State = win.State()
		if err := e.Dest.Checkpoint(ctx, job.ID, result.State); err != nil {
			return fail(fmt.Errorf("checkpoint: %w", err))
		}
		result.Windows++
		if done {
			break
		}
	}

	result.Status = "success"
	result.Duration = time.Since(start)
	return result, nil
}

// Preview reads up to maxRecords root records and returns their rows
// without writing anything. A non-positive maxRecords reads nothing.
func (e *Engine) Preview(ctx context.Context, job *SyncJob, conn *Connector, maxRecords int) ([]Row, error) {
	if maxRecords <= 0 {
		return nil, nil
	}
	source, err := GetSource(sourceType(job, conn))
	if err != nil {
		return nil, err
	}
	fe, err := e.flattener(conn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	pages, errCh := source.Read(ctx, conn.Source.Merge(job.SourceCfg), nil)

	root := rootTable(job, conn)
	var rows []Row
	read := 0
	for page := range pages {
		for _, rec := range page.Records {
			out, err := fe.Decompose(root, rec.Data)
			if err != nil {
				return rows, err
			}
			rows = append(rows, out...)
			if read++; read >= maxRecords {
				return rows, nil
			}
		}
	}
	if err := <-errCh; err != nil {
		return rows, err
	}
	return rows, nil
}

func (e *Engine) flattener(conn *Connector) (*flatten.Engine, error) {
	cfg := conn.Flatten
	if e.MaxDepth > 0 {
		cfg.MaxDepth = e.MaxDepth
	}
	var opts []flatten.Option
	if e.Keys != nil {
		opts = append(opts, flatten.WithKeyGenerator(e.Keys))
	}
	fe, err := flatten.New(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("connector %s: %w", conn.Name, err)
	}
	return fe, nil
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func sourceType(job *SyncJob, conn *Connector) string {
	if job.SourceType != "" {
		return job.SourceType
	}
	return conn.SourceType
}

func rootTable(job *SyncJob, conn *Connector) string {
	if job.RootTable != "" {
		return job.RootTable
	}
	return conn.RootTable
}

// ── Run ────────────────────────────────────────────────────

// syncRun carries the per-run pipeline state.
type syncRun struct {
	engine     *Engine
	job        *SyncJob
	root       string
	flattener  *flatten.Engine
	schemas    Schemas
	transforms []Transformer
	result     *SyncResult
	firstErr   error
}

// read streams one window (or the whole source when win is nil) through
// the pipeline. Records that fail to decompose are skipped and counted;
// destination errors abort the run.
func (r *syncRun) read(ctx context.Context, source Source, cfg SourceConfig, win *Window) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pages, errCh := source.Read(ctx, cfg, win)
	for page := range pages {
		for _, rec := range page.Records {
			r.result.RecordsRead++
			rows, err := r.flattener.Decompose(r.root, rec.Data)
			if err != nil {
				r.result.RecordsFailed++
				if r.firstErr == nil {
					r.firstErr = err
				}
				log.Printf("[ETL] job %s: skip %s record %v: %v", r.job.ID, r.root, recordKey(r.schemas[r.root], rec), err)
				continue
			}
			if err := r.write(ctx, rows); err != nil {
				return err
			}
		}
	}
	if err := <-errCh; err != nil {
		return fmt.Errorf("read: %w", err)
	}
	return ctx.Err()
}

func (r *syncRun) write(ctx context.Context, rows []Row) error {
	dest := r.engine.Dest
	for _, row := range rows {
		row, keep := ApplyTransformers(row, r.transforms)
		if !keep {
			continue
		}
		if err := dest.Upsert(ctx, row.Table, row.Data); err != nil {
			return fmt.Errorf("upsert %s: %w", row.Table, err)
		}
		r.result.RowsWritten++

		if deleted, _ := row.Data["deleted"].(bool); !deleted {
			continue
		}
		s, ok := r.schemas[row.Table]
		if !ok {
			continue
		}
		keys, ok := s.KeyValues(row.Data)
		if !ok {
			continue
		}
		if err := dest.Delete(ctx, row.Table, keys); err != nil {
			return fmt.Errorf("delete %s: %w", row.Table, err)
		}
		r.result.RowsDeleted++
	}
	return nil
}

// failure summarises skipped records as the run's error.
func (r *syncRun) failure() error {
	if r.firstErr == nil {
		return nil
	}
	return fmt.Errorf("%d of %d records failed: %w", r.result.RecordsFailed, r.result.RecordsRead, r.firstErr)
}

func recordKey(s *TableSchema, rec Record) any {
	if s == nil || len(s.PrimaryKey) == 0 {
		return rec.Data[flatten.DefaultPrimaryKey]
	}
	return rec.Data[s.PrimaryKey[0]]
}

// IsRecordError reports whether err came from a malformed source record
// rather than from I/O.
func IsRecordError(err error) bool {
	return errors.Is(err, flatten.ErrShape) || errors.Is(err, flatten.ErrMaxDepth)
}
