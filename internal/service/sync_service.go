package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"ingest/internal/connectors"
	"ingest/internal/domain"
	"ingest/internal/etl"
	"ingest/internal/etl/destinations"
	_ "ingest/internal/etl/sources"
	"ingest/internal/flatten"
	"ingest/internal/secret"
	"ingest/internal/storage"
)

// ─────────────────────────────────────────────────────────────
// Sync Service: business logic for sync jobs
// ─────────────────────────────────────────────────────────────

// Trigger types.
const (
	TriggerManual    = "manual"
	TriggerSchedule  = "schedule"
	TriggerFileWatch = "file_watch"
)

// DestinationOpener builds a destination for a stored connection.
type DestinationOpener func(ctx context.Context, conn *domain.DestinationConnection, password string) (etl.Destination, error)

// Options tune SyncService. Zero values fall back to defaults.
type Options struct {
	RunTimeout  time.Duration
	MaxDepth    int
	PreviewRows int
	// Keys overrides synthetic key generation (tests use SeededKeys).
	Keys flatten.KeyGenerator
	// Open overrides destination construction.
	Open DestinationOpener
	// Now overrides the run clock.
	Now func() time.Time
}

// SyncService manages sync jobs, destinations, scheduling and file watching.
type SyncService struct {
	jobs        *storage.SyncStore
	dests       domain.DestinationStore
	secrets     secret.SecretStore
	notifier    Notifier
	opts        Options
	locks       jobLocks

	// watcher / cron lifecycle
	mu          sync.Mutex
	watchCancel context.CancelFunc
	watcher     *fsnotify.Watcher
	cronSched   *cron.Cron
}

// NewSyncService creates a SyncService ready for use.
func NewSyncService(
	jobs *storage.SyncStore,
	dests domain.DestinationStore,
	secrets secret.SecretStore,
	notifier Notifier,
	opts Options,
) *SyncService {
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 30 * time.Minute
	}
	if opts.PreviewRows <= 0 {
		opts.PreviewRows = 20
	}
	if opts.Open == nil {
		opts.Open = destinations.New
	}
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if secrets == nil {
		secrets = secret.NewMemoryStore()
	}
	return &SyncService{
		jobs:     jobs,
		dests:    dests,
		secrets:  secrets,
		notifier: notifier,
		opts:     opts,
	}
}

// ── Job CRUD ───────────────────────────────────────────────

type CreateJobInput struct {
	Name             string                `json:"name"`
	Connector        string                `json:"connector"`
	RootTable        string                `json:"rootTable,omitempty"`
	SourceType       string                `json:"sourceType,omitempty"`
	SourceConfig     map[string]any        `json:"sourceConfig"`
	Transforms       []etl.TransformConfig `json:"transforms"`
	DestinationID    string                `json:"destinationId"`
	Dedupe           bool                  `json:"dedupe"`
	Incremental      bool                  `json:"incremental"`
	InitialSyncStart string                `json:"initialSyncStart,omitempty"`
	TriggerType      string                `json:"triggerType"`
	TriggerConfig    string                `json:"triggerConfig"`
	Enabled          bool                  `json:"enabled"`
}

func (in CreateJobInput) apply(job *etl.SyncJob) {
	job.Name = in.Name
	job.Connector = in.Connector
	job.RootTable = in.RootTable
	job.SourceType = in.SourceType
	job.SourceCfg = in.SourceConfig
	job.Transforms = in.Transforms
	job.DestinationID = in.DestinationID
	job.Dedupe = in.Dedupe
	job.Incremental = in.Incremental
	job.InitialSyncStart = in.InitialSyncStart
	job.TriggerType = in.TriggerType
	job.TriggerConfig = in.TriggerConfig
	job.Enabled = in.Enabled
	if job.TriggerType == "" {
		job.TriggerType = TriggerManual
	}
	if job.Name == "" {
		job.Name = in.Connector
	}
}

// validate checks every reference a job makes before it is stored.
func (s *SyncService) validate(job *etl.SyncJob) error {
	conn, err := connectors.Get(job.Connector)
	if err != nil {
		return err
	}
	typ := job.SourceType
	if typ == "" {
		typ = conn.SourceType
	}
	if _, err := etl.GetSource(typ); err != nil {
		return err
	}
	if job.DestinationID != "" {
		if _, err := s.dests.GetDestination(job.DestinationID); err != nil {
			return err
		}
	}
	if job.InitialSyncStart != "" {
		if _, err := etl.ParseTime(job.InitialSyncStart); err != nil {
			return fmt.Errorf("initial sync start: %w", err)
		}
	}
	switch job.TriggerType {
	case TriggerManual:
	case TriggerSchedule:
		if _, err := cron.ParseStandard(job.TriggerConfig); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", job.TriggerConfig, err)
		}
	case TriggerFileWatch:
		if job.TriggerConfig == "" {
			return errors.New("file_watch trigger needs a path")
		}
	default:
		return fmt.Errorf("unknown trigger type: %q", job.TriggerType)
	}
	return nil
}

func (s *SyncService) CreateJob(ctx context.Context, input CreateJobInput) (*etl.SyncJob, error) {
	job := &etl.SyncJob{}
	input.apply(job)
	if err := s.validate(job); err != nil {
		return nil, err
	}
	if err := s.jobs.CreateJob(job); err != nil {
		return nil, fmt.Errorf("create sync job: %w", err)
	}
	s.restartIfTriggered(ctx, job)
	return job, nil
}

func (s *SyncService) GetJob(id string) (*etl.SyncJob, error) {
	return s.jobs.GetJob(id)
}

func (s *SyncService) ListJobs() ([]etl.SyncJob, error) {
	return s.jobs.ListJobs()
}

func (s *SyncService) UpdateJob(ctx context.Context, id string, input CreateJobInput) (*etl.SyncJob, error) {
	job, err := s.jobs.GetJob(id)
	if err != nil {
		return nil, err
	}
	input.apply(job)
	if err := s.validate(job); err != nil {
		return nil, err
	}
	if err := s.jobs.UpdateJob(job); err != nil {
		return nil, err
	}
	s.RestartWatchers(ctx)
	return job, nil
}

func (s *SyncService) DeleteJob(ctx context.Context, id string) error {
	err := s.jobs.DeleteJob(id)
	if err == nil {
		s.RestartWatchers(ctx)
	}
	return err
}

// ResetJob clears a job's checkpoint so the next run starts over. The copy
// the destination keeps is cleared too, or loadState would fall back to it.
func (s *SyncService) ResetJob(ctx context.Context, id string) error {
	job, err := s.jobs.GetJob(id)
	if err != nil {
		return err
	}
	if err := s.jobs.ResetState(id); err != nil {
		return err
	}

	dest, err := s.openDestination(ctx, job.DestinationID)
	if err != nil {
		return fmt.Errorf("open destination: %w", err)
	}
	defer dest.Close()
	if loader, ok := dest.(destinations.StateLoader); ok {
		if err := loader.ResetState(ctx, id); err != nil {
			return fmt.Errorf("reset destination state: %w", err)
		}
	}
	return nil
}

func (s *SyncService) restartIfTriggered(ctx context.Context, job *etl.SyncJob) {
	if job.Enabled && job.TriggerType != TriggerManual {
		s.RestartWatchers(ctx)
	}
}

// ── Destinations ───────────────────────────────────────────

// CreateDestination stores a destination; password, when set, goes to the
// secret store rather than the database.
func (s *SyncService) CreateDestination(c *domain.DestinationConnection, password string) error {
	if err := s.dests.CreateDestination(c); err != nil {
		return err
	}
	if password == "" {
		return nil
	}
	return s.secrets.Set(secret.DestinationKey(c.ID), []byte(password))
}

func (s *SyncService) ListDestinations() ([]domain.DestinationConnection, error) {
	return s.dests.ListDestinations()
}

func (s *SyncService) DeleteDestination(id string) error {
	if err := s.dests.DeleteDestination(id); err != nil {
		return err
	}
	return s.secrets.Delete(secret.DestinationKey(id))
}

func (s *SyncService) openDestination(ctx context.Context, id string) (etl.Destination, error) {
	if id == "" {
		return nil, errors.New("job has no destination")
	}
	conn, err := s.dests.GetDestination(id)
	if err != nil {
		return nil, err
	}
	password, err := s.secrets.Get(secret.DestinationKey(id))
	if err != nil {
		return nil, fmt.Errorf("destination secret: %w", err)
	}
	return s.opts.Open(ctx, conn, string(password))
}

// ── Run ────────────────────────────────────────────────────

// RunJob executes a single sync job synchronously. The run is logged and
// the job's checkpoint is saved even when the run fails part way, so the
// windows that completed are not read again.
func (s *SyncService) RunJob(ctx context.Context, id string) (*etl.SyncResult, error) {
	if !s.locks.Acquire(id) {
		since, _ := s.locks.StartedAt(id)
		return nil, fmt.Errorf("job %s is already running (since %s)", id, since.Format(time.RFC3339))
	}
	defer s.locks.Release(id)

	job, err := s.jobs.GetJob(id)
	if err != nil {
		return nil, err
	}
	conn, err := connectors.Get(job.Connector)
	if err != nil {
		return nil, err
	}
	dest, err := s.openDestination(ctx, job.DestinationID)
	if err != nil {
		return nil, fmt.Errorf("open destination: %w", err)
	}
	defer dest.Close()

	state, err := s.loadState(ctx, id, dest)
	if err != nil {
		return nil, err
	}

	if err := s.jobs.UpdateJobStatus(id, "running", ""); err != nil {
		log.Printf("[SYNC] job %s: status: %v", id, err)
	}
	s.notifier.Notify(ctx, EventSyncStarted, map[string]string{"jobId": id})

	engine := &etl.Engine{
		Dest:     dest,
		Keys:     s.opts.Keys,
		MaxDepth: s.opts.MaxDepth,
		Now:      s.opts.Now,
	}

	runCtx, cancel := context.WithTimeout(ctx, s.opts.RunTimeout)
	defer cancel()

	start := time.Now()
	result, runErr := engine.RunSync(runCtx, job, conn, state)

	if result.Windows > 0 {
		if err := s.jobs.SaveState(id, result.State); err != nil {
			log.Printf("[SYNC] job %s: save state: %v", id, err)
		}
	}

	runLog := &etl.SyncRunLog{
		JobID:         id,
		StartedAt:     start,
		FinishedAt:    time.Now(),
		Status:        result.Status,
		RecordsRead:   result.RecordsRead,
		RecordsFailed: result.RecordsFailed,
		RowsWritten:   result.RowsWritten,
		RowsDeleted:   result.RowsDeleted,
		Error:         result.Error,
	}
	if err := s.jobs.CreateRunLog(runLog); err != nil {
		log.Printf("[SYNC] job %s: run log: %v", id, err)
	}
	if err := s.jobs.UpdateJobStatus(id, result.Status, result.Error); err != nil {
		log.Printf("[SYNC] job %s: status: %v", id, err)
	}

	if runErr != nil {
		s.notifier.Notify(ctx, EventSyncFailed, result)
		return result, runErr
	}
	s.notifier.Notify(ctx, EventSyncCompleted, result)
	return result, nil
}

// loadState prefers the local checkpoint and falls back to the one the
// destination kept, which survives a lost job database.
func (s *SyncService) loadState(ctx context.Context, id string, dest etl.Destination) (etl.State, error) {
	state, err := s.jobs.LoadState(id)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if state != nil {
		return state, nil
	}
	if loader, ok := dest.(destinations.StateLoader); ok {
		state, err := loader.LoadState(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load destination state: %w", err)
		}
		return state, nil
	}
	return nil, nil
}

// ListSources returns the available source descriptors.
func (s *SyncService) ListSources() []etl.SourceSpec {
	return etl.ListSources()
}

// ListConnectors returns the registered connector presets.
func (s *SyncService) ListConnectors() []*etl.Connector {
	return connectors.List()
}

// ListRunLogs returns the most recent run logs of a job.
func (s *SyncService) ListRunLogs(jobID string, limit int) ([]etl.SyncRunLog, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.jobs.ListRunLogs(jobID, limit)
}

// Running returns the IDs of jobs currently executing.
func (s *SyncService) Running() []string {
	return s.locks.InFlight()
}

// ── Preview / Flatten ──────────────────────────────────────

// PreviewInput selects what Preview reads.
type PreviewInput struct {
	Connector    string         `json:"connector"`
	RootTable    string         `json:"rootTable,omitempty"`
	SourceType   string         `json:"sourceType,omitempty"`
	SourceConfig map[string]any `json:"sourceConfig"`
	MaxRecords   int            `json:"maxRecords,omitempty"`
}

// Preview reads the first records of a source and returns their rows
// without writing anything.
func (s *SyncService) Preview(ctx context.Context, in PreviewInput) ([]etl.Row, error) {
	conn, err := connectors.Get(in.Connector)
	if err != nil {
		return nil, err
	}
	job := &etl.SyncJob{
		ID:         "preview",
		Connector:  in.Connector,
		RootTable:  in.RootTable,
		SourceType: in.SourceType,
		SourceCfg:  in.SourceConfig,
	}
	limit := in.MaxRecords
	if limit <= 0 {
		limit = s.opts.PreviewRows
	}

	previewCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	engine := &etl.Engine{Keys: s.opts.Keys, MaxDepth: s.opts.MaxDepth}
	return engine.Preview(previewCtx, job, conn, limit)
}

// Flatten decomposes a JSON payload (one object or an array of objects)
// with a connector's declarations. table defaults to the connector's root.
func (s *SyncService) Flatten(connector, table string, payload io.Reader) ([]etl.Row, error) {
	return FlattenPayload(connector, table, payload, s.opts.Keys, s.opts.MaxDepth)
}

// FlattenPayload is Flatten without a service, for offline use.
func FlattenPayload(connector, table string, payload io.Reader, keys flatten.KeyGenerator, maxDepth int) ([]etl.Row, error) {
	conn, err := connectors.Get(connector)
	if err != nil {
		return nil, err
	}
	if table == "" {
		table = conn.RootTable
	}
	cfg := conn.Flatten
	if maxDepth > 0 {
		cfg.MaxDepth = maxDepth
	}
	var opts []flatten.Option
	if keys != nil {
		opts = append(opts, flatten.WithKeyGenerator(keys))
	}
	fe, err := flatten.New(cfg, opts...)
	if err != nil {
		return nil, err
	}

	v, err := flatten.Decode(payload)
	if err != nil {
		return nil, err
	}
	recs, err := flatten.Records(v)
	if err != nil {
		return nil, err
	}
	return fe.DecomposeAll(table, recs)
}

// ── Watchers (cron + file_watch) ──────────────────────────

// RestartWatchers tears down the current watcher/cron and rebuilds them from scratch.
func (s *SyncService) RestartWatchers(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopWatchersLocked()

	jobs, err := s.jobs.ListEnabledTriggeredJobs()
	if err != nil {
		log.Printf("[CRON] failed to list jobs: %v", err)
		return
	}

	// ── Cron jobs ──
	var c *cron.Cron
	scheduled := 0
	for _, j := range jobs {
		if j.TriggerType != TriggerSchedule || j.TriggerConfig == "" {
			continue
		}
		if c == nil {
			c = cron.New()
		}
		jid := j.ID
		if _, err := c.AddFunc(j.TriggerConfig, func() {
			log.Printf("[CRON] running job %s", jid)
			if _, err := s.RunJob(ctx, jid); err != nil {
				log.Printf("[CRON] job %s failed: %v", jid, err)
			}
		}); err != nil {
			log.Printf("[CRON] invalid expression %q for job %s: %v", j.TriggerConfig, jid, err)
			continue
		}
		scheduled++
	}
	if c != nil {
		c.Start()
		s.cronSched = c
		log.Printf("[CRON] scheduled %d job(s)", scheduled)
	}

	// ── File watchers ──
	pathToJob := make(map[string]string)
	for _, j := range jobs {
		if j.TriggerType != TriggerFileWatch || j.TriggerConfig == "" {
			continue
		}
		absPath, err := filepath.Abs(j.TriggerConfig)
		if err != nil {
			log.Printf("[WATCH] bad path %q: %v", j.TriggerConfig, err)
			continue
		}
		pathToJob[absPath] = j.ID
	}
	if len(pathToJob) == 0 {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[WATCH] failed to create watcher: %v", err)
		return
	}
	s.watcher = watcher

	watchedDirs := make(map[string]bool)
	for absPath := range pathToJob {
		dir := filepath.Dir(absPath)
		if watchedDirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			log.Printf("[WATCH] failed to watch dir %q: %v", dir, err)
			continue
		}
		watchedDirs[dir] = true
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	s.watchCancel = cancel
	go s.watch(ctx, watchCtx, watcher, pathToJob)

	log.Printf("[WATCH] watching %d file(s)", len(pathToJob))
}

// watchDebounce collapses the burst of events a single save produces.
const watchDebounce = 500 * time.Millisecond

func (s *SyncService) watch(ctx, watchCtx context.Context, watcher *fsnotify.Watcher, pathToJob map[string]string) {
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()
	for {
		select {
		case <-watchCtx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			absPath, _ := filepath.Abs(event.Name)
			jobID, ok := pathToJob[absPath]
			if !ok {
				continue
			}
			if t, exists := timers[jobID]; exists {
				t.Stop()
			}
			timers[jobID] = time.AfterFunc(watchDebounce, func() {
				log.Printf("[WATCH] file changed %q, running job %s", absPath, jobID)
				if _, err := s.RunJob(ctx, jobID); err != nil {
					log.Printf("[WATCH] run failed for job %s: %v", jobID, err)
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[WATCH] error: %v", err)
		}
	}
}

// WaitRunning blocks until all running jobs finish or ctx is cancelled,
// in which case it returns ctx.Err().
func (s *SyncService) WaitRunning(ctx context.Context) error {
	return s.locks.Drain(ctx)
}

// Stop tears down all watchers and schedulers.
func (s *SyncService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopWatchersLocked()
}

func (s *SyncService) stopWatchersLocked() {
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
	if s.cronSched != nil {
		s.cronSched.Stop()
		s.cronSched = nil
	}
}
