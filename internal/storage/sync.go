package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ingest/internal/etl"
)

// ErrNotFound is returned when a job or destination does not exist.
var ErrNotFound = errors.New("not found")

// SyncStore implements persistence for sync jobs, run logs and the
// incremental checkpoint of each job.
type SyncStore struct {
	db *DB
}

// NewSyncStore creates a new SyncStore.
func NewSyncStore(db *DB) *SyncStore {
	return &SyncStore{db: db}
}

const jobColumns = `id, name, connector, root_table, source_type, source_config, transforms,
	destination_id, dedupe, incremental, initial_sync_start, trigger_type, trigger_config,
	enabled, last_run_at, last_status, last_error, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*etl.SyncJob, error) {
	job := &etl.SyncJob{}
	var srcCfg, transforms string
	var lastRun sql.NullTime
	if err := row.Scan(
		&job.ID, &job.Name, &job.Connector, &job.RootTable, &job.SourceType, &srcCfg, &transforms,
		&job.DestinationID, &job.Dedupe, &job.Incremental, &job.InitialSyncStart,
		&job.TriggerType, &job.TriggerConfig, &job.Enabled,
		&lastRun, &job.LastStatus, &job.LastError,
		&job.CreatedAt, &job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if lastRun.Valid {
		job.LastRunAt = lastRun.Time
	}
	if err := json.Unmarshal([]byte(srcCfg), &job.SourceCfg); err != nil {
		return nil, fmt.Errorf("job %s source config: %w", job.ID, err)
	}
	if err := json.Unmarshal([]byte(transforms), &job.Transforms); err != nil {
		return nil, fmt.Errorf("job %s transforms: %w", job.ID, err)
	}
	return job, nil
}

func encodeJob(job *etl.SyncJob) (string, string, error) {
	srcCfg, err := json.Marshal(job.SourceCfg)
	if err != nil {
		return "", "", fmt.Errorf("encode source config: %w", err)
	}
	if job.SourceCfg == nil {
		srcCfg = []byte("{}")
	}
	transforms, err := json.Marshal(job.Transforms)
	if err != nil {
		return "", "", fmt.Errorf("encode transforms: %w", err)
	}
	if job.Transforms == nil {
		transforms = []byte("[]")
	}
	return string(srcCfg), string(transforms), nil
}

// ── SyncJob CRUD ───────────────────────────────────────────

func (s *SyncStore) CreateJob(job *etl.SyncJob) error {
	now := time.Now()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.TriggerType == "" {
		job.TriggerType = "manual"
	}

	srcCfg, transforms, err := encodeJob(job)
	if err != nil {
		return err
	}
	_, err = s.db.conn.Exec(
		`INSERT INTO sync_jobs (id, name, connector, root_table, source_type, source_config, transforms,
		 destination_id, dedupe, incremental, initial_sync_start, trigger_type, trigger_config,
		 enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, job.Connector, job.RootTable, job.SourceType, srcCfg, transforms,
		job.DestinationID, job.Dedupe, job.Incremental, job.InitialSyncStart,
		job.TriggerType, job.TriggerConfig, job.Enabled,
		job.CreatedAt, job.UpdatedAt,
	)
	return err
}

func (s *SyncStore) GetJob(id string) (*etl.SyncJob, error) {
	job, err := scanJob(s.db.conn.QueryRow(`SELECT `+jobColumns+` FROM sync_jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sync job %s: %w", id, ErrNotFound)
	}
	return job, err
}

func (s *SyncStore) UpdateJob(job *etl.SyncJob) error {
	job.UpdatedAt = time.Now()
	srcCfg, transforms, err := encodeJob(job)
	if err != nil {
		return err
	}

	res, err := s.db.conn.Exec(
		`UPDATE sync_jobs SET name=?, connector=?, root_table=?, source_type=?, source_config=?,
		 transforms=?, destination_id=?, dedupe=?, incremental=?, initial_sync_start=?,
		 trigger_type=?, trigger_config=?, enabled=?, updated_at=? WHERE id=?`,
		job.Name, job.Connector, job.RootTable, job.SourceType, srcCfg,
		transforms, job.DestinationID, job.Dedupe, job.Incremental, job.InitialSyncStart,
		job.TriggerType, job.TriggerConfig, job.Enabled, job.UpdatedAt, job.ID,
	)
	if err != nil {
		return err
	}
	return affected(res, "sync job", job.ID)
}

func (s *SyncStore) UpdateJobStatus(id, status, errMsg string) error {
	now := time.Now()
	_, err := s.db.conn.Exec(
		`UPDATE sync_jobs SET last_run_at=?, last_status=?, last_error=?, updated_at=? WHERE id=?`,
		now, status, errMsg, now, id,
	)
	return err
}

// DeleteJob removes a job with its run logs and checkpoint.
func (s *SyncStore) DeleteJob(id string) error {
	tx, err := s.db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM sync_run_logs WHERE job_id = ?`,
		`DELETE FROM sync_state WHERE job_id = ?`,
	} {
		if _, err := tx.Exec(q, id); err != nil {
			return err
		}
	}
	res, err := tx.Exec(`DELETE FROM sync_jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := affected(res, "sync job", id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SyncStore) ListJobs() ([]etl.SyncJob, error) {
	return s.queryJobs(`SELECT ` + jobColumns + ` FROM sync_jobs ORDER BY created_at ASC`)
}

// ListEnabledTriggeredJobs returns enabled jobs with a schedule or file trigger.
func (s *SyncStore) ListEnabledTriggeredJobs() ([]etl.SyncJob, error) {
	return s.queryJobs(`SELECT ` + jobColumns + ` FROM sync_jobs
		WHERE enabled = 1 AND trigger_type IN ('schedule', 'file_watch')
		ORDER BY created_at ASC`)
}

func (s *SyncStore) queryJobs(query string, args ...any) ([]etl.SyncJob, error) {
	rows, err := s.db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []etl.SyncJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// ── Run Logs ───────────────────────────────────────────────

func (s *SyncStore) CreateRunLog(l *etl.SyncRunLog) error {
	l.ID = uuid.New().String()
	_, err := s.db.conn.Exec(
		`INSERT INTO sync_run_logs (id, job_id, started_at, finished_at, status,
		 records_read, records_failed, rows_written, rows_deleted, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.JobID, l.StartedAt, l.FinishedAt, l.Status,
		l.RecordsRead, l.RecordsFailed, l.RowsWritten, l.RowsDeleted, l.Error,
	)
	return err
}

func (s *SyncStore) ListRunLogs(jobID string, limit int) ([]etl.SyncRunLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.conn.Query(
		`SELECT id, job_id, started_at, finished_at, status,
		 records_read, records_failed, rows_written, rows_deleted, error
		 FROM sync_run_logs WHERE job_id = ? ORDER BY started_at DESC LIMIT ?`,
		jobID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []etl.SyncRunLog
	for rows.Next() {
		var l etl.SyncRunLog
		if err := rows.Scan(&l.ID, &l.JobID, &l.StartedAt, &l.FinishedAt, &l.Status,
			&l.RecordsRead, &l.RecordsFailed, &l.RowsWritten, &l.RowsDeleted, &l.Error); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// ── Checkpoints ────────────────────────────────────────────

// LoadState returns the last saved checkpoint of a job, or nil.
func (s *SyncStore) LoadState(jobID string) (etl.State, error) {
	var raw string
	err := s.db.conn.QueryRow(`SELECT state_json FROM sync_state WHERE job_id = ?`, jobID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var state etl.State
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("decode state of job %s: %w", jobID, err)
	}
	return state, nil
}

// SaveState replaces the checkpoint of a job.
func (s *SyncStore) SaveState(jobID string, state etl.State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	_, err = s.db.conn.Exec(
		`INSERT INTO sync_state (job_id, state_json, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET state_json = excluded.state_json, updated_at = excluded.updated_at`,
		jobID, string(raw), time.Now(),
	)
	return err
}

// ResetState forgets the checkpoint so the next run starts from the
// initial sync start again.
func (s *SyncStore) ResetState(jobID string) error {
	_, err := s.db.conn.Exec(`DELETE FROM sync_state WHERE job_id = ?`, jobID)
	return err
}

func affected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
