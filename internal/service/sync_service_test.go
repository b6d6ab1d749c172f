package service_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingest/internal/connectors"
	"ingest/internal/domain"
	"ingest/internal/etl"
	"ingest/internal/etl/destinations"
	"ingest/internal/flatten"
	"ingest/internal/secret"
	"ingest/internal/service"
	"ingest/internal/storage"
)

// ─────────────────────────────────────────────────────────────
// SyncService tests
// Real SQLite job store in a temp dir, in-memory destination,
// file and httptest sources.
// ─────────────────────────────────────────────────────────────

var testNow = time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)

func init() {
	shop := &etl.Connector{
		Name:       "svc_shop",
		RootTable:  "order",
		SourceType: "json_file",
		Flatten: flatten.Config{
			Relationships: map[string][]flatten.Relationship{
				"order": {{Field: "lines", ChildTable: "order_line", ForeignKey: "order_id"}},
			},
			PrimaryKeys:   map[string]string{"order": "id"},
			SyntheticKeys: []string{"order_line"},
		},
		Tables: []etl.TableSchema{
			{Table: "order", PrimaryKey: []string{"id"}},
			{Table: "order_line", PrimaryKey: []string{"guid"}},
		},
	}
	if err := connectors.Register(shop); err != nil {
		panic(err)
	}
	api := *shop
	api.Name = "svc_api"
	api.SourceType = "http"
	if err := connectors.Register(&api); err != nil {
		panic(err)
	}
}

type fixture struct {
	svc      *service.SyncService
	mem      *destinations.Memory
	notifier *service.MockNotifier
	store    *storage.SyncStore
	secrets  *secret.MemoryStore
	destID   string
	dir      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.New(filepath.Join(dir, "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		mem:      destinations.NewMemory(),
		notifier: &service.MockNotifier{},
		store:    storage.NewSyncStore(db),
		secrets:  secret.NewMemoryStore(),
		dir:      dir,
	}
	f.svc = service.NewSyncService(f.store, storage.NewDestinationStore(db), f.secrets, f.notifier, service.Options{
		Keys: flatten.SeededKeys(1),
		Now:  func() time.Time { return testNow },
		Open: func(context.Context, *domain.DestinationConnection, string) (etl.Destination, error) {
			return f.mem, nil
		},
	})
	t.Cleanup(f.svc.Stop)

	dest := &domain.DestinationConnection{Name: "mem", Driver: domain.DestinationDriverMemory}
	require.NoError(t, f.svc.CreateDestination(dest, "s3cret"))
	f.destID = dest.ID
	return f
}

func (f *fixture) writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const ordersJSON = `[
	{"id": "o1", "total": 12.5, "lines": [{"sku": "A"}, {"sku": "B"}]},
	{"id": "o2", "deleted": true, "lines": null}
]`

func TestSyncService_CreateJobValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		input service.CreateJobInput
	}{
		{"unknown connector", service.CreateJobInput{Connector: "nope", DestinationID: f.destID}},
		{"unknown source", service.CreateJobInput{Connector: "svc_shop", SourceType: "ftp", DestinationID: f.destID}},
		{"unknown destination", service.CreateJobInput{Connector: "svc_shop", DestinationID: "missing"}},
		{"bad cron", service.CreateJobInput{Connector: "svc_shop", DestinationID: f.destID, TriggerType: "schedule", TriggerConfig: "every day"}},
		{"watch without path", service.CreateJobInput{Connector: "svc_shop", DestinationID: f.destID, TriggerType: "file_watch"}},
		{"unknown trigger", service.CreateJobInput{Connector: "svc_shop", DestinationID: f.destID, TriggerType: "webhook"}},
		{"bad start", service.CreateJobInput{Connector: "svc_shop", DestinationID: f.destID, InitialSyncStart: "yesterday"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateJob(ctx, tt.input)
			assert.Error(t, err)
		})
	}

	job, err := f.svc.CreateJob(ctx, service.CreateJobInput{
		Connector:     "svc_shop",
		DestinationID: f.destID,
		TriggerType:   "schedule",
		TriggerConfig: "*/5 * * * *",
		Enabled:       true,
	})
	require.NoError(t, err)
	assert.Equal(t, "svc_shop", job.Name)

	jobs, err := f.svc.ListJobs()
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestSyncService_RunJob_Full(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.svc.CreateJob(ctx, service.CreateJobInput{
		Name:          "shop",
		Connector:     "svc_shop",
		SourceConfig:  map[string]any{"filePath": f.writeFile(t, "orders.json", ordersJSON)},
		DestinationID: f.destID,
		Transforms: []etl.TransformConfig{
			{Type: "inject", Table: "order", Config: map[string]any{"fields": map[string]any{"shop": "main"}}},
		},
	})
	require.NoError(t, err)

	result, err := f.svc.RunJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)
	assert.Equal(t, 2, result.RecordsRead)
	assert.Equal(t, 1, result.RowsDeleted)

	orders := f.mem.Rows("order")
	require.Len(t, orders, 1)
	assert.Equal(t, "o1", orders[0]["id"])
	assert.Equal(t, "main", orders[0]["shop"])
	lines := f.mem.Rows("order_line")
	require.Len(t, lines, 2)
	assert.Equal(t, "o1", lines[0]["order_id"])
	assert.True(t, flatten.IsSynthetic(lines[0]["guid"]))
	assert.True(t, f.mem.Closed())

	logs, err := f.svc.ListRunLogs(job.ID, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "success", logs[0].Status)
	assert.Equal(t, 2, logs[0].RecordsRead)

	got, err := f.svc.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "success", got.LastStatus)

	assert.Equal(t, []string{service.EventSyncStarted, service.EventSyncCompleted}, f.notifier.Names())

	// full reads keep no cursor
	state, err := f.store.LoadState(job.ID)
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestSyncService_RunJob_ShapeError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.svc.CreateJob(ctx, service.CreateJobInput{
		Connector: "svc_shop",
		SourceConfig: map[string]any{"filePath": f.writeFile(t, "bad.json",
			`[{"id": "o1", "lines": "not-a-list"}, {"id": "o2"}]`)},
		DestinationID: f.destID,
	})
	require.NoError(t, err)

	result, err := f.svc.RunJob(ctx, job.ID)
	require.Error(t, err)
	assert.True(t, flatten.IsShape(err))
	assert.Equal(t, "error", result.Status)
	assert.Equal(t, 1, result.RecordsFailed)

	// the good record still lands
	assert.Len(t, f.mem.Rows("order"), 1)

	logs, err := f.svc.ListRunLogs(job.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "error", logs[0].Status)
	assert.Contains(t, logs[0].Error, "lines")

	got, _ := f.svc.GetJob(job.ID)
	assert.Equal(t, "error", got.LastStatus)
	assert.Equal(t, service.EventSyncFailed, f.notifier.Names()[1])
}

// windowServer answers every request with one order and records the
// requested windows.
type windowServer struct {
	mu     sync.Mutex
	starts []string
}

func (s *windowServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.starts = append(s.starts, r.URL.Query().Get("startDate"))
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`[{"id": "a1", "lines": []}]`))
}

func (s *windowServer) requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.starts...)
}

func TestSyncService_RunJob_Incremental(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	api := &windowServer{}
	srv := httptest.NewServer(api)
	defer srv.Close()

	job, err := f.svc.CreateJob(ctx, service.CreateJobInput{
		Connector:        "svc_api",
		SourceConfig:     map[string]any{"url": srv.URL},
		DestinationID:    f.destID,
		Incremental:      true,
		InitialSyncStart: "2024-01-01T00:00:00.000Z",
	})
	require.NoError(t, err)

	result, err := f.svc.RunJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Windows)
	assert.Equal(t, []string{"2024-01-01T00:00:00.000Z", "2024-01-31T00:00:00.000Z"}, api.requests())

	state, err := f.store.LoadState(job.ID)
	require.NoError(t, err)
	assert.Equal(t, etl.FormatTime(testNow), state[etl.StateKey])

	// caught up: the next run reads nothing
	result, err = f.svc.RunJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Windows)
	assert.Len(t, api.requests(), 2)

	// a reset starts over from the initial sync start
	require.NoError(t, f.svc.ResetJob(ctx, job.ID))
	state, err = f.mem.LoadState(ctx, job.ID)
	require.NoError(t, err)
	assert.Nil(t, state)
	_, err = f.svc.RunJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, api.requests(), 4)
}

func TestSyncService_RunJob_DestinationState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	api := &windowServer{}
	srv := httptest.NewServer(api)
	defer srv.Close()

	job, err := f.svc.CreateJob(ctx, service.CreateJobInput{
		Connector:        "svc_api",
		SourceConfig:     map[string]any{"url": srv.URL},
		DestinationID:    f.destID,
		Incremental:      true,
		InitialSyncStart: "2024-01-01T00:00:00.000Z",
	})
	require.NoError(t, err)

	// the job database lost its cursor but the destination kept one
	require.NoError(t, f.mem.Checkpoint(ctx, job.ID, etl.State{etl.StateKey: "2024-02-10T00:00:00.000Z"}))

	result, err := f.svc.RunJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Windows)
	assert.Equal(t, []string{"2024-02-10T00:00:00.000Z"}, api.requests())
}

func TestSyncService_RunJob_Missing(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RunJob(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSyncService_Preview(t *testing.T) {
	f := newFixture(t)
	rows, err := f.svc.Preview(context.Background(), service.PreviewInput{
		Connector:    "svc_shop",
		SourceConfig: map[string]any{"filePath": f.writeFile(t, "orders.json", ordersJSON)},
		MaxRecords:   1,
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "order", rows[2].Table)
	assert.Empty(t, f.mem.Calls())
}

func TestSyncService_Flatten(t *testing.T) {
	f := newFixture(t)
	rows, err := f.svc.Flatten("toast", "", strings.NewReader(
		`{"guid": "o1", "checks": [{"guid": "c1", "selections": [{"guid": "s1"}]}]}`))
	require.NoError(t, err)
	tables := make([]string, len(rows))
	for i, r := range rows {
		tables[i] = r.Table
	}
	assert.Equal(t, []string{"orders_check_selection", "orders_check", "orders"}, tables)

	_, err = f.svc.Flatten("toast", "", strings.NewReader(`{"guid": "o1", "checks": {"guid": "c1"}}`))
	assert.True(t, flatten.IsShape(err))

	_, err = service.FlattenPayload("toast", "orders", strings.NewReader(`[1, 2]`), nil, 0)
	assert.Error(t, err)
}

func TestSyncService_Destinations(t *testing.T) {
	f := newFixture(t)

	pw, err := f.secrets.Get(secret.DestinationKey(f.destID))
	require.NoError(t, err)
	assert.Equal(t, []byte("s3cret"), pw)

	list, err := f.svc.ListDestinations()
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, f.svc.DeleteDestination(f.destID))
	pw, _ = f.secrets.Get(secret.DestinationKey(f.destID))
	assert.Nil(t, pw)
}

func TestSyncService_FileWatchTrigger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := f.writeFile(t, "watched.json", `[]`)

	job, err := f.svc.CreateJob(ctx, service.CreateJobInput{
		Connector:     "svc_shop",
		SourceConfig:  map[string]any{"filePath": path},
		DestinationID: f.destID,
		TriggerType:   "file_watch",
		TriggerConfig: path,
		Enabled:       true,
	})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(ordersJSON), 0o644))

	require.Eventually(t, func() bool {
		logs, err := f.svc.ListRunLogs(job.ID, 10)
		return err == nil && len(logs) > 0
	}, 5*time.Second, 50*time.Millisecond)

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, f.svc.WaitRunning(waitCtx))
	assert.NotEmpty(t, f.mem.Rows("order"))
}

func TestSyncService_StopIdempotent(t *testing.T) {
	svc := service.NewSyncService(nil, nil, nil, &service.MockNotifier{}, service.Options{})
	svc.Stop()
	svc.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, svc.WaitRunning(ctx))
	assert.Empty(t, svc.Running())
}
