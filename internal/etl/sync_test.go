package etl_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingest/internal/etl"
	"ingest/internal/etl/destinations"
	"ingest/internal/flatten"
)

// windowSource serves canned pages and records the windows it was asked for.
type windowSource struct {
	pages   map[string][]etl.Record // keyed by window start, "" for full reads
	windows []etl.Window
	err     error
}

var fake = &windowSource{}

func init() { etl.RegisterSource(fake) }

func (s *windowSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{Type: "test_pages", Label: "Test", Incremental: true}
}

func (s *windowSource) Read(ctx context.Context, _ etl.SourceConfig, win *etl.Window) (<-chan etl.Page, <-chan error) {
	out := make(chan etl.Page, 1)
	errCh := make(chan error, 1)
	key := ""
	if win != nil {
		s.windows = append(s.windows, *win)
		key = etl.FormatTime(win.From)
	}
	go func() {
		defer close(out)
		defer close(errCh)
		if s.err != nil {
			errCh <- s.err
			return
		}
		select {
		case out <- etl.Page{Records: s.pages[key]}:
		case <-ctx.Done():
		}
	}()
	return out, errCh
}

func reset(pages map[string][]etl.Record) {
	fake.pages = pages
	fake.windows = nil
	fake.err = nil
}

func orderConnector() *etl.Connector {
	return &etl.Connector{
		Name:       "orders",
		RootTable:  "orders",
		SourceType: "test_pages",
		Flatten: flatten.Config{
			Relationships: map[string][]flatten.Relationship{
				"orders": {{Field: "checks", ChildTable: "orders_check"}},
			},
		},
		Tables: []etl.TableSchema{
			{Table: "orders", PrimaryKey: []string{"guid"}},
			{Table: "orders_check", PrimaryKey: []string{"guid"}},
		},
	}
}

func order(guid string, checks ...string) etl.Record {
	cs := make([]any, len(checks))
	for i, c := range checks {
		cs[i] = map[string]any{"guid": c}
	}
	return etl.Record{Data: flatten.Record{"guid": guid, "checks": cs}}
}

func TestRunSync_Full(t *testing.T) {
	reset(map[string][]etl.Record{"": {order("o1", "c1", "c2"), order("o2")}})
	mem := destinations.NewMemory()
	e := &etl.Engine{Dest: mem}

	job := &etl.SyncJob{
		ID: "job-1",
		Transforms: []etl.TransformConfig{
			{Type: "inject", Table: "orders", Config: map[string]any{"fields": map[string]any{"restaurant_guid": "r1"}}},
		},
	}
	res, err := e.RunSync(context.Background(), job, orderConnector(), nil)
	require.NoError(t, err)

	assert.Equal(t, "success", res.Status)
	assert.Equal(t, 2, res.RecordsRead)
	assert.Equal(t, 4, res.RowsWritten)
	assert.Len(t, mem.Rows("orders_check"), 2)
	assert.Equal(t, "o1", mem.Rows("orders_check")[0]["orders_guid"])
	assert.Equal(t, "r1", mem.Rows("orders")[0]["restaurant_guid"])
	assert.Nil(t, mem.Rows("orders_check")[0]["restaurant_guid"])
	assert.Len(t, mem.Declared(), 2)
	assert.Empty(t, fake.windows)
}

func TestRunSync_SoftDelete(t *testing.T) {
	deleted := order("o2")
	deleted.Data["deleted"] = true
	reset(map[string][]etl.Record{"": {order("o1"), deleted}})
	mem := destinations.NewMemory()

	res, err := (&etl.Engine{Dest: mem}).RunSync(context.Background(), &etl.SyncJob{ID: "j"}, orderConnector(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RowsDeleted)
	rows := mem.Rows("orders")
	require.Len(t, rows, 1)
	assert.Equal(t, "o1", rows[0]["guid"])
}

func TestRunSync_IncrementalWindows(t *testing.T) {
	reset(map[string][]etl.Record{
		"2024-01-01T00:00:00.000Z": {order("o1")},
		"2024-01-31T00:00:00.000Z": {order("o2")},
	})
	mem := destinations.NewMemory()
	now := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)
	e := &etl.Engine{Dest: mem, Now: func() time.Time { return now }}

	job := &etl.SyncJob{ID: "job-inc", Incremental: true, InitialSyncStart: "2024-01-01"}
	res, err := e.RunSync(context.Background(), job, orderConnector(), nil)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Windows)
	assert.Equal(t, etl.State{etl.StateKey: "2024-02-15T00:00:00.000Z"}, res.State)
	require.Len(t, fake.windows, 2)
	assert.True(t, fake.windows[1].To.Equal(now))
	assert.Len(t, mem.Rows("orders"), 2)

	state, err := mem.LoadState(context.Background(), "job-inc")
	require.NoError(t, err)
	assert.Equal(t, res.State, state)

	// A second run at the same instant has nothing left to read.
	reset(nil)
	res, err = e.RunSync(context.Background(), job, orderConnector(), res.State)
	require.NoError(t, err)
	assert.Zero(t, res.Windows)
	assert.Empty(t, fake.windows)
}

func TestRunSync_ShapeErrorSkipsRecordAndHoldsCheckpoint(t *testing.T) {
	bad := etl.Record{Data: flatten.Record{"guid": "bad", "checks": "oops"}}
	reset(map[string][]etl.Record{"2024-02-01T00:00:00.000Z": {order("o1"), bad, order("o3")}})
	mem := destinations.NewMemory()
	now := time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)
	e := &etl.Engine{Dest: mem, Now: func() time.Time { return now }}

	job := &etl.SyncJob{ID: "j", Incremental: true, InitialSyncStart: "2024-02-01"}
	res, err := e.RunSync(context.Background(), job, orderConnector(), nil)
	require.Error(t, err)
	assert.True(t, flatten.IsShape(err))
	assert.True(t, etl.IsRecordError(err))

	assert.Equal(t, "error", res.Status)
	assert.Equal(t, 1, res.RecordsFailed)
	assert.Len(t, mem.Rows("orders"), 2)
	assert.Nil(t, res.State)

	state, _ := mem.LoadState(context.Background(), "j")
	assert.Empty(t, state)
}

func TestRunSync_SourceError(t *testing.T) {
	reset(nil)
	fake.err = errors.New("boom")

	res, err := (&etl.Engine{Dest: destinations.NewMemory()}).RunSync(context.Background(), &etl.SyncJob{ID: "j"}, orderConnector(), nil)
	require.Error(t, err)
	assert.Contains(t, res.Error, "boom")
}

func TestRunSync_UnknownSource(t *testing.T) {
	conn := orderConnector()
	conn.SourceType = "nope"
	res, err := (&etl.Engine{Dest: destinations.NewMemory()}).RunSync(context.Background(), &etl.SyncJob{ID: "j"}, conn, nil)
	require.Error(t, err)
	assert.Equal(t, "error", res.Status)
}

func TestPreview(t *testing.T) {
	reset(map[string][]etl.Record{"": {order("o1", "c1"), order("o2"), order("o3")}})

	rows, err := (&etl.Engine{}).Preview(context.Background(), &etl.SyncJob{}, orderConnector(), 2)
	require.NoError(t, err)
	tables := make([]string, len(rows))
	for i, r := range rows {
		tables[i] = r.Table
	}
	assert.Equal(t, []string{"orders_check", "orders", "orders"}, tables)
}

func TestPreview_NonPositiveLimit(t *testing.T) {
	reset(map[string][]etl.Record{"": {order("o1"), order("o2")}})

	for _, n := range []int{0, -1} {
		rows, err := (&etl.Engine{}).Preview(context.Background(), &etl.SyncJob{}, orderConnector(), n)
		require.NoError(t, err)
		assert.Empty(t, rows, "limit %d", n)
	}
}
