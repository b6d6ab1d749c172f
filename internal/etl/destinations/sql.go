package destinations

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"ingest/internal/etl"
)

// dialect captures the per-engine SQL differences.
type dialect struct {
	driverName string
	// quote wraps an identifier.
	quote func(string) string
	// placeholder returns the n-th (1-based) bind marker.
	placeholder func(int) string
	// keyType is the column type used for primary-key columns.
	keyType string
	// upsertClause renders the conflict clause for the given key and
	// update columns.
	upsertClause func(d dialect, pk, update []string) string
	// listColumns is a query returning the column names of one table.
	listColumns func(d dialect, table string) (string, []any)
}

func doubleQuote(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` }
func backtick(s string) string    { return "`" + strings.ReplaceAll(s, "`", "``") + "`" }

func onConflictClause(d dialect, pk, update []string) string {
	quoted := make([]string, len(pk))
	for i, k := range pk {
		quoted[i] = d.quote(k)
	}
	if len(update) == 0 {
		return fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", strings.Join(quoted, ", "))
	}
	sets := make([]string, len(update))
	for i, c := range update {
		sets[i] = fmt.Sprintf("%s = excluded.%s", d.quote(c), d.quote(c))
	}
	return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(quoted, ", "), strings.Join(sets, ", "))
}

func infoSchemaColumns(d dialect, table string) (string, []any) {
	return fmt.Sprintf(`SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_NAME = %s`, d.placeholder(1)), []any{table}
}

var (
	sqliteDialect = dialect{
		driverName:   "sqlite",
		quote:        doubleQuote,
		placeholder:  func(int) string { return "?" },
		keyType:      "TEXT",
		upsertClause: onConflictClause,
		listColumns: func(d dialect, table string) (string, []any) {
			return "SELECT name FROM pragma_table_info(?)", []any{table}
		},
	}

	postgresDialect = dialect{
		driverName:   "postgres",
		quote:        doubleQuote,
		placeholder:  func(n int) string { return fmt.Sprintf("$%d", n) },
		keyType:      "TEXT",
		upsertClause: onConflictClause,
		listColumns:  infoSchemaColumns,
	}

	mysqlDialect = dialect{
		driverName:  "mysql",
		quote:       backtick,
		placeholder: func(int) string { return "?" },
		keyType:     "VARCHAR(255)",
		upsertClause: func(d dialect, pk, update []string) string {
			if len(update) == 0 {
				update = pk
			}
			sets := make([]string, len(update))
			for i, c := range update {
				sets[i] = fmt.Sprintf("%s = VALUES(%s)", d.quote(c), d.quote(c))
			}
			return " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
		},
		listColumns: func(d dialect, table string) (string, []any) {
			return `SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?`, []any{table}
		},
	}
)

// SyncedColumn records when the destination last wrote a row.
const SyncedColumn = "_ingested_at"

// sqlDestination is the shared implementation for MySQL, Postgres, and
// SQLite. Tables are created on Declare with TEXT columns; columns the
// rows bring later are added on the fly.
type sqlDestination struct {
	d  dialect
	db *sql.DB

	mu     sync.Mutex
	tables map[string]*sqlTable
}

type sqlTable struct {
	pk      []string
	columns map[string]bool
}

// newSQLDestination opens a pooled connection for the given dialect.
func newSQLDestination(d dialect, dsn string) (*sqlDestination, error) {
	db, err := sql.Open(d.driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.driverName, err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)

	return &sqlDestination{d: d, db: db, tables: map[string]*sqlTable{}}, nil
}

func (s *sqlDestination) Declare(ctx context.Context, tables []etl.TableSchema) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := etl.TableSchema{Table: StateTable, PrimaryKey: []string{"job_id"}}
	for _, t := range append([]etl.TableSchema{state}, tables...) {
		if err := s.declareLocked(ctx, t.Table, t.PrimaryKey); err != nil {
			return err
		}
	}
	return nil
}

// declareLocked creates the table if needed and loads its current columns.
func (s *sqlDestination) declareLocked(ctx context.Context, table string, pk []string) error {
	cols := make([]string, 0, len(pk)+1)
	for _, k := range pk {
		cols = append(cols, fmt.Sprintf("%s %s NOT NULL", s.d.quote(k), s.d.keyType))
	}
	cols = append(cols, fmt.Sprintf("%s TEXT", s.d.quote(SyncedColumn)))
	if len(pk) > 0 {
		quoted := make([]string, len(pk))
		for i, k := range pk {
			quoted[i] = s.d.quote(k)
		}
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(quoted, ", ")))
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", s.d.quote(table), strings.Join(cols, ", "))
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}

	existing, err := s.columns(ctx, table)
	if err != nil {
		return err
	}
	s.tables[table] = &sqlTable{pk: slices.Clone(pk), columns: existing}
	return nil
}

func (s *sqlDestination) columns(ctx context.Context, table string) (map[string]bool, error) {
	query, args := s.d.listColumns(s.d, table)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list columns of %s: %w", table, err)
	}
	defer rows.Close()

	cols := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// ensureColumnsLocked adds any columns of row the table does not have yet.
func (s *sqlDestination) ensureColumnsLocked(ctx context.Context, table string, t *sqlTable, names []string) error {
	for _, name := range names {
		if t.columns[name] {
			continue
		}
		ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT", s.d.quote(table), s.d.quote(name))
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("add column %s.%s: %w", table, name, err)
		}
		t.columns[name] = true
	}
	return nil
}

func (s *sqlDestination) Upsert(ctx context.Context, table string, row map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[table]
	if !ok {
		// Undeclared tables are created keyless and only ever appended to.
		if err := s.declareLocked(ctx, table, nil); err != nil {
			return err
		}
		t = s.tables[table]
	}

	names := make([]string, 0, len(row)+1)
	for k := range row {
		if k != SyncedColumn {
			names = append(names, k)
		}
	}
	slices.Sort(names)
	if err := s.ensureColumnsLocked(ctx, table, t, names); err != nil {
		return err
	}

	names = append(names, SyncedColumn)
	quoted := make([]string, len(names))
	marks := make([]string, len(names))
	args := make([]any, len(names))
	for i, n := range names {
		quoted[i] = s.d.quote(n)
		marks[i] = s.d.placeholder(i + 1)
		args[i] = sqlValue(row[n])
	}
	args[len(args)-1] = time.Now().UTC().Format(time.RFC3339Nano)

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.d.quote(table), strings.Join(quoted, ", "), strings.Join(marks, ", "))
	if len(t.pk) > 0 {
		update := make([]string, 0, len(names))
		for _, n := range names {
			if !slices.Contains(t.pk, n) {
				update = append(update, n)
			}
		}
		query += s.d.upsertClause(s.d, t.pk, update)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	return nil
}

func (s *sqlDestination) Delete(ctx context.Context, table string, keys map[string]any) error {
	if len(keys) == 0 {
		return fmt.Errorf("delete %s: no key columns", table)
	}
	cols := make([]string, 0, len(keys))
	for k := range keys {
		cols = append(cols, k)
	}
	slices.Sort(cols)

	where := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		where[i] = fmt.Sprintf("%s = %s", s.d.quote(c), s.d.placeholder(i+1))
		args[i] = sqlValue(keys[c])
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", s.d.quote(table), strings.Join(where, " AND "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	return nil
}

func (s *sqlDestination) Checkpoint(ctx context.Context, jobID string, state etl.State) error {
	encoded, err := encodeState(state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	_, declared := s.tables[StateTable]
	s.mu.Unlock()
	if !declared {
		if err := s.Declare(ctx, nil); err != nil {
			return err
		}
	}
	return s.Upsert(ctx, StateTable, map[string]any{"job_id": jobID, "state": encoded})
}

// LoadState returns the last checkpoint written for jobID, or nil.
func (s *sqlDestination) LoadState(ctx context.Context, jobID string) (etl.State, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		s.d.quote("state"), s.d.quote(StateTable), s.d.quote("job_id"), s.d.placeholder(1))
	var raw string
	err := s.db.QueryRowContext(ctx, query, jobID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	return decodeState(raw)
}

func (s *sqlDestination) ResetState(ctx context.Context, jobID string) error {
	// the state table may not exist yet on a destination that never ran
	if err := s.Declare(ctx, nil); err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
		s.d.quote(StateTable), s.d.quote("job_id"), s.d.placeholder(1))
	if _, err := s.db.ExecContext(ctx, query, jobID); err != nil {
		return fmt.Errorf("reset state: %w", err)
	}
	return nil
}

func (s *sqlDestination) Close() error {
	return s.db.Close()
}

// sqlValue renders a row value for a TEXT column.
func sqlValue(v any) any {
	if n, ok := v.(json.Number); ok {
		return n.String()
	}
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(val)
	}
}
