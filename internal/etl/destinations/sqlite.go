package destinations

import (
	"ingest/internal/domain"

	_ "modernc.org/sqlite"
)

// newSQLiteDestination opens a SQLite file as a destination.
// Opens in WAL mode with busy timeout for concurrent access.
func newSQLiteDestination(conn *domain.DestinationConnection) (*sqlDestination, error) {
	dsn := conn.Host + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	s, err := newSQLDestination(sqliteDialect, dsn)
	if err != nil {
		return nil, err
	}
	// One writer at a time; the pool would otherwise race on the file lock.
	s.db.SetMaxOpenConns(1)
	return s, nil
}
