package destinations

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"ingest/internal/domain"
	"ingest/internal/etl"
)

// New creates a Destination for the given connection.
// The password must be provided separately (from SecretStore).
func New(ctx context.Context, conn *domain.DestinationConnection, password string) (etl.Destination, error) {
	switch conn.Driver {
	case domain.DestinationDriverSQLite:
		return newSQLiteDestination(conn)
	case domain.DestinationDriverMySQL:
		return newSQLDestination(mysqlDialect, buildMySQLDSN(conn, password))
	case domain.DestinationDriverPostgres:
		return newSQLDestination(postgresDialect, buildPostgresDSN(conn, password))
	case domain.DestinationDriverMongoDB:
		return newMongoDestination(conn, password)
	case domain.DestinationDriverDynamoDB:
		return newDynamoDestination(ctx, conn, password)
	case domain.DestinationDriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", conn.Driver)
	}
}

// StateTable is the table (or collection, or partition) holding checkpoints.
const StateTable = "_ingest_state"

// normalize converts decoded JSON values into driver-friendly scalars.
// json.Number becomes int64 or float64 when it fits, string otherwise.
func normalize(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

// normalizeRow applies normalize to every column of row.
func normalizeRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = normalize(v)
	}
	return out
}

// keyString joins the primary-key values of row in declared order.
func keyString(pk []string, row map[string]any) string {
	parts := make([]string, len(pk))
	for i, k := range pk {
		parts[i] = fmt.Sprint(row[k])
	}
	return strings.Join(parts, "#")
}

func encodeState(state etl.State) (string, error) {
	b, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}
	return string(b), nil
}

func decodeState(raw string) (etl.State, error) {
	var state etl.State
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return state, nil
}

// StateLoader is implemented by destinations that can read back their own
// checkpoints.
// ResetState forgets the checkpoint so the next run starts over.
type StateLoader interface {
	LoadState(ctx context.Context, jobID string) (etl.State, error)
	ResetState(ctx context.Context, jobID string) error
}
