package destinations

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"ingest/internal/domain"
	"ingest/internal/etl"
)

// mongoDestination writes each table into a collection of the same name.
// Rows are replaced whole, keyed on the table's primary-key fields.
type mongoDestination struct {
	client *mongo.Client
	dbName string

	mu  sync.RWMutex
	pks map[string][]string
}

func newMongoDestination(conn *domain.DestinationConnection, password string) (*mongoDestination, error) {
	uri := buildMongoURI(conn, password)

	dbName := conn.Database
	if dbName == "" {
		dbName = databaseFromURI(uri)
	}

	// Mask password in URI for logging
	logURI := uri
	if password != "" && strings.Contains(logURI, password) {
		logURI = strings.ReplaceAll(logURI, password, "***")
	}
	log.Printf("[MONGO] Connecting with URI: %s (database %s)", logURI, dbName)

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	return &mongoDestination{client: client, dbName: dbName, pks: map[string][]string{}}, nil
}

// buildMongoURI accepts a full connection string in Host or builds one from
// host and port.
func buildMongoURI(conn *domain.DestinationConnection, password string) string {
	if strings.HasPrefix(conn.Host, "mongodb+srv://") || strings.HasPrefix(conn.Host, "mongodb://") {
		uri := conn.Host
		// Replace <password> placeholder commonly found in Atlas connection strings
		if password != "" {
			uri = strings.ReplaceAll(uri, "<password>", password)
			uri = strings.ReplaceAll(uri, "<db_password>", password)
		}
		return uri
	}

	port := conn.Port
	if port == 0 {
		port = 27017
	}
	var uri string
	if conn.Username != "" {
		uri = fmt.Sprintf("mongodb://%s:%s@%s:%d", conn.Username, password, conn.Host, port)
	} else {
		uri = fmt.Sprintf("mongodb://%s:%d", conn.Host, port)
	}

	// Parse extraJSON for authSource, replicaSet, etc.
	if conn.ExtraJSON != "" && conn.ExtraJSON != "{}" {
		var extras map[string]string
		if json.Unmarshal([]byte(conn.ExtraJSON), &extras) == nil && len(extras) > 0 {
			params := make([]string, 0, len(extras))
			for k, v := range extras {
				params = append(params, k+"="+v)
			}
			uri += "/?" + strings.Join(params, "&")
		}
	}
	return uri
}

// databaseFromURI extracts the path segment of user:pass@host/DB?params.
func databaseFromURI(uri string) string {
	rest := uri
	for _, prefix := range []string{"mongodb+srv://", "mongodb://"} {
		rest = strings.TrimPrefix(rest, prefix)
	}
	if at := strings.Index(rest, "@"); at != -1 {
		rest = rest[at+1:]
	}
	if slash := strings.Index(rest, "/"); slash != -1 {
		path := rest[slash+1:]
		if q := strings.Index(path, "?"); q != -1 {
			path = path[:q]
		}
		if path != "" {
			return path
		}
	}
	return "ingest"
}

func (m *mongoDestination) Declare(ctx context.Context, tables []etl.TableSchema) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	db := m.client.Database(m.dbName)
	for _, t := range tables {
		m.mu.Lock()
		m.pks[t.Table] = t.PrimaryKey
		m.mu.Unlock()
		if len(t.PrimaryKey) == 0 {
			continue
		}
		keys := bson.D{}
		for _, k := range t.PrimaryKey {
			keys = append(keys, bson.E{Key: k, Value: 1})
		}
		_, err := db.Collection(t.Table).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    keys,
			Options: options.Index().SetUnique(true),
		})
		if err != nil {
			return fmt.Errorf("index %s: %w", t.Table, err)
		}
	}
	log.Printf("[MONGO] Declared %d collections in %s", len(tables), m.dbName)
	return nil
}

func (m *mongoDestination) Upsert(ctx context.Context, table string, row map[string]any) error {
	m.mu.RLock()
	pk := m.pks[table]
	m.mu.RUnlock()

	doc := bson.M{}
	for k, v := range normalizeRow(row) {
		doc[k] = v
	}
	doc["_ingested_at"] = time.Now().UTC()

	coll := m.client.Database(m.dbName).Collection(table)
	if len(pk) == 0 {
		if _, err := coll.InsertOne(ctx, doc); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
		return nil
	}

	filter := bson.M{}
	for _, k := range pk {
		filter[k] = doc[k]
	}
	if _, err := coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	return nil
}

func (m *mongoDestination) Delete(ctx context.Context, table string, keys map[string]any) error {
	filter := bson.M{}
	for k, v := range normalizeRow(keys) {
		filter[k] = v
	}
	res, err := m.client.Database(m.dbName).Collection(table).DeleteOne(ctx, filter)
	if err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	log.Printf("[MONGO] Delete %s %v: %d removed", table, filter, res.DeletedCount)
	return nil
}

func (m *mongoDestination) Checkpoint(ctx context.Context, jobID string, state etl.State) error {
	encoded, err := encodeState(state)
	if err != nil {
		return err
	}
	doc := bson.M{"_id": jobID, "state": encoded, "updated_at": time.Now().UTC()}
	_, err = m.client.Database(m.dbName).Collection(StateTable).
		ReplaceOne(ctx, bson.M{"_id": jobID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

func (m *mongoDestination) LoadState(ctx context.Context, jobID string) (etl.State, error) {
	var doc struct {
		State string `bson:"state"`
	}
	err := m.client.Database(m.dbName).Collection(StateTable).FindOne(ctx, bson.M{"_id": jobID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	return decodeState(doc.State)
}

func (m *mongoDestination) ResetState(ctx context.Context, jobID string) error {
	_, err := m.client.Database(m.dbName).Collection(StateTable).DeleteOne(ctx, bson.M{"_id": jobID})
	if err != nil {
		return fmt.Errorf("reset state: %w", err)
	}
	return nil
}

func (m *mongoDestination) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
