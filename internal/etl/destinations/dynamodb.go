package destinations

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"ingest/internal/domain"
	"ingest/internal/etl"
)

// Single-table layout: every row lands in one DynamoDB table with the
// source table as partition key and the joined primary-key values as sort
// key. Checkpoints live under PK=_ingest_state, SK=<job id>.
const (
	dynamoPK = "PK"
	dynamoSK = "SK"
)

// dynamoAPI is the subset of the DynamoDB client the destination uses.
type dynamoAPI interface {
	PutItem(ctx context.Context, in *sdk.PutItemInput, optFns ...func(*sdk.Options)) (*sdk.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *sdk.DeleteItemInput, optFns ...func(*sdk.Options)) (*sdk.DeleteItemOutput, error)
	GetItem(ctx context.Context, in *sdk.GetItemInput, optFns ...func(*sdk.Options)) (*sdk.GetItemOutput, error)
}

type dynamoDestination struct {
	client    dynamoAPI
	tableName string

	mu  sync.RWMutex
	pks map[string][]string
}

// newDynamoDestination initializes a DynamoDB client using static AWS
// credentials: Username is the access key id, password the secret key.
// A non-empty Host overrides the endpoint (DynamoDB Local).
func newDynamoDestination(ctx context.Context, conn *domain.DestinationConnection, password string) (*dynamoDestination, error) {
	if conn.Database == "" {
		return nil, fmt.Errorf("dynamodb: table name (database) is required")
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(conn.Region)}
	if conn.Username != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(conn.Username, password, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := sdk.NewFromConfig(cfg, func(o *sdk.Options) {
		if conn.Host != "" {
			o.BaseEndpoint = aws.String(conn.Host)
		}
	})
	log.Printf("[DYNAMO] Client initialized for table %s in region %s", conn.Database, conn.Region)
	return newDynamoWithClient(client, conn.Database), nil
}

func newDynamoWithClient(client dynamoAPI, table string) *dynamoDestination {
	return &dynamoDestination{client: client, tableName: table, pks: map[string][]string{}}
}

func (d *dynamoDestination) Declare(_ context.Context, tables []etl.TableSchema) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range tables {
		d.pks[t.Table] = t.PrimaryKey
	}
	return nil
}

func (d *dynamoDestination) sortKey(table string, row map[string]any) string {
	d.mu.RLock()
	pk := d.pks[table]
	d.mu.RUnlock()
	if len(pk) == 0 {
		return uuid.NewString()
	}
	return keyString(pk, row)
}

func (d *dynamoDestination) Upsert(ctx context.Context, table string, row map[string]any) error {
	item := normalizeRow(row)
	item[dynamoPK] = table
	item[dynamoSK] = d.sortKey(table, row)
	item["_ingested_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal %s row: %w", table, err)
	}
	_, err = d.client.PutItem(ctx, &sdk.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("PutItem %s: %w", table, err)
	}
	return nil
}

func (d *dynamoDestination) Delete(ctx context.Context, table string, keys map[string]any) error {
	_, err := d.client.DeleteItem(ctx, &sdk.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key:       itemKey(table, d.sortKey(table, keys)),
	})
	if err != nil {
		return fmt.Errorf("DeleteItem %s: %w", table, err)
	}
	return nil
}

func (d *dynamoDestination) Checkpoint(ctx context.Context, jobID string, state etl.State) error {
	encoded, err := encodeState(state)
	if err != nil {
		return err
	}
	item := itemKey(StateTable, jobID)
	item["state"] = &types.AttributeValueMemberS{Value: encoded}
	_, err = d.client.PutItem(ctx, &sdk.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

func (d *dynamoDestination) LoadState(ctx context.Context, jobID string) (etl.State, error) {
	out, err := d.client.GetItem(ctx, &sdk.GetItemInput{
		TableName: aws.String(d.tableName),
		Key:       itemKey(StateTable, jobID),
	})
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}
	var doc struct {
		State string `dynamodbav:"state"`
	}
	if err := attributevalue.UnmarshalMap(out.Item, &doc); err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	return decodeState(doc.State)
}

func (d *dynamoDestination) ResetState(ctx context.Context, jobID string) error {
	_, err := d.client.DeleteItem(ctx, &sdk.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key:       itemKey(StateTable, jobID),
	})
	if err != nil {
		return fmt.Errorf("reset state: %w", err)
	}
	return nil
}

func (d *dynamoDestination) Close() error { return nil }

func itemKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamoPK: &types.AttributeValueMemberS{Value: pk},
		dynamoSK: &types.AttributeValueMemberS{Value: sk},
	}
}
