package destinations

import (
	"context"
	"testing"

	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingest/internal/etl"
)

type fakeDynamo struct {
	items map[string]map[string]types.AttributeValue
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func fakeKey(item map[string]types.AttributeValue) string {
	pk := item[dynamoPK].(*types.AttributeValueMemberS).Value
	sk := item[dynamoSK].(*types.AttributeValueMemberS).Value
	return pk + "|" + sk
}

func (f *fakeDynamo) PutItem(_ context.Context, in *sdk.PutItemInput, _ ...func(*sdk.Options)) (*sdk.PutItemOutput, error) {
	f.items[fakeKey(in.Item)] = in.Item
	return &sdk.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *sdk.DeleteItemInput, _ ...func(*sdk.Options)) (*sdk.DeleteItemOutput, error) {
	delete(f.items, fakeKey(in.Key))
	return &sdk.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *sdk.GetItemInput, _ ...func(*sdk.Options)) (*sdk.GetItemOutput, error) {
	return &sdk.GetItemOutput{Item: f.items[fakeKey(in.Key)]}, nil
}

func TestDynamoDestination(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	d := newDynamoWithClient(fake, "ingest")

	require.NoError(t, d.Declare(ctx, []etl.TableSchema{
		{Table: "orders_check_payment", PrimaryKey: []string{"orders_check_guid", "guid"}},
	}))
	require.NoError(t, d.Upsert(ctx, "orders_check_payment", map[string]any{"orders_check_guid": "c1", "guid": "p1", "amount": 3}))
	require.NoError(t, d.Upsert(ctx, "orders_check_payment", map[string]any{"orders_check_guid": "c1", "guid": "p1", "amount": 4}))

	item, ok := fake.items["orders_check_payment|c1#p1"]
	require.True(t, ok)
	assert.Len(t, fake.items, 1)
	assert.Equal(t, "4", item["amount"].(*types.AttributeValueMemberN).Value)

	require.NoError(t, d.Delete(ctx, "orders_check_payment", map[string]any{"orders_check_guid": "c1", "guid": "p1"}))
	assert.Empty(t, fake.items)

	require.NoError(t, d.Checkpoint(ctx, "job-1", etl.State{"to_ts": "2024-01-01T00:00:00.000Z"}))
	state, err := d.LoadState(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T00:00:00.000Z", state["to_ts"])

	state, err = d.LoadState(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, state)

	require.NoError(t, d.ResetState(ctx, "job-1"))
	state, err = d.LoadState(ctx, "job-1")
	require.NoError(t, err)
	assert.Nil(t, state)
}
