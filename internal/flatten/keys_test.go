package flatten

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDKeys(t *testing.T) {
	a, b := UUIDKeys.NewKey(), UUIDKeys.NewKey()
	assert.NotEqual(t, a, b)
	require.True(t, strings.HasPrefix(a, SyntheticPrefix))

	_, err := uuid.Parse(strings.TrimPrefix(a, SyntheticPrefix))
	assert.NoError(t, err)
}

func TestSeededKeys(t *testing.T) {
	g1, g2, g3 := SeededKeys(42), SeededKeys(42), SeededKeys(43)
	for i := 0; i < 5; i++ {
		k1, k2, k3 := g1.NewKey(), g2.NewKey(), g3.NewKey()
		assert.Equal(t, k1, k2)
		assert.NotEqual(t, k1, k3)
		assert.True(t, IsSynthetic(k1))
	}
}

func TestIsSynthetic(t *testing.T) {
	assert.True(t, IsSynthetic("gen-abc"))
	assert.False(t, IsSynthetic("abc"))
	assert.False(t, IsSynthetic(nil))
	assert.False(t, IsSynthetic(12))
}

func TestKeyFunc(t *testing.T) {
	n := 0
	g := KeyFunc(func() string { n++; return "k" })
	assert.Equal(t, "k", g.NewKey())
	assert.Equal(t, 1, n)
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	assert.Equal(t, "guid", c.PrimaryKey("orders"))
	assert.Equal(t, "orders_guid", c.ForeignKey("orders", Relationship{Field: "checks"}))
	assert.Equal(t, "x", c.ForeignKey("orders", Relationship{ForeignKey: "x"}))

	cl := c.clone()
	assert.Equal(t, DefaultMaxDepth, cl.MaxDepth)
	assert.Equal(t, DefaultNoPrefix, cl.NoPrefix)

	c.PrimaryKeys = map[string]string{"time_entry": "id"}
	assert.Equal(t, "id", c.PrimaryKey("time_entry"))
}

func TestConfigTables(t *testing.T) {
	got := orderConfig().Tables()
	assert.Equal(t, []string{
		"orders",
		"orders_check",
		"orders_check_applied_service_charge",
		"orders_check_selection",
		"orders_check_selection_applied_tax",
	}, got)
}

func TestShapeErrorMessage(t *testing.T) {
	err := &ShapeError{Table: "orders", Field: "checks", Key: "o1", Want: "list", Got: KindScalar}
	assert.Equal(t, `table "orders" field "checks" (record o1): expected list, got scalar`, err.Error())
	assert.ErrorIs(t, err, ErrShape)
	assert.NotErrorIs(t, err, ErrMaxDepth)
}
