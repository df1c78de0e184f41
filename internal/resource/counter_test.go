package resource

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/smallbiznis/schoolhub/internal/plan/domain"
	"github.com/smallbiznis/schoolhub/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableCounterCountsPerTenant(t *testing.T) {
	db := testutil.OpenDB(t)
	for i, tenant := range []int64{1, 1, 1, 2} {
		require.NoError(t, db.Exec(`INSERT INTO pupils (id, tenant_id, name) VALUES (?, ?, ?)`, i+1, tenant, "pupil").Error)
	}

	counter := NewTableCounter(db, DefaultTables())
	ctx := context.Background()

	count, err := counter.Count(ctx, snowflake.ID(1), plandomain.ResourcePupils)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	count, err = counter.Count(ctx, snowflake.ID(3), plandomain.ResourcePupils)
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = counter.Count(ctx, snowflake.ID(1), plandomain.ResourceKind("buses"))
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = counter.Count(ctx, snowflake.ID(1), plandomain.ResourceTeachers)
	assert.Error(t, err, "teachers table is absent from the test schema")
}

func TestStaticCounter(t *testing.T) {
	counter := StaticCounter{plandomain.ResourcePupils: 100}
	count, err := counter.Count(context.Background(), 1, plandomain.ResourcePupils)
	require.NoError(t, err)
	assert.Equal(t, int64(100), count)
}
