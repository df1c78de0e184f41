package tenantctx

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
)

func TestTenantID(t *testing.T) {
	_, ok := TenantID(context.Background())
	assert.False(t, ok)

	ctx := WithTenantID(context.Background(), snowflake.ID(42))
	id, ok := TenantID(ctx)
	assert.True(t, ok)
	assert.Equal(t, snowflake.ID(42), id)

	_, ok = TenantID(WithTenantID(context.Background(), 0))
	assert.False(t, ok)
}

func TestCaller(t *testing.T) {
	_, ok := CallerFrom(context.Background())
	assert.False(t, ok)

	ctx := WithCaller(context.Background(), Caller{Subject: "user-1", Role: "admin"})
	caller, ok := CallerFrom(ctx)
	assert.True(t, ok)
	assert.Equal(t, "admin", caller.Role)
}
