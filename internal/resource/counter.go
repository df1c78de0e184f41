// Package resource counts tenant-owned records against plan limits.
package resource

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/smallbiznis/schoolhub/internal/plan/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var ErrUnknownKind = errors.New("unknown_resource_kind")

// Counter reports how many records of kind a tenant currently owns.
type Counter interface {
	Count(ctx context.Context, tenantID snowflake.ID, kind plandomain.ResourceKind) (int64, error)
}

var Module = fx.Module("resource.counter",
	fx.Provide(func(db *gorm.DB) Counter { return NewTableCounter(db, DefaultTables()) }),
)

// DefaultTables maps each resource kind to the table holding its rows.
func DefaultTables() map[plandomain.ResourceKind]string {
	return map[plandomain.ResourceKind]string{
		plandomain.ResourcePupils:   "pupils",
		plandomain.ResourceTeachers: "teachers",
		plandomain.ResourceClasses:  "classes",
		plandomain.ResourceParents:  "parents",
	}
}

// TableCounter counts rows by tenant_id. Tables are owned by the CRUD
// services; this package only reads them.
type TableCounter struct {
	db     *gorm.DB
	tables map[plandomain.ResourceKind]string
}

func NewTableCounter(db *gorm.DB, tables map[plandomain.ResourceKind]string) *TableCounter {
	copied := make(map[plandomain.ResourceKind]string, len(tables))
	for kind, table := range tables {
		copied[kind] = table
	}
	return &TableCounter{db: db, tables: copied}
}

func (c *TableCounter) Count(ctx context.Context, tenantID snowflake.ID, kind plandomain.ResourceKind) (int64, error) {
	table, ok := c.tables[kind]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	var count int64
	err := c.db.WithContext(ctx).Table(table).Where("tenant_id = ?", tenantID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", kind, err)
	}
	return count, nil
}

// StaticCounter returns fixed counts, for callers that track counts elsewhere.
type StaticCounter map[plandomain.ResourceKind]int64

func (s StaticCounter) Count(_ context.Context, _ snowflake.ID, kind plandomain.ResourceKind) (int64, error) {
	return s[kind], nil
}
