// Package testutil opens throwaway sqlite databases carrying the service schema.
package testutil

import (
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var schema = []string{
	`CREATE TABLE tenants (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		slug TEXT NOT NULL UNIQUE,
		subscription_status TEXT NOT NULL,
		plan_type TEXT NOT NULL,
		trial_ends_at DATETIME,
		subscription_expires_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE payment_orders (
		id INTEGER PRIMARY KEY,
		order_id TEXT NOT NULL UNIQUE,
		tracking_id TEXT UNIQUE,
		tenant_id INTEGER NOT NULL,
		plan_tier TEXT NOT NULL,
		billing_period TEXT NOT NULL,
		amount INTEGER NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		starts_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		payment_method TEXT,
		confirmation_code TEXT,
		gateway_payload TEXT,
		completed_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE api_keys (
		id INTEGER PRIMARY KEY,
		tenant_id INTEGER NOT NULL,
		key_id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		key_prefix TEXT NOT NULL,
		key_hash TEXT NOT NULL UNIQUE,
		permissions TEXT NOT NULL,
		rate_limit INTEGER NOT NULL,
		expires_at DATETIME,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		last_used_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE audit_logs (
		id INTEGER PRIMARY KEY,
		tenant_id INTEGER,
		actor_type TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT,
		metadata TEXT,
		ip_address TEXT,
		user_agent TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE pupils (
		id INTEGER PRIMARY KEY,
		tenant_id INTEGER NOT NULL,
		name TEXT NOT NULL
	)`,
}

// OpenDB returns an isolated in-memory database with the schema applied.
// A single connection is used so sqlite never reports a locked table.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return db
}
