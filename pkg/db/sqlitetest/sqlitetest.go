// Package sqlitetest opens an in-memory sqlite database carrying the escrow
// schema, for repository and scenario tests.
package sqlitetest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  buyer_id TEXT NOT NULL,
  seller_id TEXT NOT NULL,
  gig_id TEXT NOT NULL,
  price NUMERIC NOT NULL,
  platform_fee_rate NUMERIC NOT NULL DEFAULT 0,
  platform_fee NUMERIC NOT NULL DEFAULT 0,
  vat_amount NUMERIC NOT NULL DEFAULT 0,
  vat_rate NUMERIC NOT NULL DEFAULT 0,
  total_amount NUMERIC NOT NULL,
  seller_net_payout NUMERIC NOT NULL DEFAULT 0,
  currency TEXT NOT NULL,
  payment_intent_id TEXT,
  payment_status TEXT NOT NULL,
  payment_milestone_stage TEXT NOT NULL,
  escrow_status TEXT NOT NULL,
  authorized_amount NUMERIC NOT NULL DEFAULT 0,
  escrow_amount NUMERIC NOT NULL DEFAULT 0,
  delivery_amount NUMERIC NOT NULL DEFAULT 0,
  review_amount NUMERIC NOT NULL DEFAULT 0,
  total_released_amount NUMERIC NOT NULL DEFAULT 0,
  pending_release_amount NUMERIC NOT NULL DEFAULT 0,
  status TEXT NOT NULL,
  progress INTEGER NOT NULL DEFAULT 0,
  requirements TEXT,
  delivery_date DATETIME,
  is_completed BOOLEAN NOT NULL DEFAULT 0,
  funds_released_at DATETIME,
  cancelled_at DATETIME,
  delivered_at DATETIME,
  version INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_orders_payment_intent_id ON orders (payment_intent_id) WHERE payment_intent_id IS NOT NULL;`,
	`CREATE TABLE IF NOT EXISTS order_status_history (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  from_status TEXT NOT NULL,
  to_status TEXT NOT NULL,
  "trigger" TEXT NOT NULL,
  actor_role TEXT NOT NULL,
  actor_id TEXT,
  created_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS order_timeline (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  event TEXT NOT NULL,
  message TEXT NOT NULL,
  attachments TEXT,
  created_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS payment_milestones (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  stage TEXT NOT NULL,
  percentage_of_total NUMERIC NOT NULL,
  amount NUMERIC NOT NULL,
  seller_net_amount NUMERIC NOT NULL DEFAULT 0,
  currency TEXT NOT NULL,
  stripe_payment_intent_id TEXT NOT NULL,
  idempotency_key TEXT NOT NULL,
  payment_status TEXT NOT NULL,
  provider_reference TEXT,
  captured_at DATETIME,
  failed_at DATETIME,
  refunded_at DATETIME,
  failure_reason TEXT,
  triggered_by_role TEXT NOT NULL,
  triggered_by_action TEXT NOT NULL,
  created_at DATETIME
);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_payment_milestones_captured ON payment_milestones (order_id, stage) WHERE payment_status = 'captured';`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_payment_milestones_refunded ON payment_milestones (order_id, stage) WHERE payment_status = 'refunded';`,
	`CREATE TABLE IF NOT EXISTS seller_revenues (
  seller_id TEXT PRIMARY KEY,
  total NUMERIC NOT NULL DEFAULT 0,
  pending NUMERIC NOT NULL DEFAULT 0,
  available NUMERIC NOT NULL DEFAULT 0,
  withdrawn NUMERIC NOT NULL DEFAULT 0,
  currency TEXT NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS revenue_entries (
  id TEXT PRIMARY KEY,
  seller_id TEXT NOT NULL,
  order_id TEXT,
  entry_type TEXT NOT NULL,
  amount NUMERIC NOT NULL,
  reference TEXT NOT NULL UNIQUE,
  created_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS webhook_events (
  id TEXT PRIMARY KEY,
  provider TEXT NOT NULL,
  provider_event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  payload TEXT NOT NULL,
  status TEXT NOT NULL,
  attempts INTEGER NOT NULL DEFAULT 0,
  processing_error TEXT,
  received_at DATETIME NOT NULL,
  processed_at DATETIME,
  UNIQUE (provider, provider_event_id)
);`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
	`CREATE TABLE IF NOT EXISTS outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json TEXT NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL,
  name TEXT NOT NULL,
  role TEXT NOT NULL,
  country TEXT,
  created_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS gigs (
  id TEXT PRIMARY KEY,
  seller_id TEXT NOT NULL,
  title TEXT NOT NULL,
  price NUMERIC NOT NULL,
  currency TEXT NOT NULL,
  delivery_days INTEGER NOT NULL,
  created_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS vat_rates (
  country TEXT PRIMARY KEY,
  rate NUMERIC NOT NULL,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS notifications (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  type TEXT NOT NULL,
  title TEXT NOT NULL,
  message TEXT NOT NULL,
  link TEXT,
  read_at DATETIME,
  created_at DATETIME
);`,
}

// Open returns a fresh database private to the calling test. The pool holds a
// single connection: code under test that queries outside its open
// transaction deadlocks instead of passing by accident.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		require.NoError(t, conn.Exec(stmt).Error)
	}
	return conn
}
