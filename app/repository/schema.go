package repository

import (
	"context"
	"database/sql"
	"fmt"
)

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS payment_intents (
		id CHAR(36) NOT NULL PRIMARY KEY,
		external_id VARCHAR(128) NOT NULL,
		entity_type VARCHAR(32) NOT NULL,
		entity_id VARCHAR(64) NOT NULL,
		active_key VARCHAR(128) NULL,
		amount_cents BIGINT NOT NULL,
		currency CHAR(3) NOT NULL,
		payer_email VARCHAR(255) NOT NULL DEFAULT '',
		description VARCHAR(255) NOT NULL DEFAULT '',
		provider INT NOT NULL,
		provider_invoice_id VARCHAR(128) NULL,
		hosted_url VARCHAR(1024) NULL,
		expires_at DATETIME(6) NULL,
		status VARCHAR(16) NOT NULL,
		cause VARCHAR(64) NULL,
		attempts INT NOT NULL DEFAULT 0,
		created_at DATETIME(6) NOT NULL,
		last_transition_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_payment_intents_external_id (external_id),
		UNIQUE KEY uq_payment_intents_active_key (active_key),
		UNIQUE KEY uq_payment_intents_invoice (provider_invoice_id),
		KEY idx_payment_intents_entity (entity_type, entity_id, created_at),
		KEY idx_payment_intents_status_updated (status, updated_at)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS payment_intent_events (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		intent_id CHAR(36) NOT NULL,
		event_type VARCHAR(32) NOT NULL,
		source VARCHAR(16) NOT NULL,
		old_status VARCHAR(16) NULL,
		new_status VARCHAR(16) NOT NULL,
		cause VARCHAR(64) NULL,
		payload_json TEXT NULL,
		created_at DATETIME(6) NOT NULL,
		KEY idx_payment_intent_events_intent (intent_id, id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS payment_callbacks (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		intent_id CHAR(36) NULL,
		provider VARCHAR(32) NOT NULL,
		provider_invoice_id VARCHAR(128) NULL,
		provider_status VARCHAR(32) NOT NULL,
		payload_json MEDIUMTEXT NOT NULL,
		status INT NOT NULL,
		error VARCHAR(1024) NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		KEY idx_payment_callbacks_status (status, updated_at, id)
	) ENGINE=InnoDB`,
}

// The embedded database also carries minimal booking and subscription tables,
// which are owned by other services in a MySQL deployment.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS payment_intents (
		id TEXT PRIMARY KEY,
		external_id TEXT NOT NULL UNIQUE,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		active_key TEXT UNIQUE,
		amount_cents INTEGER NOT NULL,
		currency TEXT NOT NULL,
		payer_email TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		provider INTEGER NOT NULL,
		provider_invoice_id TEXT UNIQUE,
		hosted_url TEXT,
		expires_at DATETIME,
		status TEXT NOT NULL,
		cause TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		last_transition_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_intents_entity ON payment_intents (entity_type, entity_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_intents_status_updated ON payment_intents (status, updated_at)`,
	`CREATE TABLE IF NOT EXISTS payment_intent_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		intent_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		source TEXT NOT NULL,
		old_status TEXT,
		new_status TEXT NOT NULL,
		cause TEXT,
		payload_json TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS payment_callbacks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		intent_id TEXT,
		provider TEXT NOT NULL,
		provider_invoice_id TEXT,
		provider_status TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		status INTEGER NOT NULL,
		error TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_callbacks_status ON payment_callbacks (status, updated_at, id)`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		payment_status TEXT,
		payment_invoice_id TEXT,
		paid_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id TEXT PRIMARY KEY,
		payment_status TEXT,
		payment_invoice_id TEXT,
		paid_at DATETIME,
		updated_at DATETIME
	)`,
}

// EnsureSchema creates the service's tables when missing. driver is the
// database/sql driver name: "mysql" or "sqlite".
func EnsureSchema(ctx context.Context, db *sql.DB, driver string) error {
	var statements []string
	switch driver {
	case "mysql":
		statements = mysqlSchema
	case "sqlite":
		statements = sqliteSchema
	default:
		return fmt.Errorf("unsupported database driver %q", driver)
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
