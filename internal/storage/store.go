package storage

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// SQLiteStore persists rules and alert instances in SQLite
type SQLiteStore struct {
	logger *zap.Logger
	db     *sql.DB

	// serializes read-modify-write updates of action_results
	resultsMu sync.Mutex
}

// NewSQLiteStore opens (or creates) the database at dbPath. ":memory:" is
// accepted for tests.
func NewSQLiteStore(logger *zap.Logger, dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory: shared
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{
		logger: logger.Named("storage"),
		db:     db,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLiteStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS rules (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			enabled INTEGER NOT NULL DEFAULT 1,
			priority TEXT NOT NULL,
			conditions TEXT NOT NULL,
			condition_logic TEXT NOT NULL,
			actions TEXT NOT NULL,
			cooldown_period INTEGER,
			max_occurrences INTEGER,
			schedule TEXT,
			tags TEXT,
			last_triggered_at DATETIME,
			trigger_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_rules_tenant_id ON rules(tenant_id);
		CREATE INDEX IF NOT EXISTS idx_rules_enabled ON rules(enabled);

		CREATE TABLE IF NOT EXISTS alert_instances (
			id TEXT PRIMARY KEY,
			rule_id TEXT NOT NULL,
			rule_name TEXT,
			tenant_id TEXT NOT NULL,
			triggered_at DATETIME NOT NULL,
			severity TEXT NOT NULL,
			status TEXT NOT NULL,
			trigger_data TEXT,
			action_results TEXT NOT NULL DEFAULT '[]',
			acknowledged_at DATETIME,
			acknowledged_by TEXT,
			acknowledgment_note TEXT,
			resolved_at DATETIME,
			resolved_by TEXT,
			resolution_note TEXT,
			suppressed_at DATETIME,
			suppressed_by TEXT,
			suppression_note TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_alert_instances_tenant_id ON alert_instances(tenant_id);
		CREATE INDEX IF NOT EXISTS idx_alert_instances_rule_id ON alert_instances(rule_id);
		CREATE INDEX IF NOT EXISTS idx_alert_instances_status ON alert_instances(status);
		CREATE INDEX IF NOT EXISTS idx_alert_instances_triggered_at ON alert_instances(triggered_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// DB exposes the connection for the database data source
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Ping checks the database connection
func (s *SQLiteStore) Ping() error {
	return s.db.Ping()
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
