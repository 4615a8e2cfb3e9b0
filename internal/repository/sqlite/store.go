package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Store wraps a pooled sqlx.DB connection to the SQLite database holding the
// four aggregate collections. Each collection is its own table keyed by id;
// the child tables carry one index on their owner-reference column.
type Store struct {
	db *sqlx.DB
}

// Open constructs a Store backed by the SQLite database at the provided
// path. The schema is migrated on first use.
func Open(path string) (*Store, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		cfg.Path = trimmed
	}
	return OpenWithConfig(cfg)
}

// OpenWithConfig constructs a Store using the provided configuration.
func OpenWithConfig(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path required")
	}
	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve sqlite path: %w", err)
	}
	busy := int(cfg.BusyTimeout / time.Millisecond)
	if busy <= 0 {
		busy = 5000
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", abs, busy)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.BusyTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite store not initialised")
	}
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	for i, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute schema statement %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}

// The child tables deliberately declare no foreign keys: owner references
// are soft, validated only by the component delete guard. Each owner index
// pairs the owner column with the row id so children of a parent come back
// in a stable order.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS threat_models (
                id TEXT PRIMARY KEY
        );`,
	`CREATE TABLE IF NOT EXISTS diagrams (
                id TEXT PRIMARY KEY,
                threat_model_id TEXT NOT NULL,
                image_ref TEXT NOT NULL,
                user_description TEXT NOT NULL DEFAULT '',
                diagram_description TEXT NOT NULL DEFAULT '',
                status TEXT NOT NULL DEFAULT 'NA'
        );`,
	`CREATE TABLE IF NOT EXISTS components (
                id TEXT PRIMARY KEY,
                diagram_id TEXT NOT NULL,
                component_type TEXT NOT NULL,
                name TEXT NOT NULL,
                description TEXT NOT NULL DEFAULT ''
        );`,
	`CREATE TABLE IF NOT EXISTS threats (
                id TEXT PRIMARY KEY,
                component_id TEXT NOT NULL,
                name TEXT NOT NULL,
                stride_type TEXT NOT NULL,
                description TEXT NOT NULL DEFAULT '',
                damage INTEGER NOT NULL,
                reproducibility INTEGER NOT NULL,
                exploitability INTEGER NOT NULL,
                affected_users INTEGER NOT NULL,
                discoverability INTEGER NOT NULL,
                action TEXT NOT NULL DEFAULT 'Mitigate',
                reason TEXT NOT NULL DEFAULT ''
        );`,
	`CREATE INDEX IF NOT EXISTS idx_diagrams_by_threat_model ON diagrams(threat_model_id, id);`,
	`CREATE INDEX IF NOT EXISTS idx_components_by_diagram ON components(diagram_id, id);`,
	`CREATE INDEX IF NOT EXISTS idx_threats_by_component ON threats(component_id, id);`,
}
