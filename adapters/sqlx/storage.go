package sqlx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Driver selects the SQL dialect.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
	DriverSQLite   Driver = "sqlite"
)

// Config holds SQL connection configuration
type Config struct {
	Driver          Driver        `json:"driver" yaml:"driver" env:"REWARDSKIT_STORAGE_SQL_DRIVER"`
	DSN             string        `json:"dsn" yaml:"dsn" env:"REWARDSKIT_STORAGE_SQL_DSN"`
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns" env:"REWARDSKIT_STORAGE_SQL_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns" env:"REWARDSKIT_STORAGE_SQL_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime" env:"REWARDSKIT_STORAGE_SQL_CONN_MAX_LIFETIME"`
	AutoMigrate     bool          `json:"auto_migrate" yaml:"auto_migrate" env:"REWARDSKIT_STORAGE_SQL_AUTO_MIGRATE"`
}

// DefaultConfig returns sensible defaults for driver.
func DefaultConfig(driver Driver) Config {
	return Config{
		Driver:          driver,
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
		AutoMigrate:     true,
	}
}

// Validate checks the driver and DSN.
func (c Config) Validate() error {
	switch c.Driver {
	case DriverPostgres, DriverMySQL, DriverSQLite:
	default:
		return fmt.Errorf("unsupported sql driver %q", c.Driver)
	}
	if c.DSN == "" {
		return errors.New("dsn cannot be empty")
	}
	return nil
}

type dialect struct {
	create string
	get    string
	upsert string
	keys   string
}

var dialects = map[Driver]dialect{
	DriverPostgres: {
		create: `CREATE TABLE IF NOT EXISTS rewards_state (state_key TEXT PRIMARY KEY, snapshot TEXT NOT NULL, updated_at TIMESTAMPTZ NOT NULL)`,
		get:    `SELECT snapshot FROM rewards_state WHERE state_key = $1`,
		upsert: `INSERT INTO rewards_state (state_key, snapshot, updated_at) VALUES ($1, $2, $3)
			ON CONFLICT (state_key) DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = EXCLUDED.updated_at`,
		keys: `SELECT state_key FROM rewards_state ORDER BY state_key`,
	},
	DriverMySQL: {
		create: `CREATE TABLE IF NOT EXISTS rewards_state (state_key VARCHAR(255) PRIMARY KEY, snapshot LONGTEXT NOT NULL, updated_at DATETIME(3) NOT NULL)`,
		get:    `SELECT snapshot FROM rewards_state WHERE state_key = ?`,
		upsert: `INSERT INTO rewards_state (state_key, snapshot, updated_at) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE snapshot = VALUES(snapshot), updated_at = VALUES(updated_at)`,
		keys: `SELECT state_key FROM rewards_state ORDER BY state_key`,
	},
	DriverSQLite: {
		create: `CREATE TABLE IF NOT EXISTS rewards_state (state_key TEXT PRIMARY KEY, snapshot TEXT NOT NULL, updated_at TIMESTAMP NOT NULL)`,
		get:    `SELECT snapshot FROM rewards_state WHERE state_key = ?`,
		upsert: `INSERT INTO rewards_state (state_key, snapshot, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(state_key) DO UPDATE SET snapshot = excluded.snapshot, updated_at = excluded.updated_at`,
		keys: `SELECT state_key FROM rewards_state ORDER BY state_key`,
	},
}

// Store implements the engine.Storage interface over a single
// rewards_state(state_key, snapshot, updated_at) table.
type Store struct {
	db *sqlx.DB
	d  dialect
}

// New opens a connection pool and, when configured, creates the table.
func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := sqlx.Open(string(cfg.Driver), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}

	s := NewWithDB(db, cfg.Driver)
	if cfg.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewWithDB wraps an existing handle (useful for testing).
func NewWithDB(db *sqlx.DB, driver Driver) *Store {
	d, ok := dialects[driver]
	if !ok {
		d = dialects[DriverPostgres]
	}
	return &Store{db: db, d: d}
}

// Migrate creates the rewards_state table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.d.create); err != nil {
		return fmt.Errorf("failed to create rewards_state: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var snapshot string
	err := s.db.GetContext(ctx, &snapshot, s.d.get, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return snapshot, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx, s.d.upsert, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Keys lists stored keys, sorted.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	if err := s.db.SelectContext(ctx, &keys, s.d.keys); err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return keys, nil
}
