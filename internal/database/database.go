package database

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"ticker-alarm-bot/internal/types"
)

// Store is everything the bot persists: alarms, the ticker query log and
// counter values carried across restarts.
type Store interface {
	InsertAlarm(ctx context.Context, alarm types.Alarm) error
	MarkRetired(ctx context.Context, id string, reason types.Reason) error
	ListActive(ctx context.Context, ownerID int64) ([]types.Alarm, error)
	ListAllActive(ctx context.Context) ([]types.Alarm, error)

	InsertTickerQuery(ctx context.Context, ownerID int64, ticker string, found bool) error

	SaveMetric(ctx context.Context, metricName, labelKey, labelValue string, value float64) error
	GetMetric(ctx context.Context, metricName string) (float64, error)
	GetMetricsWithLabels(ctx context.Context, metricName string) (map[string]map[string]float64, error)

	Close() error
}

// Open connects to the configured driver: "sqlite" (dsn is a file path) or
// "postgres" (dsn is a connection string).
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch strings.ToLower(driver) {
	case "", "sqlite":
		return NewSQLiteStore(dsn)
	case "postgres", "postgresql":
		return NewPostgresStore(ctx, dsn)
	}
	return nil, errors.Errorf("unknown database driver %q, expected 'sqlite' or 'postgres'", driver)
}

// SQLiteStore is the default Store.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS alarms (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	alarm_id TEXT NOT NULL,
	owner_id INTEGER NOT NULL,
	ticker TEXT NOT NULL,
	condition TEXT NOT NULL,
	target REAL NOT NULL,
	alarm_type TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	modification TEXT DEFAULT NULL,
	modified_at INTEGER DEFAULT NULL
);
CREATE INDEX IF NOT EXISTS alarms_active_idx ON alarms (active, owner_id);
CREATE INDEX IF NOT EXISTS alarms_alarm_id_idx ON alarms (alarm_id);

CREATE TABLE IF NOT EXISTS ticker_queries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	owner_id INTEGER NOT NULL,
	ticker TEXT NOT NULL,
	found INTEGER NOT NULL,
	queried_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS metrics (
	metric_name TEXT NOT NULL,
	label_key TEXT NOT NULL DEFAULT '',
	label_value TEXT NOT NULL DEFAULT '',
	metric_value REAL NOT NULL,
	PRIMARY KEY (metric_name, label_key, label_value)
);`

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "failed to create database directory %s", dir)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create tables")
	}

	log.Infof("Database initialized successfully: %s", dbPath)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
