package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"ticker-alarm-bot/internal/types"
)

// PostgresStore keeps the same tables as SQLiteStore in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS alarms (
	id BIGSERIAL PRIMARY KEY,
	alarm_id TEXT NOT NULL,
	owner_id BIGINT NOT NULL,
	ticker TEXT NOT NULL,
	condition TEXT NOT NULL,
	target DOUBLE PRECISION NOT NULL,
	alarm_type TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	modification TEXT,
	modified_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS alarms_active_idx ON alarms (active, owner_id);
CREATE INDEX IF NOT EXISTS alarms_alarm_id_idx ON alarms (alarm_id);

CREATE TABLE IF NOT EXISTS ticker_queries (
	id BIGSERIAL PRIMARY KEY,
	owner_id BIGINT NOT NULL,
	ticker TEXT NOT NULL,
	found BOOLEAN NOT NULL,
	queried_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS metrics (
	metric_name TEXT NOT NULL,
	label_key TEXT NOT NULL DEFAULT '',
	label_value TEXT NOT NULL DEFAULT '',
	metric_value DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (metric_name, label_key, label_value)
);`

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "failed to connect to database")
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "failed to create tables")
	}

	log.Info("Database initialized successfully: postgres")
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) InsertAlarm(ctx context.Context, a types.Alarm) error {
	query := `
	INSERT INTO alarms (alarm_id, owner_id, ticker, condition, target, alarm_type, description, created_at, active)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE);`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.OwnerID, a.Ticker, a.Condition.String(), a.Target, a.Repeat.String(), a.Description, a.CreatedAt)
	if err != nil {
		return errors.Wrapf(err, "failed to insert alarm %s", a.ID)
	}

	log.Debugf("Alarm inserted: %s, owner: %d, ticker: %s", a.ID, a.OwnerID, a.Ticker)
	return nil
}

func (s *PostgresStore) MarkRetired(ctx context.Context, id string, reason types.Reason) error {
	query := `
	UPDATE alarms SET active = FALSE, modification = $1, modified_at = $2
	WHERE alarm_id = $3 AND active;`

	tag, err := s.pool.Exec(ctx, query, reason.String(), time.Now(), id)
	if err != nil {
		return errors.Wrapf(err, "failed to retire alarm %s", id)
	}
	if tag.RowsAffected() == 0 {
		log.Debugf("Alarm %s had no active record to retire", id)
	}
	return nil
}

func (s *PostgresStore) ListActive(ctx context.Context, ownerID int64) ([]types.Alarm, error) {
	query := `
	SELECT alarm_id, owner_id, ticker, condition, target, alarm_type, description, created_at
	FROM alarms WHERE active AND owner_id = $1 ORDER BY id;`

	rows, err := s.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query alarms for owner %d", ownerID)
	}
	return scanPostgresAlarms(rows)
}

func (s *PostgresStore) ListAllActive(ctx context.Context) ([]types.Alarm, error) {
	query := `
	SELECT alarm_id, owner_id, ticker, condition, target, alarm_type, description, created_at
	FROM alarms WHERE active ORDER BY id;`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query alarms")
	}
	return scanPostgresAlarms(rows)
}

func scanPostgresAlarms(rows pgx.Rows) ([]types.Alarm, error) {
	defer rows.Close()

	var alarms []types.Alarm
	for rows.Next() {
		var r alarmRow
		if err := rows.Scan(&r.id, &r.ownerID, &r.ticker, &r.condition, &r.target, &r.repeat, &r.description, &r.createdAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		r.createdAt = r.createdAt.UTC()

		alarm, err := r.toAlarm()
		if err != nil {
			return nil, err
		}
		alarms = append(alarms, alarm)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read rows")
	}
	return alarms, nil
}

func (s *PostgresStore) InsertTickerQuery(ctx context.Context, ownerID int64, ticker string, found bool) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ticker_queries (owner_id, ticker, found, queried_at) VALUES ($1, $2, $3, $4);`,
		ownerID, ticker, found, time.Now())
	if err != nil {
		return errors.Wrapf(err, "failed to insert query for ticker %s", ticker)
	}
	return nil
}

func (s *PostgresStore) SaveMetric(ctx context.Context, metricName, labelKey, labelValue string, value float64) error {
	query := `
	INSERT INTO metrics (metric_name, label_key, label_value, metric_value)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (metric_name, label_key, label_value) DO UPDATE SET metric_value = EXCLUDED.metric_value;`
	if _, err := s.pool.Exec(ctx, query, metricName, labelKey, labelValue, value); err != nil {
		return errors.Wrap(err, "failed to save metric")
	}
	log.Debugf("Metric saved: %s[%s=%s] = %f", metricName, labelKey, labelValue, value)
	return nil
}

func (s *PostgresStore) GetMetric(ctx context.Context, metricName string) (float64, error) {
	var value float64
	err := s.pool.QueryRow(ctx,
		`SELECT metric_value FROM metrics WHERE metric_name = $1 AND label_key = '' AND label_value = '';`,
		metricName).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		log.Debugf("Metric %s not found in the database, defaulting to 0", metricName)
		return 0, nil
	} else if err != nil {
		return 0, errors.Wrapf(err, "failed to get metric %s", metricName)
	}
	return value, nil
}

func (s *PostgresStore) GetMetricsWithLabels(ctx context.Context, metricName string) (map[string]map[string]float64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT label_key, label_value, metric_value FROM metrics WHERE metric_name = $1 AND label_key != '';`,
		metricName)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query metrics with labels")
	}
	defer rows.Close()

	metrics := make(map[string]map[string]float64)
	for rows.Next() {
		var labelKey, labelValue string
		var value float64
		if err := rows.Scan(&labelKey, &labelValue, &value); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		addLabelled(metrics, labelKey, labelValue, value)
	}
	return metrics, errors.Wrap(rows.Err(), "failed to read rows")
}
