package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"ticker-alarm-bot/internal/types"
)

// InsertAlarm saves a newly registered alarm as active.
func (s *SQLiteStore) InsertAlarm(ctx context.Context, a types.Alarm) error {
	query := `
	INSERT INTO alarms (alarm_id, owner_id, ticker, condition, target, alarm_type, description, created_at, active)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1);`

	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.OwnerID, a.Ticker, a.Condition.String(), a.Target, a.Repeat.String(), a.Description, a.CreatedAt.UnixNano())
	if err != nil {
		return errors.Wrapf(err, "failed to insert alarm %s", a.ID)
	}

	log.Debugf("Alarm inserted: %s, owner: %d, ticker: %s", a.ID, a.OwnerID, a.Ticker)
	return nil
}

// MarkRetired deactivates the active record for id; inactive records are left untouched.
func (s *SQLiteStore) MarkRetired(ctx context.Context, id string, reason types.Reason) error {
	query := `
	UPDATE alarms SET active = 0, modification = ?, modified_at = ?
	WHERE alarm_id = ? AND active = 1;`

	res, err := s.db.ExecContext(ctx, query, reason.String(), time.Now().UnixNano(), id)
	if err != nil {
		return errors.Wrapf(err, "failed to retire alarm %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		log.Debugf("Alarm %s had no active record to retire", id)
	}
	return nil
}

// ListActive fetches the active alarms of one owner in creation order.
func (s *SQLiteStore) ListActive(ctx context.Context, ownerID int64) ([]types.Alarm, error) {
	query := `
	SELECT alarm_id, owner_id, ticker, condition, target, alarm_type, description, created_at
	FROM alarms WHERE active = 1 AND owner_id = ? ORDER BY id;`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query alarms for owner %d", ownerID)
	}
	return scanSQLiteAlarms(rows)
}

// ListAllActive fetches every active alarm in creation order.
func (s *SQLiteStore) ListAllActive(ctx context.Context) ([]types.Alarm, error) {
	query := `
	SELECT alarm_id, owner_id, ticker, condition, target, alarm_type, description, created_at
	FROM alarms WHERE active = 1 ORDER BY id;`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query alarms")
	}
	return scanSQLiteAlarms(rows)
}

func scanSQLiteAlarms(rows *sql.Rows) ([]types.Alarm, error) {
	defer rows.Close()

	var alarms []types.Alarm
	for rows.Next() {
		var (
			r         alarmRow
			createdAt int64
		)
		if err := rows.Scan(&r.id, &r.ownerID, &r.ticker, &r.condition, &r.target, &r.repeat, &r.description, &createdAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		r.createdAt = time.Unix(0, createdAt).UTC()

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

// alarmRow is the column layout shared by both drivers.
type alarmRow struct {
	id          string
	ownerID     int64
	ticker      string
	condition   string
	target      float64
	repeat      string
	description string
	createdAt   time.Time
}

func (r alarmRow) toAlarm() (types.Alarm, error) {
	condition, err := types.ParseCondition(r.condition)
	if err != nil {
		return types.Alarm{}, errors.Wrapf(err, "stored alarm %s", r.id)
	}
	repeat, err := types.ParseRepeatPolicy(r.repeat)
	if err != nil {
		return types.Alarm{}, errors.Wrapf(err, "stored alarm %s", r.id)
	}

	return types.Alarm{
		ID:          r.id,
		OwnerID:     r.ownerID,
		Ticker:      r.ticker,
		Condition:   condition,
		Target:      r.target,
		Repeat:      repeat,
		Description: r.description,
		CreatedAt:   r.createdAt,
	}, nil
}
