package database

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// InsertTickerQuery logs a /price lookup.
func (s *SQLiteStore) InsertTickerQuery(ctx context.Context, ownerID int64, ticker string, found bool) error {
	query := `INSERT INTO ticker_queries (owner_id, ticker, found, queried_at) VALUES (?, ?, ?, ?);`

	_, err := s.db.ExecContext(ctx, query, ownerID, ticker, found, time.Now().UnixNano())
	if err != nil {
		return errors.Wrapf(err, "failed to insert query for ticker %s", ticker)
	}
	return nil
}
