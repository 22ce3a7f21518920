package store

import (
	"context"
	"fmt"
	"time"
)

// HealthLog is a single logged health metric reading.
type HealthLog struct {
	ID        int64
	Metric    string
	Value     float64
	Notes     string
	Timestamp time.Time
}

// HealthAggregate is one day's worth of aggregated readings for a metric, as
// returned by AggregateHealthByDate.
type HealthAggregate struct {
	Date  string // YYYY-MM-DD
	Avg   float64
	Min   float64
	Max   float64
	Count int
}

// LogHealth inserts a health log row. If ts is the zero time, the current
// time is used. Range and category validation is the tool layer's
// responsibility, not the Store's (spec.md §4.1/§4.2).
func (s *Store) LogHealth(ctx context.Context, metric string, value float64, notes string, ts time.Time) (int64, error) {
	res, err := s.exec(ctx,
		`INSERT INTO health_logs (metric, value, notes, timestamp) VALUES (?, ?, ?, ?)`,
		metric, value, notes, withTimestamp(ts))
	if err != nil {
		return 0, fmt.Errorf("store: log health: %w", ErrStorage)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: log health id: %w", ErrStorage)
	}
	return id, nil
}

// QueryHealth returns health log rows, optionally filtered by metric and by
// a [from, to) time range. Either time bound may be the zero Time to leave it
// open. Rows are ordered by timestamp ascending unless orderDesc is true.
func (s *Store) QueryHealth(ctx context.Context, metric string, from, to time.Time, orderDesc bool) ([]HealthLog, error) {
	query := `SELECT id, metric, value, notes, timestamp FROM health_logs WHERE 1=1`
	var args []any
	if metric != "" {
		query += ` AND metric = ?`
		args = append(args, metric)
	}
	if !from.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		query += ` AND timestamp < ?`
		args = append(args, to.UTC())
	}
	if orderDesc {
		query += ` ORDER BY timestamp DESC`
	} else {
		query += ` ORDER BY timestamp ASC`
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query health: %w", ErrStorage)
	}
	defer rows.Close()

	var out []HealthLog
	for rows.Next() {
		var h HealthLog
		if err := rows.Scan(&h.ID, &h.Metric, &h.Value, &h.Notes, &h.Timestamp); err != nil {
			return nil, fmt.Errorf("store: scan health log: %w", ErrStorage)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: query health rows: %w", ErrStorage)
	}
	return out, nil
}

// AggregateHealthByDate groups metric readings in [from, to) by calendar
// date (UTC) and returns per-day average, min, max, and count.
func (s *Store) AggregateHealthByDate(ctx context.Context, metric string, from, to time.Time) ([]HealthAggregate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date(timestamp) AS d, AVG(value), MIN(value), MAX(value), COUNT(*)
		FROM health_logs
		WHERE metric = ? AND timestamp >= ? AND timestamp < ?
		GROUP BY d
		ORDER BY d ASC
	`, metric, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("store: aggregate health: %w", ErrStorage)
	}
	defer rows.Close()

	var out []HealthAggregate
	for rows.Next() {
		var a HealthAggregate
		if err := rows.Scan(&a.Date, &a.Avg, &a.Min, &a.Max, &a.Count); err != nil {
			return nil, fmt.Errorf("store: scan health aggregate: %w", ErrStorage)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: aggregate health rows: %w", ErrStorage)
	}
	return out, nil
}
