package store

import (
	"context"
	"fmt"
	"time"
)

// Expense is a single logged expense.
type Expense struct {
	ID          int64
	Amount      float64
	Category    string
	Description string
	Timestamp   time.Time
}

// CategoryTotal is one category's aggregated spending, as returned by
// SumExpensesByCategory and AverageExpensesByCategory.
type CategoryTotal struct {
	Category string
	Total    float64
	Avg      float64
	Count    int
}

// LogExpense inserts an expense row. If ts is the zero time, the current
// time is used. Amount/category validation is the tool layer's
// responsibility (spec.md §4.1/§4.2).
func (s *Store) LogExpense(ctx context.Context, amount float64, category, description string, ts time.Time) (int64, error) {
	res, err := s.exec(ctx,
		`INSERT INTO expenses (amount, category, description, timestamp) VALUES (?, ?, ?, ?)`,
		amount, category, description, withTimestamp(ts))
	if err != nil {
		return 0, fmt.Errorf("store: log expense: %w", ErrStorage)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: log expense id: %w", ErrStorage)
	}
	return id, nil
}

// QueryExpenses returns expense rows in [from, to), optionally filtered by
// category. Either time bound may be the zero Time to leave it open. Rows
// are ordered by timestamp descending (most recent first).
func (s *Store) QueryExpenses(ctx context.Context, category string, from, to time.Time) ([]Expense, error) {
	query := `SELECT id, amount, category, description, timestamp FROM expenses WHERE 1=1`
	var args []any
	if category != "" {
		query += ` AND category = ?`
		args = append(args, category)
	}
	if !from.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		query += ` AND timestamp < ?`
		args = append(args, to.UTC())
	}
	query += ` ORDER BY timestamp DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query expenses: %w", ErrStorage)
	}
	defer rows.Close()

	var out []Expense
	for rows.Next() {
		var e Expense
		if err := rows.Scan(&e.ID, &e.Amount, &e.Category, &e.Description, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("store: scan expense: %w", ErrStorage)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: query expense rows: %w", ErrStorage)
	}
	return out, nil
}

// SumExpensesByCategory groups expenses in [from, to) by category and
// returns totals ordered by total descending.
func (s *Store) SumExpensesByCategory(ctx context.Context, from, to time.Time) ([]CategoryTotal, error) {
	return s.aggregateExpenses(ctx, from, to, "total DESC")
}

// AverageExpensesByCategory groups expenses in [from, to) by category and
// returns per-category averages.
func (s *Store) AverageExpensesByCategory(ctx context.Context, from, to time.Time) ([]CategoryTotal, error) {
	return s.aggregateExpenses(ctx, from, to, "avg DESC")
}

func (s *Store) aggregateExpenses(ctx context.Context, from, to time.Time, orderBy string) ([]CategoryTotal, error) {
	query := `
		SELECT category, COALESCE(SUM(amount), 0), COALESCE(AVG(amount), 0), COUNT(*)
		FROM expenses
		WHERE 1=1`
	var args []any
	if !from.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		query += ` AND timestamp < ?`
		args = append(args, to.UTC())
	}
	query += ` GROUP BY category ORDER BY ` + orderBy

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: aggregate expenses: %w", ErrStorage)
	}
	defer rows.Close()

	var out []CategoryTotal
	for rows.Next() {
		var c CategoryTotal
		if err := rows.Scan(&c.Category, &c.Total, &c.Avg, &c.Count); err != nil {
			return nil, fmt.Errorf("store: scan category total: %w", ErrStorage)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: aggregate expense rows: %w", ErrStorage)
	}
	return out, nil
}
