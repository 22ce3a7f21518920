package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:): %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_SchemaBootstrapIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.migrate(context.Background()); err != nil {
		t.Fatalf("second migrate call: %v", err)
	}
}

func TestLogHealth_DefaultsTimestamp(t *testing.T) {
	s := newTestStore(t)
	id, err := s.LogHealth(context.Background(), "sleep_hours", 7.5, "", time.Time{})
	if err != nil {
		t.Fatalf("LogHealth: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero id")
	}

	rows, err := s.QueryHealth(context.Background(), "sleep_hours", time.Time{}, time.Time{}, false)
	if err != nil {
		t.Fatalf("QueryHealth: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1", len(rows))
	}
	if rows[0].Timestamp.IsZero() {
		t.Fatal("timestamp was not defaulted")
	}
}

func TestAggregateHealthByDate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	for i, v := range []float64{6, 8, 7} {
		if _, err := s.LogHealth(ctx, "sleep_hours", v, "", base.Add(time.Duration(i)*24*time.Hour)); err != nil {
			t.Fatalf("LogHealth: %v", err)
		}
	}

	aggs, err := s.AggregateHealthByDate(ctx, "sleep_hours", base, base.Add(10*24*time.Hour))
	if err != nil {
		t.Fatalf("AggregateHealthByDate: %v", err)
	}
	if len(aggs) != 3 {
		t.Fatalf("len(aggs) = %d, want 3", len(aggs))
	}
}

func TestSumAndAverageExpensesByCategory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	entries := []struct {
		amount   float64
		category string
	}{
		{10, "food"}, {20, "food"}, {5, "transport"},
	}
	for _, e := range entries {
		if _, err := s.LogExpense(ctx, e.amount, e.category, "", time.Time{}); err != nil {
			t.Fatalf("LogExpense: %v", err)
		}
	}

	sums, err := s.SumExpensesByCategory(ctx, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("SumExpensesByCategory: %v", err)
	}
	if len(sums) != 2 {
		t.Fatalf("len(sums) = %d, want 2", len(sums))
	}
	if sums[0].Category != "food" || sums[0].Total != 30 {
		t.Fatalf("top category = %+v, want food/30", sums[0])
	}

	avgs, err := s.AverageExpensesByCategory(ctx, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("AverageExpensesByCategory: %v", err)
	}
	for _, a := range avgs {
		if a.Category == "food" && a.Avg != 15 {
			t.Fatalf("food avg = %v, want 15", a.Avg)
		}
	}
}

func TestStoreEmbedding_UnknownConversationIsIntegrityError(t *testing.T) {
	s := newTestStore(t)
	_, err := s.StoreEmbedding(context.Background(), 999, "text", []byte{1, 2, 3}, "")
	if !errors.Is(err, ErrIntegrity) {
		t.Fatalf("err = %v, want ErrIntegrity", err)
	}
}

func TestDeleteConversation_CascadesToEmbeddings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	convID, err := s.RecordConversation(ctx, "user", "hello", "", 0)
	if err != nil {
		t.Fatalf("RecordConversation: %v", err)
	}
	if _, err := s.StoreEmbedding(ctx, convID, "hello", []byte{1}, ""); err != nil {
		t.Fatalf("StoreEmbedding: %v", err)
	}

	otherConvID, err := s.RecordConversation(ctx, "user", "other", "", 0)
	if err != nil {
		t.Fatalf("RecordConversation: %v", err)
	}
	if _, err := s.StoreEmbedding(ctx, otherConvID, "other", []byte{2}, ""); err != nil {
		t.Fatalf("StoreEmbedding: %v", err)
	}

	if err := s.DeleteConversation(ctx, convID); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}

	embeddings, err := s.RetrieveEmbeddings(ctx, convID)
	if err != nil {
		t.Fatalf("RetrieveEmbeddings: %v", err)
	}
	if len(embeddings) != 0 {
		t.Fatalf("len(embeddings) = %d, want 0 after cascade delete", len(embeddings))
	}

	remaining, err := s.RetrieveEmbeddings(ctx, otherConvID)
	if err != nil {
		t.Fatalf("RetrieveEmbeddings(other): %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("len(remaining) = %d, want 1 (unrelated conversation untouched)", len(remaining))
	}
}

func TestTransaction_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	errBoom := errors.New("boom")

	err := s.Transaction(ctx, func(ctx context.Context, q Querier) error {
		if _, err := q.ExecContext(ctx, `INSERT INTO user_insights (insight, created_at) VALUES (?, ?)`, "a", time.Now()); err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, `INSERT INTO user_insights (insight, created_at) VALUES (?, ?)`, "b", time.Now()); err != nil {
			return err
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want errBoom", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM user_insights`).Scan(&count); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d, want 0 (transaction should have rolled back)", count)
	}
}
