package contextbuilder

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/bridge/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBuild_NoDataReturnsEmptyString(t *testing.T) {
	s := newTestStore(t)
	b := New(s, nil)

	got, err := b.Build(context.Background(), 7)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got != "" {
		t.Fatalf("got %q, want empty string", got)
	}
}

func TestBuild_AveragesNumericMetrics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	for _, v := range []float64{6, 8} {
		if _, err := s.LogHealth(ctx, "sleep_hours", v, "", now); err != nil {
			t.Fatalf("LogHealth: %v", err)
		}
	}

	b := New(s, nil)
	got, err := b.Build(ctx, 7)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(got, "sleep 7.0h avg") {
		t.Fatalf("got %q, want it to contain 'sleep 7.0h avg'", got)
	}
}

func TestBuild_MoodUsesMostRecentWord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	if _, err := s.LogHealth(ctx, "mood", 1, "stressed", now.Add(-time.Hour)); err != nil {
		t.Fatalf("LogHealth: %v", err)
	}
	if _, err := s.LogHealth(ctx, "mood", 5, "great", now); err != nil {
		t.Fatalf("LogHealth: %v", err)
	}

	b := New(s, nil)
	got, err := b.Build(ctx, 7)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(got, "mood great") {
		t.Fatalf("got %q, want it to contain 'mood great'", got)
	}
	if strings.Contains(got, "mood stressed") {
		t.Fatalf("got %q, want the older mood reading to be superseded", got)
	}
}

func TestBuild_PrefixIncludesDayWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.LogHealth(ctx, "steps", 8500, "", time.Now().UTC()); err != nil {
		t.Fatalf("LogHealth: %v", err)
	}

	b := New(s, nil)
	got, err := b.Build(ctx, 3)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.HasPrefix(got, "Recent health (3d): ") {
		t.Fatalf("got %q, want prefix 'Recent health (3d): '", got)
	}
}
