// Package contextbuilder produces the short recent-activity paragraph that
// is folded into the LLM system prompt each turn, so the assistant has
// ambient awareness of the user's recent health and spending without the
// LLM having to call a tool for it.
package contextbuilder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/bridge/internal/store"
)

// metricOrder is the fixed order metrics appear in the composed summary,
// regardless of the order rows were logged in.
var metricOrder = []string{"sleep_hours", "steps", "heart_rate", "mood", "weight", "water", "exercise_minutes"}

// Builder composes the recent-activity summary from the durable store. It
// has no side effects — Build only reads.
type Builder struct {
	store  *store.Store
	logger *slog.Logger
}

// New returns a Builder reading from s.
func New(s *store.Store, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{store: s, logger: logger}
}

// Build returns a single short paragraph summarizing health metrics logged
// in the trailing `days` days, e.g.
// "Recent health (7d): sleep 6.2h avg; steps 8500 avg; mood good". Returns
// an empty string if no health rows exist in the window.
func (b *Builder) Build(ctx context.Context, days int) (string, error) {
	if days <= 0 {
		days = 7
	}
	to := time.Now().UTC()
	from := to.Add(-time.Duration(days) * 24 * time.Hour)

	rows, err := b.store.QueryHealth(ctx, "", from, to, false)
	if err != nil {
		return "", fmt.Errorf("contextbuilder: query health: %w", err)
	}
	if len(rows) == 0 {
		return "", nil
	}

	byMetric := make(map[string][]store.HealthLog, len(metricOrder))
	for _, r := range rows {
		byMetric[r.Metric] = append(byMetric[r.Metric], r)
	}

	var parts []string
	for _, metric := range metricOrder {
		logs, ok := byMetric[metric]
		if !ok || len(logs) == 0 {
			continue
		}
		parts = append(parts, summarizeMetric(metric, logs))
	}
	if len(parts) == 0 {
		return "", nil
	}

	return fmt.Sprintf("Recent health (%dd): %s", days, strings.Join(parts, "; ")), nil
}

// summarizeMetric renders one metric's clause. Categorical metrics (mood)
// report the most recent reading's word instead of an average.
func summarizeMetric(metric string, logs []store.HealthLog) string {
	if metric == "mood" {
		latest := logs[len(logs)-1]
		word := latest.Notes
		if word == "" {
			word = "unknown"
		}
		return "mood " + word
	}

	var sum float64
	for _, l := range logs {
		sum += l.Value
	}
	avg := sum / float64(len(logs))

	switch metric {
	case "sleep_hours":
		return fmt.Sprintf("sleep %.1fh avg", avg)
	case "steps":
		return fmt.Sprintf("steps %.0f avg", avg)
	case "heart_rate":
		return fmt.Sprintf("heart rate %.0f bpm avg", avg)
	case "weight":
		return fmt.Sprintf("weight %.1f lbs avg", avg)
	case "water":
		return fmt.Sprintf("water %.1f cups avg", avg)
	case "exercise_minutes":
		return fmt.Sprintf("exercise %.0f min avg", avg)
	default:
		return fmt.Sprintf("%s %.1f avg", metric, avg)
	}
}
