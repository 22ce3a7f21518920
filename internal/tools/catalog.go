package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/MrWong99/bridge/internal/store"
	"github.com/MrWong99/bridge/pkg/types"
)

// healthRanges defines the accepted [min, max] value range for each known
// health metric. mood is validated separately against a fixed enum.
var healthRanges = map[string][2]float64{
	"sleep_hours":      {3, 12},
	"steps":            {0, 20000},
	"heart_rate":       {40, 120},
	"weight":           {80, 400},
	"water":            {0, 20},
	"exercise_minutes": {0, 300},
}

var validMoods = map[string]bool{
	"great": true, "good": true, "okay": true, "tired": true, "stressed": true,
}

var validExpenseCategories = map[string]bool{
	"food": true, "transport": true, "shopping": true,
	"health": true, "entertainment": true, "utilities": true,
}

// Catalog builds the fixed nine-tool registry, wired against s.
func Catalog(s *store.Store) *Registry {
	return NewRegistry(
		logHealthTool(s),
		getHealthTodayTool(s),
		getHealthSummaryTool(s),
		trackExpenseTool(s),
		getSpendingTodayTool(s),
		getSpendingSummaryTool(s),
		getBudgetStatusTool(s),
		calculateSavingsGoalTool(),
		saveUserInsightTool(s),
	)
}

func dayBounds(now time.Time) (from, to time.Time) {
	y, m, d := now.UTC().Date()
	from = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return from, from.Add(24 * time.Hour)
}

// weekBounds returns the [Monday 00:00, next Monday 00:00) window containing
// now, so a row timestamped "now" always falls inside the range it returns.
func weekBounds(now time.Time) (from, to time.Time) {
	now = now.UTC()
	daysSinceMonday := (int(now.Weekday()) + 6) % 7
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	from = today.AddDate(0, 0, -daysSinceMonday)
	return from, from.AddDate(0, 0, 7)
}

// --- log_health ---

// moodScale maps the mood enum to a numeric scale (1 = stressed ... 5 =
// great) so it can be stored in the same REAL column as every other metric.
// The word itself is preserved in notes for display.
var moodScale = map[string]float64{
	"stressed": 1, "tired": 2, "okay": 3, "good": 4, "great": 5,
}

// allHealthMetrics names every metric log_health/get_health_summary know
// about, in catalog-table order.
var allHealthMetrics = []string{
	"sleep_hours", "steps", "heart_rate", "mood", "weight", "water", "exercise_minutes",
}

const healthDateLayout = "2006-01-02"

// logHealthArgs accepts any subset of the seven metrics in one call; a nil
// pointer means the caller omitted that field.
type logHealthArgs struct {
	SleepHours      *float64 `json:"sleep_hours"`
	Steps           *float64 `json:"steps"`
	HeartRate       *float64 `json:"heart_rate"`
	Mood            *string  `json:"mood"`
	Weight          *float64 `json:"weight"`
	Water           *float64 `json:"water"`
	ExerciseMinutes *float64 `json:"exercise_minutes"`
	Notes           string   `json:"notes"`
	Date            string   `json:"date"`
}

func logHealthTool(s *store.Store) Tool {
	return Tool{
		Definition: types.ToolDefinition{
			Name:        "log_health",
			Description: "Log one or more health metric readings in a single call: any subset of sleep_hours, steps, heart_rate, mood, weight, water, exercise_minutes.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"sleep_hours":      map[string]any{"type": "number", "description": "Hours slept, 3-12."},
					"steps":            map[string]any{"type": "integer", "description": "Step count, 0-20000."},
					"heart_rate":       map[string]any{"type": "integer", "description": "Resting heart rate in bpm, 40-120."},
					"mood":             map[string]any{"type": "string", "enum": []string{"great", "good", "okay", "tired", "stressed"}},
					"weight":           map[string]any{"type": "number", "description": "Weight in pounds, 80-400."},
					"water":            map[string]any{"type": "integer", "description": "Water intake in cups, 0-20."},
					"exercise_minutes": map[string]any{"type": "integer", "description": "Minutes exercised, 0-300."},
					"notes":            map[string]any{"type": "string"},
					"date":             map[string]any{"type": "string", "description": "Date the readings apply to, YYYY-MM-DD. Defaults to today."},
				},
			},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var a logHealthArgs
			if err := json.Unmarshal(raw, &a); err != nil {
				return nil, validationErrorf("could not parse arguments: %s", err)
			}

			ts, dateUsed, err := resolveHealthDate(a.Date)
			if err != nil {
				return nil, err
			}

			type reading struct {
				metric string
				value  float64
			}
			var readings []reading

			if a.SleepHours != nil {
				readings = append(readings, reading{"sleep_hours", *a.SleepHours})
			}
			if a.Steps != nil {
				readings = append(readings, reading{"steps", *a.Steps})
			}
			if a.HeartRate != nil {
				readings = append(readings, reading{"heart_rate", *a.HeartRate})
			}
			if a.Weight != nil {
				readings = append(readings, reading{"weight", *a.Weight})
			}
			if a.Water != nil {
				readings = append(readings, reading{"water", *a.Water})
			}
			if a.ExerciseMinutes != nil {
				readings = append(readings, reading{"exercise_minutes", *a.ExerciseMinutes})
			}
			if a.Mood != nil {
				if !validMoods[*a.Mood] {
					return nil, validationErrorf("mood must be one of %v, got %q", keys(validMoods), *a.Mood)
				}
				readings = append(readings, reading{"mood", moodScale[*a.Mood]})
			}

			if len(readings) == 0 {
				return nil, validationErrorf("log_health requires at least one metric field")
			}

			for _, r := range readings {
				if r.metric == "mood" {
					continue
				}
				rng := healthRanges[r.metric]
				if r.value < rng[0] || r.value > rng[1] {
					return nil, validationErrorf("%s must be between %g and %g, got %g", r.metric, rng[0], rng[1], r.value)
				}
			}

			ids := make(map[string]int64, len(readings))
			for _, r := range readings {
				notes := a.Notes
				if r.metric == "mood" && notes == "" {
					notes = *a.Mood
				}
				id, err := s.LogHealth(ctx, r.metric, r.value, notes, ts)
				if err != nil {
					return nil, err
				}
				ids[r.metric] = id
			}

			return map[string]any{"ids": ids, "date": dateUsed}, nil
		},
	}
}

// resolveHealthDate parses an optional YYYY-MM-DD date string into the
// timestamp passed to Store.LogHealth and the date string echoed back to the
// caller. An empty date defaults to today (UTC); Store assigns the precise
// timestamp in that case.
func resolveHealthDate(date string) (ts time.Time, dateUsed string, err error) {
	if date == "" {
		return time.Time{}, time.Now().UTC().Format(healthDateLayout), nil
	}
	parsed, err := time.Parse(healthDateLayout, date)
	if err != nil {
		return time.Time{}, "", validationErrorf("date must be YYYY-MM-DD, got %q", date)
	}
	return parsed, date, nil
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// --- get_health_today ---

func getHealthTodayTool(s *store.Store) Tool {
	return Tool{
		Definition: types.ToolDefinition{
			Name:        "get_health_today",
			Description: "Return all health metric readings logged today.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		Handler: func(ctx context.Context, _ json.RawMessage) (any, error) {
			from, to := dayBounds(time.Now())
			logs, err := s.QueryHealth(ctx, "", from, to, false)
			if err != nil {
				return nil, err
			}
			return map[string]any{"date": from.Format("2006-01-02"), "readings": logs}, nil
		},
	}
}

// --- get_health_summary ---

type getHealthSummaryArgs struct {
	Days int `json:"days"`
}

func getHealthSummaryTool(s *store.Store) Tool {
	return Tool{
		Definition: types.ToolDefinition{
			Name:        "get_health_summary",
			Description: "Return the average and reading count for every health metric over the trailing N days.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"days": map[string]any{"type": "integer", "description": "Number of trailing days to include (default 7)."},
				},
			},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var a getHealthSummaryArgs
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &a); err != nil {
					return nil, validationErrorf("could not parse arguments: %s", err)
				}
			}
			if a.Days <= 0 {
				a.Days = 7
			}
			to := time.Now().UTC()
			from := to.Add(-time.Duration(a.Days) * 24 * time.Hour)

			metrics := make(map[string]any, len(allHealthMetrics))
			for _, metric := range allHealthMetrics {
				logs, err := s.QueryHealth(ctx, metric, from, to, false)
				if err != nil {
					return nil, err
				}
				if len(logs) == 0 {
					continue
				}
				var sum float64
				for _, l := range logs {
					sum += l.Value
				}
				metrics[metric] = map[string]any{
					"avg":   sum / float64(len(logs)),
					"count": len(logs),
				}
			}

			return map[string]any{"days": a.Days, "metrics": metrics}, nil
		},
	}
}

// --- track_expense ---

type trackExpenseArgs struct {
	Amount      float64 `json:"amount"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
}

func trackExpenseTool(s *store.Store) Tool {
	return Tool{
		Definition: types.ToolDefinition{
			Name:        "track_expense",
			Description: "Log an expense with an amount, category, and optional description.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"amount": map[string]any{"type": "number"},
					"category": map[string]any{
						"type": "string",
						"enum": []string{"food", "transport", "shopping", "health", "entertainment", "utilities"},
					},
					"description": map[string]any{"type": "string"},
				},
				"required": []string{"amount", "category"},
			},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var a trackExpenseArgs
			if err := json.Unmarshal(raw, &a); err != nil {
				return nil, validationErrorf("could not parse arguments: %s", err)
			}
			if a.Amount <= 0 {
				return nil, validationErrorf("amount must be > 0, got %g", a.Amount)
			}
			if !validExpenseCategories[a.Category] {
				return nil, validationErrorf("unknown category %q", a.Category)
			}
			id, err := s.LogExpense(ctx, a.Amount, a.Category, a.Description, time.Time{})
			if err != nil {
				return nil, err
			}

			from, to := weekBounds(time.Now())
			sums, err := s.SumExpensesByCategory(ctx, from, to)
			if err != nil {
				return nil, err
			}
			var weekToDateTotal float64
			for _, c := range sums {
				if c.Category == a.Category {
					weekToDateTotal = c.Total
					break
				}
			}

			return map[string]any{
				"id":                 id,
				"amount":             a.Amount,
				"category":           a.Category,
				"week_to_date_total": weekToDateTotal,
			}, nil
		},
	}
}

// --- get_spending_today ---

func getSpendingTodayTool(s *store.Store) Tool {
	return Tool{
		Definition: types.ToolDefinition{
			Name:        "get_spending_today",
			Description: "Return today's expenses and the total spent so far.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		Handler: func(ctx context.Context, _ json.RawMessage) (any, error) {
			from, to := dayBounds(time.Now())
			expenses, err := s.QueryExpenses(ctx, "", from, to)
			if err != nil {
				return nil, err
			}
			var total float64
			for _, e := range expenses {
				total += e.Amount
			}
			return map[string]any{"date": from.Format("2006-01-02"), "expenses": expenses, "total": total}, nil
		},
	}
}

// --- get_spending_summary ---

type getSpendingSummaryArgs struct {
	Days     int    `json:"days"`
	Category string `json:"category"`
}

const recentExpenseLimit = 5

func getSpendingSummaryTool(s *store.Store) Tool {
	return Tool{
		Definition: types.ToolDefinition{
			Name:        "get_spending_summary",
			Description: "Return spending totals, daily average, by-category breakdown, and the most recent expenses over the trailing N days, optionally scoped to one category.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"days": map[string]any{"type": "integer", "description": "Number of trailing days to include (default 30)."},
					"category": map[string]any{
						"type": "string",
						"enum": []string{"food", "transport", "shopping", "health", "entertainment", "utilities"},
					},
				},
			},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var a getSpendingSummaryArgs
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &a); err != nil {
					return nil, validationErrorf("could not parse arguments: %s", err)
				}
			}
			if a.Days <= 0 {
				a.Days = 30
			}
			if a.Category != "" && !validExpenseCategories[a.Category] {
				return nil, validationErrorf("unknown category %q", a.Category)
			}

			to := time.Now().UTC()
			from := to.Add(-time.Duration(a.Days) * 24 * time.Hour)

			expenses, err := s.QueryExpenses(ctx, a.Category, from, to)
			if err != nil {
				return nil, err
			}
			var total float64
			for _, e := range expenses {
				total += e.Amount
			}

			byCategory, err := s.SumExpensesByCategory(ctx, from, to)
			if err != nil {
				return nil, err
			}
			if a.Category != "" {
				filtered := make([]store.CategoryTotal, 0, 1)
				for _, c := range byCategory {
					if c.Category == a.Category {
						filtered = append(filtered, c)
					}
				}
				byCategory = filtered
			}

			recent := expenses
			if len(recent) > recentExpenseLimit {
				recent = recent[:recentExpenseLimit]
			}

			return map[string]any{
				"days":          a.Days,
				"category":      a.Category,
				"total":         total,
				"daily_average": total / float64(a.Days),
				"by_category":   byCategory,
				"recent":        recent,
			}, nil
		},
	}
}

// --- get_budget_status ---

const defaultMonthlyBudget = 3000.0

type getBudgetStatusArgs struct {
	MonthlyBudget float64 `json:"monthly_budget"`
}

func getBudgetStatusTool(s *store.Store) Tool {
	return Tool{
		Definition: types.ToolDefinition{
			Name:        "get_budget_status",
			Description: "Compare month-to-date spending against a monthly budget (default 3000) and report remaining headroom.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"monthly_budget": map[string]any{"type": "number", "description": "Defaults to 3000 when omitted."},
				},
			},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var a getBudgetStatusArgs
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &a); err != nil {
					return nil, validationErrorf("could not parse arguments: %s", err)
				}
			}
			if a.MonthlyBudget < 0 {
				return nil, validationErrorf("monthly_budget must be >= 0, got %g", a.MonthlyBudget)
			}
			if a.MonthlyBudget == 0 {
				a.MonthlyBudget = defaultMonthlyBudget
			}
			now := time.Now().UTC()
			from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
			to := from.AddDate(0, 1, 0)
			sums, err := s.SumExpensesByCategory(ctx, from, to)
			if err != nil {
				return nil, err
			}
			var spent float64
			for _, c := range sums {
				spent += c.Total
			}
			remaining := a.MonthlyBudget - spent
			pctUsed := 0.0
			if a.MonthlyBudget > 0 {
				pctUsed = (spent / a.MonthlyBudget) * 100
			}
			return map[string]any{
				"month_to_date_spent": spent,
				"monthly_budget":      a.MonthlyBudget,
				"remaining":           remaining,
				"percent_used":        pctUsed,
				"over_budget":         remaining < 0,
			}, nil
		},
	}
}

// --- calculate_savings_goal ---

type calculateSavingsGoalArgs struct {
	TargetAmount  float64 `json:"target_amount"`
	TargetMonths  int     `json:"target_months"`
	MonthlyIncome float64 `json:"monthly_income"`
}

// calculateSavingsGoalTool is a pure compute tool: it touches no store state,
// only the caller-supplied figures.
func calculateSavingsGoalTool() Tool {
	return Tool{
		Definition: types.ToolDefinition{
			Name:        "calculate_savings_goal",
			Description: "Compute the required monthly savings rate for a target amount and timeframe, and how feasible it is given monthly income.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"target_amount":  map[string]any{"type": "number"},
					"target_months":  map[string]any{"type": "integer"},
					"monthly_income": map[string]any{"type": "number"},
				},
				"required": []string{"target_amount", "target_months", "monthly_income"},
			},
		},
		Handler: func(_ context.Context, raw json.RawMessage) (any, error) {
			var a calculateSavingsGoalArgs
			if err := json.Unmarshal(raw, &a); err != nil {
				return nil, validationErrorf("could not parse arguments: %s", err)
			}
			if a.TargetAmount <= 0 {
				return nil, validationErrorf("target_amount must be > 0, got %g", a.TargetAmount)
			}
			if a.TargetMonths <= 0 {
				return nil, validationErrorf("target_months must be > 0, got %d", a.TargetMonths)
			}
			if a.MonthlyIncome < 0 {
				return nil, validationErrorf("monthly_income must be >= 0, got %g", a.MonthlyIncome)
			}

			monthlySavingsNeeded := a.TargetAmount / float64(a.TargetMonths)
			pctOfIncome := 0.0
			if a.MonthlyIncome > 0 {
				pctOfIncome = monthlySavingsNeeded / a.MonthlyIncome * 100
			}

			return map[string]any{
				"status":                  "ok",
				"monthly_savings_needed":  monthlySavingsNeeded,
				"target_amount":           a.TargetAmount,
				"target_months":           a.TargetMonths,
				"feasible":                a.MonthlyIncome >= monthlySavingsNeeded,
				"percentage_of_income":    pctOfIncome,
				"remaining_after_savings": a.MonthlyIncome - monthlySavingsNeeded,
			}, nil
		},
	}
}

// --- save_user_insight ---

type saveUserInsightArgs struct {
	Insight string `json:"insight"`
}

func saveUserInsightTool(s *store.Store) Tool {
	return Tool{
		Definition: types.ToolDefinition{
			Name:        "save_user_insight",
			Description: "Record a free-text insight or preference learned about the user during conversation, for later recall.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"insight": map[string]any{"type": "string"},
				},
				"required": []string{"insight"},
			},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var a saveUserInsightArgs
			if err := json.Unmarshal(raw, &a); err != nil {
				return nil, validationErrorf("could not parse arguments: %s", err)
			}
			if a.Insight == "" {
				return nil, validationErrorf("insight must not be empty")
			}
			id, err := s.SaveUserInsight(ctx, a.Insight)
			if err != nil {
				return nil, err
			}
			return map[string]any{"id": id}, nil
		},
	}
}
