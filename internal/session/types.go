// Package session holds per-session conversational and nutritional state in
// memory: a bounded turn history, a daily intake aggregate and a profile.
package session

import (
	"time"

	"github.com/calai/calai/internal/nutrition"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Defaults injected into prompts when a session has no profile values.
const (
	DefaultGoals        = "maintain healthy diet"
	DefaultRestrictions = "none"
)

// Profile keys with special meaning for prompt context.
const (
	ProfileGoals        = "goals"
	ProfileRestrictions = "restrictions"
)

// Turn is one message in a session's history. Turns are never modified after
// they are appended.
type Turn struct {
	Role      Role              `json:"role"`
	Text      string            `json:"text"`
	Nutrition *nutrition.Result `json:"nutrition,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Meal records the food items of one analysed meal.
type Meal struct {
	Time  time.Time            `json:"time"`
	Items []nutrition.FoodItem `json:"items"`
}

// DailyIntake is the running total for one session on one calendar day.
type DailyIntake struct {
	Date     string  `json:"date"`
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`
	Meals    []Meal  `json:"meals"`
}

// Session is a snapshot of one conversation's state. Values returned by the
// Store are copies and safe to keep.
type Session struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	Turns     []Turn            `json:"turns"`
	Intake    DailyIntake       `json:"daily_intake"`
	Profile   map[string]string `json:"profile,omitempty"`
}

// HistoryEntry is the role/text pair injected into prompts.
type HistoryEntry struct {
	Role Role
	Text string
}

// Snapshot is the read-only projection of session state used to build a
// prompt.
type Snapshot struct {
	DailyCalories string
	Goals         string
	Restrictions  string
	RecentFoods   []string
	History       []HistoryEntry
}

// Totals is the subset of DailyIntake shown in summaries.
type Totals struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`
}

// Summary describes a session for display.
type Summary struct {
	SessionID      string    `json:"session_id"`
	MessageCount   int       `json:"message_count"`
	DailyTotals    Totals    `json:"daily_totals"`
	MealCount      int       `json:"meal_count"`
	FoodsMentioned []string  `json:"foods_mentioned"`
	CreatedAt      time.Time `json:"created_at"`
}
