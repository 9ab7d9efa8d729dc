// Package history persists conversations and their nutrition analyses in
// SQLite so sessions survive restarts and can be browsed page by page.
package history

import (
	"time"

	"github.com/calai/calai/internal/nutrition"
	"github.com/calai/calai/internal/session"
)

// Message is one persisted turn.
type Message struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	Role      session.Role      `json:"role"`
	Content   string            `json:"content"`
	Nutrition *nutrition.Result `json:"nutrition_data,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Page is one page of a session's history, oldest message first.
type Page struct {
	SessionID string    `json:"session_id"`
	Messages  []Message `json:"messages"`
	Total     int       `json:"total"`
	HasMore   bool      `json:"has_more"`
}

// Stats summarises the persisted record of a session.
type Stats struct {
	Exists          bool      `json:"exists"`
	SessionID       string    `json:"session_id"`
	CreatedAt       time.Time `json:"created_at"`
	LastActivity    time.Time `json:"last_activity"`
	MessageCount    int       `json:"message_count"`
	MealsAnalyzed   int       `json:"total_meals_analyzed"`
	CaloriesTracked float64   `json:"total_calories_tracked"`
}
