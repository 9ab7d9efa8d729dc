package export

import (
	"encoding/json"
	"time"

	"github.com/calai/calai/internal/history"
	"github.com/calai/calai/internal/nutrition"
	"github.com/calai/calai/internal/session"
)

// JSONExporter renders Data as structured JSON.
type JSONExporter struct{}

type jsonOutput struct {
	SessionID string            `json:"session_id"`
	Stats     history.Stats     `json:"stats"`
	Today     session.Summary   `json:"today"`
	Totals    nutrition.Totals  `json:"meal_totals"`
	Meals     []jsonMeal        `json:"meals"`
	Messages  []history.Message `json:"messages"`
}

type jsonMeal struct {
	MessageID string               `json:"message_id"`
	Timestamp time.Time            `json:"timestamp"`
	Items     []nutrition.FoodItem `json:"food_items"`
	Estimated bool                 `json:"estimated,omitempty"`
}

func (e *JSONExporter) Export(data Data) (string, error) {
	out := jsonOutput{
		SessionID: data.SessionID,
		Stats:     data.Stats,
		Today:     data.Today,
		Totals:    mealTotals(data.Messages),
		Meals:     []jsonMeal{},
		Messages:  data.Messages,
	}
	if out.Messages == nil {
		out.Messages = []history.Message{}
	}
	for _, m := range meals(data.Messages) {
		out.Meals = append(out.Meals, jsonMeal{
			MessageID: m.ID,
			Timestamp: m.Timestamp,
			Items:     m.Nutrition.FoodItems,
			Estimated: m.Nutrition.Placeholder,
		})
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b) + "\n", nil
}
