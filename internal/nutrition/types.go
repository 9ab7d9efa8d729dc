// Package nutrition defines the nutrition record produced for a meal and the
// lenient parser that turns raw model output into one.
package nutrition

// Input intents the model is asked to classify an utterance into.
const (
	IntentFood     = "food"
	IntentQuestion = "question"
	IntentQuery    = "query"
	IntentChat     = "chat"
)

// DefaultReply is used when the model returns a payload without a reply.
const DefaultReply = "Meal analysis completed."

// FoodItem is one recognised food with its estimated nutrients.
// Calories, Protein, Carbs and Fat default to 0 when the model omits them;
// Fiber, Sugar and Sodium stay nil unless the model supplied a value.
type FoodItem struct {
	Name      string   `json:"name"`
	NameLocal string   `json:"name_local,omitempty"`
	Amount    string   `json:"amount"`
	Unit      string   `json:"unit,omitempty"`
	Calories  float64  `json:"calories"`
	Protein   float64  `json:"protein"`
	Carbs     float64  `json:"carbs"`
	Fat       float64  `json:"fat"`
	Fiber     *float64 `json:"fiber,omitempty"`
	Sugar     *float64 `json:"sugar,omitempty"`
	Sodium    *float64 `json:"sodium,omitempty"`
}

// DisplayName prefers the localized name when one is present.
func (f FoodItem) DisplayName() string {
	if f.NameLocal != "" {
		return f.NameLocal
	}
	return f.Name
}

// Totals aggregates nutrients across a set of food items.
type Totals struct {
	Calories float64  `json:"total_calories"`
	Protein  float64  `json:"total_protein"`
	Carbs    float64  `json:"total_carbs"`
	Fat      float64  `json:"total_fat"`
	Fiber    *float64 `json:"total_fiber,omitempty"`
	Sugar    *float64 `json:"total_sugar,omitempty"`
	Sodium   *float64 `json:"total_sodium,omitempty"`
}

// Result is the structured outcome of analysing one utterance.
type Result struct {
	Totals
	FoodItems     []FoodItem `json:"food_items"`
	AnalysisNotes string     `json:"analysis_notes,omitempty"`
	Reply         string     `json:"ai_response"`
	Suggestions   []string   `json:"suggestions,omitempty"`
	InputType     string     `json:"input_type,omitempty"`
	HealthScore   *float64   `json:"health_score,omitempty"`
	// Placeholder marks the fixed synthetic result used when the model path
	// is unavailable or its output could not be parsed.
	Placeholder bool `json:"placeholder"`
}

// SumItems returns the totals for items. Optional totals are set only when at
// least one item carries that nutrient.
func SumItems(items []FoodItem) Totals {
	var t Totals
	var fiber, sugar, sodium float64
	var hasFiber, hasSugar, hasSodium bool
	for _, it := range items {
		t.Calories += it.Calories
		t.Protein += it.Protein
		t.Carbs += it.Carbs
		t.Fat += it.Fat
		if it.Fiber != nil {
			fiber += *it.Fiber
			hasFiber = true
		}
		if it.Sugar != nil {
			sugar += *it.Sugar
			hasSugar = true
		}
		if it.Sodium != nil {
			sodium += *it.Sodium
			hasSodium = true
		}
	}
	if hasFiber {
		t.Fiber = &fiber
	}
	if hasSugar {
		t.Sugar = &sugar
	}
	if hasSodium {
		t.Sodium = &sodium
	}
	return t
}

// Recompute overwrites r.Totals with the sum over r.FoodItems.
func (r *Result) Recompute() {
	r.Totals = SumItems(r.FoodItems)
}

// HasFood reports whether the result carries any food items.
func (r Result) HasFood() bool {
	return len(r.FoodItems) > 0
}

// Names returns the display names of the result's food items.
func (r Result) Names() []string {
	out := make([]string, 0, len(r.FoodItems))
	for _, it := range r.FoodItems {
		out = append(out, it.DisplayName())
	}
	return out
}
