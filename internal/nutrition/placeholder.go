package nutrition

import "encoding/json"

// PlaceholderName is the food name carried by the placeholder result.
const PlaceholderName = "Estimated meal"

const (
	placeholderNotes = "This is an estimated nutritional breakdown. For more accurate results, please provide specific food items and quantities."
	placeholderReply = "I've provided an estimated nutritional breakdown for your meal. To get more accurate results, please describe specific food items and their quantities."
)

func ptr(v float64) *float64 { return &v }

// Placeholder returns the fixed synthetic result. Each call returns a fresh
// value so callers may modify it freely.
func Placeholder() Result {
	r := Result{
		FoodItems: []FoodItem{{
			Name:      PlaceholderName,
			NameLocal: "估算餐食",
			Amount:    "1",
			Unit:      "serving",
			Calories:  500,
			Protein:   20,
			Carbs:     50,
			Fat:       25,
			Fiber:     ptr(5),
			Sugar:     ptr(10),
			Sodium:    ptr(800),
		}},
		AnalysisNotes: placeholderNotes,
		Reply:         placeholderReply,
		InputType:     IntentFood,
		Placeholder:   true,
	}
	r.Recompute()
	return r
}

// PlaceholderPayload returns the placeholder encoded in the same wire shape a
// model is asked to produce, so that a backend can hand it to Parse like any
// other raw output.
func PlaceholderPayload() string {
	b, err := json.Marshal(Placeholder())
	if err != nil {
		// Placeholder is a fixed literal; marshalling cannot fail.
		panic("nutrition: marshal placeholder: " + err.Error())
	}
	return string(b)
}
