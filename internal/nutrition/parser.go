package nutrition

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNoPayload is returned by Decode when the text holds no brace-delimited
// object at all.
var ErrNoPayload = errors.New("nutrition: no structured payload in model output")

// wireItem is the food item shape the model is asked to emit. Numbers are
// decoded leniently because models regularly quote them or append units.
type wireItem struct {
	Name      string      `json:"name"`
	NameLocal flexString  `json:"name_local"`
	NameCN    flexString  `json:"name_cn"`
	Amount    flexString  `json:"amount"`
	Unit      flexString  `json:"unit"`
	Calories  flexNumber  `json:"calories"`
	Protein   flexNumber  `json:"protein"`
	Carbs     flexNumber  `json:"carbs"`
	Fat       flexNumber  `json:"fat"`
	Fiber     *flexNumber `json:"fiber"`
	Sugar     *flexNumber `json:"sugar"`
	Sodium    *flexNumber `json:"sodium"`
}

type wireResult struct {
	InputType     flexString  `json:"input_type"`
	FoodItems     []wireItem  `json:"food_items"`
	AnalysisNotes flexString  `json:"analysis_notes"`
	Reply         flexString  `json:"ai_response"`
	Suggestions   flexStrings `json:"suggestions"`
	HealthScore   *flexNumber `json:"health_score"`
}

// Parse turns raw model output into a Result. It never fails: when the text
// has no decodable payload the placeholder result is returned instead.
func Parse(raw string) Result {
	r, err := Decode(raw)
	if err != nil {
		return Placeholder()
	}
	return r
}

// Decode is Parse without the fallback. It reports why the output could not
// be used so callers can log it before substituting the placeholder.
func Decode(raw string) (Result, error) {
	if strings.TrimSpace(raw) == PlaceholderPayload() {
		return Placeholder(), nil
	}
	candidates := objectCandidates(raw)
	if len(candidates) == 0 {
		return Result{}, ErrNoPayload
	}

	var lastErr error
	for _, c := range candidates {
		var w wireResult
		if err := json.Unmarshal([]byte(c), &w); err != nil {
			lastErr = err
			continue
		}
		return w.toResult(), nil
	}
	return Result{}, fmt.Errorf("nutrition: decode payload: %w", lastErr)
}

func (w wireResult) toResult() Result {
	r := Result{
		InputType:     strings.ToLower(strings.TrimSpace(string(w.InputType))),
		AnalysisNotes: strings.TrimSpace(string(w.AnalysisNotes)),
		Reply:         strings.TrimSpace(string(w.Reply)),
		FoodItems:     make([]FoodItem, 0, len(w.FoodItems)),
	}
	for _, s := range w.Suggestions {
		if s = strings.TrimSpace(s); s != "" {
			r.Suggestions = append(r.Suggestions, s)
		}
	}
	if w.HealthScore != nil {
		v := float64(*w.HealthScore)
		r.HealthScore = &v
	}
	for _, wi := range w.FoodItems {
		r.FoodItems = append(r.FoodItems, wi.toFoodItem())
	}
	if r.Reply == "" {
		r.Reply = DefaultReply
	}
	// Totals from the payload are never trusted.
	r.Recompute()
	return r
}

func (wi wireItem) toFoodItem() FoodItem {
	name := strings.TrimSpace(wi.Name)
	if name == "" {
		name = "Unknown"
	}
	local := strings.TrimSpace(string(wi.NameLocal))
	if local == "" {
		local = strings.TrimSpace(string(wi.NameCN))
	}
	amount := strings.TrimSpace(string(wi.Amount))
	if amount == "" {
		amount = "1"
	}
	return FoodItem{
		Name:      name,
		NameLocal: local,
		Amount:    amount,
		Unit:      strings.TrimSpace(string(wi.Unit)),
		Calories:  nonNegative(float64(wi.Calories)),
		Protein:   nonNegative(float64(wi.Protein)),
		Carbs:     nonNegative(float64(wi.Carbs)),
		Fat:       nonNegative(float64(wi.Fat)),
		Fiber:     optional(wi.Fiber),
		Sugar:     optional(wi.Sugar),
		Sodium:    optional(wi.Sodium),
	}
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func optional(n *flexNumber) *float64 {
	if n == nil {
		return nil
	}
	v := nonNegative(float64(*n))
	return &v
}

// objectCandidates returns every top-level brace-balanced object in s, in
// order of appearance. Braces inside JSON strings are ignored.
func objectCandidates(s string) []string {
	var out []string
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				out = append(out, s[start:i+1])
				start = -1
			}
		}
	}
	return out
}

// flexNumber decodes a JSON number, a numeric string ("120", "120 kcal") or
// null. Anything unparseable decodes as 0.
type flexNumber float64

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*n = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = flexNumber(leadingFloat(s))
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		*n = 0
		return nil
	}
	*n = flexNumber(v)
	return nil
}

// leadingFloat parses the numeric prefix of s, e.g. "12.5g" -> 12.5.
func leadingFloat(s string) float64 {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) {
		c := s[end]
		if (c >= '0' && c <= '9') || c == '.' || (end == 0 && (c == '-' || c == '+')) {
			end++
			continue
		}
		break
	}
	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0
	}
	return v
}

// flexString decodes a JSON string, number or bool as text.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

// flexStrings decodes either a list of values or a single value as a list of
// strings.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = nil
		return nil
	}
	if b[0] != '[' {
		var one flexString
		if err := one.UnmarshalJSON(b); err != nil {
			return err
		}
		*f = flexStrings{string(one)}
		return nil
	}
	var many []flexString
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	out := make(flexStrings, 0, len(many))
	for _, m := range many {
		out = append(out, string(m))
	}
	*f = out
	return nil
}
