// Package prompt renders the meal-analysis instruction sent to the language
// model from a user utterance, a language preference and session context.
package prompt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/calai/calai/internal/session"
)

// Supported language preferences.
const (
	LanguageAuto    = "auto"
	LanguageEnglish = "en"
	LanguageChinese = "zh"
)

// ErrEmptyText is returned when the utterance is blank.
var ErrEmptyText = errors.New("prompt: text is empty")

var languageDirectives = map[string]string{
	LanguageAuto:    "Reply in the same language the user wrote in.",
	LanguageEnglish: "Reply in English.",
	LanguageChinese: "Reply in Simplified Chinese (请用中文回复).",
}

// NormalizeLanguage maps a requested language onto a supported one. Unknown
// or empty values fall back to auto.
func NormalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if _, ok := languageDirectives[lang]; ok {
		return lang
	}
	return LanguageAuto
}

// SupportedLanguages lists the accepted language codes.
func SupportedLanguages() []string {
	return []string{LanguageAuto, LanguageEnglish, LanguageChinese}
}

// TokenCounter measures and trims text in model tokens.
type TokenCounter interface {
	Count(s string) int
	Truncate(s string, maxTokens int) string
}

// Builder renders prompts. The zero value renders without a history budget.
type Builder struct {
	counter       TokenCounter
	historyBudget int
	turnBudget    int
}

// NewBuilder creates a Builder. When counter is non-nil the conversation
// history block is kept within historyBudget tokens, dropping the oldest
// entries first and trimming any single entry to a quarter of the budget.
func NewBuilder(counter TokenCounter, historyBudget int) *Builder {
	if historyBudget <= 0 {
		historyBudget = 800
	}
	return &Builder{
		counter:       counter,
		historyBudget: historyBudget,
		turnBudget:    historyBudget / 4,
	}
}

const persona = `You are Cal AI, a professional, friendly and caring AI nutritionist.
You analyse food precisely (calories, protein, carbohydrates, fat, fiber, sugar, sodium),
give personalised, encouraging and practical advice, and keep track of what the user eats.`

const instructions = `Task:
1. Classify the user input as one of:
   - "food": a description of something eaten -> analyse its nutrition
   - "question": a nutrition or health question -> give professional advice
   - "query": a question about what was eaten before -> review and summarise
   - "chat": anything else -> reply kindly and steer towards healthy eating
2. Keep a friendly, encouraging tone with concrete, actionable advice.
3. When portions are unclear assume common default portions and say so.
4. Respond with a single JSON object and nothing else, in this shape:
{
  "input_type": "food|question|query|chat",
  "food_items": [
    {
      "name": "food name in English",
      "name_local": "food name in the user's language",
      "amount": "quantity",
      "unit": "g|ml|piece|bowl|cup|serving",
      "calories": 0,
      "protein": 0,
      "carbs": 0,
      "fat": 0,
      "fiber": 0,
      "sugar": 0,
      "sodium": 0
    }
  ],
  "analysis_notes": "key nutrition observations",
  "ai_response": "natural-language reply to the user",
  "suggestions": ["suggestion 1", "suggestion 2"],
  "health_score": 7
}
Use grams for protein, carbs, fat, fiber and sugar and milligrams for sodium.
If the input is not about food, "food_items" must be an empty array.`

// Build renders the prompt. It has no side effects.
func (b *Builder) Build(text, language string, snap session.Snapshot) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}

	var sb strings.Builder
	sb.WriteString(persona)
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "Language: %s\n\n", languageDirectives[NormalizeLanguage(language)])
	fmt.Fprintf(&sb, "User input: %s\n", text)

	if ctx := b.contextBlock(snap); ctx != "" {
		sb.WriteString("\nUser context:\n")
		sb.WriteString(ctx)
	}

	sb.WriteString("\n")
	sb.WriteString(instructions)
	return sb.String(), nil
}

func (b *Builder) contextBlock(snap session.Snapshot) string {
	var sb strings.Builder
	if snap.Goals != "" {
		fmt.Fprintf(&sb, "- Goals: %s\n", snap.Goals)
	}
	if snap.Restrictions != "" {
		fmt.Fprintf(&sb, "- Dietary restrictions: %s\n", snap.Restrictions)
	}
	if snap.DailyCalories != "" {
		fmt.Fprintf(&sb, "- Calories consumed today: %s kcal\n", snap.DailyCalories)
	}
	if len(snap.RecentFoods) > 0 {
		fmt.Fprintf(&sb, "- Recently eaten: %s\n", strings.Join(snap.RecentFoods, ", "))
	}
	if lines := b.historyLines(snap.History); len(lines) > 0 {
		sb.WriteString("- Recent conversation:\n")
		for _, l := range lines {
			sb.WriteString("  ")
			sb.WriteString(l)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// historyLines renders history oldest first, keeping the newest entries that
// fit the token budget.
func (b *Builder) historyLines(history []session.HistoryEntry) []string {
	lines := make([]string, 0, len(history))
	for _, h := range history {
		text := strings.Join(strings.Fields(h.Text), " ")
		if text == "" {
			continue
		}
		if b.counter != nil && b.counter.Count(text) > b.turnBudget {
			text = b.counter.Truncate(text, b.turnBudget) + "..."
		}
		lines = append(lines, fmt.Sprintf("%s: %s", speaker(h.Role), text))
	}
	if b.counter == nil {
		return lines
	}

	used := 0
	keep := len(lines)
	for i := len(lines) - 1; i >= 0; i-- {
		n := b.counter.Count(lines[i])
		if used+n > b.historyBudget {
			break
		}
		used += n
		keep = i
	}
	if used == 0 {
		return nil
	}
	return lines[keep:]
}

func speaker(r session.Role) string {
	if r == session.RoleAssistant {
		return "Assistant"
	}
	return "User"
}
