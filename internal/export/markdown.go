package export

import (
	"fmt"
	"strings"

	"github.com/calai/calai/internal/history"
	"github.com/calai/calai/internal/session"
)

// MarkdownExporter renders a session as a readable food diary.
type MarkdownExporter struct{}

func (e *MarkdownExporter) Export(data Data) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "# Food log: %s\n\n", data.SessionID)

	if data.Stats.Exists {
		fmt.Fprintf(&b, "| Started | %s |\n", data.Stats.CreatedAt.Format("2006-01-02 15:04"))
		fmt.Fprintf(&b, "| Last activity | %s |\n", data.Stats.LastActivity.Format("2006-01-02 15:04"))
		fmt.Fprintf(&b, "| Messages | %d |\n", data.Stats.MessageCount)
		fmt.Fprintf(&b, "| Meals analysed | %d |\n", data.Stats.MealsAnalyzed)
		fmt.Fprintf(&b, "| Calories tracked | %.0f kcal |\n\n", data.Stats.CaloriesTracked)
	}

	if t := data.Today.DailyTotals; data.Today.MealCount > 0 {
		b.WriteString("## Today\n\n")
		fmt.Fprintf(&b, "%d meal(s), %.0f kcal, protein %.1fg, carbs %.1fg, fat %.1fg\n\n",
			data.Today.MealCount, t.Calories, t.Protein, t.Carbs, t.Fat)
	}

	b.WriteString(renderMeals(meals(data.Messages)))
	b.WriteString(renderConversation(data.Messages))
	return b.String(), nil
}

func renderMeals(msgs []history.Message) string {
	if len(msgs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Meals\n\n")
	b.WriteString("| Time | Food | Amount | kcal | Protein | Carbs | Fat |\n")
	b.WriteString("|---|---|---|---|---|---|---|\n")
	for _, m := range msgs {
		ts := m.Timestamp.Format("01-02 15:04")
		for _, it := range m.Nutrition.FoodItems {
			amount := strings.TrimSpace(it.Amount + " " + it.Unit)
			fmt.Fprintf(&b, "| %s | %s | %s | %.0f | %.1f | %.1f | %.1f |\n",
				ts, it.DisplayName(), amount, it.Calories, it.Protein, it.Carbs, it.Fat)
		}
	}
	t := mealTotals(msgs)
	fmt.Fprintf(&b, "| | **Total** | | %.0f | %.1f | %.1f | %.1f |\n\n", t.Calories, t.Protein, t.Carbs, t.Fat)
	return b.String()
}

func renderConversation(msgs []history.Message) string {
	if len(msgs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Conversation\n\n")
	for _, m := range msgs {
		who := "You"
		if m.Role == session.RoleAssistant {
			who = "Cal AI"
		}
		content := strings.ReplaceAll(strings.TrimSpace(m.Content), "\n", " ")
		fmt.Fprintf(&b, "- **%s** (%s): %s\n", who, m.Timestamp.Format("15:04"), content)
	}
	b.WriteString("\n")
	return b.String()
}
