// Package export renders a session's stored conversation and food log into
// formats suitable for sharing or archiving.
package export

import (
	"sort"

	"github.com/calai/calai/internal/history"
	"github.com/calai/calai/internal/nutrition"
	"github.com/calai/calai/internal/session"
)

// Data is passed to every Exporter.
type Data struct {
	SessionID string
	Stats     history.Stats
	Today     session.Summary
	// Messages are oldest first.
	Messages []history.Message
}

// Exporter renders Data to a string in a specific format.
type Exporter interface {
	Export(data Data) (string, error)
}

var registry = map[string]Exporter{
	"markdown": &MarkdownExporter{},
	"json":     &JSONExporter{},
}

// Get returns the Exporter registered under name, and whether it was found.
func Get(name string) (Exporter, bool) {
	e, ok := registry[name]
	return e, ok
}

// ValidFormats returns the supported format names, sorted.
func ValidFormats() []string {
	formats := make([]string, 0, len(registry))
	for k := range registry {
		formats = append(formats, k)
	}
	sort.Strings(formats)
	return formats
}

// meals returns the nutrition results attached to assistant messages that
// recognised food, in message order.
func meals(msgs []history.Message) []history.Message {
	var out []history.Message
	for _, m := range msgs {
		if m.Role == session.RoleAssistant && m.Nutrition != nil && m.Nutrition.HasFood() {
			out = append(out, m)
		}
	}
	return out
}

func mealTotals(msgs []history.Message) nutrition.Totals {
	var items []nutrition.FoodItem
	for _, m := range meals(msgs) {
		items = append(items, m.Nutrition.FoodItems...)
	}
	return nutrition.SumItems(items)
}
