package usecase

import "datachat-agent/internal/domain"

const maxSuggestions = 5

// baselineSuggestions is offered before any query has completed.
var baselineSuggestions = []string{
	"Show me total revenue by month",
	"What are my top 10 customers by sales?",
	"Compare this year's performance to last year",
	"Which products have the highest profit margin?",
	"Show me the sales trend for the last quarter",
}

// numericSuggestions apply when the last result has a numeric column.
var numericSuggestions = []string{
	"How does this trend over time?",
	"What is the total across all rows?",
	"Show the average grouped by category",
	"Show only the top 10 by value",
	"What percentage does each row contribute to the total?",
}

// temporalSuggestions apply when the last result has a date or time column.
var temporalSuggestions = []string{
	"Break this down by month",
	"Compare year over year",
	"What is the growth rate over this period?",
	"Are there seasonal patterns in this data?",
}

// genericSuggestions always trail the shape-specific ones.
var genericSuggestions = []string{
	"Filter results where value > 1000",
	"Add a calculated field",
	"Export this result",
	"What correlates with these values?",
}

// Suggest derives candidate next questions from the shape of the last
// result set. Numeric suggestions outrank temporal, which outrank generic;
// the combined list is truncated to maxSuggestions entries. With no prior
// result the fixed baseline list is returned as-is.
//
// Deterministic and side-effect free; recomputed on every call.
func Suggest(ctx domain.SessionContext) []string {
	if !ctx.HasResult() {
		out := make([]string, len(baselineSuggestions))
		copy(out, baselineSuggestions)
		return out
	}

	shape := InspectSchema(ctx.LastResultRows)
	working := make([]string, 0, len(numericSuggestions)+len(temporalSuggestions)+len(genericSuggestions))
	if shape.HasNumericColumn {
		working = append(working, numericSuggestions...)
	}
	if shape.HasTemporalColumn {
		working = append(working, temporalSuggestions...)
	}
	working = append(working, genericSuggestions...)

	working = dedupe(working)
	if len(working) > maxSuggestions {
		working = working[:maxSuggestions]
	}
	return working
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
