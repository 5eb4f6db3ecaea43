package usecase

import "strings"

// Kind is the intent category assigned to one user utterance.
type Kind string

const (
	KindNewQuery          Kind = "new_query"
	KindFollowUpFilter    Kind = "follow_up_filter"
	KindFollowUpChartHint Kind = "follow_up_chart_hint"
	KindFollowUpGeneric   Kind = "follow_up_generic"
)

// followUpKeywords is the outer trigger set deciding whether an utterance
// looks like any kind of follow-up at all. "filter" and "only" double as the
// inner filter signal, so the inner checks run first.
var followUpKeywords = []string{"filter", "group", "show", "only"}

// Classify assigns an intent category to a raw utterance. It is total: every
// input maps to exactly one Kind and nothing errors.
//
// Without a prior result there is nothing to follow up on, so everything is
// a new query. Otherwise the rules run in fixed priority order and the first
// match wins: filter keywords, then chart keywords, then the outer follow-up
// trigger. An utterance that trips only the outer trigger (e.g. "group" or
// "show" alone) dispatches verbatim, which is indistinguishable from a new
// query on the wire.
func Classify(text string, hasPriorResult bool) Kind {
	if !hasPriorResult {
		return KindNewQuery
	}
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "filter") || strings.Contains(lower, "only"):
		return KindFollowUpFilter
	case strings.Contains(lower, "chart") || strings.Contains(lower, "graph"):
		return KindFollowUpChartHint
	case containsAny(lower, followUpKeywords):
		return KindFollowUpGeneric
	default:
		return KindNewQuery
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
