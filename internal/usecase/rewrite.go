package usecase

import "datachat-agent/internal/domain"

// Rewrite turns a classified utterance into the request string to dispatch.
// The second return is false when no dispatch should happen at all, which is
// the chart-hint case: the user is pointed at the chart controls instead.
//
// A filter follow-up composes onto the last dispatched query. The classifier
// only emits that kind when a prior result exists, but if the context is
// empty anyway the raw text goes out verbatim rather than crashing on a
// missing query.
func Rewrite(kind Kind, text string, ctx domain.SessionContext) (string, bool) {
	switch kind {
	case KindFollowUpChartHint:
		return "", false
	case KindFollowUpFilter:
		if ctx.LastQueryText == "" {
			return text, true
		}
		return ctx.LastQueryText + " with additional filter: " + text, true
	default:
		return text, true
	}
}
