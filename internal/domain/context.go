package domain

// SessionContext is the live conversational state of one session. It is
// replaced wholesale after every successful dispatch and left untouched when
// a dispatch fails, so follow-ups keep working against the last good result.
type SessionContext struct {
	LastQueryText string
	// LastResultRows is nil when no query has completed yet. An empty
	// non-nil set still counts as a prior result for follow-up purposes.
	LastResultRows        RowSet
	LastReferencedSources []string
}

// HasResult reports whether a prior result exists to follow up on.
func (c SessionContext) HasResult() bool {
	return c.LastResultRows != nil
}

// QueryResult is the execution engine's success payload. Everything except
// SQL and Rows is optional; absent fields stay at their zero value or nil.
type QueryResult struct {
	SQL               string
	Rows              RowSet
	RowCount          int
	ReferencedSources []string
	EstimatedCostUSD  *float64
	BytesProcessed    *int64
	Complexity        string
	Explanation       string
	OptimizationNotes string
}
