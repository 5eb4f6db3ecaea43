package domain

import "time"

// Role identifies who produced a timeline entry.
type Role string

const (
	RoleUser            Role = "user"
	RoleAssistantText   Role = "assistant_text"
	RoleAssistantResult Role = "assistant_result"
)

// Row is a single result record keyed by column name.
type Row map[string]any

// RowSet is one query's tabular result in row order.
type RowSet []Row

// ResultMetadata carries the optional engine-reported figures for a result.
// Pointer fields are nil when the engine omitted them.
type ResultMetadata struct {
	RowCount          int      `json:"rowCount"`
	ReferencedSources []string `json:"referencedSources,omitempty"`
	EstimatedCostUSD  *float64 `json:"estimatedCostUsd,omitempty"`
	BytesProcessed    *int64   `json:"bytesProcessed,omitempty"`
	Complexity        string   `json:"complexity,omitempty"`
}

// Message is an immutable conversation timeline entry. Entries are created
// once and appended; they are never mutated afterwards.
//
// QueryText, ResultRows and Metadata are set only for RoleAssistantResult,
// and ResultRows is always non-nil there (possibly empty). ErrorDetail is
// set only on the assistant_text notice appended after a failed dispatch.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content,omitempty"`

	QueryText string `json:"queryText,omitempty"`
	// An empty-but-present result set serializes as [], never omitted.
	ResultRows  RowSet          `json:"resultRows"`
	Metadata    *ResultMetadata `json:"resultMetadata,omitempty"`
	Explanation string          `json:"explanation,omitempty"`
	ErrorDetail string          `json:"errorDetail,omitempty"`
}
