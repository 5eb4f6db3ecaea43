package usecase

import (
	"fmt"
	"strings"
	"time"

	"datachat-agent/internal/domain"
)

const transcriptDelimiter = "----------------------------------------"

// roleLabel maps timeline roles to transcript headings.
func roleLabel(role domain.Role) string {
	switch role {
	case domain.RoleUser:
		return "User"
	case domain.RoleAssistantResult:
		return "Assistant (result)"
	default:
		return "Assistant"
	}
}

// ExportTranscript renders the timeline as a flat text transcript: one
// block per message, prefixed with timestamp and role, blocks separated by
// a fixed delimiter line. Result blocks carry the explanation, the
// dispatched query and a row count summary, never the row data itself.
// Pure formatting; writing the string anywhere is the caller's business.
func ExportTranscript(messages []domain.Message) string {
	var b strings.Builder
	for i, msg := range messages {
		if i > 0 {
			b.WriteString(transcriptDelimiter)
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%s] %s:\n", msg.Timestamp.UTC().Format(time.RFC3339), roleLabel(msg.Role))
		if msg.Role == domain.RoleAssistantResult {
			if msg.Explanation != "" {
				b.WriteString(msg.Explanation)
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "Query: %s\n", msg.QueryText)
			fmt.Fprintf(&b, "Rows returned: %d\n", len(msg.ResultRows))
			continue
		}
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	return b.String()
}
