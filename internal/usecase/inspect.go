package usecase

import (
	"encoding/json"
	"strings"

	"datachat-agent/internal/domain"
)

// SchemaShape is the coarse shape of a result set used to pick suggestions.
type SchemaShape struct {
	HasNumericColumn  bool
	HasTemporalColumn bool
}

// InspectSchema derives the shape of a result set by per-row inspection.
// A column is numeric when any row holds a numeric value in it; a column is
// temporal when its name contains "date" or "time", case-insensitive — a
// cheap name heuristic, not a value check. Empty or malformed rows simply
// contribute no matches.
func InspectSchema(rows domain.RowSet) SchemaShape {
	var shape SchemaShape
	for _, row := range rows {
		for name, value := range row {
			if isNumericValue(value) {
				shape.HasNumericColumn = true
			}
			if isTemporalName(name) {
				shape.HasTemporalColumn = true
			}
		}
		if shape.HasNumericColumn && shape.HasTemporalColumn {
			break
		}
	}
	return shape
}

func isNumericValue(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64, json.Number:
		return true
	default:
		return false
	}
}

func isTemporalName(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "date") || strings.Contains(lower, "time")
}
