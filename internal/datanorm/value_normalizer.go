package datanorm

import "strings"

// Row is one CSV data row resolved through a ColumnMapping.
type Row struct {
	Email       string
	Verified    bool
	HasVerified bool
	Tags        map[string]string
}

// NormalizeRow extracts the structural values and tags from a row. Empty
// cells never produce tags. The email is returned raw; callers run it
// through Normalize so the failure can be itemized.
func NormalizeRow(row []string, mapping *ColumnMapping) Row {
	out := Row{Tags: make(map[string]string)}

	for i, val := range row {
		val = strings.TrimSpace(val)
		if i == mapping.EmailIdx {
			out.Email = val
			continue
		}
		if val == "" {
			continue
		}
		if i == mapping.VerifiedIdx {
			out.Verified = ParseBool(val)
			out.HasVerified = true
			continue
		}
		if key, ok := mapping.TagKeys[i]; ok {
			out.Tags[key] = val
		}
	}
	return out
}

// ParseBool accepts the spellings spreadsheets tend to produce.
func ParseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "y", "t":
		return true
	default:
		return false
	}
}
