package datanorm

import "strings"

// Field is a column the import pipeline treats structurally. Every other
// column becomes a tag.
type Field string

const (
	FieldEmail    Field = "email"
	FieldVerified Field = "verified"

	// Ledger-owned columns written by export. Import reads past them.
	FieldSource  Field = "source"
	FieldAddedAt Field = "addedat"
	FieldActive  Field = "active"
)

// columnAliases maps lowercase header names to structural fields.
var columnAliases = map[string]Field{
	"email":         FieldEmail,
	"e-mail":        FieldEmail,
	"email_address": FieldEmail,
	"emailaddress":  FieldEmail,

	"verified":    FieldVerified,
	"is_verified": FieldVerified,

	"source":   FieldSource,
	"addedat":  FieldAddedAt,
	"added_at": FieldAddedAt,
	"active":   FieldActive,
}

// ColumnMapping is the resolved view of a CSV header row.
type ColumnMapping struct {
	EmailIdx    int
	VerifiedIdx int
	FieldMap    map[int]Field  // column index -> structural field
	TagKeys     map[int]string // column index -> tag key
	RawNames    []string
}

// MapColumns resolves a header row. It returns nil when no email column is
// present. The first email column wins; repeated tag keys keep the first
// column too.
func MapColumns(header []string) *ColumnMapping {
	m := &ColumnMapping{
		EmailIdx:    -1,
		VerifiedIdx: -1,
		FieldMap:    make(map[int]Field, len(header)),
		TagKeys:     make(map[int]string),
		RawNames:    header,
	}
	seenTags := make(map[string]bool)

	for i, h := range header {
		name := HeaderKey(h)
		if name == "" {
			continue
		}
		if field, ok := columnAliases[name]; ok {
			switch field {
			case FieldEmail:
				if m.EmailIdx >= 0 {
					continue
				}
				m.EmailIdx = i
			case FieldVerified:
				if m.VerifiedIdx >= 0 {
					continue
				}
				m.VerifiedIdx = i
			}
			m.FieldMap[i] = field
			continue
		}
		if seenTags[name] {
			continue
		}
		seenTags[name] = true
		m.TagKeys[i] = name
	}

	if m.EmailIdx < 0 {
		return nil
	}
	return m
}

// HeaderKey lowercases and trims a header cell, dropping stray quotes and a
// UTF-8 byte order mark.
func HeaderKey(h string) string {
	v := strings.TrimPrefix(h, "\ufeff")
	v = strings.ToLower(strings.TrimSpace(v))
	return strings.TrimSpace(strings.Trim(v, "\"'"))
}

// IsStructural reports whether a tag key would collide with a structural
// column on export.
func IsStructural(key string) bool {
	_, ok := columnAliases[HeaderKey(key)]
	return ok
}
