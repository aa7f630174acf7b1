package tools

// FieldIssue represents a single validation issue found while checking a
// tool payload against its declared JSON Schema. Validator.ValidatePayload
// sets Constraint to "type" (with Format "json") when the payload is not
// valid JSON, and otherwise to the schema compiler's or validator's error
// text.
type FieldIssue struct {
	Field      string
	Constraint string
	// Optional extras for richer retry hints; not all are populated.
	Allowed []string
	MinLen  *int
	MaxLen  *int
	Pattern string
	Format  string
}
