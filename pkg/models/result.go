package models

// DatabaseKind tags the engine family a query shape targets.
type DatabaseKind string

const (
	DatabaseSQL     DatabaseKind = "sql"
	DatabaseMongoDB DatabaseKind = "mongodb"
)

// QueryShape is a generated database query. Statement carries SQL text for
// SQL engines; document stores use Collection, Operation, Filter and Limit.
type QueryShape struct {
	Kind       DatabaseKind   `json:"kind"`
	Statement  string         `json:"statement,omitempty"`
	Collection string         `json:"collection,omitempty"`
	Operation  string         `json:"operation,omitempty"`
	Filter     map[string]any `json:"filter,omitempty"`
	Limit      int            `json:"limit,omitempty"`
}

// IsZero reports whether no query was generated.
func (q QueryShape) IsZero() bool {
	return q.Statement == "" && q.Collection == "" && q.Operation == ""
}

// Result is the cacheable outcome of answering a question: the query that
// was run, the rows it returned and an optional explanation.
type Result struct {
	Query       QueryShape       `json:"query"`
	Rows        []map[string]any `json:"rows,omitempty"`
	Explanation string           `json:"explanation,omitempty"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
}

// Clone returns a deep copy of r. Rows, Metadata and the query filter are
// copied recursively through nested maps and slices, so the copy shares no
// mutable state with r.
func (r Result) Clone() Result {
	out := r
	out.Query.Filter = cloneMap(r.Query.Filter)
	out.Metadata = cloneMap(r.Metadata)
	if r.Rows != nil {
		out.Rows = make([]map[string]any, len(r.Rows))
		for i, row := range r.Rows {
			out.Rows[i] = cloneMap(row)
		}
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, e := range t {
			out[i] = cloneMap(e)
		}
		return out
	default:
		return v
	}
}
