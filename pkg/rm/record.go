package rm

// Record is an opaque field-name-to-value mapping plus the two control
// fields the engine itself interprets: Version and Deleted. No field other
// than the primary-key value (held separately as the map key, not inside
// Fields) is ever inspected by the engine.
type Record struct {
	Fields  map[string]any
	Version int64
	Deleted bool
}

// Clone deep-copies a record so a shadow write never shares interior
// mutable state with the committed page it was cloned from.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	fields := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return &Record{Fields: fields, Version: r.Version, Deleted: r.Deleted}
}

// ApplyPatch mutates the record's fields in place with the given field-level
// patch, used by update().
func (r *Record) ApplyPatch(patch map[string]any) {
	for k, v := range patch {
		r.Fields[k] = v
	}
}

// NewRecord builds a fresh, non-deleted record from a field map.
func NewRecord(fields map[string]any) *Record {
	cp := make(map[string]any, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return &Record{Fields: cp}
}
