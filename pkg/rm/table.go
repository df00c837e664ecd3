package rm

import "fmt"

// Table binds an Engine to one RM's shard configuration: which field of a
// record is the primary key, and how raw key values are normalized before
// they reach the engine. This is the "per-RM configuration string" named
// in spec.md §9.
type Table struct {
	Engine    *Engine
	KeyColumn string
	Codec     KeyCodec
}

// NewTable returns a Table over engine, keyed by keyColumn.
func NewTable(engine *Engine, keyColumn string, codec KeyCodec) *Table {
	return &Table{Engine: engine, KeyColumn: keyColumn, Codec: codec}
}

// Read returns the record currently visible to xid for the given raw
// (unnormalized) key.
func (t *Table) Read(xid int64, rawKey string) (*Record, *Error) {
	return t.Engine.Read(xid, t.Codec.Normalize(rawKey))
}

// Insert stages a new record. The key is extracted from fields[KeyColumn].
func (t *Table) Insert(xid int64, fields map[string]any) *Error {
	raw, err := t.extractKey(fields)
	if err != nil {
		return newErr(InvalidArgument, err)
	}
	return t.Engine.Insert(xid, t.Codec.Normalize(raw), fields)
}

// Update stages a field-level patch against the record at rawKey.
func (t *Table) Update(xid int64, rawKey string, patch map[string]any) *Error {
	return t.Engine.Update(xid, t.Codec.Normalize(rawKey), patch)
}

// Delete stages a tombstone for rawKey.
func (t *Table) Delete(xid int64, rawKey string) *Error {
	return t.Engine.Delete(xid, t.Codec.Normalize(rawKey))
}

func (t *Table) extractKey(fields map[string]any) (string, error) {
	v, ok := fields[t.KeyColumn]
	if !ok {
		return "", fmt.Errorf("record missing primary key field %q", t.KeyColumn)
	}
	switch s := v.(type) {
	case string:
		return s, nil
	default:
		return fmt.Sprintf("%v", s), nil
	}
}
