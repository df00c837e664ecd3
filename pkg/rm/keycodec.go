package rm

import "strings"

// KeyCodec normalizes a primary-key value into the fixed-width,
// left-zero-padded string used as the record's identity within the RM, per
// spec.md §3 ("Record"). Composite keys are encoded as a pipe-delimited
// sequence of independently fixed-width components, per spec.md §6.
type KeyCodec struct {
	// Width is the fixed width each key component is padded to.
	Width int
}

// NewKeyCodec returns a KeyCodec with the given component width.
func NewKeyCodec(width int) KeyCodec {
	return KeyCodec{Width: width}
}

// Normalize left-zero-pads a single key component to Width. Components
// already at or beyond Width are left untouched (this mirrors
// original_source's OrderedStringPageIndex.record_to_page, which only pads
// when the key is shorter than key_width).
func (c KeyCodec) Normalize(component string) string {
	if len(component) >= c.Width {
		return component
	}
	return strings.Repeat("0", c.Width-len(component)) + component
}

// NormalizeComposite normalizes and pipe-joins a composite key.
func (c KeyCodec) NormalizeComposite(components ...string) string {
	normalized := make([]string, len(components))
	for i, comp := range components {
		normalized[i] = c.Normalize(comp)
	}
	return strings.Join(normalized, "|")
}
