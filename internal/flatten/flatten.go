package flatten

import "strings"

// ListSeparator joins the elements of an all-scalar array into one cell.
const ListSeparator = " | "

// Flatten expands a question response into one or more scalar columns.
//
// Objects produce one column per key, named Sanitize(prefix + "_" + key),
// recursing into nested containers. Arrays of scalars collapse into a single
// " | "-joined cell; any other array is kept whole as canonical JSON. A scalar
// produces a single column named Sanitize(prefix).
//
// When two keys map to the same column name, a name produced by a nested
// container wins and is never overwritten by a shallower scalar.
func Flatten(prefix string, v Value) *Columns {
	out := NewColumns()
	switch v.kind {
	case KindObject:
		nested := make(map[string]bool)
		for _, key := range v.obj.Keys() {
			child, _ := v.obj.Get(key)
			col := Sanitize(prefix + "_" + key)
			if child.IsContainer() {
				sub := Flatten(col, child)
				for _, name := range sub.Names() {
					cell, _ := sub.Get(name)
					out.Set(name, cell)
					nested[name] = true
				}
				continue
			}
			if nested[col] {
				continue
			}
			out.Set(col, ToCell(child))
		}
	case KindArray:
		if allScalar(v.arr) {
			out.Set(Sanitize(prefix), joinScalars(v.arr))
		} else {
			out.Set(Sanitize(prefix), Canonical(v))
		}
	default:
		out.Set(Sanitize(prefix), ToCell(v))
	}
	return out
}

func allScalar(elems []Value) bool {
	for _, e := range elems {
		if e.IsContainer() {
			return false
		}
	}
	return true
}

func joinScalars(elems []Value) string {
	parts := make([]string, len(elems))
	for i, e := range elems {
		parts[i] = ToCell(e)
	}
	return strings.Join(parts, ListSeparator)
}
