package flatten

import (
	"regexp"
	"strings"
)

// SeparatorKeepPattern matches section separator columns. Callers always
// include it so separators survive the constant-column pass.
var SeparatorKeepPattern = regexp.MustCompile(`^Section:\s`)

// DropConstantColumns removes every column whose distinct values across all
// rows number at most one. With ignoreEmpty, blank and whitespace-only cells
// do not count as values, so a column holding one value and some blanks is
// also removed. Columns matching any keep pattern are never removed.
//
// It returns the filtered table and the removed column names in header
// order. The input table is not modified and the row count never changes.
func DropConstantColumns(t *Table, ignoreEmpty bool, keep []*regexp.Regexp) (*Table, []string) {
	if len(t.Rows) == 0 {
		return t, nil
	}

	var removed []string
	drop := make(map[string]bool)
	for _, col := range t.Header {
		if matchesAny(col, keep) {
			continue
		}
		distinct := make(map[string]struct{}, 2)
		for _, row := range t.Rows {
			cell := row[col]
			if ignoreEmpty && strings.TrimSpace(cell) == "" {
				continue
			}
			distinct[cell] = struct{}{}
			if len(distinct) > 1 {
				break
			}
		}
		if len(distinct) <= 1 {
			removed = append(removed, col)
			drop[col] = true
		}
	}
	if len(removed) == 0 {
		return t, nil
	}

	out := &Table{
		Header: make([]string, 0, len(t.Header)-len(removed)),
		Rows:   make([]map[string]string, len(t.Rows)),
	}
	for _, col := range t.Header {
		if !drop[col] {
			out.Header = append(out.Header, col)
		}
	}
	for i, row := range t.Rows {
		kept := make(map[string]string, len(out.Header))
		for _, col := range out.Header {
			kept[col] = row[col]
		}
		out.Rows[i] = kept
	}
	return out, removed
}

func matchesAny(col string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(col) {
			return true
		}
	}
	return false
}

// CompileKeepPatterns compiles user-supplied patterns and appends the
// separator pattern.
func CompileKeepPatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns)+1)
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return append(out, SeparatorKeepPattern), nil
}
