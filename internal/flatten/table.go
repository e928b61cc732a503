package flatten

// Pair is one submission together with the metadata of the object that
// contained it.
type Pair struct {
	Root       *Object
	Submission Value
}

// Table is the rectangular result: an ordered header and one row per
// submission. Every row has a cell for every header column.
type Table struct {
	Header []string
	Rows   []map[string]string
}

// Build extracts every pair and materializes the rows against one global
// header.
//
// The header starts with the meta columns, then grows block by block in
// submission order. Columns present in a row but missing from its blocks are
// appended last, in row order, so no cell is ever dropped from the output.
func Build(pairs []Pair, opts Options) *Table {
	header := NewHeaderBuilder(MetaHeader()...)
	rows := make([]Row, 0, len(pairs))

	for _, p := range pairs {
		row := ExtractRow(p.Root, p.Submission, opts)
		rows = append(rows, row)
		header.AddBlocks(row.Blocks)
	}
	for _, row := range rows {
		header.AddColumns(row.Meta)
		header.AddColumns(row.Data)
	}

	t := &Table{Header: header.Header(), Rows: make([]map[string]string, 0, len(rows))}
	for _, row := range rows {
		t.Rows = append(t.Rows, materialize(t.Header, row))
	}
	return t
}

// materialize lays a row out against the header. Question cells override
// meta cells that share a name.
func materialize(header []string, row Row) map[string]string {
	out := make(map[string]string, len(header))
	for _, h := range header {
		out[h] = ""
	}
	for _, name := range row.Meta.Names() {
		out[name], _ = row.Meta.Get(name)
	}
	for _, name := range row.Data.Names() {
		out[name], _ = row.Data.Get(name)
	}
	return out
}

// Records returns the rows as string slices in header order.
func (t *Table) Records() [][]string {
	out := make([][]string, len(t.Rows))
	for i, row := range t.Rows {
		rec := make([]string, len(t.Header))
		for j, h := range t.Header {
			rec[j] = row[h]
		}
		out[i] = rec
	}
	return out
}
