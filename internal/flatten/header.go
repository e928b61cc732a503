package flatten

// HeaderBuilder accumulates the global column order. A column's position is
// fixed the first time it is seen; later rows can only append.
type HeaderBuilder struct {
	order []string
	seen  map[string]bool
}

// NewHeaderBuilder returns a builder seeded with the given columns.
func NewHeaderBuilder(seed ...string) *HeaderBuilder {
	h := &HeaderBuilder{seen: make(map[string]bool)}
	for _, name := range seed {
		h.Add(name)
	}
	return h
}

// Add appends name unless it is empty or already present. It reports
// whether name was appended.
func (h *HeaderBuilder) Add(name string) bool {
	if name == "" || h.seen[name] {
		return false
	}
	h.seen[name] = true
	h.order = append(h.order, name)
	return true
}

// Contains reports whether name has been placed.
func (h *HeaderBuilder) Contains(name string) bool {
	return h.seen[name]
}

// AddBlocks places each block's separator followed by its columns.
func (h *HeaderBuilder) AddBlocks(blocks []Block) {
	for _, b := range blocks {
		h.Add(b.Separator)
		for _, col := range b.Columns {
			h.Add(col)
		}
	}
}

// AddColumns places every column of cols in cols' order.
func (h *HeaderBuilder) AddColumns(cols *Columns) {
	for _, name := range cols.Names() {
		h.Add(name)
	}
}

// Len returns the number of placed columns.
func (h *HeaderBuilder) Len() int { return len(h.order) }

// Header returns a copy of the current column order.
func (h *HeaderBuilder) Header() []string {
	out := make([]string, len(h.order))
	copy(out, h.order)
	return out
}
