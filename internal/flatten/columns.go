package flatten

// Columns is an insertion-ordered mapping of column name to cell text.
// Re-assigning a name updates its cell in place without moving it.
type Columns struct {
	names []string
	cells map[string]string
}

// NewColumns returns an empty column set.
func NewColumns() *Columns {
	return &Columns{cells: make(map[string]string)}
}

// Set assigns cell to name.
func (c *Columns) Set(name, cell string) {
	if _, ok := c.cells[name]; !ok {
		c.names = append(c.names, name)
	}
	c.cells[name] = cell
}

// Get returns the cell stored under name.
func (c *Columns) Get(name string) (string, bool) {
	if c == nil {
		return "", false
	}
	cell, ok := c.cells[name]
	return cell, ok
}

// Has reports whether name has been assigned.
func (c *Columns) Has(name string) bool {
	_, ok := c.Get(name)
	return ok
}

// Names returns the column names in first-assignment order.
func (c *Columns) Names() []string {
	if c == nil {
		return nil
	}
	return c.names
}

// Len returns the number of columns.
func (c *Columns) Len() int {
	if c == nil {
		return 0
	}
	return len(c.names)
}

// Merge assigns every column of other, in other's order.
func (c *Columns) Merge(other *Columns) {
	for _, name := range other.Names() {
		c.Set(name, other.cells[name])
	}
}

// Map returns a plain map copy of the columns.
func (c *Columns) Map() map[string]string {
	out := make(map[string]string, c.Len())
	for _, name := range c.Names() {
		out[name] = c.cells[name]
	}
	return out
}
