// Package flatten turns nested grant-submission JSON into a flat table.
//
// Each submission is a list of sections, each a list of questions whose
// responses may be scalars, arrays or objects of any depth. The package
// decodes documents into an order-preserving Value, expands every response
// into scalar columns, and merges all rows under one header whose order is
// the first-seen order of sections and questions across the whole set.
//
// Everything here is pure and single-threaded; fetching and writing live in
// the fetch and csvout packages.
package flatten
