// Package classify maps a request's shape to a routing category through an
// ordered rule set, a glob fallback over the model name, and a final
// contextual-inference fallback. It performs no I/O and never mutates its
// input (spec §4.1's determinism contract).
package classify
