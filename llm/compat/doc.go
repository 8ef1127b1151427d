// Package compat implements the per-provider-family shape filter: a single
// configurable pipeline that normalizes message roles, coerces content to
// the shapes a given provider family expects, repairs/dedups tool
// definitions, and performs the symmetric response-side normalization
// (usage field aliasing, finish_reason vocabulary, key restriction).
//
// Payloads are represented as map[string]any (a JSON tagged-union value)
// rather than closed structs, per the "runtime-flexible JSON" design note:
// re-modeling every provider schema as a Go struct is not worth the
// maintenance cost for a shape-level filter that only ever touches a
// handful of keys per provider family.
package compat
