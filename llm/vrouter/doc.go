// Package vrouter implements the virtual routing engine: the data model for
// provider descriptors, key bindings, routing targets and pools, and the
// VirtualRouterEngine that turns a classified request plus an optional
// in-band directive into a concrete Target to dispatch to.
//
// The engine never performs I/O itself; it consults an injected
// HealthProvider (see llm/rhealth) to skip unhealthy targets and a
// SessionStore to honor per-session stickiness and forced/disabled targets
// across turns of the same conversation.
package vrouter
