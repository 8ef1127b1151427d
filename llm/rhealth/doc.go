// Package rhealth implements the health and rate-limit control plane for
// routing targets: per-target consecutive-error tracking with auto-recovery
// windows, and transient-vs-daily-quota 429 cooldown classification.
//
// Targets are addressed purely by their runtime key (the string produced by
// vrouter.Target.RuntimeKey()) so this package has no dependency on vrouter
// and can be unit tested in isolation.
package rhealth
