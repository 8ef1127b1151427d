// Package auth implements AuthProvider (spec §4.9): producing per-request
// auth headers for a Target's KeyBinding and handling token lifecycle for
// the three credential shapes a ProviderDescriptor can bind — a literal API
// key, an OAuth device-flow token file, or a file-backed auth reference.
//
// The context-scoped credential override pattern is grounded on
// llm/credentials.go's CredentialOverride; the masked String()/MarshalJSON()
// convention there is reused so a Provider never logs a raw secret.
package auth
