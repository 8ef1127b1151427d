// Package sse implements the StreamingManager: parsing upstream
// Server-Sent Events, driving them through a codec.Codec's
// ConvertResponseStream, and re-framing the result for the client
// protocol while preserving ordering and guaranteeing exactly one
// terminal event per response (spec §4.8, invariant I5).
//
// The line-oriented bufio.Reader parsing loop is grounded on
// llm/providers/openaicompat/provider.go's StreamSSE function.
package sse
