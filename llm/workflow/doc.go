// Package workflow implements the Workflow pipeline stage: deciding
// streaming vs non-streaming transport and wrapping the provider call with
// the matching semantics. It is a thin decorator in the style of
// llm/resilient_provider.go's ResilientProvider, not a DAG/graph engine.
package workflow
