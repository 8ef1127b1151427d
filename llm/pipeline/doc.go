// Package pipeline implements the PipelineAssembler (spec §4.4): given a
// selected Target it assembles the ordered stage chain
// LLMSwitch(entryProtocol→providerProtocol) -> Workflow -> Compatibility ->
// Provider, caches the assembly keyed by (entryProtocol, Target runtime
// key), and exposes one entry point the HttpFrontend calls per request.
//
// The compatibility and provider stages are composed as decorators around
// a workflow.Invoker, the same wrapping style llm/resilient_provider.go
// uses to layer retry/idempotency/circuit-breaking around a base Provider.
package pipeline
