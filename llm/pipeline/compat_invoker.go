package pipeline

import (
	"context"

	"github.com/BaSui01/agentflow/llm/codec"
	"github.com/BaSui01/agentflow/llm/compat"
	"github.com/BaSui01/agentflow/llm/workflow"
)

// compatInvoker wraps a workflow.Invoker with the Compatibility stage
// (spec §4.6): request-side filtering before the call, response-side
// filtering after. Streaming responses bypass response-side filtering —
// compat's shape rules apply to a complete JSON document, and the
// suspension-point list in spec §7 scopes shape filtering to non-suspending,
// whole-document operations.
type compatInvoker struct {
	filter *compat.Filter
	next   workflow.Invoker
}

func newCompatInvoker(filter *compat.Filter, next workflow.Invoker) *compatInvoker {
	return &compatInvoker{filter: filter, next: next}
}

func (c *compatInvoker) Call(ctx context.Context, payload codec.Payload) (codec.Payload, error) {
	filtered, err := c.filter.ProcessRequest(payload)
	if err != nil {
		return nil, err
	}
	resp, err := c.next.Call(ctx, filtered)
	if err != nil {
		return nil, err
	}
	return c.filter.ProcessResponse(resp), nil
}

func (c *compatInvoker) Stream(ctx context.Context, payload codec.Payload) (<-chan codec.StreamEvent, error) {
	filtered, err := c.filter.ProcessRequest(payload)
	if err != nil {
		return nil, err
	}
	return c.next.Stream(ctx, filtered)
}
