package sse

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentflow/llm/codec"
)

type bufWriter struct {
	bytes.Buffer
	flushes int
}

func (b *bufWriter) Flush() { b.flushes++ }

func TestPumpEmitsExactlyOneDoneOnNormalCompletion(t *testing.T) {
	upstream := make(chan codec.StreamEvent, 4)
	upstream <- codec.StreamEvent{Data: codec.Payload{"choices": []any{map[string]any{"delta": map[string]any{"content": "hi"}}}}}
	upstream <- codec.StreamEvent{Raw: []byte("[DONE]")}
	close(upstream)

	m := NewManager(DefaultManagerConfig(), nil)
	w := &bufWriter{}
	c := &codec.IdentityCodec{}

	err := m.Pump(context.Background(), upstream, c, w, false)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(w.String(), "[DONE]"))
}

func TestPumpEmitsTerminalOnUpstreamCloseWithoutDone(t *testing.T) {
	upstream := make(chan codec.StreamEvent, 1)
	upstream <- codec.StreamEvent{Data: codec.Payload{"choices": []any{map[string]any{"delta": map[string]any{"content": "hi"}}}}}
	close(upstream)

	m := NewManager(DefaultManagerConfig(), nil)
	w := &bufWriter{}
	c := &codec.IdentityCodec{}

	err := m.Pump(context.Background(), upstream, c, w, false)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(w.String(), "[DONE]"))
}

func TestPumpEmitsOneMessageStopForAnthropicStyle(t *testing.T) {
	upstream := make(chan codec.StreamEvent, 3)
	upstream <- codec.StreamEvent{Data: codec.Payload{"choices": []any{map[string]any{"delta": map[string]any{"content": "Hel"}}}}}
	upstream <- codec.StreamEvent{Data: codec.Payload{"choices": []any{map[string]any{"delta": map[string]any{}, "finish_reason": "stop"}}}}
	close(upstream)

	m := NewManager(DefaultManagerConfig(), nil)
	w := &bufWriter{}
	c := &codec.AnthropicToOpenAICodec{}

	err := m.Pump(context.Background(), upstream, c, w, true)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(w.String(), "message_stop"))
}

func TestPumpIdleTimeoutEmitsAbortAndTerminates(t *testing.T) {
	upstream := make(chan codec.StreamEvent)
	m := NewManager(ManagerConfig{IdleTimeout: 10 * time.Millisecond, HeadersTimeout: time.Second}, nil)
	w := &bufWriter{}
	c := &codec.IdentityCodec{}

	err := m.Pump(context.Background(), upstream, c, w, false)
	require.Error(t, err)
	assert.Equal(t, 1, strings.Count(w.String(), "[DONE]"))
}
