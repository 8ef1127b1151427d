package sse

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/BaSui01/agentflow/llm/codec"
)

// ParseUpstream reads an upstream SSE body and emits one codec.StreamEvent
// per frame onto the returned channel. It understands both the OpenAI
// style (bare `data: {json}` frames terminated by `data: [DONE]`) and the
// Anthropic style (`event: <name>` followed by `data: {json}`).
//
// The channel is closed when the body is exhausted or ctx-independent read
// error occurs; callers drive cancellation by closing body themselves
// (e.g. on client disconnect), matching llm/providers/openaicompat's
// StreamSSE contract.
func ParseUpstream(body io.ReadCloser) <-chan codec.StreamEvent {
	out := make(chan codec.StreamEvent, 16)
	go func() {
		defer close(out)
		defer body.Close()

		reader := bufio.NewReader(body)
		var pendingEvent string
		for {
			line, err := reader.ReadString('\n')
			trimmed := strings.TrimRight(line, "\r\n")

			switch {
			case strings.HasPrefix(trimmed, "event:"):
				pendingEvent = strings.TrimSpace(strings.TrimPrefix(trimmed, "event:"))
			case strings.HasPrefix(trimmed, "data:"):
				data := strings.TrimSpace(strings.TrimPrefix(trimmed, "data:"))
				if data == "[DONE]" {
					out <- codec.StreamEvent{Event: pendingEvent, Raw: []byte("[DONE]")}
					pendingEvent = ""
				} else if data != "" {
					var payload codec.Payload
					if jsonErr := json.Unmarshal([]byte(data), &payload); jsonErr == nil {
						out <- codec.StreamEvent{Event: pendingEvent, Data: payload}
					}
					pendingEvent = ""
				}
			}

			if err != nil {
				return
			}
		}
	}()
	return out
}
