package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentflow/llm/codec"
)

// ClientWriter is the narrow surface the manager needs from an HTTP
// response writer: write bytes and flush them immediately so the client
// observes each frame as it's produced.
type ClientWriter interface {
	io.Writer
	Flush()
}

// ManagerConfig holds the stream timeouts of spec §5. Pump applies
// IdleTimeout; HeadersTimeout is carried here but not read by Manager.
type ManagerConfig struct {
	IdleTimeout    time.Duration
	HeadersTimeout time.Duration
}

func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		IdleTimeout:    90 * time.Second,
		HeadersTimeout: 15 * time.Second,
	}
}

// Manager converts an upstream event stream into client-protocol SSE
// frames via the supplied Codec, guaranteeing exactly one terminal event
// (I5/P6) regardless of upstream abrupt close or idle timeout.
type Manager struct {
	cfg    ManagerConfig
	logger *zap.Logger
}

func NewManager(cfg ManagerConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{cfg: cfg, logger: logger}
}

// Pump reads from upstream, converts each event through c, and writes
// client-protocol SSE frames to w. clientIsAnthropicStyle controls frame
// shape: Anthropic uses `event: <name>\ndata: {json}\n\n`, everything else
// uses bare `data: {json}\n\n` terminated by `data: [DONE]\n\n`.
func (m *Manager) Pump(ctx context.Context, upstream <-chan codec.StreamEvent, c codec.Codec, w ClientWriter, clientIsAnthropicStyle bool) error {
	terminalSent := false
	idle := time.NewTimer(m.cfg.IdleTimeout)
	defer idle.Stop()

	emit := func(ev codec.StreamEvent) {
		writeClientEvent(w, ev, clientIsAnthropicStyle)
		if isTerminal(ev, clientIsAnthropicStyle) {
			terminalSent = true
		}
	}

	for {
		select {
		case <-ctx.Done():
			if !terminalSent {
				m.emitAbortError(w, clientIsAnthropicStyle, "context cancelled")
			}
			return ctx.Err()

		case <-idle.C:
			if !terminalSent {
				m.emitAbortError(w, clientIsAnthropicStyle, "idle timeout")
			}
			return fmt.Errorf("sse: idle timeout exceeded")

		case ev, ok := <-upstream:
			if !ok {
				if !terminalSent {
					m.emitAbortError(w, clientIsAnthropicStyle, "upstream closed without terminal frame")
				}
				return nil
			}
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(m.cfg.IdleTimeout)

			clientEvents, err := c.ConvertResponseStream(ctx, ev)
			if err != nil {
				m.logger.Warn("sse: codec conversion failed", zap.Error(err))
				if !terminalSent {
					m.emitAbortError(w, clientIsAnthropicStyle, "stream conversion error")
				}
				return err
			}
			for _, out := range clientEvents {
				emit(out)
			}
			if terminalSent {
				return nil
			}
		}
	}
}

func isTerminal(ev codec.StreamEvent, anthropicStyle bool) bool {
	if anthropicStyle {
		return ev.Event == "message_stop"
	}
	return string(ev.Raw) == "[DONE]"
}

func writeClientEvent(w ClientWriter, ev codec.StreamEvent, anthropicStyle bool) {
	defer w.Flush()
	if ev.Raw != nil {
		fmt.Fprintf(w, "data: %s\n\n", ev.Raw)
		return
	}
	body, err := json.Marshal(ev.Data)
	if err != nil {
		return
	}
	if anthropicStyle && ev.Event != "" {
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Event, body)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", body)
}

// emitAbortError writes a protocol-appropriate terminal error event then
// marks the stream closed — the stream_abort kind of spec §7.
func (m *Manager) emitAbortError(w ClientWriter, anthropicStyle bool, reason string) {
	if anthropicStyle {
		writeClientEvent(w, codec.StreamEvent{Event: "error", Data: codec.Payload{
			"type":  "error",
			"error": codec.Payload{"type": "overloaded_error", "message": reason},
		}}, true)
		writeClientEvent(w, codec.StreamEvent{Event: "message_stop", Data: codec.Payload{"type": "message_stop"}}, true)
		return
	}
	writeClientEvent(w, codec.StreamEvent{Data: codec.Payload{
		"error": codec.Payload{"message": reason, "type": "stream_abort"},
	}}, false)
	writeClientEvent(w, codec.StreamEvent{Raw: []byte("[DONE]")}, false)
}
