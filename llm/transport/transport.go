package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/agentflow/internal/tlsutil"
	"github.com/BaSui01/agentflow/llm/retry"
	"github.com/BaSui01/agentflow/llm/rhealth"
)

// Request is one outbound call, already shaped into the provider's wire
// format by the pipeline's upstream stages.
type Request struct {
	Method  string
	Path    string // joined with Config.BaseURL via ResolveURL
	Headers map[string]string
	Body    []byte
	Stream  bool
}

// Response is a completed non-streaming call's result.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// StreamResponse is a completed streaming call's result: the body is left
// open for the caller (StreamingManager) to read SSE frames from.
type StreamResponse struct {
	StatusCode int
	Headers    http.Header
	Body       io.ReadCloser
}

// ClassifiedError wraps a non-2xx or network failure with its
// rhealth.ErrorKind so callers can drive HealthManager/RateLimitManager
// without re-deriving the classification.
type ClassifiedError struct {
	Kind       rhealth.ErrorKind
	StatusCode int
	Message    string
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("transport: upstream error (kind=%s, status=%d): %s", e.Kind, e.StatusCode, e.Message)
}

// Transport performs the outbound HTTP call for a single ProviderDescriptor:
// URL resolution, header merging, timeout, retry on transient failures, and
// error classification (spec §4.7).
type Transport struct {
	cfg      Config
	client   *http.Client
	retryer  retry.Retryer
	limiter  *rate.Limiter
	logger   *zap.Logger
	authKind string // "apikey" or "oauth", used only for 401 classification
}

func New(cfg Config, authKind string, logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := retry.DefaultRetryPolicy()
	policy.MaxRetries = cfg.MaxRetries
	policy.RetryableErrors = []error{errRetryableTransport}

	var limiter *rate.Limiter
	if cfg.RateLimitPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), int(cfg.RateLimitPerSec)+1)
	}

	return &Transport{
		cfg:      cfg,
		client:   tlsutil.SecureHTTPClient(cfg.Timeout),
		retryer:  retry.NewBackoffRetryer(policy, logger),
		limiter:  limiter,
		logger:   logger,
		authKind: authKind,
	}
}

// errRetryableTransport is the sentinel llm/retry's RetryableErrors list
// matches against via errors.Is, letting Transport mark exactly which
// classified failures the backoff retryer should retry.
var errRetryableTransport = errors.New("transport: retryable upstream failure")

// Do performs a non-streaming call, retrying transient failures (network,
// 5xx, short 429) per llm/retry's backoff policy. A 401 is returned
// unretried — the Provider layer owns the refresh-and-retry-once decision
// since only it holds the AuthProvider.
func (t *Transport) Do(ctx context.Context, req *Request) (*Response, error) {
	var resp *Response
	err := t.retryer.Do(ctx, func() error {
		r, doErr := t.once(ctx, req)
		if doErr != nil {
			if ce, ok := doErr.(*ClassifiedError); ok && isRetryableKind(ce.Kind) {
				return fmt.Errorf("%w: %w", errRetryableTransport, ce)
			}
			return doErr
		}
		resp = r
		return nil
	})
	if err != nil {
		var ce *ClassifiedError
		if errors.As(err, &ce) {
			return nil, ce
		}
	}
	return resp, err
}

func (t *Transport) once(ctx context.Context, req *Request) (*Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	url := ResolveURL(t.cfg.BaseURL, req.Path)
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	t.applyHeaders(httpReq, req.Headers)

	if t.cfg.DebugSnapshotDir != "" {
		_ = writeSnapshot(t.cfg.DebugSnapshotDir, req.Body)
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, &ClassifiedError{Kind: ClassifyNetworkError(err), Message: err.Error()}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &ClassifiedError{Kind: rhealth.ErrKindNetwork, Message: err.Error()}
	}

	if httpResp.StatusCode >= 300 {
		return nil, &ClassifiedError{
			Kind:       ClassifyStatus(httpResp.StatusCode, t.authKind, string(body)),
			StatusCode: httpResp.StatusCode,
			Message:    string(body),
		}
	}

	return &Response{StatusCode: httpResp.StatusCode, Headers: httpResp.Header, Body: body}, nil
}

// DoStream performs a streaming call without retry — once bytes start
// flowing to the caller a retry would duplicate partial output.
func (t *Transport) DoStream(ctx context.Context, req *Request) (*StreamResponse, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	url := ResolveURL(t.cfg.BaseURL, req.Path)
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	t.applyHeaders(httpReq, req.Headers)
	httpReq.Header.Set("Accept", "text/event-stream")

	if t.cfg.DebugSnapshotDir != "" {
		_ = writeSnapshot(t.cfg.DebugSnapshotDir, req.Body)
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, &ClassifiedError{Kind: ClassifyNetworkError(err), Message: err.Error()}
	}

	if httpResp.StatusCode >= 300 {
		body, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		return nil, &ClassifiedError{
			Kind:       ClassifyStatus(httpResp.StatusCode, t.authKind, string(body)),
			StatusCode: httpResp.StatusCode,
			Message:    string(body),
		}
	}

	return &StreamResponse{StatusCode: httpResp.StatusCode, Headers: httpResp.Header, Body: httpResp.Body}, nil
}

func (t *Transport) applyHeaders(httpReq *http.Request, overrides map[string]string) {
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range t.cfg.DefaultHeaders {
		httpReq.Header.Set(k, v)
	}
	for k, v := range overrides {
		httpReq.Header.Set(k, v)
	}
}

func writeSnapshot(dir string, body []byte) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	name := fmt.Sprintf("%s/%d.json", dir, time.Now().UnixNano())
	return writeFileAtomic(name, body)
}
