package agent

import (
	"sync"
	"time"

	"github.com/deco-cx/agent-runtime/internal/observability"
	"github.com/deco-cx/agent-runtime/pkg/models"
)

// StreamingResponse is returned by Stream as soon as the model call is
// initiated. Chunks arrive on Chunks; the channel closes when generation
// finishes. Result blocks until then.
type StreamingResponse struct {
	// Chunks delivers text, thinking and tool-call chunks in order.
	Chunks <-chan *CompletionChunk

	done   chan struct{}
	result *GenerationResult
	err    error
}

func newStreamingResponse(chunks <-chan *CompletionChunk) *StreamingResponse {
	return &StreamingResponse{
		Chunks: chunks,
		done:   make(chan struct{}),
	}
}

func (s *StreamingResponse) finish(result *GenerationResult, err error) {
	s.result = result
	s.err = err
	close(s.done)
}

// Result blocks until the stream completes and returns the aggregate
// result. Callers must drain Chunks; Result alone does not consume them.
func (s *StreamingResponse) Result() (*GenerationResult, error) {
	<-s.done
	return s.result, s.err
}

// ttfbTimer measures time-to-first-byte for a streaming generation. It
// starts at call initiation; End records once and is a no-op afterwards.
type ttfbTimer struct {
	start   time.Time
	model   string
	metrics *observability.Metrics
	once    sync.Once
	elapsed time.Duration
}

func newTTFBTimer(model string, metrics *observability.Metrics) *ttfbTimer {
	return &ttfbTimer{start: time.Now(), model: model, metrics: metrics}
}

func (t *ttfbTimer) End() {
	t.once.Do(func() {
		t.elapsed = time.Since(t.start)
		if t.metrics != nil {
			t.metrics.TimeToFirstByte.WithLabelValues(t.model).Observe(t.elapsed.Seconds())
		}
	})
}

// Elapsed returns the recorded time-to-first-byte, zero if End was never
// called.
func (t *ttfbTimer) Elapsed() time.Duration {
	return t.elapsed
}

// GenerationResult is the aggregate outcome of one generate or stream call.
type GenerationResult struct {
	Text      string              `json:"text"`
	Thinking  string              `json:"thinking,omitempty"`
	ToolCalls []models.ToolCall   `json:"tool_calls,omitempty"`
	Results   []models.ToolResult `json:"tool_results,omitempty"`
	Usage     models.Usage        `json:"usage"`
	Steps     int                 `json:"steps"`
	ThreadID  string              `json:"thread_id"`
	Model     string              `json:"model"`
}
