package streampipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	json "github.com/goccy/go-json"

	"github.com/blueberrycongee/llmcore/pkg/types"
)

const maxScanBufferBytes = 1 << 20

// ExtractNormalizedChunk extracts the three configured dotted paths from
// a decoded upstream JSON object and builds the uniform client-facing
// chunk shape (§4.7 "per-object transform"). Missing requestId falls
// back to defaultRequestID (the idempotency key); missing content
// becomes ""; missing seq falls back to the next value of seq.
func ExtractNormalizedChunk(obj map[string]any, paths types.ResponseFieldPaths, instanceModel, defaultRequestID string, seq *atomic.Int64) types.NormalizedChunk {
	id := defaultRequestID
	if v, ok := ExtractPath(obj, paths.RequestID); ok {
		if s, ok := v.(string); ok && s != "" {
			id = s
		}
	}

	content := ""
	if v, ok := ExtractPath(obj, paths.Content); ok {
		if s, ok := v.(string); ok {
			content = s
		}
	}

	index := 0
	if v, ok := ExtractPath(obj, paths.Sequence); ok {
		index = toInt(v)
	} else {
		index = int(seq.Add(1)) - 1
	}

	return types.NormalizedChunk{
		ID:     id,
		Object: "chat.completion.chunk",
		Model:  instanceModel,
		Choices: []types.NormalizedChoice{
			{Index: index, Delta: types.NormalizedDelta{Content: content}},
		},
	}
}

func toInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	default:
		return 0
	}
}

// Forwarder streams an upstream body to a client ResponseWriter,
// normalizing each SSE line and emitting either a bare JSON object or
// the literal "[DONE]" — no SSE "data:" framing on the client-facing
// side, per §6's inbound HTTP contract.
type Forwarder struct {
	Instance          *types.ModelInstance
	DefaultRequestID  string
	RawPassthrough    bool
}

// Forward reads upstream line by line until EOF, ctx cancellation, or a
// read error, writing normalized output to w and flushing after every
// line so client-visible order matches upstream arrival order within
// this stream.
func (f *Forwarder) Forward(ctx context.Context, upstream io.Reader, w http.ResponseWriter) error {
	flusher, _ := w.(http.Flusher)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	var seq atomic.Int64
	scanner := bufio.NewScanner(upstream)
	scanner.Buffer(make([]byte, 4096), maxScanBufferBytes)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		for _, line := range NormalizeChunk(scanner.Text()) {
			switch line.Kind {
			case LineDone:
				if _, err := io.WriteString(w, types.Done+"\n"); err != nil {
					return err
				}
			case LineJSON:
				var obj map[string]any
				if err := json.Unmarshal([]byte(line.JSON), &obj); err != nil {
					continue
				}
				var out []byte
				var err error
				if f.RawPassthrough {
					out = []byte(line.JSON)
				} else {
					chunk := ExtractNormalizedChunk(obj, f.Instance.ResponseFieldPaths, f.Instance.Model, f.DefaultRequestID, &seq)
					out, err = json.Marshal(chunk)
					if err != nil {
						continue
					}
				}
				if _, err := w.Write(out); err != nil {
					return err
				}
				if _, err := io.WriteString(w, "\n"); err != nil {
					return err
				}
			case LineDrop:
				// nothing to emit
			}
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("streampipeline: scanner error: %w", err)
	}
	return nil
}
