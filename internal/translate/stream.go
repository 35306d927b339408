package translate

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

// Chunk is one unit of a streamed response: a content delta plus optional
// terminal metadata. Chunks arrive in generation order and their deltas
// concatenate to the full message. A non-nil Err marks abnormal
// termination; it is always the final chunk delivered.
type Chunk struct {
	// Raw is the backend response object with the envelope stripped,
	// suitable for native Gemini passthrough.
	Raw []byte

	// Delta is the concatenated text of this chunk's parts.
	Delta string

	// FinishReason is set on the terminal chunk (backend vocabulary).
	FinishReason string

	Usage *Usage

	Err error
}

// streamBufferCap bounds the producer/consumer channel so a slow caller
// applies backpressure to the backend read.
const streamBufferCap = 16

// sseMaxFrame is the scanner limit for large SSE frames.
const sseMaxFrame = 8 * 1024 * 1024

// ReadStream consumes a backend SSE body and produces an ordered, finite,
// non-restartable chunk sequence. The channel closes after the final
// chunk; cancellation of ctx stops the read and surfaces ctx.Err() as a
// terminal error chunk. body is closed when the stream ends either way.
func ReadStream(ctx context.Context, body io.ReadCloser) <-chan Chunk {
	out := make(chan Chunk, streamBufferCap)

	go func() {
		defer close(out)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), sseMaxFrame)

		emit := func(ch Chunk) bool {
			select {
			case out <- ch:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for scanner.Scan() {
			select {
			case <-ctx.Done():
				emitFinal(out, Chunk{Err: ctx.Err()})
				return
			default:
			}

			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return
			}

			ch, ok := parseChunk([]byte(data))
			if !ok {
				continue
			}
			if !emit(ch) {
				emitFinal(out, Chunk{Err: ctx.Err()})
				return
			}
		}

		if err := scanner.Err(); err != nil {
			if ctx.Err() != nil {
				emitFinal(out, Chunk{Err: ctx.Err()})
				return
			}
			// The consumer is still alive on this path, so wait for it:
			// a full buffer must not swallow the terminal error.
			emit(Chunk{Err: fmt.Errorf("backend stream interrupted: %w", err)})
		}
	}()

	return out
}

// emitFinal delivers a terminal chunk without blocking. Only used on
// cancellation paths, where the consumer may already be gone.
func emitFinal(out chan<- Chunk, ch Chunk) {
	select {
	case out <- ch:
	default:
	}
}

func parseChunk(data []byte) (Chunk, bool) {
	if !gjson.ValidBytes(data) {
		return Chunk{}, false
	}

	inner := UnwrapEnvelope(data)
	root := gjson.ParseBytes(inner)

	ch := Chunk{Raw: inner}

	var text strings.Builder
	root.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		if part.Get("thought").Bool() || part.Get("functionCall").Exists() {
			return true
		}
		text.WriteString(part.Get("text").String())
		return true
	})
	ch.Delta = text.String()
	ch.FinishReason = root.Get("candidates.0.finishReason").String()
	ch.Usage = extractUsage(root)

	return ch, true
}

// ExtractUsage pulls token counts out of a backend response body, the
// envelope stripped if present. Returns nil when the body carries no
// usage metadata.
func ExtractUsage(body []byte) *Usage {
	return extractUsage(gjson.ParseBytes(UnwrapEnvelope(body)))
}

func extractUsage(root gjson.Result) *Usage {
	meta := root.Get("usageMetadata")
	if !meta.Exists() {
		return nil
	}
	return &Usage{
		PromptTokens:     int(meta.Get("promptTokenCount").Int()),
		CompletionTokens: int(meta.Get("candidatesTokenCount").Int()),
		TotalTokens:      int(meta.Get("totalTokenCount").Int()),
	}
}
