package llm

import (
	"context"
	"strings"
)

// Chunk is one fragment of a streamed completion. A chunk with a non-nil Err is
// always the last value sent before the channel closes.
type Chunk struct {
	Text string
	Err  error
}

// Stream runs prompt against c in a producer goroutine and returns the chunks
// over a channel that is closed when the completion ends. Clients without
// native streaming yield the whole completion as a single chunk. The sequence
// is finite and cannot be restarted; cancelling ctx stops the producer.
func Stream(ctx context.Context, c Client, prompt string) <-chan Chunk {
	out := make(chan Chunk)
	go func() {
		defer close(out)
		send := func(ch Chunk) error {
			select {
			case out <- ch:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if sc, ok := c.(StreamingClient); ok {
			err := sc.GenerateTextStream(ctx, prompt, func(chunk string) error {
				if chunk == "" {
					return nil
				}
				return send(Chunk{Text: chunk})
			})
			if err != nil {
				_ = send(Chunk{Err: err})
			}
			return
		}
		txt, err := c.GenerateText(ctx, prompt)
		if err != nil {
			_ = send(Chunk{Err: err})
			return
		}
		_ = send(Chunk{Text: txt})
	}()
	return out
}

// Collect drains a stream produced under ctx, calling onChunk with every
// fragment, and returns the concatenated text. A stream cut short by ctx
// reports ctx's error.
func Collect(ctx context.Context, chunks <-chan Chunk, onChunk func(string)) (string, error) {
	var b strings.Builder
	for ch := range chunks {
		if ch.Err != nil {
			return b.String(), ch.Err
		}
		b.WriteString(ch.Text)
		if onChunk != nil {
			onChunk(ch.Text)
		}
	}
	if err := ctx.Err(); err != nil {
		return b.String(), err
	}
	return b.String(), nil
}

// TokenCallback receives incremental completion text.
type TokenCallback func(chunk string)

type ctxKey string

const tokenCallbackKey ctxKey = "token_cb"

// WithTokenCallback returns a context carrying cb. Components that stream a
// completion forward each chunk to it.
func WithTokenCallback(ctx context.Context, cb TokenCallback) context.Context {
	return context.WithValue(ctx, tokenCallbackKey, cb)
}

// TokenCallbackFrom returns the callback stored in ctx, or nil.
func TokenCallbackFrom(ctx context.Context) TokenCallback {
	cb, _ := ctx.Value(tokenCallbackKey).(TokenCallback)
	return cb
}
