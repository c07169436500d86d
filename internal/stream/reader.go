// Package stream implements the token stream reader and the incremental
// message assembler for the assistant pipeline.
package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/finsight-ai/assistant-platform/internal/llm"
)

// errAbandoned aborts the underlying provider stream after Cancel. It is
// never surfaced through the handler.
var errAbandoned = errors.New("stream abandoned")

// Handler receives the reader's callbacks. Fragments arrive in send order;
// exactly one of OnComplete/OnError fires, and nothing fires after Cancel.
type Handler struct {
	OnFragment func(fragment string, index int)
	OnComplete func(resp *llm.CompletionResponse)
	OnError    func(err error)
}

// Reader drives one completion stream and guards callback delivery with a
// liveness flag. A Reader is single-use: one Run or RunOnce per instance.
type Reader struct {
	client llm.Client

	mu         sync.Mutex
	terminated bool
}

// NewReader creates a reader over the given completion client.
func NewReader(client llm.Client) *Reader {
	return &Reader{client: client}
}

// Cancel abandons the stream. Fragments still in flight are dropped and no
// further callbacks fire.
func (r *Reader) Cancel() {
	r.mu.Lock()
	r.terminated = true
	r.mu.Unlock()
}

// alive reports whether callbacks may still be delivered.
func (r *Reader) alive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.terminated
}

// terminate marks the reader finished and reports whether this call won the
// transition. Guarantees the exactly-once terminal callback.
func (r *Reader) terminate() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminated {
		return false
	}
	r.terminated = true
	return true
}

// Run consumes the streaming completion, delivering each fragment to the
// handler. No retries: a transport failure surfaces once via OnError.
func (r *Reader) Run(ctx context.Context, req *llm.CompletionRequest, h Handler) {
	resp, err := r.client.CompleteStream(ctx, req, func(fragment string, index int) error {
		if !r.alive() {
			return errAbandoned
		}
		if h.OnFragment != nil {
			h.OnFragment(fragment, index)
		}
		return nil
	})

	if err != nil {
		if errors.Is(err, errAbandoned) {
			return
		}
		if r.terminate() && h.OnError != nil {
			h.OnError(err)
		}
		return
	}

	if r.terminate() && h.OnComplete != nil {
		h.OnComplete(resp)
	}
}

// RunOnce consumes the non-streaming completion, delivering the whole reply
// as a single fragment before completing. Used when streaming is disabled.
func (r *Reader) RunOnce(ctx context.Context, req *llm.CompletionRequest, h Handler) {
	resp, err := r.client.Complete(ctx, req)

	if !r.alive() {
		return
	}

	if err != nil {
		if r.terminate() && h.OnError != nil {
			h.OnError(err)
		}
		return
	}

	if h.OnFragment != nil {
		h.OnFragment(resp.Content, 0)
	}
	if r.terminate() && h.OnComplete != nil {
		h.OnComplete(resp)
	}
}
