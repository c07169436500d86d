package stream

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-ai/assistant-platform/internal/llm"
)

// fakeClient replays a fixed fragment sequence, optionally failing after
// the fragments are delivered.
type fakeClient struct {
	fragments []string
	failWith  error
}

func (f *fakeClient) Name() string { return "fake" }

func (f *fakeClient) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	var content string
	for _, fr := range f.fragments {
		content += fr
	}
	return &llm.CompletionResponse{Content: content, Model: "fake-model"}, nil
}

func (f *fakeClient) CompleteStream(ctx context.Context, req *llm.CompletionRequest, cb llm.StreamCallback) (*llm.CompletionResponse, error) {
	var content string
	for i, fr := range f.fragments {
		if err := cb(fr, i); err != nil {
			return nil, err
		}
		content += fr
	}
	if f.failWith != nil {
		return nil, f.failWith
	}
	return &llm.CompletionResponse{Content: content, Model: "fake-model"}, nil
}

func TestReaderDeliversFragmentsInOrder(t *testing.T) {
	client := &fakeClient{fragments: []string{"Hel", "lo wor", "ld"}}
	reader := NewReader(client)

	var got []string
	var completions, failures int

	reader.Run(context.Background(), &llm.CompletionRequest{}, Handler{
		OnFragment: func(fragment string, index int) {
			require.Equal(t, len(got), index)
			got = append(got, fragment)
		},
		OnComplete: func(resp *llm.CompletionResponse) {
			completions++
			assert.Equal(t, "Hello world", resp.Content)
		},
		OnError: func(err error) { failures++ },
	})

	assert.Equal(t, []string{"Hel", "lo wor", "ld"}, got)
	assert.Equal(t, 1, completions)
	assert.Equal(t, 0, failures)
}

func TestReaderErrorFiresExactlyOnce(t *testing.T) {
	wantErr := errors.New("network")
	client := &fakeClient{fragments: []string{"Hel", "lo"}, failWith: wantErr}
	reader := NewReader(client)

	var fragments, completions, failures int

	reader.Run(context.Background(), &llm.CompletionRequest{}, Handler{
		OnFragment: func(string, int) { fragments++ },
		OnComplete: func(*llm.CompletionResponse) { completions++ },
		OnError: func(err error) {
			failures++
			assert.ErrorIs(t, err, wantErr)
		},
	})

	assert.Equal(t, 2, fragments)
	assert.Equal(t, 0, completions)
	assert.Equal(t, 1, failures)
}

func TestReaderCancelDropsLateFragments(t *testing.T) {
	client := &fakeClient{fragments: []string{"a", "b", "c", "d"}}
	reader := NewReader(client)

	var got []string
	var terminal int

	reader.Run(context.Background(), &llm.CompletionRequest{}, Handler{
		OnFragment: func(fragment string, index int) {
			got = append(got, fragment)
			if index == 1 {
				reader.Cancel()
			}
		},
		OnComplete: func(*llm.CompletionResponse) { terminal++ },
		OnError:    func(error) { terminal++ },
	})

	assert.Equal(t, []string{"a", "b"}, got)
	assert.Zero(t, terminal, "no callback may fire after abandonment")
}

func TestReaderRunOnceDeliversSingleFragment(t *testing.T) {
	client := &fakeClient{fragments: []string{"full ", "reply"}}
	reader := NewReader(client)

	var got []string
	var completions int

	reader.RunOnce(context.Background(), &llm.CompletionRequest{}, Handler{
		OnFragment: func(fragment string, index int) {
			assert.Zero(t, index)
			got = append(got, fragment)
		},
		OnComplete: func(*llm.CompletionResponse) { completions++ },
	})

	assert.Equal(t, []string{"full reply"}, got)
	assert.Equal(t, 1, completions)
}

func TestReaderRunOnceCancelledBeforeResult(t *testing.T) {
	client := &fakeClient{fragments: []string{"reply"}}
	reader := NewReader(client)
	reader.Cancel()

	called := false
	reader.RunOnce(context.Background(), &llm.CompletionRequest{}, Handler{
		OnFragment: func(string, int) { called = true },
		OnComplete: func(*llm.CompletionResponse) { called = true },
		OnError:    func(error) { called = true },
	})

	assert.False(t, called)
}
