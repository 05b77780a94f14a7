package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/wolfman30/thread-relay/internal/aigateway"
	"github.com/wolfman30/thread-relay/internal/dedup"
	"github.com/wolfman30/thread-relay/internal/intent"
)

type post struct {
	channel, thread, text string
}

type reaction struct {
	op, channel, ts, name string
}

type fakeChat struct {
	mu        sync.Mutex
	posts     []post
	updates   []post
	reactions []reaction
	seq       int
	postErr   error
	updateErr error
	// honorDeadline fails calls on a done ctx, like the slack-go *Context calls.
	honorDeadline bool
}

func (f *fakeChat) PostMessage(ctx context.Context, channel, threadTS, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ctxErr(ctx); err != nil {
		return "", err
	}
	if f.postErr != nil {
		return "", f.postErr
	}
	f.seq++
	f.posts = append(f.posts, post{channel: channel, thread: threadTS, text: text})
	return fmt.Sprintf("reply.%d", f.seq), nil
}

func (f *fakeChat) UpdateMessage(ctx context.Context, channel, ts, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ctxErr(ctx); err != nil {
		return err
	}
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, post{channel: channel, thread: ts, text: text})
	return nil
}

func (f *fakeChat) SetReaction(ctx context.Context, channel, ts, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ctxErr(ctx); err != nil {
		return err
	}
	f.reactions = append(f.reactions, reaction{op: "add", channel: channel, ts: ts, name: name})
	return nil
}

func (f *fakeChat) RemoveReaction(ctx context.Context, channel, ts, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ctxErr(ctx); err != nil {
		return err
	}
	f.reactions = append(f.reactions, reaction{op: "remove", channel: channel, ts: ts, name: name})
	return nil
}

func (f *fakeChat) ctxErr(ctx context.Context) error {
	if f.honorDeadline {
		return ctx.Err()
	}
	return nil
}

func (f *fakeChat) snapshot() ([]post, []post, []reaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]post(nil), f.posts...), append([]post(nil), f.updates...), append([]reaction(nil), f.reactions...)
}

type fakeAI struct {
	calls   atomic.Int32
	outcome aigateway.Outcome
	prompts chan string
}

func (f *fakeAI) Complete(_ context.Context, prompt string) aigateway.Outcome {
	f.calls.Add(1)
	if f.prompts != nil {
		f.prompts <- prompt
	}
	return f.outcome
}

type panickingClassifier struct{}

func (panickingClassifier) ClassifyMessage(string) intent.Result {
	panic("classifier exploded")
}

var errChatDown = errors.New("chat down")

// stallingAI blocks until the caller's deadline, like a backend that never answers.
type stallingAI struct{}

func (stallingAI) Complete(ctx context.Context, _ string) aigateway.Outcome {
	<-ctx.Done()
	return aigateway.TransientFailure("AI backend timed out")
}

// deadlineStore fails writes on a done ctx, like the Redis and Postgres stores.
type deadlineStore struct {
	*dedup.MemoryStore
}

func (s deadlineStore) MarkProcessed(ctx context.Context, id, outcome string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.MarkProcessed(ctx, id, outcome)
}
