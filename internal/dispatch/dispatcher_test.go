package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/thread-relay/internal/aigateway"
	"github.com/wolfman30/thread-relay/internal/config"
	"github.com/wolfman30/thread-relay/internal/dedup"
	"github.com/wolfman30/thread-relay/internal/events"
	"github.com/wolfman30/thread-relay/internal/intent"
	"github.com/wolfman30/thread-relay/pkg/logging"
)

var ptoRules = []config.KeywordRule{{Keyword: "pto", Answer: "See the PTO policy doc."}}

type harness struct {
	store *dedup.MemoryStore
	chat  *fakeChat
	ai    *fakeAI
	d     *Dispatcher
}

func newHarness(t *testing.T, outcome aigateway.Outcome, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store: dedup.NewMemoryStore(5 * time.Minute),
		chat:  &fakeChat{},
		ai:    &fakeAI{outcome: outcome},
	}
	h.d = New(
		dedup.New(h.store, logging.Discard(), nil),
		intent.NewClassifier(ptoRules, "UBOT"),
		h.ai,
		h.chat,
		logging.Discard(),
		opts...,
	)
	return h
}

func mentionEvent(text string) events.InboundEvent {
	return events.InboundEvent{
		DeliveryID: "Ev1",
		LogicalID:  "C1:1700000000.000100",
		Channel:    "C1",
		ThreadTS:   "t1",
		MessageTS:  "1700000000.000100",
		UserID:     "U123",
		Text:       text,
		Type:       events.TypeAppMention,
	}
}

func TestHandleKeywordScenario(t *testing.T) {
	h := newHarness(t, aigateway.Answered("unused"))
	res := h.d.Handle(context.Background(), mentionEvent("<@UBOT> what is the pto policy?"))

	assert.Equal(t, "answered", string(res.Action.Status))
	posts, updates, reactions := h.chat.snapshot()
	require.Len(t, posts, 1)
	assert.Equal(t, post{channel: "C1", thread: "t1", text: "See the PTO policy doc."}, posts[0])
	assert.Empty(t, updates)
	assert.Equal(t, []reaction{{op: "add", channel: "C1", ts: "1700000000.000100", name: "white_check_mark"}}, reactions)
	assert.Equal(t, int32(0), h.ai.calls.Load())

	outcome, ok := h.store.Outcome("C1:1700000000.000100")
	assert.True(t, ok)
	assert.Equal(t, "answered", outcome)
}

func TestHandleEmptyMention(t *testing.T) {
	h := newHarness(t, aigateway.Answered("unused"))
	res := h.d.Handle(context.Background(), mentionEvent("<@UBOT> "))

	assert.Equal(t, "error", string(res.Action.Status))
	posts, _, reactions := h.chat.snapshot()
	require.Len(t, posts, 1)
	assert.Equal(t, "Hi <@U123>! What would you like to know? Mention me with a question.", posts[0].text)
	require.Len(t, reactions, 1)
	assert.Equal(t, "warning", reactions[0].name)
	assert.Equal(t, int32(0), h.ai.calls.Load())
}

func TestHandleAIAnsweredSwapsProcessingReaction(t *testing.T) {
	h := newHarness(t, aigateway.Answered("Use the VPN guide."))
	h.ai.prompts = make(chan string, 1)
	res := h.d.Handle(context.Background(), mentionEvent("<@UBOT> how do I connect remotely?"))

	assert.Equal(t, "how do I connect remotely?", <-h.ai.prompts)
	assert.Equal(t, "answered", string(res.Action.Status))
	posts, _, reactions := h.chat.snapshot()
	require.Len(t, posts, 1)
	assert.Equal(t, "Use the VPN guide.", posts[0].text)
	assert.Equal(t, []reaction{
		{op: "add", channel: "C1", ts: "1700000000.000100", name: "hourglass_flowing_sand"},
		{op: "remove", channel: "C1", ts: "1700000000.000100", name: "hourglass_flowing_sand"},
		{op: "add", channel: "C1", ts: "1700000000.000100", name: "white_check_mark"},
	}, reactions)
}

func TestHandleProcessingNoticeIsEditedInPlace(t *testing.T) {
	h := newHarness(t, aigateway.Answered("Use the VPN guide."), WithProcessingNotice(true), WithReactions(false))
	res := h.d.Handle(context.Background(), mentionEvent("<@UBOT> vpn help"))

	posts, updates, reactions := h.chat.snapshot()
	require.Len(t, posts, 1)
	assert.Contains(t, posts[0].text, "Let me look into that")
	require.Len(t, updates, 1)
	assert.Equal(t, post{channel: "C1", thread: "reply.1", text: "Use the VPN guide."}, updates[0])
	assert.Equal(t, "reply.1", res.ReplyTS)
	assert.Empty(t, reactions)
}

func TestHandleNoticeEditFailureFallsBackToPost(t *testing.T) {
	h := newHarness(t, aigateway.Answered("final"), WithProcessingNotice(true))
	h.chat.updateErr = errChatDown
	res := h.d.Handle(context.Background(), mentionEvent("<@UBOT> anything"))

	posts, _, _ := h.chat.snapshot()
	require.Len(t, posts, 2)
	assert.Equal(t, "final", posts[1].text)
	assert.Equal(t, "reply.2", res.ReplyTS)
}

func TestHandleNoAnswerEscalates(t *testing.T) {
	h := newHarness(t, aigateway.NoAnswer())
	res := h.d.Handle(context.Background(), mentionEvent("<@UBOT> who owns the coffee machine?"))

	assert.Equal(t, "escalated", string(res.Action.Status))
	assert.Equal(t, "Hi <@U123>! I'm not sure how to answer that yet. A People Team member will follow up. :cloud:", res.Action.ReplyText)
	_, _, reactions := h.chat.snapshot()
	assert.Equal(t, "cloud", reactions[len(reactions)-1].name)
}

func TestHandleTransientFailure(t *testing.T) {
	h := newHarness(t, aigateway.TransientFailure("AI backend returned HTTP 500"))
	res := h.d.Handle(context.Background(), mentionEvent("<@UBOT> why?"))

	assert.Equal(t, "error", string(res.Action.Status))
	assert.Contains(t, res.Action.ReplyText, "There was an error contacting the AI Agent")
	assert.Contains(t, res.Action.ReplyText, "AI backend returned HTTP 500")
	_, _, reactions := h.chat.snapshot()
	assert.Equal(t, "warning", reactions[len(reactions)-1].name)
}

func TestHandleRecoversFromPanic(t *testing.T) {
	store := dedup.NewMemoryStore(time.Minute)
	chat := &fakeChat{}
	d := New(dedup.New(store, logging.Discard(), nil), panickingClassifier{}, &fakeAI{}, chat, logging.Discard())

	res := d.Handle(context.Background(), mentionEvent("<@UBOT> boom"))
	assert.Equal(t, "error", string(res.Action.Status))
	assert.Equal(t, "Sorry <@U123>, something went wrong while handling your message. :warning:", res.Action.ReplyText)

	posts, _, reactions := chat.snapshot()
	assert.Len(t, posts, 1)
	assert.Equal(t, "warning", reactions[len(reactions)-1].name)
	outcome, _ := store.Outcome("C1:1700000000.000100")
	assert.Equal(t, "error", outcome)
}

func TestHandlePostFailureStillReactsAndMarks(t *testing.T) {
	h := newHarness(t, aigateway.Answered("unused"))
	h.chat.postErr = errChatDown
	res := h.d.Handle(context.Background(), mentionEvent("<@UBOT> pto?"))

	assert.Empty(t, res.ReplyTS)
	_, _, reactions := h.chat.snapshot()
	require.Len(t, reactions, 1)
	assert.Equal(t, "white_check_mark", reactions[0].name)
	outcome, ok := h.store.Outcome("C1:1700000000.000100")
	assert.True(t, ok)
	assert.Equal(t, "answered", outcome)
}

func TestHandleThreadRootFallback(t *testing.T) {
	h := newHarness(t, aigateway.Answered("unused"))
	ev := mentionEvent("<@UBOT> pto")
	ev.ThreadTS = ""
	h.d.Handle(context.Background(), ev)

	posts, _, _ := h.chat.snapshot()
	require.Len(t, posts, 1)
	assert.Equal(t, "1700000000.000100", posts[0].thread)
}

func TestHandleWithoutMessageTSSkipsReactions(t *testing.T) {
	h := newHarness(t, aigateway.Answered("Roadmap is in the wiki."))
	ev := mentionEvent("<@UBOT> explain the roadmap")
	ev.MessageTS = ""
	ev.LogicalID = ev.DeliveryID
	res := h.d.Handle(context.Background(), ev)

	assert.Equal(t, "answered", string(res.Action.Status))
	posts, _, reactions := h.chat.snapshot()
	require.Len(t, posts, 1)
	assert.Equal(t, "t1", posts[0].thread)
	assert.Empty(t, reactions)
}

func TestHandleFinishesOnExpiredContext(t *testing.T) {
	h := newHarness(t, aigateway.Answered("unused"))
	h.chat.honorDeadline = true
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.d.Handle(ctx, mentionEvent("<@UBOT> pto"))

	assert.NotEmpty(t, res.ReplyTS)
	posts, _, reactions := h.chat.snapshot()
	require.Len(t, posts, 1)
	assert.Equal(t, 1, countTerminal(reactions))
	outcome, ok := h.store.Outcome("C1:1700000000.000100")
	require.True(t, ok)
	assert.Equal(t, "answered", outcome)
}

func TestHandleDuplicateSequential(t *testing.T) {
	h := newHarness(t, aigateway.Answered("ok"))
	ev := mentionEvent("<@UBOT> explain the roadmap")
	first := h.d.Handle(context.Background(), ev)
	ev.DeliveryID = "Ev1-retry"
	second := h.d.Handle(context.Background(), ev)

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	posts, _, reactions := h.chat.snapshot()
	assert.Len(t, posts, 1)
	assert.Equal(t, 1, countTerminal(reactions))
	assert.Equal(t, int32(1), h.ai.calls.Load())
}

func TestHandleDuplicateConcurrent(t *testing.T) {
	h := newHarness(t, aigateway.Answered("ok"))
	ev := mentionEvent("<@UBOT> explain the roadmap")

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.d.Handle(context.Background(), ev)
		}()
	}
	wg.Wait()

	posts, _, reactions := h.chat.snapshot()
	assert.Len(t, posts, 1)
	assert.Equal(t, 1, countTerminal(reactions))
	assert.Equal(t, int32(1), h.ai.calls.Load())
}

func TestNewPanicsOnMissingCollaborators(t *testing.T) {
	d := dedup.New(dedup.NewMemoryStore(time.Minute), nil, nil)
	c := intent.NewClassifier(nil, "")
	assert.Panics(t, func() { New(nil, c, &fakeAI{}, &fakeChat{}, nil) })
	assert.Panics(t, func() { New(d, nil, &fakeAI{}, &fakeChat{}, nil) })
	assert.Panics(t, func() { New(d, c, nil, &fakeChat{}, nil) })
	assert.Panics(t, func() { New(d, c, &fakeAI{}, nil, nil) })
}

func countTerminal(reactions []reaction) int {
	n := 0
	for _, r := range reactions {
		if r.op == "add" && r.name != "hourglass_flowing_sand" {
			n++
		}
	}
	return n
}
