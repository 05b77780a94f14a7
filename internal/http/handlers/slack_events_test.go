package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/thread-relay/internal/dispatch"
	"github.com/wolfman30/thread-relay/internal/events"
	"github.com/wolfman30/thread-relay/internal/observability/metrics"
	"github.com/wolfman30/thread-relay/internal/signature"
	"github.com/wolfman30/thread-relay/pkg/logging"
)

const signingSecret = "slack-signing-secret"

type fakeQueue struct {
	mu        sync.Mutex
	submitted []events.InboundEvent
	err       error
}

func (q *fakeQueue) Submit(_ context.Context, ev events.InboundEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.submitted = append(q.submitted, ev)
	return nil
}

func newSlackEventsHandler(q EventQueue, filter events.Filter) *SlackEventsHandler {
	return NewSlackEventsHandler(
		signature.NewVerifier(signingSecret, 5*time.Minute),
		q,
		filter,
		logging.Discard(),
		metrics.NewRelayMetrics(prometheus.NewRegistry()),
	)
}

func signedSlackRequest(t *testing.T, secret string, body []byte) *http.Request {
	t.Helper()
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte("v0:" + ts + ":"))
	_, _ = mac.Write(body)
	req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signature.HeaderTimestamp, ts)
	req.Header.Set(signature.HeaderSignature, "v0="+hex.EncodeToString(mac.Sum(nil)))
	return req
}

const mentionBody = `{
	"type": "event_callback",
	"event_id": "Ev42",
	"event": {
		"type": "app_mention",
		"user": "U123",
		"text": "<@UBOT> what is the pto policy?",
		"ts": "1700000000.000100",
		"thread_ts": "t1",
		"channel": "C1"
	}
}`

func TestSlackEventsRejectsBadSignature(t *testing.T) {
	q := &fakeQueue{}
	h := newSlackEventsHandler(q, events.Filter{})

	for name, req := range map[string]*http.Request{
		"wrong secret": signedSlackRequest(t, "not-the-secret", []byte(mentionBody)),
		"unsigned":     httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader([]byte(mentionBody))),
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Handle(rec, req)
			assert.Equal(t, http.StatusForbidden, rec.Code)
		})
	}
	assert.Empty(t, q.submitted)
}

func TestSlackEventsEchoesChallenge(t *testing.T) {
	q := &fakeQueue{}
	h := newSlackEventsHandler(q, events.Filter{})

	for _, typ := range []string{"verification", "url_verification"} {
		t.Run(typ, func(t *testing.T) {
			body := []byte(`{"type":"` + typ + `","token":"x","challenge":"abc123"}`)
			rec := httptest.NewRecorder()
			h.Handle(rec, signedSlackRequest(t, signingSecret, body))

			require.Equal(t, http.StatusOK, rec.Code)
			var resp map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "abc123", resp["challenge"])
		})
	}
	assert.Empty(t, q.submitted)
}

func TestSlackEventsAcceptsMention(t *testing.T) {
	q := &fakeQueue{}
	h := newSlackEventsHandler(q, events.Filter{BotUserID: "UBOT"})

	rec := httptest.NewRecorder()
	h.Handle(rec, signedSlackRequest(t, signingSecret, []byte(mentionBody)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	require.Len(t, q.submitted, 1)
	ev := q.submitted[0]
	assert.Equal(t, "Ev42", ev.DeliveryID)
	assert.Equal(t, "C1:1700000000.000100", ev.LogicalID)
	assert.Equal(t, "t1", ev.ThreadTS)
	assert.Equal(t, "<@UBOT> what is the pto policy?", ev.Text)
}

func TestSlackEventsIgnoresBotMessages(t *testing.T) {
	q := &fakeQueue{}
	h := newSlackEventsHandler(q, events.Filter{BotUserID: "UBOT"})

	body := []byte(`{"type":"event_callback","event_id":"Ev5","event":{"type":"message","channel_type":"im","user":"U9","bot_id":"B1","text":"beep","ts":"2.2","channel":"D1"}}`)
	rec := httptest.NewRecorder()
	h.Handle(rec, signedSlackRequest(t, signingSecret, body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, q.submitted)
}

func TestSlackEventsMalformedBodyIsAcknowledged(t *testing.T) {
	q := &fakeQueue{}
	h := newSlackEventsHandler(q, events.Filter{})

	rec := httptest.NewRecorder()
	h.Handle(rec, signedSlackRequest(t, signingSecret, []byte(`{"type":`)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, q.submitted)
}

func TestSlackEventsQueueFull(t *testing.T) {
	q := &fakeQueue{err: dispatch.ErrQueueFull}
	h := newSlackEventsHandler(q, events.Filter{})

	rec := httptest.NewRecorder()
	h.Handle(rec, signedSlackRequest(t, signingSecret, []byte(mentionBody)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSlackEventsMethodNotAllowed(t *testing.T) {
	h := newSlackEventsHandler(&fakeQueue{}, events.Filter{})
	rec := httptest.NewRecorder()
	h.Handle(rec, httptest.NewRequest(http.MethodGet, "/events", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRootAndHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	Root(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = httptest.NewRecorder()
	Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
