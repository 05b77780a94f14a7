package events

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var received = time.Date(2026, 3, 2, 15, 4, 5, 0, time.UTC)

func TestParseEnvelopeChallenge(t *testing.T) {
	for _, typ := range []string{"verification", "url_verification"} {
		t.Run(typ, func(t *testing.T) {
			env, err := ParseEnvelope([]byte(`{"type":"`+typ+`","challenge":"3eZbrw1aBm2rZgRNFdxV2595E9CY3gmdALWMmHkvFXO7tYXAYM8P"}`), received)
			require.NoError(t, err)
			assert.Equal(t, KindChallenge, env.Kind)
			assert.Equal(t, "3eZbrw1aBm2rZgRNFdxV2595E9CY3gmdALWMmHkvFXO7tYXAYM8P", env.Challenge)
		})
	}
}

func TestParseEnvelopeAppMention(t *testing.T) {
	body := `{
		"type": "event_callback",
		"team_id": "T1",
		"api_app_id": "A1",
		"event_id": "Ev0001",
		"event_time": 1700000000,
		"event": {
			"type": "app_mention",
			"user": "U123",
			"text": "<@UBOT> what is the pto policy?",
			"ts": "1700000000.000100",
			"channel": "C1",
			"event_ts": "1700000000.000100"
		}
	}`
	env, err := ParseEnvelope([]byte(body), received)
	require.NoError(t, err)
	require.Equal(t, KindEvent, env.Kind)

	ev := env.Event
	assert.Equal(t, "Ev0001", ev.DeliveryID)
	assert.Equal(t, "C1:1700000000.000100", ev.LogicalID)
	assert.Equal(t, TypeAppMention, ev.Type)
	assert.Equal(t, "U123", ev.UserID)
	assert.Equal(t, "<@UBOT> what is the pto policy?", ev.Text)
	assert.Equal(t, "", ev.ThreadTS)
	assert.Equal(t, "1700000000.000100", ThreadRoot(ev.ThreadTS, ev.MessageTS))
	assert.Equal(t, received, ev.ReceivedAt)
}

func TestParseEnvelopeThreadedMessage(t *testing.T) {
	body := `{
		"type": "event_callback",
		"event_id": "Ev0002",
		"event": {
			"type": "message",
			"channel_type": "channel",
			"user": "U123",
			"text": "any update?",
			"ts": "1700000050.000200",
			"thread_ts": "1700000000.000100",
			"channel": "C1"
		}
	}`
	env, err := ParseEnvelope([]byte(body), received)
	require.NoError(t, err)
	require.Equal(t, KindEvent, env.Kind)
	assert.Equal(t, TypeMessage, env.Event.Type)
	assert.Equal(t, "1700000000.000100", env.Event.ThreadTS)
	assert.True(t, env.Event.IsThreadReply())
	assert.Equal(t, "channel", env.Event.ChannelType)
}

func TestParseEnvelopeRedeliveryKeepsLogicalID(t *testing.T) {
	mention := `{"type":"event_callback","event_id":"EvA","event":{"type":"app_mention","user":"U1","text":"<@UBOT> hi","ts":"1.1","channel":"C1"}}`
	message := `{"type":"event_callback","event_id":"EvB","event":{"type":"message","channel_type":"channel","user":"U1","text":"<@UBOT> hi","ts":"1.1","channel":"C1"}}`

	a, err := ParseEnvelope([]byte(mention), received)
	require.NoError(t, err)
	b, err := ParseEnvelope([]byte(message), received)
	require.NoError(t, err)
	assert.NotEqual(t, a.Event.DeliveryID, b.Event.DeliveryID)
	assert.Equal(t, a.Event.LogicalID, b.Event.LogicalID)
}

func TestParseEnvelopeIgnoresUnknownShapes(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"type":"app_rate_limited","minute_rate_limited":1}`), received)
	require.NoError(t, err)
	assert.Equal(t, KindIgnored, env.Kind)

	env, err = ParseEnvelope([]byte(`{"type":"event_callback","event_id":"Ev3","event":{"type":"reaction_added","user":"U1","reaction":"eyes","item":{"type":"message","channel":"C1","ts":"1.1"},"event_ts":"1.2"}}`), received)
	require.NoError(t, err)
	assert.Equal(t, KindIgnored, env.Kind)
}

func TestParseEnvelopeMalformed(t *testing.T) {
	_, err := ParseEnvelope([]byte(`{not json`), received)
	assert.True(t, errors.Is(err, ErrMalformed))

	_, err = ParseEnvelope([]byte(`{"type":"url_verification"}`), received)
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestLogicalIDFallsBackToDeliveryID(t *testing.T) {
	assert.Equal(t, "Ev9", LogicalID("C1", "", "Ev9"))
	assert.Equal(t, "C1:2.2", LogicalID("C1", "2.2", "Ev9"))
}
