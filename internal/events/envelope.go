package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/slack-go/slack/slackevents"
)

// Kind classifies a decoded webhook envelope.
type Kind int

const (
	KindIgnored Kind = iota
	KindChallenge
	KindEvent
)

// Envelope is the outcome of decoding an authenticated webhook body.
type Envelope struct {
	Kind      Kind
	Challenge string
	Event     InboundEvent
	// Reason explains a KindIgnored envelope for logs and metrics.
	Reason string
}

var ErrMalformed = errors.New("events: malformed envelope")

type outerEnvelope struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	EventID   string `json:"event_id"`
}

// ParseEnvelope decodes a webhook body. Handshakes of type "verification" and
// "url_verification" both yield KindChallenge. Callback payloads carrying an
// inner event the relay does not handle yield KindIgnored.
func ParseEnvelope(body []byte, receivedAt time.Time) (Envelope, error) {
	var outer outerEnvelope
	if err := json.Unmarshal(body, &outer); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch outer.Type {
	case "verification", slackevents.URLVerification:
		if outer.Challenge == "" {
			return Envelope{}, fmt.Errorf("%w: handshake without challenge", ErrMalformed)
		}
		return Envelope{Kind: KindChallenge, Challenge: outer.Challenge}, nil
	case slackevents.CallbackEvent:
	default:
		return Envelope{Kind: KindIgnored, Reason: "envelope_type:" + outer.Type}, nil
	}

	parsed, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		return Envelope{Kind: KindIgnored, Reason: "unsupported_inner_event"}, nil
	}

	deliveryID := outer.EventID
	if cb, ok := parsed.Data.(*slackevents.EventsAPICallbackEvent); ok && cb.EventID != "" {
		deliveryID = cb.EventID
	}

	var ev InboundEvent
	switch inner := parsed.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		ev = InboundEvent{
			Type:      TypeAppMention,
			Channel:   inner.Channel,
			MessageTS: inner.TimeStamp,
			ThreadTS:  inner.ThreadTimeStamp,
			UserID:    inner.User,
			Text:      inner.Text,
			BotID:     inner.BotID,
		}
	case *slackevents.MessageEvent:
		ev = InboundEvent{
			Type:        TypeMessage,
			Channel:     inner.Channel,
			MessageTS:   inner.TimeStamp,
			ThreadTS:    inner.ThreadTimeStamp,
			UserID:      inner.User,
			Text:        inner.Text,
			ChannelType: inner.ChannelType,
			SubType:     inner.SubType,
			BotID:       inner.BotID,
		}
	default:
		return Envelope{Kind: KindIgnored, Reason: "inner_type:" + parsed.InnerEvent.Type}, nil
	}

	ev.DeliveryID = deliveryID
	ev.LogicalID = LogicalID(ev.Channel, ev.MessageTS, deliveryID)
	ev.ReceivedAt = receivedAt.UTC()
	if ev.LogicalID == "" {
		return Envelope{}, fmt.Errorf("%w: event without id or message ts", ErrMalformed)
	}
	return Envelope{Kind: KindEvent, Event: ev}, nil
}
