package events

import "time"

// Event types the relay reacts to.
const (
	TypeAppMention = "app_mention"
	TypeMessage    = "message"
)

// InboundEvent is one authenticated mention or message delivery. Treat it as immutable.
type InboundEvent struct {
	// DeliveryID is the platform event_id of this delivery attempt.
	DeliveryID string
	// LogicalID is stable across redeliveries of the same message.
	LogicalID   string
	Channel     string
	ThreadTS    string
	MessageTS   string
	UserID      string
	Text        string
	Type        string
	ChannelType string
	SubType     string
	BotID       string
	ReceivedAt  time.Time
}

// IsThreadReply reports whether the message was posted inside an existing thread.
func (e InboundEvent) IsThreadReply() bool {
	return e.ThreadTS != "" && e.ThreadTS != e.MessageTS
}

// LogicalID derives the dedup key for a message: channel and message ts
// identify the message no matter which event type carried it.
func LogicalID(channel, messageTS, deliveryID string) string {
	if channel != "" && messageTS != "" {
		return channel + ":" + messageTS
	}
	return deliveryID
}

// ThreadRoot returns the ts replies should be threaded under.
func ThreadRoot(threadTS, messageTS string) string {
	if threadTS != "" {
		return threadTS
	}
	return messageTS
}
