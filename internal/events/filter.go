package events

// Filter decides which parsed events deserve a reply.
type Filter struct {
	// BotUserID is the relay's own user id; its messages are never answered.
	BotUserID string
	// ThreadReplies answers plain threaded replies, not only mentions.
	ThreadReplies bool
}

// Accept returns false and a reason for events that must be acknowledged but not answered.
func (f Filter) Accept(ev InboundEvent) (bool, string) {
	if ev.BotID != "" {
		return false, "bot_message"
	}
	if f.BotUserID != "" && ev.UserID == f.BotUserID {
		return false, "own_message"
	}
	if ev.UserID == "" {
		return false, "no_sender"
	}
	switch ev.Type {
	case TypeAppMention:
		return true, ""
	case TypeMessage:
		// edits, deletes, joins and the like
		if ev.SubType != "" && ev.SubType != "thread_broadcast" {
			return false, "subtype:" + ev.SubType
		}
		if ev.ChannelType == "im" {
			return true, ""
		}
		if f.ThreadReplies && ev.IsThreadReply() {
			return true, ""
		}
		return false, "not_addressed"
	default:
		return false, "type:" + ev.Type
	}
}
