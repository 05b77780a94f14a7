// Package respond maps classification and AI outcomes onto the reply and status to emit.
package respond

import (
	"fmt"
	"strings"

	"github.com/wolfman30/thread-relay/internal/aigateway"
	"github.com/wolfman30/thread-relay/internal/intent"
)

// Status is the per-event acknowledgement state.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusAnswered   Status = "answered"
	StatusEscalated  Status = "escalated"
	StatusError      Status = "error"
)

// Terminal reports whether no further status may follow.
func (s Status) Terminal() bool {
	return s != StatusProcessing
}

// Reaction returns the emoji name signalling s.
func (s Status) Reaction() string {
	switch s {
	case StatusProcessing:
		return "hourglass_flowing_sand"
	case StatusAnswered:
		return "white_check_mark"
	case StatusEscalated:
		return "cloud"
	default:
		return "warning"
	}
}

// Action is the reply text and status for one step of an event.
type Action struct {
	ReplyText string
	Status    Status
}

// Composer holds reply templates. Templates receive the sender id through %s.
type Composer struct {
	promptForInput string
	processing     string
	escalation     string
	aiError        string
	apology        string
}

// NewComposer returns a Composer with the default reply texts.
func NewComposer() *Composer {
	return &Composer{
		promptForInput: "Hi <@%s>! What would you like to know? Mention me with a question.",
		processing:     "Hi <@%s>! Let me look into that for you... :hourglass_flowing_sand:",
		escalation:     "Hi <@%s>! I'm not sure how to answer that yet. A People Team member will follow up. :cloud:",
		aiError:        "Hi <@%s>! There was an error contacting the AI Agent. :warning:\nError: %s",
		apology:        "Sorry <@%s>, something went wrong while handling your message. :warning:",
	}
}

// Compose decides the reply for an event. ai is nil unless the classification
// needed the AI backend and the call has returned.
func (c *Composer) Compose(res intent.Result, ai *aigateway.Outcome, senderID string) Action {
	switch res.Kind {
	case intent.KindEmpty:
		return Action{ReplyText: fmt.Sprintf(c.promptForInput, senderID), Status: StatusError}
	case intent.KindCanned:
		return Action{ReplyText: res.Answer, Status: StatusAnswered}
	case intent.KindNeedsAI:
		if ai == nil {
			return c.Processing(senderID)
		}
		return c.composeAI(*ai, senderID)
	default:
		return c.Fault(senderID)
	}
}

func (c *Composer) composeAI(out aigateway.Outcome, senderID string) Action {
	switch out.Kind {
	case aigateway.KindAnswered:
		return Action{ReplyText: out.Text, Status: StatusAnswered}
	case aigateway.KindNoAnswer:
		return Action{ReplyText: fmt.Sprintf(c.escalation, senderID), Status: StatusEscalated}
	case aigateway.KindTransient, aigateway.KindPermanent:
		detail := strings.TrimSpace(out.Detail)
		if detail == "" {
			detail = "unknown error"
		}
		return Action{ReplyText: fmt.Sprintf(c.aiError, senderID, detail), Status: StatusError}
	default:
		return c.Fault(senderID)
	}
}

// Processing is the optional interim notice while the AI backend is working.
func (c *Composer) Processing(senderID string) Action {
	return Action{ReplyText: fmt.Sprintf(c.processing, senderID), Status: StatusProcessing}
}

// Fault is the generic apology for unexpected failures.
func (c *Composer) Fault(senderID string) Action {
	return Action{ReplyText: fmt.Sprintf(c.apology, senderID), Status: StatusError}
}
