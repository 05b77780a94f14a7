// Package intent decides whether a message has a canned answer or needs the AI backend.
package intent

import (
	"regexp"
	"strings"

	"github.com/wolfman30/thread-relay/internal/config"
)

// Kind enumerates classification outcomes.
type Kind int

const (
	// KindEmpty means nothing was left after stripping the mention.
	KindEmpty Kind = iota
	KindCanned
	KindNeedsAI
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindCanned:
		return "canned"
	case KindNeedsAI:
		return "needs_ai"
	default:
		return "unknown"
	}
}

// Result is produced once per event.
type Result struct {
	Kind   Kind
	RuleID string
	Answer string
	// Prompt is the cleaned text forwarded to the AI backend.
	Prompt string
}

type rule struct {
	id      string
	keyword string
	answer  string
}

// userMention matches <@U123> and <@U123|name>.
var userMention = regexp.MustCompile(`<@([UW][A-Z0-9]+)(?:\|[^>]*)?>`)

// Classifier matches keywords in configured order; the first hit wins.
type Classifier struct {
	rules     []rule
	botUserID string
}

// NewClassifier keeps rules in order. botUserID may be empty.
func NewClassifier(rules []config.KeywordRule, botUserID string) *Classifier {
	c := &Classifier{botUserID: strings.TrimSpace(botUserID)}
	for _, r := range config.AssignRuleIDs(rules) {
		kw := strings.ToLower(strings.TrimSpace(r.Keyword))
		if kw == "" {
			continue
		}
		c.rules = append(c.rules, rule{id: r.ID, keyword: kw, answer: r.Answer})
	}
	return c
}

// StripMention removes the first mention of the bot and trims whitespace. When
// the bot id is unknown the first user mention is removed instead.
func (c *Classifier) StripMention(text string) string {
	loc := c.findMention(text)
	if loc == nil {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(text[:loc[0]] + " " + text[loc[1]:])
}

func (c *Classifier) findMention(text string) []int {
	all := userMention.FindAllStringSubmatchIndex(text, -1)
	if len(all) == 0 {
		return nil
	}
	if c.botUserID == "" {
		return all[0][:2]
	}
	for _, m := range all {
		if text[m[2]:m[3]] == c.botUserID {
			return m[:2]
		}
	}
	return nil
}

// Classify evaluates already-cleaned text.
func (c *Classifier) Classify(cleaned string) Result {
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return Result{Kind: KindEmpty}
	}
	lower := strings.ToLower(cleaned)
	for _, r := range c.rules {
		if strings.Contains(lower, r.keyword) {
			return Result{Kind: KindCanned, RuleID: r.id, Answer: r.answer, Prompt: cleaned}
		}
	}
	return Result{Kind: KindNeedsAI, Prompt: cleaned}
}

// ClassifyMessage strips the mention from raw event text and classifies the rest.
func (c *Classifier) ClassifyMessage(raw string) Result {
	return c.Classify(c.StripMention(raw))
}
