// Package signature authenticates inbound chat platform webhooks.
package signature

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"
)

const (
	HeaderTimestamp = "X-Slack-Request-Timestamp"
	HeaderSignature = "X-Slack-Signature"

	defaultMaxSkew = 5 * time.Minute
)

// Verifier checks the v0 signing scheme: v0=hex(hmac_sha256(secret, "v0:<ts>:<body>")).
type Verifier struct {
	secret  string
	maxSkew time.Duration
	now     func() time.Time
}

// NewVerifier creates a Verifier; maxSkew defaults to five minutes.
func NewVerifier(secret string, maxSkew time.Duration) *Verifier {
	if maxSkew <= 0 {
		maxSkew = defaultMaxSkew
	}
	return &Verifier{
		secret:  secret,
		maxSkew: maxSkew,
		now:     time.Now,
	}
}

// Verify reports whether the raw body carries a valid, fresh signature.
// It never panics and has no side effects.
func (v *Verifier) Verify(body []byte, headers http.Header) bool {
	if v == nil || v.secret == "" {
		return false
	}
	ts := strings.TrimSpace(headers.Get(HeaderTimestamp))
	sig := strings.TrimSpace(headers.Get(HeaderSignature))
	if ts == "" || sig == "" {
		return false
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	if diff := v.now().Sub(time.Unix(sec, 0)); diff > v.maxSkew || diff < -v.maxSkew {
		return false
	}

	sv, err := slack.NewSecretsVerifier(headers, v.secret)
	if err != nil {
		return false
	}
	if _, err := sv.Write(body); err != nil {
		return false
	}
	return sv.Ensure() == nil
}
