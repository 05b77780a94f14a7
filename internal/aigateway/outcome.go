package aigateway

// Kind enumerates AI call outcomes.
type Kind int

const (
	KindAnswered Kind = iota
	// KindNoAnswer is a valid "don't know" from the backend, not a failure.
	KindNoAnswer
	KindTransient
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindAnswered:
		return "answered"
	case KindNoAnswer:
		return "no_answer"
	case KindTransient:
		return "transient_failure"
	case KindPermanent:
		return "permanent_failure"
	default:
		return "unknown"
	}
}

const maxDetailLen = 200

// Outcome is the terminal result of one Complete call.
type Outcome struct {
	Kind Kind
	Text string
	// Detail is a short, non-sensitive failure summary.
	Detail string
}

func Answered(text string) Outcome { return Outcome{Kind: KindAnswered, Text: text} }

func NoAnswer() Outcome { return Outcome{Kind: KindNoAnswer} }

// TransientFailure is a retryable failure; detail is bounded.
func TransientFailure(detail string) Outcome {
	return Outcome{Kind: KindTransient, Detail: boundDetail(detail)}
}

// PermanentFailure is a failure a retry would not fix; detail is bounded.
func PermanentFailure(detail string) Outcome {
	return Outcome{Kind: KindPermanent, Detail: boundDetail(detail)}
}

// Failed reports whether the outcome is a transient or permanent failure.
func (o Outcome) Failed() bool {
	return o.Kind == KindTransient || o.Kind == KindPermanent
}

func boundDetail(s string) string {
	r := []rune(s)
	if len(r) <= maxDetailLen {
		return s
	}
	return string(r[:maxDetailLen-3]) + "..."
}
