package aigateway

import (
	"encoding/json"
	"strings"
)

type completionResponse struct {
	Output  json.RawMessage `json:"output"`
	Answer  string          `json:"answer"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Text string `json:"text"`
	} `json:"choices"`
}

// normalize extracts answer text from any of the supported response shapes:
//
//	{"output":"X"}
//	{"output":{"answer":"X"}}
//	{"answer":"X"}
//	{"choices":[{"message":{"content":"X"}}]}
//
// An undecodable body or empty text yields NoAnswer.
func normalize(body []byte) Outcome {
	var resp completionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return NoAnswer()
	}
	if text := outputText(resp.Output); text != "" {
		return Answered(text)
	}
	if text := strings.TrimSpace(resp.Answer); text != "" {
		return Answered(text)
	}
	for _, choice := range resp.Choices {
		if text := strings.TrimSpace(choice.Message.Content); text != "" {
			return Answered(text)
		}
		if text := strings.TrimSpace(choice.Text); text != "" {
			return Answered(text)
		}
	}
	return NoAnswer()
}

func outputText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var flat string
	if err := json.Unmarshal(raw, &flat); err == nil {
		return strings.TrimSpace(flat)
	}
	var nested struct {
		Answer string `json:"answer"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil {
		return strings.TrimSpace(nested.Answer)
	}
	return ""
}
