package engine

import (
	"encoding/json"
	"strings"
)

// Decision values. Error means an upstream failure, not a negative
// judgment; No is a final negative judgment and is never retried.
const (
	DecisionYes   = "YES"
	DecisionNo    = "NO"
	DecisionError = "ERROR"
)

const maxRationaleChars = 280

// Verdict is the structured outcome of one candidate evaluation.
type Verdict struct {
	Decision   string  `json:"decision"`
	Rationale  string  `json:"rationale"`
	Draft      string  `json:"draft"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
	JSONOK     bool    `json:"json_ok"`
}

// ErrorVerdict builds the verdict for an upstream failure.
func ErrorVerdict(rationale string) Verdict {
	return Verdict{Decision: DecisionError, Rationale: truncate(rationale, maxRationaleChars)}
}

// verdictSchema is the structured-output schema requested from the
// provider on the first attempt.
func verdictSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"decision":   map[string]interface{}{"type": "string", "enum": []string{DecisionYes, DecisionNo}},
			"rationale":  map[string]interface{}{"type": "string"},
			"draft":      map[string]interface{}{"type": "string"},
			"score":      map[string]interface{}{"type": "number"},
			"confidence": map[string]interface{}{"type": "number"},
		},
		"required":             []string{"decision", "rationale", "draft", "score", "confidence"},
		"additionalProperties": false,
	}
}

// ParseVerdict converts raw model output into a Verdict. Markdown fences
// and text around the JSON object are tolerated; anything that still
// fails to parse or validate yields an ERROR verdict with json_ok=false.
func ParseVerdict(raw string) Verdict {
	text := extractJSON(raw)
	if text == "" {
		return ErrorVerdict("no JSON object in model output")
	}

	var body struct {
		Decision   string   `json:"decision"`
		Rationale  string   `json:"rationale"`
		Draft      string   `json:"draft"`
		Score      *float64 `json:"score"`
		Confidence *float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(text), &body); err != nil {
		return ErrorVerdict("model output is not valid JSON")
	}

	decision := strings.ToUpper(strings.TrimSpace(body.Decision))
	if decision != DecisionYes && decision != DecisionNo {
		return ErrorVerdict("unknown decision value")
	}
	if body.Score == nil || body.Confidence == nil {
		return ErrorVerdict("missing score or confidence")
	}

	v := Verdict{
		Decision:   decision,
		Rationale:  truncate(strings.TrimSpace(body.Rationale), maxRationaleChars),
		Draft:      strings.TrimSpace(body.Draft),
		Score:      clamp01(*body.Score),
		Confidence: clamp01(*body.Confidence),
		JSONOK:     true,
	}

	// A positive verdict with nothing to send is unusable.
	if v.Decision == DecisionYes && v.Draft == "" {
		v.Decision = DecisionError
		v.Rationale = "model said YES with an empty draft"
	}
	return v
}

// extractJSON returns the outermost {...} object in text, tolerating
// ```json fences and prose around it.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
