// Package providers implements the LLM provider client for the decision
// engine and the computer-use planner. It speaks the OpenAI Responses API
// directly over HTTP: structured output items in, typed items out, with
// parameter-fallback and retry classification in front.
package providers

import (
	"fmt"
	"strings"
)

// ResponseRequest is the input for CreateResponse. Optional fields are
// omitted from the wire body when zero; nested parameter groups (text,
// reasoning) are assembled by buildRequestBody.
type ResponseRequest struct {
	Model        string
	Instructions string
	// Input items: user messages, computer_call_output, etc. Build with
	// UserTextInput / UserImageInput / ComputerCallOutput.
	Input []map[string]interface{}

	MaxOutputTokens int
	Temperature     *float64

	// Verbosity goes in the text group, ReasoningEffort in the reasoning
	// group. Never sent as top-level flags.
	Verbosity       string
	ReasoningEffort string
	ServiceTier     string

	// JSONSchema, when set, becomes text.format with type json_schema.
	JSONSchema *JSONSchemaFormat

	// Tools in raw wire form, e.g. ComputerUseTool(...).
	Tools []map[string]interface{}

	// PreviousResponseID chains planner turns server-side.
	PreviousResponseID string

	// Truncation "auto" is required for computer-use chains.
	Truncation string
}

// JSONSchemaFormat is the structured-output format descriptor.
type JSONSchemaFormat struct {
	Name   string
	Schema map[string]interface{}
	Strict bool
}

// Response is the Responses API result. Output items are a tagged union
// on Type; unknown types decode with whatever fields match and are
// skipped by the accessors, never an error.
type Response struct {
	ID         string       `json:"id"`
	Status     string       `json:"status"` // completed | incomplete | failed | in_progress
	Model      string       `json:"model,omitempty"`
	OutputText string       `json:"output_text,omitempty"` // aggregated text, when the provider supplies it
	Output     []OutputItem `json:"output"`
	Usage      *Usage       `json:"usage,omitempty"`
	Error      *APIError    `json:"error,omitempty"`

	IncompleteDetails *IncompleteDetails `json:"incomplete_details,omitempty"`
}

// OutputItem is one item of the response output array.
type OutputItem struct {
	Type   string `json:"type"` // "message", "reasoning", "computer_call", ...
	ID     string `json:"id,omitempty"`
	Role   string `json:"role,omitempty"`
	Status string `json:"status,omitempty"`

	// message
	Content []ContentPart `json:"content,omitempty"`

	// reasoning
	Summary []SummaryPart `json:"summary,omitempty"`

	// computer_call
	CallID              string          `json:"call_id,omitempty"`
	Action              *ComputerAction `json:"action,omitempty"`
	PendingSafetyChecks []SafetyCheck   `json:"pending_safety_checks,omitempty"`
}

// ContentPart is one part of a message item's content.
type ContentPart struct {
	Type string `json:"type"` // "output_text", "refusal", ...
	Text string `json:"text,omitempty"`
}

// SummaryPart is one part of a reasoning item's summary.
type SummaryPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ComputerAction is the action payload of a computer_call item.
type ComputerAction struct {
	Type    string   `json:"type"` // click, double_click, move, drag, scroll, type, keypress, wait, screenshot
	X       int      `json:"x,omitempty"`
	Y       int      `json:"y,omitempty"`
	Button  string   `json:"button,omitempty"`
	ScrollX int      `json:"scroll_x,omitempty"`
	ScrollY int      `json:"scroll_y,omitempty"`
	Text    string   `json:"text,omitempty"`
	Keys    []string `json:"keys,omitempty"`
	Path    []Point  `json:"path,omitempty"`
}

// Point is a screen coordinate on a drag path.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// SafetyCheck is a safety interlock raised by a computer-use model.
type SafetyCheck struct {
	ID      string `json:"id"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// APIError is the error object of a failed response.
type APIError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// IncompleteDetails explains an incomplete response status.
type IncompleteDetails struct {
	Reason string `json:"reason,omitempty"`
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// modelPrices maps model-name prefixes to USD per million input/output
// tokens. Prices drift; the estimate is informational only.
var modelPrices = []struct {
	prefix  string
	in, out float64
}{
	{"gpt-5-mini", 0.25, 2.00},
	{"gpt-5", 1.25, 10.00},
	{"gpt-4.1-mini", 0.40, 1.60},
	{"gpt-4o-mini", 0.15, 0.60},
	{"gpt-4o", 2.50, 10.00},
	{"computer-use-preview", 3.00, 12.00},
}

// CostEstimate returns a rough USD cost for the call, or 0 for unknown
// models.
func (u *Usage) CostEstimate(model string) float64 {
	for _, p := range modelPrices {
		if strings.HasPrefix(model, p.prefix) {
			return (float64(u.InputTokens)*p.in + float64(u.OutputTokens)*p.out) / 1e6
		}
	}
	return 0
}

// ModelInfo is one entry of the provider's model listing.
type ModelInfo struct {
	ID      string `json:"id"`
	OwnedBy string `json:"owned_by,omitempty"`
	Created int64  `json:"created,omitempty"`
}

// Err returns a non-nil error when the provider marked the response
// failed.
func (r *Response) Err() error {
	if r.Error == nil {
		return nil
	}
	return fmt.Errorf("response %s failed: %s (%s)", r.ID, r.Error.Message, r.Error.Code)
}

// AggregatedText returns the response text the way the contract wants it:
// the provider-supplied aggregate when present, otherwise message-item
// text concatenated in order with reasoning items skipped.
func (r *Response) AggregatedText() string {
	if r.OutputText != "" {
		return r.OutputText
	}
	var out string
	for _, item := range r.Output {
		if item.Type != "message" {
			continue
		}
		for _, part := range item.Content {
			if part.Type == "output_text" {
				out += part.Text
			}
		}
	}
	return out
}

// ComputerCalls returns the computer_call items in order.
func (r *Response) ComputerCalls() []OutputItem {
	var calls []OutputItem
	for _, item := range r.Output {
		if item.Type == "computer_call" {
			calls = append(calls, item)
		}
	}
	return calls
}

// UserTextInput builds a plain user message input item.
func UserTextInput(text string) map[string]interface{} {
	return map[string]interface{}{
		"role": "user",
		"content": []map[string]interface{}{
			{"type": "input_text", "text": text},
		},
	}
}

// UserImageInput builds a user message carrying text plus a screenshot
// (data URL).
func UserImageInput(text, imageDataURL string) map[string]interface{} {
	content := []map[string]interface{}{}
	if text != "" {
		content = append(content, map[string]interface{}{
			"type": "input_text", "text": text,
		})
	}
	content = append(content, map[string]interface{}{
		"type": "input_image", "image_url": imageDataURL,
	})
	return map[string]interface{}{
		"role":    "user",
		"content": content,
	}
}

// ComputerCallOutput builds the reply item for a computer_call: the
// post-action screenshot, plus acknowledgements for any safety checks the
// model raised.
func ComputerCallOutput(callID, screenshotDataURL string, acked []SafetyCheck) map[string]interface{} {
	item := map[string]interface{}{
		"type":    "computer_call_output",
		"call_id": callID,
		"output": map[string]interface{}{
			"type":      "computer_screenshot",
			"image_url": screenshotDataURL,
		},
	}
	if len(acked) > 0 {
		item["acknowledged_safety_checks"] = acked
	}
	return item
}

// ComputerUseTool builds the computer-use tool descriptor for the planner.
func ComputerUseTool(width, height int, environment string) map[string]interface{} {
	if environment == "" {
		environment = "browser"
	}
	return map[string]interface{}{
		"type":           "computer_use_preview",
		"display_width":  width,
		"display_height": height,
		"environment":    environment,
	}
}
