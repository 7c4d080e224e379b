package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBuildRequestBodyNestsParameterGroups(t *testing.T) {
	temp := 0.2
	c := NewClient("sk-test", "")
	body := c.buildRequestBody(&ResponseRequest{
		Model:           "gpt-5-mini",
		Input:           []map[string]interface{}{UserTextInput("hello")},
		MaxOutputTokens: 4000,
		Temperature:     &temp,
		Verbosity:       "low",
		ReasoningEffort: "minimal",
		JSONSchema: &JSONSchemaFormat{
			Name:   "verdict",
			Schema: map[string]interface{}{"type": "object"},
			Strict: true,
		},
	})

	if _, ok := body["verbosity"]; ok {
		t.Error("verbosity must not be a top-level flag")
	}
	if _, ok := body["reasoning_effort"]; ok {
		t.Error("reasoning_effort must not be a top-level flag")
	}

	text, ok := body["text"].(map[string]interface{})
	if !ok {
		t.Fatal("text group missing")
	}
	if text["verbosity"] != "low" {
		t.Errorf("text.verbosity = %v, want low", text["verbosity"])
	}
	format, ok := text["format"].(map[string]interface{})
	if !ok {
		t.Fatal("text.format missing")
	}
	if format["type"] != "json_schema" || format["name"] != "verdict" {
		t.Errorf("format = %v", format)
	}

	reasoning, ok := body["reasoning"].(map[string]interface{})
	if !ok {
		t.Fatal("reasoning group missing")
	}
	if reasoning["effort"] != "minimal" {
		t.Errorf("reasoning.effort = %v, want minimal", reasoning["effort"])
	}

	if body["max_output_tokens"] != 4000 {
		t.Errorf("max_output_tokens = %v, want 4000", body["max_output_tokens"])
	}
	if body["temperature"] != 0.2 {
		t.Errorf("temperature = %v, want 0.2", body["temperature"])
	}
}

func TestBuildRequestBodyOmitsEmptyOptionals(t *testing.T) {
	c := NewClient("sk-test", "")
	body := c.buildRequestBody(&ResponseRequest{Model: "gpt-5-mini"})

	for _, key := range []string{"text", "reasoning", "temperature", "tools", "previous_response_id", "truncation", "service_tier"} {
		if _, ok := body[key]; ok {
			t.Errorf("key %q should be omitted when unset", key)
		}
	}
}

func TestCreateResponseRoundTrip(t *testing.T) {
	var gotAuth string
	var gotBody map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/responses" {
			t.Errorf("path = %q, want /responses", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "resp_123",
			"status": "completed",
			"output": []map[string]interface{}{
				{"type": "reasoning", "summary": []map[string]interface{}{{"type": "summary_text", "text": "thinking..."}}},
				{"type": "message", "role": "assistant", "content": []map[string]interface{}{
					{"type": "output_text", "text": `{"decision":"YES"}`},
				}},
			},
			"usage": map[string]interface{}{"input_tokens": 120, "output_tokens": 40, "total_tokens": 160},
		})
	}))
	defer srv.Close()

	c := NewClient("sk-test", srv.URL)
	resp, err := c.CreateResponse(context.Background(), &ResponseRequest{
		Model: "gpt-5-mini",
		Input: []map[string]interface{}{UserTextInput("evaluate this")},
	})
	if err != nil {
		t.Fatal(err)
	}

	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody["model"] != "gpt-5-mini" {
		t.Errorf("model = %v", gotBody["model"])
	}
	if resp.ID != "resp_123" || resp.Status != "completed" {
		t.Errorf("resp = %+v", resp)
	}
	if got := resp.AggregatedText(); got != `{"decision":"YES"}` {
		t.Errorf("AggregatedText = %q", got)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 160 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestAggregatedTextPrefersProviderAggregate(t *testing.T) {
	r := &Response{
		OutputText: "aggregate wins",
		Output: []OutputItem{
			{Type: "message", Content: []ContentPart{{Type: "output_text", Text: "item text"}}},
		},
	}
	if got := r.AggregatedText(); got != "aggregate wins" {
		t.Errorf("AggregatedText = %q", got)
	}
}

func TestAggregatedTextSkipsReasoningAndUnknownItems(t *testing.T) {
	raw := `{
		"id": "resp_9",
		"status": "completed",
		"output": [
			{"type": "reasoning", "summary": [{"type": "summary_text", "text": "hidden"}]},
			{"type": "some_future_item", "data": {"x": 1}},
			{"type": "message", "content": [{"type": "output_text", "text": "part one. "}]},
			{"type": "message", "content": [{"type": "refusal", "text": "nope"}, {"type": "output_text", "text": "part two."}]}
		]
	}`
	var resp Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("unknown item types must not fail decoding: %v", err)
	}
	if got := resp.AggregatedText(); got != "part one. part two." {
		t.Errorf("AggregatedText = %q", got)
	}
}

func TestCreateResponseHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	c := NewClient("sk-test", srv.URL)
	c.retryConfig.MaxRetries = 0

	_, err := c.CreateResponse(context.Background(), &ResponseRequest{Model: "gpt-5-mini"})
	if err == nil {
		t.Fatal("expected error")
	}
	he, ok := err.(*HTTPError)
	if !ok {
		t.Fatalf("error type = %T, want *HTTPError", err)
	}
	if he.Status != http.StatusTooManyRequests {
		t.Errorf("Status = %d", he.Status)
	}
	if he.RetryAfter.Seconds() != 7 {
		t.Errorf("RetryAfter = %v, want 7s", he.RetryAfter)
	}
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" || r.Method != http.MethodGet {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"object":"list","data":[{"id":"gpt-5-mini"},{"id":"computer-use-preview"}]}`))
	}))
	defer srv.Close()

	c := NewClient("sk-test", srv.URL)
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 2 || models[0].ID != "gpt-5-mini" {
		t.Errorf("models = %+v", models)
	}
}

func TestComputerCallHelpers(t *testing.T) {
	raw := `{
		"id": "resp_cua",
		"status": "completed",
		"output": [
			{"type": "reasoning"},
			{"type": "computer_call", "call_id": "call_1",
			 "action": {"type": "click", "x": 310, "y": 122, "button": "left"},
			 "pending_safety_checks": [{"id": "sc_1", "code": "sensitive_domain", "message": "careful"}]}
		]
	}`
	var resp Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatal(err)
	}

	calls := resp.ComputerCalls()
	if len(calls) != 1 {
		t.Fatalf("ComputerCalls len = %d, want 1", len(calls))
	}
	call := calls[0]
	if call.CallID != "call_1" || call.Action == nil || call.Action.Type != "click" {
		t.Errorf("call = %+v", call)
	}
	if call.Action.X != 310 || call.Action.Y != 122 {
		t.Errorf("action coords = (%d,%d)", call.Action.X, call.Action.Y)
	}
	if len(call.PendingSafetyChecks) != 1 || call.PendingSafetyChecks[0].Code != "sensitive_domain" {
		t.Errorf("safety checks = %+v", call.PendingSafetyChecks)
	}

	out := ComputerCallOutput("call_1", "data:image/png;base64,AAAA", call.PendingSafetyChecks)
	if out["type"] != "computer_call_output" || out["call_id"] != "call_1" {
		t.Errorf("output item = %v", out)
	}
	if _, ok := out["acknowledged_safety_checks"]; !ok {
		t.Error("acknowledged_safety_checks missing")
	}

	tool := ComputerUseTool(1280, 800, "")
	if tool["type"] != "computer_use_preview" || tool["environment"] != "browser" {
		t.Errorf("tool = %v", tool)
	}
}

func TestResponseErr(t *testing.T) {
	ok := &Response{ID: "r1", Status: "completed"}
	if ok.Err() != nil {
		t.Error("completed response should have nil Err")
	}
	failed := &Response{ID: "r2", Status: "failed", Error: &APIError{Code: "server_error", Message: "boom"}}
	if failed.Err() == nil {
		t.Error("failed response should surface an error")
	}
}
