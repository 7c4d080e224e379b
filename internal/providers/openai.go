package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to an OpenAI-compatible Responses API.
type Client struct {
	name        string
	apiKey      string
	apiBase     string
	client      *http.Client
	retryConfig RetryConfig
}

func NewClient(apiKey, apiBase string) *Client {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	apiBase = strings.TrimRight(apiBase, "/")

	return &Client{
		name:        "openai",
		apiKey:      apiKey,
		apiBase:     apiBase,
		client:      &http.Client{Timeout: 120 * time.Second},
		retryConfig: DefaultRetryConfig(),
	}
}

// WithRetryConfig returns the client with a replacement retry policy.
func (c *Client) WithRetryConfig(cfg RetryConfig) *Client {
	c.retryConfig = cfg
	return c
}

// WithHTTPClient returns the client with a replacement HTTP client
// (tests point it at a local server).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.client = hc
	return c
}

func (c *Client) Name() string    { return c.name }
func (c *Client) APIBase() string { return c.apiBase }

// CreateResponse posts one Responses API call and decodes the result.
// Transient failures retry per the client's RetryConfig; parameter
// rejections surface as errors for the caller's fallback pass.
func (c *Client) CreateResponse(ctx context.Context, req *ResponseRequest) (*Response, error) {
	body := c.buildRequestBody(req)

	return RetryDo(ctx, c.retryConfig, func() (*Response, error) {
		respBody, err := c.doRequest(ctx, http.MethodPost, "/responses", body)
		if err != nil {
			return nil, err
		}
		defer respBody.Close()

		var resp Response
		if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
			return nil, fmt.Errorf("%s: decode response: %w", c.name, err)
		}
		return &resp, nil
	})
}

// ListModels fetches the provider's advertised model IDs.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	return RetryDo(ctx, c.retryConfig, func() ([]ModelInfo, error) {
		respBody, err := c.doRequest(ctx, http.MethodGet, "/models", nil)
		if err != nil {
			return nil, err
		}
		defer respBody.Close()

		var listing struct {
			Data []ModelInfo `json:"data"`
		}
		if err := json.NewDecoder(respBody).Decode(&listing); err != nil {
			return nil, fmt.Errorf("%s: decode model list: %w", c.name, err)
		}
		return listing.Data, nil
	})
}

func (c *Client) buildRequestBody(req *ResponseRequest) map[string]interface{} {
	body := map[string]interface{}{
		"model": req.Model,
	}

	if len(req.Input) > 0 {
		body["input"] = req.Input
	}
	if req.Instructions != "" {
		body["instructions"] = req.Instructions
	}
	if req.MaxOutputTokens > 0 {
		body["max_output_tokens"] = req.MaxOutputTokens
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}

	// Verbosity and the output schema live in the nested text group.
	text := map[string]interface{}{}
	if req.Verbosity != "" {
		text["verbosity"] = req.Verbosity
	}
	if req.JSONSchema != nil {
		text["format"] = map[string]interface{}{
			"type":   "json_schema",
			"name":   req.JSONSchema.Name,
			"schema": req.JSONSchema.Schema,
			"strict": req.JSONSchema.Strict,
		}
	}
	if len(text) > 0 {
		body["text"] = text
	}

	// Reasoning effort lives in the nested reasoning group.
	if req.ReasoningEffort != "" {
		body["reasoning"] = map[string]interface{}{
			"effort": req.ReasoningEffort,
		}
	}

	if req.ServiceTier != "" {
		body["service_tier"] = req.ServiceTier
	}
	if len(req.Tools) > 0 {
		body["tools"] = req.Tools
	}
	if req.PreviousResponseID != "" {
		body["previous_response_id"] = req.PreviousResponseID
	}
	if req.Truncation != "" {
		body["truncation"] = req.Truncation
	}

	return body
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (io.ReadCloser, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal request: %w", c.name, err)
		}
		reader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", c.name, err)
	}

	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", c.name, err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		retryAfter := ParseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       fmt.Sprintf("%s: %s", c.name, string(respBody)),
			RetryAfter: retryAfter,
		}
	}

	return resp.Body, nil
}
