package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const defaultAnthropicURL = "https://api.anthropic.com/v1/messages"

type AnthropicClient struct {
	APIKey      string
	Model       string
	URL         string
	Temperature float64
	MaxTokens   int
	HTTPClient  *http.Client
}

func (c *AnthropicClient) Name() string { return "anthropic" }

func (c *AnthropicClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	var resp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	b, _ := json.Marshal(c.body(prompt, false))
	err := doWithRetry(ctx, c.httpClient(), "anthropic", func() (*http.Request, error) {
		return c.newRequest(ctx, b)
	}, &resp)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, part := range resp.Content {
		sb.WriteString(part.Text)
	}
	if sb.Len() == 0 {
		return "", errors.New("anthropic: no content")
	}
	return sb.String(), nil
}

// GenerateTextStream reads the Messages API event stream and forwards each
// text delta.
func (c *AnthropicClient) GenerateTextStream(ctx context.Context, prompt string, onDelta func(chunk string) error) error {
	b, _ := json.Marshal(c.body(prompt, true))
	req, err := c.newRequest(ctx, b)
	if err != nil {
		return err
	}
	res, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		var eresp map[string]any
		_ = json.NewDecoder(res.Body).Decode(&eresp)
		return fmt.Errorf("anthropic status %d: %v", res.StatusCode, eresp)
	}
	sc := newLineReader(res.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var ev struct {
			Type  string `json:"type"`
			Delta struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"delta"`
			Error *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "content_block_delta":
			if ev.Delta.Text != "" {
				if err := onDelta(ev.Delta.Text); err != nil {
					return err
				}
			}
		case "error":
			if ev.Error != nil {
				return fmt.Errorf("anthropic stream: %s", ev.Error.Message)
			}
			return errors.New("anthropic stream error")
		case "message_stop":
			return nil
		}
	}
	return sc.Err()
}

func (c *AnthropicClient) body(prompt string, stream bool) map[string]any {
	maxTokens := c.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	body := map[string]any{
		"model":       c.Model,
		"max_tokens":  maxTokens,
		"temperature": c.Temperature,
		"messages": []map[string]any{{
			"role":    "user",
			"content": []map[string]string{{"type": "text", "text": prompt}},
		}},
	}
	if stream {
		body["stream"] = true
	}
	return body
}

func (c *AnthropicClient) newRequest(ctx context.Context, b []byte) (*http.Request, error) {
	url := c.URL
	if url == "" {
		url = defaultAnthropicURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	req.Header.Set("content-type", "application/json")
	return req, nil
}

func (c *AnthropicClient) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: defaultHTTPTimeout}
}
