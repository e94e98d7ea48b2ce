package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/valpere/perefraz/internal/postprocess"
)

const DefaultAnthropicModel = "claude-sonnet-4-5-20250929"

// anthropicFallbackModels is tried in order when the configured model is
// rejected with a 404 (model IDs rotate as new versions ship).
var anthropicFallbackModels = []string{
	"claude-sonnet-4-5-20250929",
	"claude-3-5-sonnet-20240620",
	"claude-3-haiku-20240307",
}

// AnthropicProvider generates text through the Anthropic messages API.
type AnthropicProvider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	limiter *RateLimiter
}

func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	if model == "" {
		model = DefaultAnthropicModel
	}
	return &AnthropicProvider{
		apiKey:  apiKey,
		model:   model,
		baseURL: "https://api.anthropic.com/v1",
		client:  &http.Client{Timeout: 120 * time.Second},
		limiter: NewRateLimiter("anthropic"),
	}
}

func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

func (p *AnthropicProvider) Generate(ctx context.Context, cfg Config, req GenerateRequest) (*GenerateResult, error) {
	result := &GenerateResult{ProviderName: p.Name()}
	start := time.Now()
	defer func() { result.Latency = time.Since(start) }()

	apiKey := p.apiKey
	if cfg.APIKey != "" {
		apiKey = cfg.APIKey
	}
	if apiKey == "" {
		result.Error = "Anthropic API key required"
		return result, NewError(p.Name(), KindAuthFailure, fmt.Errorf("API key required"))
	}

	if err := p.limiter.Wait(ctx); err != nil {
		result.Error = fmt.Sprintf("rate limiter wait interrupted: %v", err)
		return result, transportError(p.Name(), err)
	}

	primary := p.model
	if cfg.Model != "" {
		primary = cfg.Model
	}

	models := []string{primary}
	for _, m := range anthropicFallbackModels {
		if m != primary {
			models = append(models, m)
		}
	}

	var lastErr *Error
	for _, model := range models {
		text, meta, err := p.generateOnce(ctx, cfg, req, apiKey, model)
		if err == nil {
			result.Text = text
			result.Metadata = meta
			return result, nil
		}
		lastErr = err
		// A missing model ID is the only failure worth falling through for.
		if err.Kind != KindInvalidResponse || !strings.Contains(err.Error(), "404") {
			break
		}
	}

	result.Error = lastErr.Error()
	return result, lastErr
}

func (p *AnthropicProvider) generateOnce(ctx context.Context, cfg Config, req GenerateRequest, apiKey, model string) (string, map[string]string, *Error) {
	anthropicReq := map[string]interface{}{
		"model": model,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
	}
	if req.System != "" {
		anthropicReq["system"] = req.System
	}

	jsonData, err := json.Marshal(anthropicReq)
	if err != nil {
		return "", nil, NewError(p.Name(), KindInvalidResponse, err)
	}

	baseURL := p.baseURL
	if cfg.BaseURL != "" {
		baseURL = cfg.BaseURL
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", fmt.Sprintf("%s/messages", baseURL), bytes.NewBuffer(jsonData))
	if err != nil {
		return "", nil, NewError(p.Name(), KindInvalidResponse, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", nil, transportError(p.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil, NewError(p.Name(), KindInvalidResponse, fmt.Errorf("model %s not found (404)", model))
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
			p.limiter.RecordRateLimitError(retryAfter)
		}
		return "", nil, statusError(p.Name(), resp.StatusCode, "")
	}

	var anthropicResp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&anthropicResp); err != nil {
		return "", nil, NewError(p.Name(), KindInvalidResponse, err)
	}

	var text string
	for _, block := range anthropicResp.Content {
		if block.Type == "text" && block.Text != "" {
			text = block.Text
			break
		}
	}

	text = postprocess.Clean(text)
	if text == "" {
		return "", nil, NewError(p.Name(), KindInvalidResponse, fmt.Errorf("empty response from model %s", model))
	}

	meta := map[string]string{
		"model":         model,
		"input_tokens":  fmt.Sprintf("%d", anthropicResp.Usage.InputTokens),
		"output_tokens": fmt.Sprintf("%d", anthropicResp.Usage.OutputTokens),
	}
	return text, meta, nil
}

func (p *AnthropicProvider) IsAvailable(ctx context.Context) error {
	if p.apiKey == "" {
		return fmt.Errorf("Anthropic API key not configured")
	}
	return nil
}
