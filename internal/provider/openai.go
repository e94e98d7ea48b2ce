package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/valpere/perefraz/internal/postprocess"
)

const DefaultOpenAIModel = "gpt-4o"

// OpenAIProvider generates text through the OpenAI chat completions API.
type OpenAIProvider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	limiter *RateLimiter
}

func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIProvider{
		apiKey:  apiKey,
		model:   model,
		baseURL: "https://api.openai.com/v1",
		client:  &http.Client{Timeout: 120 * time.Second},
		limiter: NewRateLimiter("openai"),
	}
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) Generate(ctx context.Context, cfg Config, req GenerateRequest) (*GenerateResult, error) {
	result := &GenerateResult{ProviderName: p.Name()}
	start := time.Now()
	defer func() { result.Latency = time.Since(start) }()

	apiKey := p.apiKey
	if cfg.APIKey != "" {
		apiKey = cfg.APIKey
	}
	if apiKey == "" {
		result.Error = "OpenAI API key required"
		return result, NewError(p.Name(), KindAuthFailure, fmt.Errorf("API key required"))
	}

	model := p.model
	if cfg.Model != "" {
		model = cfg.Model
	}

	if err := p.limiter.Wait(ctx); err != nil {
		result.Error = fmt.Sprintf("rate limiter wait interrupted: %v", err)
		return result, transportError(p.Name(), err)
	}

	system := req.System
	if system == "" {
		system = "You are a professional text paraphrasing assistant."
	}

	openaiReq := map[string]interface{}{
		"model": model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": req.Prompt},
		},
		"temperature": req.Temperature,
		"max_tokens":  req.MaxTokens,
	}

	jsonData, err := json.Marshal(openaiReq)
	if err != nil {
		result.Error = fmt.Sprintf("failed to marshal request: %v", err)
		return result, NewError(p.Name(), KindInvalidResponse, err)
	}

	baseURL := p.baseURL
	if cfg.BaseURL != "" {
		baseURL = cfg.BaseURL
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", fmt.Sprintf("%s/chat/completions", baseURL), bytes.NewBuffer(jsonData))
	if err != nil {
		result.Error = fmt.Sprintf("failed to create request: %v", err)
		return result, NewError(p.Name(), KindInvalidResponse, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", apiKey))

	resp, err := p.client.Do(httpReq)
	if err != nil {
		result.Error = fmt.Sprintf("request failed: %v", err)
		return result, transportError(p.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
			p.limiter.RecordRateLimitError(retryAfter)
		}
		var errResp map[string]interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		result.Error = fmt.Sprintf("API returned status %d: %v", resp.StatusCode, errResp)
		return result, statusError(p.Name(), resp.StatusCode, "")
	}

	var openaiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&openaiResp); err != nil {
		result.Error = fmt.Sprintf("failed to decode response: %v", err)
		return result, NewError(p.Name(), KindInvalidResponse, err)
	}

	if len(openaiResp.Choices) == 0 {
		result.Error = "empty response from API"
		return result, NewError(p.Name(), KindInvalidResponse, fmt.Errorf("empty response from API"))
	}

	result.Text = postprocess.Clean(openaiResp.Choices[0].Message.Content)
	result.Metadata = map[string]string{
		"model":             model,
		"prompt_tokens":     fmt.Sprintf("%d", openaiResp.Usage.PromptTokens),
		"completion_tokens": fmt.Sprintf("%d", openaiResp.Usage.CompletionTokens),
	}

	if result.Text == "" {
		result.Error = "provider returned empty text"
		return result, NewError(p.Name(), KindInvalidResponse, fmt.Errorf("provider returned empty text"))
	}

	return result, nil
}

func (p *OpenAIProvider) IsAvailable(ctx context.Context) error {
	if p.apiKey == "" {
		return fmt.Errorf("OpenAI API key not configured")
	}
	return nil
}
