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

const DefaultGeminiModel = "gemini-2.5-pro"

// GeminiProvider generates text through the Google Generative Language API.
type GeminiProvider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	limiter *RateLimiter
}

func NewGeminiProvider(apiKey, model string) *GeminiProvider {
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiProvider{
		apiKey:  apiKey,
		model:   model,
		baseURL: "https://generativelanguage.googleapis.com/v1beta",
		client:  &http.Client{Timeout: 120 * time.Second},
		limiter: NewRateLimiter("gemini"),
	}
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}

func (p *GeminiProvider) Generate(ctx context.Context, cfg Config, req GenerateRequest) (*GenerateResult, error) {
	result := &GenerateResult{ProviderName: p.Name()}
	start := time.Now()
	defer func() { result.Latency = time.Since(start) }()

	apiKey := p.apiKey
	if cfg.APIKey != "" {
		apiKey = cfg.APIKey
	}
	if apiKey == "" {
		result.Error = "Gemini API key required"
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

	prompt := req.Prompt
	if req.System != "" {
		prompt = req.System + "\n\n" + req.Prompt
	}

	// Gemini can emit up to 8192 output tokens; long inputs need headroom
	// beyond the caller's budget or the response gets truncated.
	maxTokens := req.MaxTokens
	if calculated := len(prompt) * 2; calculated > maxTokens {
		maxTokens = calculated
	}
	if maxTokens < 8000 {
		maxTokens = 8000
	}

	geminiReq := map[string]interface{}{
		"contents": []map[string]interface{}{
			{"parts": []map[string]string{{"text": prompt}}},
		},
		"generationConfig": map[string]interface{}{
			"temperature":     req.Temperature,
			"maxOutputTokens": maxTokens,
		},
	}

	jsonData, err := json.Marshal(geminiReq)
	if err != nil {
		result.Error = fmt.Sprintf("failed to marshal request: %v", err)
		return result, NewError(p.Name(), KindInvalidResponse, err)
	}

	baseURL := p.baseURL
	if cfg.BaseURL != "" {
		baseURL = cfg.BaseURL
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", baseURL, model, apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		result.Error = fmt.Sprintf("failed to create request: %v", err)
		return result, NewError(p.Name(), KindInvalidResponse, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

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
		result.Error = fmt.Sprintf("API returned status %d", resp.StatusCode)
		return result, statusError(p.Name(), resp.StatusCode, "")
	}

	var geminiResp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&geminiResp); err != nil {
		result.Error = fmt.Sprintf("failed to decode response: %v", err)
		return result, NewError(p.Name(), KindInvalidResponse, err)
	}

	if len(geminiResp.Candidates) == 0 {
		result.Error = "no candidates in response"
		return result, NewError(p.Name(), KindInvalidResponse, fmt.Errorf("no candidates in response"))
	}

	candidate := geminiResp.Candidates[0]
	switch candidate.FinishReason {
	case "SAFETY":
		result.Error = "response blocked by safety filters"
		return result, NewError(p.Name(), KindInvalidResponse, fmt.Errorf("response blocked by safety filters"))
	case "RECITATION":
		result.Error = "response blocked due to recitation concerns"
		return result, NewError(p.Name(), KindInvalidResponse, fmt.Errorf("response blocked due to recitation concerns"))
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			parts = append(parts, part.Text)
		}
	}

	// MAX_TOKENS still yields whatever partial text arrived.
	result.Text = postprocess.Clean(strings.Join(parts, " "))
	if result.Text == "" {
		result.Error = fmt.Sprintf("no text in response (finish reason: %s)", candidate.FinishReason)
		return result, NewError(p.Name(), KindInvalidResponse, fmt.Errorf("no text in response (finish reason: %s)", candidate.FinishReason))
	}

	result.Metadata = map[string]string{
		"model":         model,
		"finish_reason": candidate.FinishReason,
	}
	return result, nil
}

func (p *GeminiProvider) IsAvailable(ctx context.Context) error {
	if p.apiKey == "" {
		return fmt.Errorf("Gemini API key not configured")
	}
	return nil
}
