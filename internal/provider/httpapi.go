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

// HTTPProvider is a generic fallback over any endpoint that accepts
// {prompt, temperature, max_tokens, model} and answers {text}. It exists for
// self-hosted gateways that mirror no vendor API.
type HTTPProvider struct {
	name     string
	apiKey   string
	endpoint string
	model    string
	client   *http.Client
	limiter  *RateLimiter
}

func NewHTTPProvider(name, apiKey, endpoint, model string) *HTTPProvider {
	if name == "" {
		name = "http"
	}
	if model == "" {
		model = "default"
	}
	return &HTTPProvider{
		name:     name,
		apiKey:   apiKey,
		endpoint: endpoint,
		model:    model,
		client:   &http.Client{Timeout: 120 * time.Second},
		limiter:  NewRateLimiter(name),
	}
}

func (p *HTTPProvider) Name() string {
	return p.name
}

func (p *HTTPProvider) Generate(ctx context.Context, cfg Config, req GenerateRequest) (*GenerateResult, error) {
	result := &GenerateResult{ProviderName: p.Name()}
	start := time.Now()
	defer func() { result.Latency = time.Since(start) }()

	endpoint := p.endpoint
	if cfg.BaseURL != "" {
		endpoint = cfg.BaseURL
	}
	if endpoint == "" {
		result.Error = "endpoint not configured"
		return result, NewError(p.Name(), KindAuthFailure, fmt.Errorf("endpoint not configured"))
	}

	if err := p.limiter.Wait(ctx); err != nil {
		result.Error = fmt.Sprintf("rate limiter wait interrupted: %v", err)
		return result, transportError(p.Name(), err)
	}

	model := p.model
	if cfg.Model != "" {
		model = cfg.Model
	}

	prompt := req.Prompt
	if req.System != "" {
		prompt = req.System + "\n\n" + req.Prompt
	}

	apiReq := map[string]interface{}{
		"prompt":      prompt,
		"temperature": req.Temperature,
		"max_tokens":  req.MaxTokens,
		"model":       model,
	}

	jsonData, err := json.Marshal(apiReq)
	if err != nil {
		result.Error = fmt.Sprintf("failed to marshal request: %v", err)
		return result, NewError(p.Name(), KindInvalidResponse, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		result.Error = fmt.Sprintf("failed to create request: %v", err)
		return result, NewError(p.Name(), KindInvalidResponse, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", p.apiKey))
	}

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

	var apiResp struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		result.Error = fmt.Sprintf("failed to decode response: %v", err)
		return result, NewError(p.Name(), KindInvalidResponse, err)
	}

	result.Text = postprocess.Clean(apiResp.Text)
	if result.Text == "" {
		result.Error = "empty text in response"
		return result, NewError(p.Name(), KindInvalidResponse, fmt.Errorf("empty text in response"))
	}

	result.Metadata = map[string]string{"model": model}
	return result, nil
}

func (p *HTTPProvider) IsAvailable(ctx context.Context) error {
	if p.endpoint == "" {
		return fmt.Errorf("endpoint not configured")
	}
	return nil
}
