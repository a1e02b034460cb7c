// Package router provides the chat-completion capability behind the
// remote-model classifier tier. It routes requests to multiple LLM
// providers (OpenAI, Anthropic, GLM, local Ollama) with a caller
// preference and a local fallback.
package router

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hostel-concierge/internal/jsonx"
)

// Provider represents an LLM provider.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGLM       Provider = "glm"
	ProviderOllama    Provider = "ollama"
)

// Config holds the router configuration.
type Config struct {
	OpenAIKey    string
	AnthropicKey string
	GLMKey       string
	OllamaURL    string

	// Default provider to use when the caller states no preference.
	DefaultProvider Provider

	RequestTimeout time.Duration
}

// DefaultConfig returns configuration from environment variables.
func DefaultConfig() *Config {
	cfg := &Config{
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		AnthropicKey:   os.Getenv("ANTHROPIC_API_KEY"),
		GLMKey:         strings.TrimSpace(os.Getenv("GLM_API_KEY")),
		OllamaURL:      getEnvOrDefault("OLLAMA_URL", "http://localhost:11434"),
		RequestTimeout: 60 * time.Second,
	}

	switch {
	case cfg.OpenAIKey != "":
		cfg.DefaultProvider = ProviderOpenAI
	case cfg.AnthropicKey != "":
		cfg.DefaultProvider = ProviderAnthropic
	case cfg.GLMKey != "":
		cfg.DefaultProvider = ProviderGLM
	default:
		cfg.DefaultProvider = ProviderOllama
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// Message is one chat turn sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest represents a chat-completion request.
type ChatRequest struct {
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	JSONMode    bool      `json:"json_mode,omitempty"`
	Provider    Provider  `json:"provider,omitempty"`
	Model       string    `json:"model,omitempty"`
}

// Usage holds token accounting reported by the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse represents a chat-completion response.
type ChatResponse struct {
	Content  string        `json:"content"`
	Provider Provider      `json:"provider"`
	Model    string        `json:"model"`
	Usage    Usage         `json:"usage"`
	Duration time.Duration `json:"duration"`
}

// Router handles chat-completion routing to multiple providers.
type Router struct {
	config *Config
	client *http.Client
	logger *zap.Logger
	mu     sync.RWMutex

	providers       map[Provider]bool
	defaultProvider Provider
}

// New creates a new LLM router.
func New(cfg *Config, logger *zap.Logger) *Router {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Router{
		config: cfg,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger:          logger.Named("llmrouter"),
		providers:       make(map[Provider]bool),
		defaultProvider: cfg.DefaultProvider,
	}

	if cfg.OpenAIKey != "" {
		r.providers[ProviderOpenAI] = true
	}
	if cfg.AnthropicKey != "" {
		r.providers[ProviderAnthropic] = true
	}
	if cfg.GLMKey != "" {
		r.providers[ProviderGLM] = true
	}
	// Ollama is always available as local fallback.
	r.providers[ProviderOllama] = true

	return r
}

// Chat sends a chat-completion request to the preferred provider,
// falling back to the default when the preference is unavailable.
func (r *Router) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	provider := req.Provider
	if provider == "" || !r.IsProviderAvailable(provider) {
		provider = r.defaultProvider
	}

	if req.MaxTokens == 0 {
		req.MaxTokens = 512
	}

	var content string
	var usage Usage
	var err error

	switch provider {
	case ProviderOpenAI:
		model := req.Model
		if model == "" {
			model = "gpt-4o-mini"
		}
		content, usage, err = r.callOpenAI(ctx, req, model)
		req.Model = model

	case ProviderAnthropic:
		model := req.Model
		if model == "" {
			model = "claude-3-haiku-20240307"
		}
		content, usage, err = r.callAnthropic(ctx, req, model)
		req.Model = model

	case ProviderGLM:
		model := req.Model
		if model == "" {
			model = "glm-4-flash"
		}
		content, usage, err = r.callGLM(ctx, req, model)
		req.Model = model

	default:
		model := req.Model
		if model == "" {
			model = "llama3.2"
		}
		content, usage, err = r.callOllama(ctx, req, model)
		req.Model = model
		provider = ProviderOllama
	}

	if err != nil {
		return nil, fmt.Errorf("provider %s failed: %w", provider, err)
	}

	content = stripThinkingTags(content)

	return &ChatResponse{
		Content:  content,
		Provider: provider,
		Model:    req.Model,
		Usage:    usage,
		Duration: time.Since(start),
	}, nil
}

// callOpenAI calls the OpenAI chat completions API.
func (r *Router) callOpenAI(ctx context.Context, req *ChatRequest, model string) (string, Usage, error) {
	if r.config.OpenAIKey == "" {
		return "", Usage{}, fmt.Errorf("no OpenAI API key available")
	}

	reqBody := map[string]interface{}{
		"model":       model,
		"messages":    req.Messages,
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
	}
	if req.JSONMode {
		reqBody["response_format"] = map[string]string{"type": "json_object"}
	}

	return r.makeRequest(ctx, "https://api.openai.com/v1/chat/completions", reqBody, map[string]string{
		"Authorization": "Bearer " + r.config.OpenAIKey,
		"Content-Type":  "application/json",
	})
}

// callAnthropic calls the Anthropic messages API. Anthropic takes the
// system prompt as a top-level field, not a message.
func (r *Router) callAnthropic(ctx context.Context, req *ChatRequest, model string) (string, Usage, error) {
	if r.config.AnthropicKey == "" {
		return "", Usage{}, fmt.Errorf("no Anthropic API key available")
	}

	var system string
	messages := make([]Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		messages = append(messages, m)
	}

	reqBody := map[string]interface{}{
		"model":      model,
		"max_tokens": req.MaxTokens,
		"messages":   messages,
	}
	if system != "" {
		reqBody["system"] = system
	}
	if req.Temperature > 0 {
		reqBody["temperature"] = req.Temperature
	}

	return r.makeRequest(ctx, "https://api.anthropic.com/v1/messages", reqBody, map[string]string{
		"x-api-key":         r.config.AnthropicKey,
		"anthropic-version": "2023-06-01",
		"Content-Type":      "application/json",
	})
}

// callGLM calls the GLM (Zhipu AI) API.
func (r *Router) callGLM(ctx context.Context, req *ChatRequest, model string) (string, Usage, error) {
	if r.config.GLMKey == "" {
		return "", Usage{}, fmt.Errorf("no GLM API key available")
	}

	reqBody := map[string]interface{}{
		"model":      model,
		"messages":   req.Messages,
		"max_tokens": req.MaxTokens,
	}
	if req.Temperature > 0 {
		reqBody["temperature"] = req.Temperature
	}

	return r.makeRequest(ctx, "https://open.bigmodel.cn/api/paas/v4/chat/completions", reqBody, map[string]string{
		"Authorization": "Bearer " + r.config.GLMKey,
		"Content-Type":  "application/json",
	})
}

// callOllama calls the local Ollama API.
func (r *Router) callOllama(ctx context.Context, req *ChatRequest, model string) (string, Usage, error) {
	reqBody := map[string]interface{}{
		"model":    model,
		"messages": req.Messages,
		"stream":   false,
	}
	if req.JSONMode {
		reqBody["format"] = "json"
	}

	url := fmt.Sprintf("%s/api/chat", r.config.OllamaURL)
	return r.makeRequest(ctx, url, reqBody, map[string]string{
		"Content-Type": "application/json",
	})
}

// makeRequest makes an HTTP request to an LLM API.
func (r *Router) makeRequest(ctx context.Context, url string, body map[string]interface{}, headers map[string]string) (string, Usage, error) {
	jsonBody, err := jsonx.Marshal(body)
	if err != nil {
		return "", Usage{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
	if err != nil {
		return "", Usage{}, fmt.Errorf("failed to create request: %w", err)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", Usage{}, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result map[string]interface{}
	if err := jsonx.Unmarshal(respBody, &result); err != nil {
		return "", Usage{}, fmt.Errorf("failed to parse response: %w", err)
	}

	content, err := extractContent(result)
	if err != nil {
		return "", Usage{}, err
	}
	return content, extractUsage(result), nil
}

// extractContent extracts the content from an LLM API response.
func extractContent(result map[string]interface{}) (string, error) {
	// OpenAI / GLM format.
	if choices, ok := result["choices"].([]interface{}); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]interface{}); ok {
			if message, ok := choice["message"].(map[string]interface{}); ok {
				if content, ok := message["content"].(string); ok {
					return content, nil
				}
			}
		}
	}

	// Anthropic format.
	if content, ok := result["content"].([]interface{}); ok && len(content) > 0 {
		if block, ok := content[0].(map[string]interface{}); ok {
			if text, ok := block["text"].(string); ok {
				return text, nil
			}
		}
	}

	// Ollama format.
	if message, ok := result["message"].(map[string]interface{}); ok {
		if content, ok := message["content"].(string); ok {
			return content, nil
		}
	}

	return "", fmt.Errorf("could not extract content from response")
}

// extractUsage pulls token accounting out of a provider response.
// Providers that report nothing yield a zero Usage.
func extractUsage(result map[string]interface{}) Usage {
	usage, ok := result["usage"].(map[string]interface{})
	if !ok {
		return Usage{}
	}
	u := Usage{
		PromptTokens:     intField(usage, "prompt_tokens"),
		CompletionTokens: intField(usage, "completion_tokens"),
		TotalTokens:      intField(usage, "total_tokens"),
	}
	// Anthropic reports input/output instead.
	if u.TotalTokens == 0 {
		in := intField(usage, "input_tokens")
		out := intField(usage, "output_tokens")
		if in+out > 0 {
			u.PromptTokens = in
			u.CompletionTokens = out
			u.TotalTokens = in + out
		}
	}
	return u
}

func intField(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// stripThinkingTags removes <think> blocks some local models emit.
func stripThinkingTags(content string) string {
	re := regexp.MustCompile(`(?s)<think>.*?</think>`)
	return strings.TrimSpace(re.ReplaceAllString(content, ""))
}

// ParseJSONObject extracts the first complete JSON object from an LLM
// response, tolerating prose before and after it. An empty or
// object-free response yields an empty map, never an error.
func ParseJSONObject(response string) map[string]interface{} {
	if response == "" {
		return map[string]interface{}{}
	}

	startIdx := strings.IndexByte(response, '{')
	if startIdx == -1 {
		return map[string]interface{}{}
	}
	textToParse := response[startIdx:]

	// Try progressively shorter candidates ending at '}' until one parses.
	for i := len(textToParse) - 1; i >= 0; i-- {
		if textToParse[i] != '}' {
			continue
		}
		candidate := textToParse[:i+1]
		var result map[string]interface{}
		if err := jsonx.Unmarshal([]byte(candidate), &result); err == nil {
			return result
		}
	}

	return map[string]interface{}{}
}

// IsProviderAvailable checks if a provider is configured.
func (r *Router) IsProviderAvailable(provider Provider) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[provider]
}

// DefaultProvider returns the provider used absent a preference.
func (r *Router) DefaultProvider() Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultProvider
}

// Providers returns the list of available providers.
func (r *Router) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	providers := make([]Provider, 0, len(r.providers))
	for p := range r.providers {
		providers = append(providers, p)
	}
	return providers
}
