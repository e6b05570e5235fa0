// Package llm provides OpenAI-compatible chat access routed by tenant config.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/theworld-inc/theworld-engine/pkg/apperrors"
	"github.com/theworld-inc/theworld-engine/pkg/models"
)

// Per-provider default base URLs, used when the tenant supplies none.
const (
	DeepseekBaseURL = "https://api.deepseek.com/v1"
	QwenBaseURL     = "https://dashscope.aliyuncs.com/compatible-mode/v1"
)

// maxAuditChars caps prompt/content copies inside audit events.
const maxAuditChars = 4000

// AuditCallback receives llm_prompt_sent / llm_response_received events.
// Exactly one of each is emitted per call; callback panics never propagate.
type AuditCallback func(eventType string, payload map[string]any)

// Invoker is the engine-facing LLM contract.
type Invoker interface {
	// InvokeJSON sends a system prompt plus a JSON user payload and parses a
	// single JSON object out of the reply.
	InvokeJSON(ctx context.Context, cfg models.LLMRuntimeConfig, systemPrompt string, userPayload any, schemaHint string, audit AuditCallback) (map[string]any, error)

	// SummarizeWithContext produces the short natural-language run summary.
	SummarizeWithContext(ctx context.Context, cfg models.LLMRuntimeConfig, query string, ontology map[string]any, selectedTask map[string]any, audit AuditCallback) (string, error)

	// Verify pings the provider with a tiny request.
	Verify(ctx context.Context, cfg models.LLMRuntimeConfig) VerifyResult
}

// VerifyResult reports a provider connectivity check.
type VerifyResult struct {
	OK        bool   `json:"ok"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	LatencyMS int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Client talks to OpenAI-compatible chat-completions endpoints.
type Client struct {
	logger *zap.Logger
}

// NewClient creates an LLM client.
func NewClient(logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{logger: logger.Named("llm")}
}

var _ Invoker = (*Client)(nil)

// BaseURLFor resolves the effective endpoint for a runtime config.
func BaseURLFor(provider models.LLMProvider, baseURL string) string {
	if strings.TrimSpace(baseURL) != "" {
		return strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	}
	switch provider {
	case models.LLMProviderDeepseek:
		return DeepseekBaseURL
	case models.LLMProviderQwen:
		return QwenBaseURL
	default:
		return ""
	}
}

func (c *Client) chatClient(cfg models.LLMRuntimeConfig) *openai.Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = BaseURLFor(cfg.Provider, cfg.BaseURL)
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout < time.Second {
		timeout = 30 * time.Second
	}
	clientConfig.HTTPClient = &http.Client{Timeout: timeout}
	return openai.NewClientWithConfig(clientConfig)
}

// safeAudit delivers one audit event; callback failures never propagate.
func safeAudit(audit AuditCallback, eventType string, payload map[string]any) {
	if audit == nil {
		return
	}
	defer func() { _ = recover() }()
	audit(eventType, payload)
}

func trimForAudit(text string) string {
	if len(text) <= maxAuditChars {
		return text
	}
	return text[:maxAuditChars]
}

// invokeText runs one chat completion and emits exactly one llm_prompt_sent
// and one llm_response_received audit event around the provider call.
func (c *Client) invokeText(ctx context.Context, cfg models.LLMRuntimeConfig, messages []openai.ChatCompletionMessage, audit AuditCallback) (string, error) {
	auditMessages := make([]map[string]any, len(messages))
	for i, m := range messages {
		auditMessages[i] = map[string]any{"role": m.Role, "content": trimForAudit(m.Content)}
	}
	safeAudit(audit, "llm_prompt_sent", map[string]any{
		"provider":   string(cfg.Provider),
		"model":      cfg.Model,
		"base_url":   BaseURLFor(cfg.Provider, cfg.BaseURL),
		"timeout_ms": cfg.TimeoutMS,
		"messages":   auditMessages,
	})

	request := openai.ChatCompletionRequest{
		Model:    cfg.Model,
		Messages: messages,
	}
	if cfg.EnableThinking {
		request.ChatTemplateKwargs = map[string]any{"enable_thinking": true}
	}

	start := time.Now()
	resp, err := c.chatClient(cfg).CreateChatCompletion(ctx, request)
	if err != nil {
		c.logger.Warn("LLM request failed",
			zap.String("provider", string(cfg.Provider)),
			zap.String("model", cfg.Model),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		safeAudit(audit, "llm_response_received", map[string]any{
			"model":         cfg.Model,
			"error":         err.Error(),
			"fallback_used": false,
		})
		return "", apperrors.Internalf("llm decision failed: %v", err)
	}
	if len(resp.Choices) == 0 {
		safeAudit(audit, "llm_response_received", map[string]any{
			"model":         cfg.Model,
			"error":         "no choices in response",
			"fallback_used": false,
		})
		return "", apperrors.Internal("llm decision failed: no choices in response")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	safeAudit(audit, "llm_response_received", map[string]any{
		"model":   cfg.Model,
		"content": trimForAudit(content),
		"usage": map[string]any{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		},
	})

	c.logger.Debug("LLM request completed",
		zap.String("model", cfg.Model),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("elapsed", time.Since(start)))
	return content, nil
}

// InvokeJSON implements Invoker.
func (c *Client) InvokeJSON(ctx context.Context, cfg models.LLMRuntimeConfig, systemPrompt string, userPayload any, schemaHint string, audit AuditCallback) (map[string]any, error) {
	payload, err := json.Marshal(userPayload)
	if err != nil {
		return nil, apperrors.Internalf("llm decision failed: encode payload: %v", err)
	}

	userContent := string(payload)
	if schemaHint != "" {
		userContent = fmt.Sprintf("%s\n\nRespond with a single JSON object matching:\n%s", userContent, schemaHint)
	}
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: userContent},
	}

	content, err := c.invokeText(ctx, cfg, messages, audit)
	if err != nil {
		return nil, err
	}

	object, err := ExtractJSONObject(content)
	if err != nil {
		return nil, apperrors.Internalf("llm decision failed: %v", err)
	}
	return object, nil
}

// SummarizeWithContext implements Invoker.
func (c *Client) SummarizeWithContext(ctx context.Context, cfg models.LLMRuntimeConfig, query string, ontology map[string]any, selectedTask map[string]any, audit AuditCallback) (string, error) {
	ontologyJSON, _ := json.Marshal(ontology)
	taskJSON, _ := json.Marshal(selectedTask)
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: "你是本体推理编排助手，请生成简洁的执行摘要。"},
		{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(
			"用户输入: %s\n候选本体: %s\n已选任务: %s\n请输出不超过80字的中文摘要。",
			query, ontologyJSON, taskJSON)},
	}
	return c.invokeText(ctx, cfg, messages, audit)
}

// Verify implements Invoker.
func (c *Client) Verify(ctx context.Context, cfg models.LLMRuntimeConfig) VerifyResult {
	request := openai.ChatCompletionRequest{
		Model:     cfg.Model,
		Messages:  []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "ping"}},
		MaxTokens: 8,
	}

	start := time.Now()
	resp, err := c.chatClient(cfg).CreateChatCompletion(ctx, request)
	if err != nil {
		return VerifyResult{
			OK:       false,
			Provider: string(cfg.Provider),
			Model:    cfg.Model,
			Error:    err.Error(),
		}
	}

	model := resp.Model
	if model == "" {
		model = cfg.Model
	}
	return VerifyResult{
		OK:        true,
		Provider:  string(cfg.Provider),
		Model:     model,
		LatencyMS: time.Since(start).Milliseconds(),
	}
}
