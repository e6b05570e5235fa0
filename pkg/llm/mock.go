package llm

import (
	"context"

	"github.com/theworld-inc/theworld-engine/pkg/models"
)

// MockInvoker is a configurable mock for testing LLM-driven flows.
// Set the function fields to control behavior in tests. Audit callbacks are
// still delivered so trace assertions keep working.
type MockInvoker struct {
	InvokeJSONFunc func(ctx context.Context, cfg models.LLMRuntimeConfig, systemPrompt string, userPayload any, schemaHint string) (map[string]any, error)
	SummarizeFunc  func(ctx context.Context, cfg models.LLMRuntimeConfig, query string) (string, error)
	VerifyFunc     func(ctx context.Context, cfg models.LLMRuntimeConfig) VerifyResult

	InvokeJSONCalls int
	SummarizeCalls  int
}

var _ Invoker = (*MockInvoker)(nil)

// InvokeJSON implements Invoker.
func (m *MockInvoker) InvokeJSON(ctx context.Context, cfg models.LLMRuntimeConfig, systemPrompt string, userPayload any, schemaHint string, audit AuditCallback) (map[string]any, error) {
	m.InvokeJSONCalls++
	safeAudit(audit, "llm_prompt_sent", map[string]any{"provider": string(cfg.Provider), "model": cfg.Model})
	var out map[string]any
	var err error
	if m.InvokeJSONFunc != nil {
		out, err = m.InvokeJSONFunc(ctx, cfg, systemPrompt, userPayload, schemaHint)
	} else {
		out = map[string]any{}
	}
	if err != nil {
		safeAudit(audit, "llm_response_received", map[string]any{"model": cfg.Model, "error": err.Error(), "fallback_used": false})
		return nil, err
	}
	safeAudit(audit, "llm_response_received", map[string]any{"model": cfg.Model, "content": out})
	return out, nil
}

// SummarizeWithContext implements Invoker.
func (m *MockInvoker) SummarizeWithContext(ctx context.Context, cfg models.LLMRuntimeConfig, query string, ontology map[string]any, selectedTask map[string]any, audit AuditCallback) (string, error) {
	m.SummarizeCalls++
	safeAudit(audit, "llm_prompt_sent", map[string]any{"provider": string(cfg.Provider), "model": cfg.Model})
	summary := "summary"
	var err error
	if m.SummarizeFunc != nil {
		summary, err = m.SummarizeFunc(ctx, cfg, query)
	}
	if err != nil {
		safeAudit(audit, "llm_response_received", map[string]any{"model": cfg.Model, "error": err.Error(), "fallback_used": false})
		return "", err
	}
	safeAudit(audit, "llm_response_received", map[string]any{"model": cfg.Model, "content": summary})
	return summary, nil
}

// Verify implements Invoker.
func (m *MockInvoker) Verify(ctx context.Context, cfg models.LLMRuntimeConfig) VerifyResult {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, cfg)
	}
	return VerifyResult{OK: true, Provider: string(cfg.Provider), Model: cfg.Model}
}
