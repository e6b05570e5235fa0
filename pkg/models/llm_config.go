package models

import (
	"time"
)

// ============================================================================
// LLM Providers
// ============================================================================

// LLMProvider is an allowed upstream provider identifier.
type LLMProvider string

const (
	LLMProviderDeepseek LLMProvider = "deepseek"
	LLMProviderQwen     LLMProvider = "qwen"
)

// AllowedLLMProviders contains the closed provider set.
var AllowedLLMProviders = []LLMProvider{LLMProviderDeepseek, LLMProviderQwen}

// IsValidLLMProvider checks if the given provider is allowed.
func IsValidLLMProvider(p LLMProvider) bool {
	for _, v := range AllowedLLMProviders {
		if v == p {
			return true
		}
	}
	return false
}

// APIKeyCipherMapKey is the reserved key inside TenantLLMConfig.ExtraJSON
// holding per-provider ciphertexts. It never crosses the API boundary.
const APIKeyCipherMapKey = "__api_key_cipher_by_provider"

// ============================================================================
// Tenant LLM Config
// ============================================================================

// TenantLLMConfig is the per-tenant provider selection and credentials.
// APIKeyCipher holds the ciphertext for the active provider; ExtraJSON keeps
// one ciphertext per provider under APIKeyCipherMapKey so switching providers
// does not lose previously entered keys.
type TenantLLMConfig struct {
	TenantID         string         `json:"tenant_id"`
	Provider         LLMProvider    `json:"provider"`
	Model            string         `json:"model"`
	APIKeyCipher     string         `json:"-"`
	BaseURL          string         `json:"base_url,omitempty"`
	TimeoutMS        int            `json:"timeout_ms"`
	EnableThinking   bool           `json:"enable_thinking"`
	FallbackProvider LLMProvider    `json:"fallback_provider,omitempty"`
	FallbackModel    string         `json:"fallback_model,omitempty"`
	ExtraJSON        map[string]any `json:"extra_json"`
	Status           int            `json:"status"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// LLMRuntimeConfig is the decrypted view handed to the LLM client. Never
// serialized back to clients.
type LLMRuntimeConfig struct {
	Provider         LLMProvider
	Model            string
	APIKey           string
	BaseURL          string
	TimeoutMS        int
	EnableThinking   bool
	ExtraJSON        map[string]any
	FallbackProvider LLMProvider
	FallbackModel    string
	FallbackAPIKey   string
}

// HasFallback reports whether a complete fallback route is configured.
func (c LLMRuntimeConfig) HasFallback() bool {
	return c.FallbackProvider != "" && c.FallbackModel != ""
}

// LLMRoute is the provider metadata attached to completed model output.
type LLMRoute struct {
	Provider    LLMProvider `json:"provider"`
	Model       string      `json:"model"`
	HasFallback bool        `json:"has_fallback"`
}

// ============================================================================
// Runtime Config Rows
// ============================================================================

// TenantRuntimeConfig is a free-form per-tenant configuration document.
type TenantRuntimeConfig struct {
	TenantID  string         `json:"tenant_id"`
	Config    map[string]any `json:"config"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// SystemRuntimeConfig is a keyed process-wide configuration document, used
// for the observability (Langfuse) settings.
type SystemRuntimeConfig struct {
	ConfigKey string         `json:"config_key"`
	Config    map[string]any `json:"config"`
	UpdatedAt time.Time      `json:"updated_at"`
}
