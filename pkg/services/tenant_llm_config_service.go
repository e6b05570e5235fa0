package services

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/theworld-inc/theworld-engine/pkg/apperrors"
	"github.com/theworld-inc/theworld-engine/pkg/llm"
	"github.com/theworld-inc/theworld-engine/pkg/models"
	"github.com/theworld-inc/theworld-engine/pkg/repositories"
	"github.com/theworld-inc/theworld-engine/pkg/secrets"
)

// Defaults returned for tenants that have not stored a config yet.
const (
	DefaultLLMProvider  = models.LLMProviderDeepseek
	DefaultLLMModel     = "deepseek-chat"
	DefaultLLMTimeoutMS = 30000
)

// LLMConfigView is the API shape of a tenant LLM config. Credentials only
// ever leave the service masked.
type LLMConfigView struct {
	TenantID               string             `json:"tenant_id"`
	Provider               models.LLMProvider `json:"provider"`
	Model                  string             `json:"model"`
	BaseURL                string             `json:"base_url,omitempty"`
	TimeoutMS              int                `json:"timeout_ms"`
	EnableThinking         bool               `json:"enable_thinking"`
	FallbackProvider       models.LLMProvider `json:"fallback_provider,omitempty"`
	FallbackModel          string             `json:"fallback_model,omitempty"`
	ExtraJSON              map[string]any     `json:"extra_json"`
	Status                 int                `json:"status"`
	APIKeyMasked           string             `json:"api_key_masked"`
	APIKeyMaskedByProvider map[string]string  `json:"api_key_masked_by_provider"`
	UpdatedAt              string             `json:"updated_at,omitempty"`
}

// UpsertLLMConfigInput carries a PUT config request. APIKey may be empty when
// switching back to a provider whose ciphertext is already stored.
type UpsertLLMConfigInput struct {
	Provider         string         `json:"provider"`
	Model            string         `json:"model"`
	APIKey           string         `json:"api_key"`
	BaseURL          string         `json:"base_url"`
	TimeoutMS        int            `json:"timeout_ms"`
	EnableThinking   *bool          `json:"enable_thinking"`
	FallbackProvider string         `json:"fallback_provider"`
	FallbackModel    string         `json:"fallback_model"`
	ExtraJSON        map[string]any `json:"extra_json"`
	Status           *int           `json:"status"`
}

// VerifyLLMConfigInput carries overrides for a connectivity check. Empty
// fields fall back to the stored config.
type VerifyLLMConfigInput struct {
	Provider  string         `json:"provider"`
	Model     string         `json:"model"`
	APIKey    string         `json:"api_key"`
	BaseURL   *string        `json:"base_url"`
	TimeoutMS int            `json:"timeout_ms"`
	ExtraJSON map[string]any `json:"extra_json"`
}

// TenantLLMConfigService manages per-tenant provider routing and encrypted
// credentials.
type TenantLLMConfigService interface {
	GetConfig(ctx context.Context, tenantID string) (*LLMConfigView, error)
	UpsertConfig(ctx context.Context, tenantID string, input UpsertLLMConfigInput) (*LLMConfigView, error)

	// RuntimeConfig returns the decrypted routing bundle for the engine.
	// Fails with NOT_FOUND when no config exists and VALIDATION when the
	// config is disabled.
	RuntimeConfig(ctx context.Context, tenantID string) (models.LLMRuntimeConfig, error)

	Verify(ctx context.Context, tenantID string, input VerifyLLMConfigInput) (llm.VerifyResult, error)
}

type tenantLLMConfigService struct {
	repo    repositories.LLMConfigRepository
	cipher  *secrets.Cipher
	invoker llm.Invoker
	logger  *zap.Logger
}

// NewTenantLLMConfigService creates the config service.
func NewTenantLLMConfigService(repo repositories.LLMConfigRepository, cipher *secrets.Cipher, invoker llm.Invoker, logger *zap.Logger) TenantLLMConfigService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &tenantLLMConfigService{repo: repo, cipher: cipher, invoker: invoker, logger: logger.Named("llm_config")}
}

var _ TenantLLMConfigService = (*tenantLLMConfigService)(nil)

func validateProvider(provider string) (models.LLMProvider, error) {
	value := models.LLMProvider(strings.ToLower(strings.TrimSpace(provider)))
	if !models.IsValidLLMProvider(value) {
		return "", apperrors.Validation("provider must be deepseek or qwen")
	}
	return value, nil
}

// cipherMapFromExtra pulls the per-provider ciphertext map out of extra_json,
// dropping unknown providers and non-string values.
func cipherMapFromExtra(extra map[string]any) map[string]string {
	out := map[string]string{}
	raw, ok := extra[models.APIKeyCipherMapKey].(map[string]any)
	if !ok {
		return out
	}
	for key, value := range raw {
		provider := models.LLMProvider(strings.ToLower(strings.TrimSpace(key)))
		text, isString := value.(string)
		if models.IsValidLLMProvider(provider) && isString && strings.TrimSpace(text) != "" {
			out[string(provider)] = text
		}
	}
	return out
}

// sanitizeExtra strips the reserved ciphertext map from client-visible
// extra_json.
func sanitizeExtra(extra map[string]any) map[string]any {
	out := map[string]any{}
	for key, value := range extra {
		if key == models.APIKeyCipherMapKey {
			continue
		}
		out[key] = value
	}
	return out
}

// resolveProviderKey decrypts the stored key for one provider. The active
// column ciphertext backs the map for the row's own provider.
func (s *tenantLLMConfigService) resolveProviderKey(cfg *models.TenantLLMConfig, provider models.LLMProvider) string {
	if provider == "" {
		return ""
	}
	keyMap := cipherMapFromExtra(cfg.ExtraJSON)
	ciphertext := keyMap[string(provider)]
	if ciphertext == "" && provider == cfg.Provider && cfg.APIKeyCipher != "" {
		ciphertext = cfg.APIKeyCipher
	}
	if ciphertext == "" {
		return ""
	}
	plain, err := s.cipher.Decrypt(ciphertext)
	if err != nil {
		s.logger.Warn("stored api key undecryptable",
			zap.String("tenant_id", cfg.TenantID),
			zap.String("provider", string(provider)),
			zap.Error(err))
		return ""
	}
	return plain
}

func (s *tenantLLMConfigService) maskedByProvider(cfg *models.TenantLLMConfig) map[string]string {
	out := map[string]string{}
	for _, provider := range models.AllowedLLMProviders {
		if plain := s.resolveProviderKey(cfg, provider); plain != "" {
			out[string(provider)] = secrets.MaskSecret(plain)
		}
	}
	return out
}

func (s *tenantLLMConfigService) view(cfg *models.TenantLLMConfig) *LLMConfigView {
	masked := s.maskedByProvider(cfg)
	return &LLMConfigView{
		TenantID:               cfg.TenantID,
		Provider:               cfg.Provider,
		Model:                  cfg.Model,
		BaseURL:                cfg.BaseURL,
		TimeoutMS:              cfg.TimeoutMS,
		EnableThinking:         cfg.EnableThinking,
		FallbackProvider:       cfg.FallbackProvider,
		FallbackModel:          cfg.FallbackModel,
		ExtraJSON:              sanitizeExtra(cfg.ExtraJSON),
		Status:                 cfg.Status,
		APIKeyMasked:           masked[string(cfg.Provider)],
		APIKeyMaskedByProvider: masked,
		UpdatedAt:              cfg.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (s *tenantLLMConfigService) GetConfig(ctx context.Context, tenantID string) (*LLMConfigView, error) {
	cfg, err := s.repo.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		// Unconfigured tenants see the defaults with status 0.
		return &LLMConfigView{
			TenantID:               tenantID,
			Provider:               DefaultLLMProvider,
			Model:                  DefaultLLMModel,
			TimeoutMS:              DefaultLLMTimeoutMS,
			EnableThinking:         true,
			ExtraJSON:              map[string]any{},
			Status:                 0,
			APIKeyMaskedByProvider: map[string]string{},
		}, nil
	}
	return s.view(cfg), nil
}

func (s *tenantLLMConfigService) UpsertConfig(ctx context.Context, tenantID string, input UpsertLLMConfigInput) (*LLMConfigView, error) {
	provider, err := validateProvider(input.Provider)
	if err != nil {
		return nil, err
	}
	var fallbackProvider models.LLMProvider
	if strings.TrimSpace(input.FallbackProvider) != "" {
		fallbackProvider, err = validateProvider(input.FallbackProvider)
		if err != nil {
			return nil, err
		}
	}
	model := strings.TrimSpace(input.Model)
	if model == "" {
		return nil, apperrors.Validation("model is required")
	}

	existing, err := s.repo.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	existingExtra := map[string]any{}
	keyMap := map[string]string{}
	if existing != nil {
		existingExtra = existing.ExtraJSON
		keyMap = cipherMapFromExtra(existingExtra)
	}

	// Merge extra_json: stored values first, incoming overrides, reserved
	// ciphertext map stripped from both before remerging.
	mergedExtra := sanitizeExtra(existingExtra)
	for key, value := range sanitizeExtra(input.ExtraJSON) {
		mergedExtra[key] = value
	}

	if incomingKey := strings.TrimSpace(input.APIKey); incomingKey != "" {
		ciphertext, encErr := s.cipher.Encrypt(incomingKey)
		if encErr != nil {
			return nil, apperrors.Internalf("encrypt api key: %v", encErr)
		}
		keyMap[string(provider)] = ciphertext
	}

	activeCipher := keyMap[string(provider)]
	if activeCipher == "" && existing != nil && existing.Provider == provider && existing.APIKeyCipher != "" {
		activeCipher = existing.APIKeyCipher
		keyMap[string(provider)] = activeCipher
	}
	if activeCipher == "" {
		return nil, apperrors.Newf(apperrors.CodeValidation, "api_key is required for provider '%s'", provider)
	}

	cipherMap := map[string]any{}
	for key, value := range keyMap {
		cipherMap[key] = value
	}
	mergedExtra[models.APIKeyCipherMapKey] = cipherMap

	timeoutMS := input.TimeoutMS
	if timeoutMS <= 0 {
		timeoutMS = DefaultLLMTimeoutMS
	}
	enableThinking := true
	if input.EnableThinking != nil {
		enableThinking = *input.EnableThinking
	}
	status := 1
	if input.Status != nil {
		status = *input.Status
	}

	stored, err := s.repo.Upsert(ctx, &models.TenantLLMConfig{
		TenantID:         tenantID,
		Provider:         provider,
		Model:            model,
		APIKeyCipher:     activeCipher,
		BaseURL:          strings.TrimSpace(input.BaseURL),
		TimeoutMS:        timeoutMS,
		EnableThinking:   enableThinking,
		FallbackProvider: fallbackProvider,
		FallbackModel:    strings.TrimSpace(input.FallbackModel),
		ExtraJSON:        mergedExtra,
		Status:           status,
	})
	if err != nil {
		return nil, err
	}
	return s.view(stored), nil
}

func (s *tenantLLMConfigService) runtime(ctx context.Context, tenantID string) (models.LLMRuntimeConfig, error) {
	cfg, err := s.repo.Get(ctx, tenantID)
	if err != nil {
		return models.LLMRuntimeConfig{}, err
	}
	if cfg == nil {
		return models.LLMRuntimeConfig{}, apperrors.NotFound("tenant llm config not found")
	}
	return models.LLMRuntimeConfig{
		Provider:         cfg.Provider,
		Model:            cfg.Model,
		APIKey:           s.resolveProviderKey(cfg, cfg.Provider),
		BaseURL:          cfg.BaseURL,
		TimeoutMS:        cfg.TimeoutMS,
		EnableThinking:   cfg.EnableThinking,
		ExtraJSON:        sanitizeExtra(cfg.ExtraJSON),
		FallbackProvider: cfg.FallbackProvider,
		FallbackModel:    cfg.FallbackModel,
		FallbackAPIKey:   s.resolveProviderKey(cfg, cfg.FallbackProvider),
	}, statusError(cfg.Status)
}

func statusError(status int) error {
	if status != 1 {
		return apperrors.Validation("tenant llm config disabled")
	}
	return nil
}

func (s *tenantLLMConfigService) RuntimeConfig(ctx context.Context, tenantID string) (models.LLMRuntimeConfig, error) {
	cfg, err := s.runtime(ctx, tenantID)
	if err != nil {
		return models.LLMRuntimeConfig{}, err
	}
	// The fallback route reuses the primary key when no fallback-specific
	// key was ever stored.
	if cfg.HasFallback() && cfg.FallbackAPIKey == "" {
		cfg.FallbackAPIKey = cfg.APIKey
	}
	return cfg, nil
}

func (s *tenantLLMConfigService) Verify(ctx context.Context, tenantID string, input VerifyLLMConfigInput) (llm.VerifyResult, error) {
	stored, err := s.repo.Get(ctx, tenantID)
	if err != nil {
		return llm.VerifyResult{}, err
	}
	if stored == nil {
		return llm.VerifyResult{}, apperrors.NotFound("tenant llm config not found")
	}

	providerInput := input.Provider
	if strings.TrimSpace(providerInput) == "" {
		providerInput = string(stored.Provider)
	}
	provider, err := validateProvider(providerInput)
	if err != nil {
		return llm.VerifyResult{}, err
	}

	model := strings.TrimSpace(input.Model)
	if model == "" {
		model = stored.Model
	}
	apiKey := strings.TrimSpace(input.APIKey)
	if apiKey == "" {
		apiKey = s.resolveProviderKey(stored, provider)
	}
	if apiKey == "" {
		return llm.VerifyResult{}, apperrors.Newf(apperrors.CodeValidation, "api_key is required for provider '%s'", provider)
	}

	baseURL := stored.BaseURL
	if input.BaseURL != nil {
		baseURL = *input.BaseURL
	}
	timeoutMS := input.TimeoutMS
	if timeoutMS <= 0 {
		timeoutMS = stored.TimeoutMS
	}
	extra := sanitizeExtra(stored.ExtraJSON)
	for key, value := range input.ExtraJSON {
		extra[key] = value
	}

	return s.invoker.Verify(ctx, models.LLMRuntimeConfig{
		Provider:  provider,
		Model:     model,
		APIKey:    apiKey,
		BaseURL:   baseURL,
		TimeoutMS: timeoutMS,
		ExtraJSON: extra,
	}), nil
}
