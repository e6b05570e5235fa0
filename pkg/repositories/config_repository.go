package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/theworld-inc/theworld-engine/pkg/models"
)

// LLMConfigRepository stores per-tenant LLM provider configuration.
type LLMConfigRepository interface {
	Get(ctx context.Context, tenantID string) (*models.TenantLLMConfig, error)
	Upsert(ctx context.Context, config *models.TenantLLMConfig) (*models.TenantLLMConfig, error)
}

type llmConfigRepository struct{}

// NewLLMConfigRepository creates a new tenant LLM config repository.
func NewLLMConfigRepository() LLMConfigRepository {
	return &llmConfigRepository{}
}

var _ LLMConfigRepository = (*llmConfigRepository)(nil)

func (r *llmConfigRepository) Get(ctx context.Context, tenantID string) (*models.TenantLLMConfig, error) {
	scope, err := scopeConn(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT tenant_id, provider, model, api_key_cipher, COALESCE(base_url, ''),
		       timeout_ms, enable_thinking, COALESCE(fallback_provider, ''),
		       COALESCE(fallback_model, ''), extra_json, status, created_at, updated_at
		FROM tenant_llm_config
		WHERE tenant_id = $1`
	var config models.TenantLLMConfig
	err = scope.Conn.QueryRow(ctx, query, tenantID).Scan(
		&config.TenantID, &config.Provider, &config.Model, &config.APIKeyCipher,
		&config.BaseURL, &config.TimeoutMS, &config.EnableThinking,
		&config.FallbackProvider, &config.FallbackModel, &config.ExtraJSON,
		&config.Status, &config.CreatedAt, &config.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query tenant llm config: %w", err)
	}
	return &config, nil
}

func (r *llmConfigRepository) Upsert(ctx context.Context, config *models.TenantLLMConfig) (*models.TenantLLMConfig, error) {
	scope, err := scopeConn(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO tenant_llm_config
			(tenant_id, provider, model, api_key_cipher, base_url, timeout_ms,
			 enable_thinking, fallback_provider, fallback_model, extra_json, status)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10, $11)
		ON CONFLICT (tenant_id) DO UPDATE SET
			provider = EXCLUDED.provider,
			model = EXCLUDED.model,
			api_key_cipher = EXCLUDED.api_key_cipher,
			base_url = EXCLUDED.base_url,
			timeout_ms = EXCLUDED.timeout_ms,
			enable_thinking = EXCLUDED.enable_thinking,
			fallback_provider = EXCLUDED.fallback_provider,
			fallback_model = EXCLUDED.fallback_model,
			extra_json = EXCLUDED.extra_json,
			status = EXCLUDED.status,
			updated_at = NOW()
		RETURNING created_at, updated_at`
	err = scope.Conn.QueryRow(ctx, query,
		config.TenantID, config.Provider, config.Model, config.APIKeyCipher,
		config.BaseURL, config.TimeoutMS, config.EnableThinking,
		string(config.FallbackProvider), config.FallbackModel, config.ExtraJSON, config.Status).
		Scan(&config.CreatedAt, &config.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert tenant llm config: %w", err)
	}
	return config, nil
}

// RuntimeConfigRepository stores free-form runtime configuration documents,
// both per-tenant and system-wide (observability settings).
type RuntimeConfigRepository interface {
	GetTenant(ctx context.Context, tenantID string) (*models.TenantRuntimeConfig, error)
	UpsertTenant(ctx context.Context, tenantID string, config map[string]any) (*models.TenantRuntimeConfig, error)
	GetSystem(ctx context.Context, configKey string) (*models.SystemRuntimeConfig, error)
	UpsertSystem(ctx context.Context, configKey string, config map[string]any) (*models.SystemRuntimeConfig, error)
}

type runtimeConfigRepository struct{}

// NewRuntimeConfigRepository creates a new runtime config repository.
func NewRuntimeConfigRepository() RuntimeConfigRepository {
	return &runtimeConfigRepository{}
}

var _ RuntimeConfigRepository = (*runtimeConfigRepository)(nil)

func (r *runtimeConfigRepository) GetTenant(ctx context.Context, tenantID string) (*models.TenantRuntimeConfig, error) {
	scope, err := scopeConn(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT tenant_id, config_json, updated_at FROM tenant_runtime_config WHERE tenant_id = $1`
	var config models.TenantRuntimeConfig
	err = scope.Conn.QueryRow(ctx, query, tenantID).Scan(&config.TenantID, &config.Config, &config.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query tenant runtime config: %w", err)
	}
	return &config, nil
}

func (r *runtimeConfigRepository) UpsertTenant(ctx context.Context, tenantID string, config map[string]any) (*models.TenantRuntimeConfig, error) {
	scope, err := scopeConn(ctx)
	if err != nil {
		return nil, err
	}

	if config == nil {
		config = map[string]any{}
	}
	out := &models.TenantRuntimeConfig{TenantID: tenantID, Config: config}
	query := `
		INSERT INTO tenant_runtime_config (tenant_id, config_json)
		VALUES ($1, $2)
		ON CONFLICT (tenant_id) DO UPDATE SET config_json = EXCLUDED.config_json, updated_at = NOW()
		RETURNING updated_at`
	if err := scope.Conn.QueryRow(ctx, query, tenantID, config).Scan(&out.UpdatedAt); err != nil {
		return nil, fmt.Errorf("upsert tenant runtime config: %w", err)
	}
	return out, nil
}

func (r *runtimeConfigRepository) GetSystem(ctx context.Context, configKey string) (*models.SystemRuntimeConfig, error) {
	scope, err := scopeConn(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT config_key, config_json, updated_at FROM system_runtime_config WHERE config_key = $1`
	var config models.SystemRuntimeConfig
	err = scope.Conn.QueryRow(ctx, query, configKey).Scan(&config.ConfigKey, &config.Config, &config.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query system runtime config: %w", err)
	}
	return &config, nil
}

func (r *runtimeConfigRepository) UpsertSystem(ctx context.Context, configKey string, config map[string]any) (*models.SystemRuntimeConfig, error) {
	scope, err := scopeConn(ctx)
	if err != nil {
		return nil, err
	}

	if config == nil {
		config = map[string]any{}
	}
	out := &models.SystemRuntimeConfig{ConfigKey: configKey, Config: config}
	query := `
		INSERT INTO system_runtime_config (config_key, config_json)
		VALUES ($1, $2)
		ON CONFLICT (config_key) DO UPDATE SET config_json = EXCLUDED.config_json, updated_at = NOW()
		RETURNING updated_at`
	if err := scope.Conn.QueryRow(ctx, query, configKey, config).Scan(&out.UpdatedAt); err != nil {
		return nil, fmt.Errorf("upsert system runtime config: %w", err)
	}
	return out, nil
}

// ActiveTenantRepository records which tenants recently drove the engine.
type ActiveTenantRepository interface {
	Touch(ctx context.Context, tenantID string) error
	ListActive(ctx context.Context, limit int) ([]models.ActiveTenant, error)
}

type activeTenantRepository struct{}

// NewActiveTenantRepository creates a new active tenant repository.
func NewActiveTenantRepository() ActiveTenantRepository {
	return &activeTenantRepository{}
}

var _ ActiveTenantRepository = (*activeTenantRepository)(nil)

func (r *activeTenantRepository) Touch(ctx context.Context, tenantID string) error {
	scope, err := scopeConn(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO active_tenants (tenant_id, is_active)
		VALUES ($1, TRUE)
		ON CONFLICT (tenant_id) DO UPDATE SET is_active = TRUE, last_seen_at = NOW()`
	if _, err := scope.Conn.Exec(ctx, query, tenantID); err != nil {
		return fmt.Errorf("touch active tenant: %w", err)
	}
	return nil
}

func (r *activeTenantRepository) ListActive(ctx context.Context, limit int) ([]models.ActiveTenant, error) {
	scope, err := scopeConn(ctx)
	if err != nil {
		return nil, err
	}

	if limit < 1 {
		limit = 200
	}
	if limit > 2000 {
		limit = 2000
	}
	query := `
		SELECT id, tenant_id, is_active, first_seen_at, last_seen_at
		FROM active_tenants
		WHERE is_active
		ORDER BY last_seen_at DESC, id DESC
		LIMIT $1`
	rows, err := scope.Conn.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query active tenants: %w", err)
	}
	defer rows.Close()

	var tenants []models.ActiveTenant
	for rows.Next() {
		var t models.ActiveTenant
		if err := rows.Scan(&t.ID, &t.TenantID, &t.IsActive, &t.FirstSeenAt, &t.LastSeenAt); err != nil {
			return nil, fmt.Errorf("scan active tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}
