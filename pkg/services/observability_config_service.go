package services

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/theworld-inc/theworld-engine/pkg/repositories"
	"github.com/theworld-inc/theworld-engine/pkg/secrets"
	"github.com/theworld-inc/theworld-engine/pkg/trace"
)

// LangfuseConfigKey is the system runtime config row holding the
// observability settings.
const LangfuseConfigKey = "langfuse"

// Bounds for the forwarded audit payload budget.
const (
	defaultAuditPayloadMaxChars = 24000
	maxAuditPayloadMaxChars     = 200000
)

// ObservabilityConfigView is the API shape of the observability config. The
// secret key is masked on the way out; writes that omit it keep the stored
// value.
type ObservabilityConfigView struct {
	Enabled              bool   `json:"enabled"`
	PublicKey            string `json:"public_key"`
	SecretKey            string `json:"secret_key"`
	SecretKeyMasked      string `json:"secret_key_masked"`
	Host                 string `json:"host"`
	Environment          string `json:"environment"`
	Release              string `json:"release"`
	AuditPayloadMaxChars int    `json:"audit_payload_max_chars"`
}

// ObservabilityConfigService reads and writes the Langfuse settings stored in
// system runtime config. It also serves as the forwarder's ConfigProvider so
// updates take effect without a restart.
type ObservabilityConfigService interface {
	GetConfig(ctx context.Context) (*ObservabilityConfigView, error)
	UpsertConfig(ctx context.Context, payload map[string]any) (*ObservabilityConfigView, error)

	// Provider adapts the service into the trace-forwarder contract.
	Provider() trace.ConfigProvider
}

type observabilityConfigService struct {
	repo   repositories.RuntimeConfigRepository
	logger *zap.Logger
}

// NewObservabilityConfigService creates the observability config service.
func NewObservabilityConfigService(repo repositories.RuntimeConfigRepository, logger *zap.Logger) ObservabilityConfigService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &observabilityConfigService{repo: repo, logger: logger.Named("observability_config")}
}

var _ ObservabilityConfigService = (*observabilityConfigService)(nil)

func clampAuditChars(value int) int {
	if value <= 0 {
		value = defaultAuditPayloadMaxChars
	}
	if value < trace.MinPayloadChars {
		value = trace.MinPayloadChars
	}
	if value > maxAuditPayloadMaxChars {
		value = maxAuditPayloadMaxChars
	}
	return value
}

func sanitizeObservability(payload map[string]any) trace.ObservabilityConfig {
	cfg := trace.ObservabilityConfig{}
	if enabled, ok := payload["enabled"].(bool); ok {
		cfg.Enabled = enabled
	}
	cfg.PublicKey = trimmedString(payload["public_key"])
	cfg.SecretKey = trimmedString(payload["secret_key"])
	cfg.Host = trimmedString(payload["host"])
	cfg.Environment = trimmedString(payload["environment"])
	cfg.Release = trimmedString(payload["release"])
	cfg.AuditPayloadMaxChars = clampAuditChars(intValue(payload["audit_payload_max_chars"]))
	return cfg
}

func trimmedString(value any) string {
	text, _ := value.(string)
	return strings.TrimSpace(text)
}

func intValue(value any) int {
	switch v := value.(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func (s *observabilityConfigService) stored(ctx context.Context) (trace.ObservabilityConfig, error) {
	row, err := s.repo.GetSystem(ctx, LangfuseConfigKey)
	if err != nil {
		return trace.ObservabilityConfig{}, err
	}
	if row == nil {
		return trace.ObservabilityConfig{AuditPayloadMaxChars: defaultAuditPayloadMaxChars}, nil
	}
	return sanitizeObservability(row.Config), nil
}

func viewOf(cfg trace.ObservabilityConfig) *ObservabilityConfigView {
	return &ObservabilityConfigView{
		Enabled:              cfg.Enabled,
		PublicKey:            cfg.PublicKey,
		SecretKey:            "",
		SecretKeyMasked:      secrets.MaskSecret(cfg.SecretKey),
		Host:                 cfg.Host,
		Environment:          cfg.Environment,
		Release:              cfg.Release,
		AuditPayloadMaxChars: cfg.AuditPayloadMaxChars,
	}
}

func (s *observabilityConfigService) GetConfig(ctx context.Context) (*ObservabilityConfigView, error) {
	cfg, err := s.stored(ctx)
	if err != nil {
		return nil, err
	}
	return viewOf(cfg), nil
}

func (s *observabilityConfigService) UpsertConfig(ctx context.Context, payload map[string]any) (*ObservabilityConfigView, error) {
	current, err := s.stored(ctx)
	if err != nil {
		return nil, err
	}

	merged := map[string]any{
		"enabled":                 current.Enabled,
		"public_key":              current.PublicKey,
		"secret_key":              current.SecretKey,
		"host":                    current.Host,
		"environment":             current.Environment,
		"release":                 current.Release,
		"audit_payload_max_chars": current.AuditPayloadMaxChars,
	}
	for key, value := range payload {
		merged[key] = value
	}
	// A blank secret_key in the payload means "keep the stored one".
	if raw, present := payload["secret_key"]; present && trimmedString(raw) == "" {
		merged["secret_key"] = current.SecretKey
	}

	sanitized := sanitizeObservability(merged)
	if _, err := s.repo.UpsertSystem(ctx, LangfuseConfigKey, map[string]any{
		"enabled":                 sanitized.Enabled,
		"public_key":              sanitized.PublicKey,
		"secret_key":              sanitized.SecretKey,
		"host":                    sanitized.Host,
		"environment":             sanitized.Environment,
		"release":                 sanitized.Release,
		"audit_payload_max_chars": sanitized.AuditPayloadMaxChars,
	}); err != nil {
		return nil, err
	}
	return viewOf(sanitized), nil
}

func (s *observabilityConfigService) Provider() trace.ConfigProvider {
	return func(ctx context.Context) (trace.ObservabilityConfig, error) {
		return s.stored(ctx)
	}
}
