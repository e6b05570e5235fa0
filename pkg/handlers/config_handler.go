package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/theworld-inc/theworld-engine/pkg/apperrors"
	"github.com/theworld-inc/theworld-engine/pkg/auth"
	"github.com/theworld-inc/theworld-engine/pkg/services"
)

// ConfigHandler serves the tenant LLM routing config and the system
// observability config. API keys never leave the service unmasked.
type ConfigHandler struct {
	llmConfigs    services.TenantLLMConfigService
	observability services.ObservabilityConfigService
	logger        *zap.Logger
}

// NewConfigHandler creates a new config handler.
func NewConfigHandler(
	llmConfigs services.TenantLLMConfigService,
	observability services.ObservabilityConfigService,
	logger *zap.Logger,
) *ConfigHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfigHandler{
		llmConfigs:    llmConfigs,
		observability: observability,
		logger:        logger.Named("config_handler"),
	}
}

// RegisterRoutes registers the config routes on the given mux.
func (h *ConfigHandler) RegisterRoutes(mux *http.ServeMux, wrap func(http.HandlerFunc) http.Handler) {
	mux.Handle("GET /api/v1/config/llm", wrap(h.GetLLM))
	mux.Handle("PUT /api/v1/config/llm", wrap(h.PutLLM))
	mux.Handle("POST /api/v1/config/llm/verify", wrap(h.VerifyLLM))
	mux.Handle("GET /api/v1/config/observability", wrap(h.GetObservability))
	mux.Handle("PUT /api/v1/config/observability", wrap(h.PutObservability))
}

func tenantFrom(r *http.Request) (string, error) {
	tenantID, ok := auth.GetTenantID(r.Context())
	if !ok {
		return "", apperrors.Internal("missing tenant context")
	}
	return tenantID, nil
}

// GetLLM handles GET /api/v1/config/llm
func (h *ConfigHandler) GetLLM(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	view, err := h.llmConfigs.GetConfig(r.Context(), tenantID)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if err := WriteData(w, r, view); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// PutLLM handles PUT /api/v1/config/llm
func (h *ConfigHandler) PutLLM(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	var req services.UpsertLLMConfigInput
	if err := DecodeBody(r, &req); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	view, err := h.llmConfigs.UpsertConfig(r.Context(), tenantID, req)
	if err != nil {
		h.logger.Warn("llm config upsert rejected",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		WriteError(w, r, err, h.logger)
		return
	}
	if err := WriteData(w, r, view); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// VerifyLLM handles POST /api/v1/config/llm/verify
//
// An empty body verifies the stored config; a populated body verifies the
// submitted candidate before it is saved.
func (h *ConfigHandler) VerifyLLM(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	var req services.VerifyLLMConfigInput
	if err := DecodeBody(r, &req); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	result, err := h.llmConfigs.Verify(r.Context(), tenantID, req)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if err := WriteData(w, r, result); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// GetObservability handles GET /api/v1/config/observability
func (h *ConfigHandler) GetObservability(w http.ResponseWriter, r *http.Request) {
	view, err := h.observability.GetConfig(r.Context())
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if err := WriteData(w, r, view); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// PutObservability handles PUT /api/v1/config/observability
func (h *ConfigHandler) PutObservability(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := DecodeBody(r, &payload); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if len(payload) == 0 {
		WriteError(w, r, apperrors.Validation("config payload is required"), h.logger)
		return
	}

	view, err := h.observability.UpsertConfig(r.Context(), payload)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if err := WriteData(w, r, view); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}
