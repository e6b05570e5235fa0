package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MinPayloadChars is the floor for the forwarded-payload byte budget.
const MinPayloadChars = 2000

// ObservabilityConfig selects and authenticates the external sink. It lives
// in system runtime config so operators can change it without a restart.
type ObservabilityConfig struct {
	Enabled              bool   `json:"enabled"`
	PublicKey            string `json:"public_key"`
	SecretKey            string `json:"secret_key"`
	Host                 string `json:"host"`
	Environment          string `json:"environment"`
	Release              string `json:"release"`
	AuditPayloadMaxChars int    `json:"audit_payload_max_chars"`
}

func (c ObservabilityConfig) fingerprint() string {
	return fmt.Sprintf("%t|%s|%s|%s|%s|%s",
		c.Enabled, c.PublicKey, c.SecretKey, c.Host, c.Environment, c.Release)
}

func (c ObservabilityConfig) usable() bool {
	return c.Enabled && c.PublicKey != "" && c.SecretKey != "" && c.Host != ""
}

// ConfigProvider returns the current observability config. Errors disable
// forwarding until the next emit.
type ConfigProvider func(ctx context.Context) (ObservabilityConfig, error)

// ForwardedEvent is the external-sink view of one audit event.
type ForwardedEvent struct {
	TenantID  string
	SessionID string
	TraceID   string
	Step      string
	EventType string
	Payload   map[string]any
}

// LangfuseForwarder posts audit events to a Langfuse-compatible ingestion
// endpoint. The HTTP client is rebuilt lazily, behind one lock, whenever the
// config fingerprint changes; every error is swallowed.
type LangfuseForwarder struct {
	provider   ConfigProvider
	httpClient *http.Client
	logger     *zap.Logger

	mu          sync.Mutex
	fingerprint string
	current     ObservabilityConfig
	disabled    bool
}

// NewLangfuseForwarder creates a forwarder reading config from provider.
func NewLangfuseForwarder(provider ConfigProvider, logger *zap.Logger) *LangfuseForwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LangfuseForwarder{
		provider:   provider,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     logger.Named("langfuse"),
	}
}

func (f *LangfuseForwarder) ensureClient(ctx context.Context) (ObservabilityConfig, bool) {
	cfg, err := f.provider(ctx)
	if err != nil {
		f.logger.Debug("observability config unavailable", zap.Error(err))
		return ObservabilityConfig{}, false
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if fp := cfg.fingerprint(); fp != f.fingerprint {
		f.fingerprint = fp
		f.current = cfg
		f.disabled = !cfg.usable()
	}
	return f.current, !f.disabled
}

// Forward sends one event. Best-effort: any failure is logged at debug and
// dropped so the engine never stalls on observability.
func (f *LangfuseForwarder) Forward(ctx context.Context, event ForwardedEvent) {
	cfg, ok := f.ensureClient(ctx)
	if !ok {
		return
	}

	traceID := strings.TrimSpace(event.TraceID)
	if traceID == "" {
		traceID = "trace_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	body := ingestionBatch{
		Batch: []ingestionItem{
			{
				ID:        uuid.NewString(),
				Type:      "event-create",
				Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
				Body: map[string]any{
					"id":        uuid.NewString(),
					"traceId":   traceID,
					"name":      "theworld." + event.EventType,
					"sessionId": event.SessionID,
					"userId":    event.TenantID,
					"metadata": map[string]any{
						"step":       event.Step,
						"event_type": event.EventType,
						"payload":    trimPayload(event.Payload, cfg.AuditPayloadMaxChars),
					},
					"environment": cfg.Environment,
				},
			},
		},
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(cfg.Host, "/")+"/api/public/ingestion", bytes.NewReader(encoded))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(cfg.PublicKey, cfg.SecretKey)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.logger.Debug("forward failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		f.logger.Debug("forward rejected", zap.Int("status", resp.StatusCode))
	}
}

type ingestionBatch struct {
	Batch []ingestionItem `json:"batch"`
}

type ingestionItem struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	Body      map[string]any `json:"body"`
}

// trimPayload caps the serialized payload at maxChars, replacing oversized
// payloads with a truncated preview.
func trimPayload(payload map[string]any, maxChars int) map[string]any {
	if maxChars < MinPayloadChars {
		maxChars = MinPayloadChars
	}
	if payload == nil {
		return map[string]any{}
	}
	text, err := json.Marshal(payload)
	if err != nil {
		return map[string]any{"truncated": true, "error": "unserializable payload"}
	}
	if len(text) <= maxChars {
		return payload
	}
	return map[string]any{
		"truncated": true,
		"size":      len(text),
		"preview":   string(text[:maxChars]),
	}
}
