// Package embedding provides query/document embeddings with a deterministic
// fallback so retrieval never fails on a missing embedding service.
package embedding

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultDimension matches the catalog's stored embedding width.
const DefaultDimension = 16

// Provider embeds texts via a remote batch endpoint when configured, and
// degrades to a deterministic hash-based vector on any failure.
type Provider struct {
	endpoint   string
	dimension  int
	httpClient *http.Client
	logger     *zap.Logger
}

// Config for the provider. Endpoint may be empty to run fallback-only.
type Config struct {
	Endpoint  string
	Dimension int
	Timeout   time.Duration
}

// NewProvider creates a provider. A nil logger disables logging.
func NewProvider(cfg Config, logger *zap.Logger) *Provider {
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		endpoint:   strings.TrimSuffix(cfg.Endpoint, "/"),
		dimension:  cfg.Dimension,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named("embedding"),
	}
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// EmbedBatch embeds a batch of texts. It never returns an error: remote
// failures fall back to the deterministic hash embedding per text.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) [][]float64 {
	if len(texts) == 0 {
		return nil
	}
	if p.endpoint != "" {
		if vectors, err := p.remoteEmbed(ctx, texts); err == nil {
			return vectors
		} else {
			p.logger.Debug("remote embedding failed, using fallback", zap.Error(err))
		}
	}
	out := make([][]float64, len(texts))
	for i, text := range texts {
		out[i] = FallbackEmbed(text, p.dimension)
	}
	return out
}

// Embed embeds a single text. Satisfies retrieval.Embedder.
func (p *Provider) Embed(text string) []float64 {
	return p.EmbedBatch(context.Background(), []string{text})[0]
}

func (p *Provider) remoteEmbed(ctx context.Context, texts []string) ([][]float64, error) {
	body, err := json.Marshal(embedRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call embedding service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("embedding service returned %d", resp.StatusCode)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(parsed.Embeddings), len(texts))
	}
	return parsed.Embeddings, nil
}

// FallbackEmbed maps the SHA-256 digest of text to floats in [0,1] and
// L2-normalizes to the requested dimension. Deterministic by construction.
func FallbackEmbed(text string, dimension int) []float64 {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	digest := sha256.Sum256([]byte(text))
	values := make([]float64, dimension)
	var norm float64
	for i := 0; i < dimension; i++ {
		v := float64(digest[i%len(digest)]) / 255.0
		values[i] = v
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		norm = 1
	}
	for i := range values {
		values[i] /= norm
	}
	return values
}
