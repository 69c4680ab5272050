// Package cohere implements llm.RerankProvider over the Cohere Rerank API.
// It is the only variant the gateway ships for the rerank role — grounded
// on the teacher's vendored goagent retrieval.CohereReranker, which wraps
// the same github.com/cohere-ai/cohere-go/v2 client.
package cohere

import (
	"context"
	"fmt"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"

	"github.com/kart-io/memoryd/pkg/llm"
)

// ProviderName is the Cohere rerank provider's name identifier.
const ProviderName = "cohere"

// Config holds Cohere rerank provider configuration.
type Config struct {
	// APIKey is the Cohere API key.
	APIKey string `json:"api_key" mapstructure:"api_key"`

	// Model is the rerank model, e.g. "rerank-english-v3.0".
	Model string `json:"model" mapstructure:"model"`
}

// DefaultConfig returns sane Cohere rerank defaults.
func DefaultConfig() *Config {
	return &Config{Model: "rerank-english-v3.0"}
}

// Provider implements llm.RerankProvider over the Cohere client.
type Provider struct {
	config *Config
	client *cohereclient.Client
}

// NewProviderWithConfig constructs a Cohere rerank provider from a typed
// Config. internal/gateway selects this variant via ProviderKind — there
// is no string-keyed runtime lookup.
func NewProviderWithConfig(cfg *Config) *Provider {
	if cfg.Model == "" {
		cfg.Model = "rerank-english-v3.0"
	}
	return &Provider{
		config: cfg,
		client: cohereclient.NewClient(cohereclient.WithToken(cfg.APIKey)),
	}
}

// Name returns the provider's name identifier.
func (p *Provider) Name() string {
	return ProviderName
}

// Rerank scores each doc's relevance to query, returned in the same order
// as docs (not the API's relevance-sorted order), so callers can zip
// scores back onto their own candidate slice.
func (p *Provider) Rerank(ctx context.Context, query string, docs []string) ([]float32, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	items := make([]*cohere.RerankRequestDocumentsItem, len(docs))
	for i, d := range docs {
		items[i] = &cohere.RerankRequestDocumentsItem{String: d}
	}

	topN := len(docs)
	resp, err := p.client.Rerank(ctx, &cohere.RerankRequest{
		Query:     query,
		Documents: items,
		Model:     &p.config.Model,
		TopN:      &topN,
	})
	if err != nil {
		return nil, fmt.Errorf("cohere rerank: %w", err)
	}

	scores := make([]float32, len(docs))
	for _, result := range resp.Results {
		if result.Index >= 0 && result.Index < len(docs) {
			scores[result.Index] = float32(result.RelevanceScore)
		}
	}
	return scores, nil
}

var _ llm.RerankProvider = (*Provider)(nil)
