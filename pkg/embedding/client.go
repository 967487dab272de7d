// Package embedding provides a client for interacting with embedding models.
package embedding

import (
	"context"
	"fmt"
	"time"

	"fitcoach-go/internal/config"
	"fitcoach-go/pkg/log"
	"fitcoach-go/pkg/metrics"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Client defines the interface for an embedding client.
type Client interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
}

type openAICompatibleClient struct {
	cfg     config.EmbeddingConfig
	client  openai.Client
	metrics *metrics.Metrics
}

// NewClient creates a new embedding client for any OpenAI-compatible embeddings API.
func NewClient(cfg config.EmbeddingConfig, m *metrics.Metrics, opts ...option.RequestOption) Client {
	base := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		base = append(base, option.WithBaseURL(cfg.BaseURL))
	}
	return &openAICompatibleClient{
		cfg:     cfg,
		client:  openai.NewClient(append(base, opts...)...),
		metrics: m,
	}
}

// CreateEmbedding calls the embeddings API to get the vector for a given text.
func (c *openAICompatibleClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	log.Debugf("[EmbeddingClient] 开始调用 Embedding API, model: %s, input_len: %d", c.cfg.Model, len(text))
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: c.cfg.Model,
	}
	if c.cfg.Dimensions > 0 {
		params.Dimensions = openai.Int(int64(c.cfg.Dimensions))
	}

	start := time.Now()
	resp, err := c.client.Embeddings.New(ctx, params)
	c.metrics.ObserveBackend("embedding", start, err)
	if err != nil {
		log.Errorf("[EmbeddingClient] 调用 Embedding API 失败, error: %v", err)
		return nil, fmt.Errorf("failed to call embedding api: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		log.Warnf("[EmbeddingClient] Embedding API 返回了空的向量数据")
		return nil, fmt.Errorf("received empty embedding from api")
	}

	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	log.Debugf("[EmbeddingClient] 成功从 Embedding API 获取向量, 维度: %d", len(vec))
	return vec, nil
}
