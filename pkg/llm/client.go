// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fitcoach-go/internal/config"
	"fitcoach-go/pkg/log"
	"fitcoach-go/pkg/metrics"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Client defines the interface for an LLM client.
type Client interface {
	// Generate 以单条 user 消息调用生成接口，返回完整文本。
	Generate(ctx context.Context, prompt string, gen *GenerationParams) (string, error)
	// GenerateMessages 以 role-based 消息调用生成接口。
	GenerateMessages(ctx context.Context, messages []Message, gen *GenerationParams) (string, error)
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams 控制生成行为，nil 字段回退到配置值。
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

type openAICompatibleClient struct {
	cfg     config.LLMConfig
	client  openai.Client
	metrics *metrics.Metrics
}

// NewClient creates a new LLM client for any OpenAI-compatible chat completion API.
func NewClient(cfg config.LLMConfig, m *metrics.Metrics, opts ...option.RequestOption) Client {
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

func (c *openAICompatibleClient) Generate(ctx context.Context, prompt string, gen *GenerationParams) (string, error) {
	return c.GenerateMessages(ctx, []Message{{Role: "user", Content: prompt}}, gen)
}

func (c *openAICompatibleClient) GenerateMessages(ctx context.Context, messages []Message, gen *GenerationParams) (string, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	params := openai.ChatCompletionNewParams{
		Model:    c.cfg.Model,
		Messages: toOpenAIMessages(messages),
	}
	c.applyGeneration(&params, gen)

	start := time.Now()
	completion, err := c.client.Chat.Completions.New(ctx, params)
	c.metrics.ObserveBackend("llm", start, err)
	if err != nil {
		log.Errorf("[LLMClient] 调用生成接口失败, model: %s, error: %v", c.cfg.Model, err)
		return "", fmt.Errorf("failed to call chat api: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("chat api returned no choices")
	}
	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("chat api returned empty content")
	}
	log.Infof("[LLMClient] 生成完成, model: %s, 耗时: %s, 长度: %d", c.cfg.Model, time.Since(start), len(content))
	return content, nil
}

// applyGeneration 注入生成参数：传参优先，其次使用配置中的非零值。
func (c *openAICompatibleClient) applyGeneration(params *openai.ChatCompletionNewParams, gen *GenerationParams) {
	temperature := c.cfg.Generation.Temperature
	topP := c.cfg.Generation.TopP
	maxTokens := c.cfg.Generation.MaxTokens
	if gen != nil {
		if gen.Temperature != nil {
			temperature = *gen.Temperature
		}
		if gen.TopP != nil {
			topP = *gen.TopP
		}
		if gen.MaxTokens != nil {
			maxTokens = *gen.MaxTokens
		}
	}
	if temperature != 0 {
		params.Temperature = openai.Float(temperature)
	}
	if topP != 0 {
		params.TopP = openai.Float(topP)
	}
	if maxTokens != 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
