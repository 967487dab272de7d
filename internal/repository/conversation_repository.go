// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fitcoach-go/internal/model"
	"fitcoach-go/pkg/log"

	"github.com/go-redis/redis/v8"
)

const (
	// 每个会话范围在 Redis 中最多保留的消息条数
	conversationKeep = 200
	conversationTTL  = 30 * 24 * time.Hour
)

// ConversationRepository 定义了对话消息日志的操作接口。
type ConversationRepository interface {
	Append(ctx context.Context, msg model.ConversationMessage) error
	// LoadRecent 返回最近 limit 条消息，按时间从旧到新排列。
	LoadRecent(ctx context.Context, scopeKey string, limit int) ([]model.ConversationMessage, error)
}

type redisConversationRepository struct {
	redisClient *redis.Client
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(redisClient *redis.Client) ConversationRepository {
	return &redisConversationRepository{redisClient: redisClient}
}

func conversationKey(scopeKey string) string {
	return "conversation:" + scopeKey
}

// Append 将消息追加到范围对应的列表尾部，并裁剪到保留窗口。
func (r *redisConversationRepository) Append(ctx context.Context, msg model.ConversationMessage) error {
	if msg.ScopeKey == "" {
		return fmt.Errorf("conversation message has empty scope key")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation message: %w", err)
	}
	key := conversationKey(msg.ScopeKey)
	_, err = r.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, -conversationKeep, -1)
		pipe.Expire(ctx, key, conversationTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append conversation message: %w", err)
	}
	return nil
}

// LoadRecent 从 Redis 列表尾部读取最近的消息。
func (r *redisConversationRepository) LoadRecent(ctx context.Context, scopeKey string, limit int) ([]model.ConversationMessage, error) {
	if limit <= 0 {
		return []model.ConversationMessage{}, nil
	}
	raw, err := r.redisClient.LRange(ctx, conversationKey(scopeKey), int64(-limit), -1).Result()
	if err == redis.Nil {
		return []model.ConversationMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation history: %w", err)
	}
	messages := make([]model.ConversationMessage, 0, len(raw))
	for _, item := range raw {
		var m model.ConversationMessage
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			log.Warnf("[ConversationRepo] 跳过无法解析的消息, scope: %s, error: %v", scopeKey, err)
			continue
		}
		messages = append(messages, m)
	}
	return messages, nil
}
