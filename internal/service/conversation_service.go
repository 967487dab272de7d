// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"time"

	"fitcoach-go/internal/model"
	"fitcoach-go/internal/repository"
	"fitcoach-go/pkg/log"
	"fitcoach-go/pkg/metrics"

	"github.com/google/uuid"
)

// DefaultHistoryLimit 是未指定条数时读取的历史消息数。
const DefaultHistoryLimit = 20

// ConversationService 定义了对话业务逻辑的接口。
type ConversationService interface {
	// Append 写入一条消息并返回它。写入失败只记录日志，不影响调用方。
	Append(ctx context.Context, scopeKey, role, content string, topic model.Topic, metadata map[string]interface{}) model.ConversationMessage
	LoadRecent(ctx context.Context, scopeKey string, limit int) ([]model.ConversationMessage, error)
}

type conversationService struct {
	repo    repository.ConversationRepository
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewConversationService 创建一个新的 ConversationService。
func NewConversationService(repo repository.ConversationRepository, m *metrics.Metrics) ConversationService {
	return &conversationService{repo: repo, metrics: m, now: time.Now}
}

func (s *conversationService) Append(ctx context.Context, scopeKey, role, content string, topic model.Topic, metadata map[string]interface{}) model.ConversationMessage {
	msg := model.ConversationMessage{
		ID:        uuid.NewString(),
		ScopeKey:  scopeKey,
		Role:      role,
		Content:   content,
		Topic:     topic,
		Metadata:  metadata,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.Append(ctx, msg); err != nil {
		s.metrics.ObserveStoreError("conversation")
		log.Errorf("[ConversationService] 保存消息失败, scope: %s, role: %s, error: %v", scopeKey, role, err)
	}
	return msg
}

// LoadRecent 获取范围内最近的消息，按时间从旧到新排列。
func (s *conversationService) LoadRecent(ctx context.Context, scopeKey string, limit int) ([]model.ConversationMessage, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.repo.LoadRecent(ctx, scopeKey, limit)
}
