// Package pipeline 定义了对话轮次的异步归档流程。
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"fitcoach-go/internal/model"
	"fitcoach-go/internal/repository"
	"fitcoach-go/pkg/log"
	"fitcoach-go/pkg/tasks"

	"gorm.io/datatypes"
)

// Processor 消费 Kafka 中的轮次事件并写入 MySQL 归档表。
type Processor struct {
	archiveRepo repository.TurnArchiveRepository
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(archiveRepo repository.TurnArchiveRepository) *Processor {
	return &Processor{archiveRepo: archiveRepo}
}

// turnMetadata 是归档记录中 metadata 列的内容。
type turnMetadata struct {
	IsSafe    bool `json:"isSafe"`
	Retention bool `json:"retention"`
}

// Process 是归档的主函数。返回错误时消费者会按重试策略重新投递。
func (p *Processor) Process(ctx context.Context, event tasks.TurnEvent) error {
	if event.TurnID == "" || event.ScopeKey == "" {
		// 缺少主键的事件无法归档，也不值得重试
		log.Warnf("[Processor] 跳过不完整的轮次事件, TurnID: %q, ScopeKey: %q", event.TurnID, event.ScopeKey)
		return nil
	}
	log.Debugf("[Processor] 开始归档轮次, TurnID: %s, ScopeKey: %s, Topic: %s", event.TurnID, event.ScopeKey, event.Topic)

	meta, err := json.Marshal(turnMetadata{IsSafe: event.IsSafe, Retention: event.Retention})
	if err != nil {
		return fmt.Errorf("failed to marshal turn metadata: %w", err)
	}

	turn := &model.ConversationTurn{
		TurnID:         event.TurnID,
		ScopeKey:       event.ScopeKey,
		UserID:         event.UserID,
		Question:       event.Question,
		Answer:         event.Answer,
		Topic:          event.Topic,
		EmotionalState: event.EmotionalState,
		ChurnLevel:     event.ChurnLevel,
		Metadata:       datatypes.JSON(meta),
		CreatedAt:      event.CreatedAt,
	}
	if err := p.archiveRepo.Create(ctx, turn); err != nil {
		return err
	}

	log.Infof("[Processor] 轮次归档完成, TurnID: %s", event.TurnID)
	return nil
}
