package repository

import (
	"context"
	"fmt"

	"fitcoach-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TurnArchiveRepository 将完成的一问一答归档到 MySQL。
type TurnArchiveRepository interface {
	// Create 写入一条归档记录，重复的 TurnID 会被忽略，便于消息重放。
	Create(ctx context.Context, turn *model.ConversationTurn) error
	FindByScope(ctx context.Context, scopeKey string, limit int) ([]model.ConversationTurn, error)
}

type turnArchiveRepository struct {
	db *gorm.DB
}

// NewTurnArchiveRepository 创建一个新的 TurnArchiveRepository 实例。
func NewTurnArchiveRepository(db *gorm.DB) TurnArchiveRepository {
	return &turnArchiveRepository{db: db}
}

func (r *turnArchiveRepository) Create(ctx context.Context, turn *model.ConversationTurn) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "turn_id"}}, DoNothing: true}).
		Create(turn).Error
	if err != nil {
		return fmt.Errorf("failed to archive turn %s: %w", turn.TurnID, err)
	}
	return nil
}

// FindByScope 按时间倒序返回某个范围最近的归档记录。
func (r *turnArchiveRepository) FindByScope(ctx context.Context, scopeKey string, limit int) ([]model.ConversationTurn, error) {
	var turns []model.ConversationTurn
	err := r.db.WithContext(ctx).
		Where("scope_key = ?", scopeKey).
		Order("created_at DESC").
		Limit(limit).
		Find(&turns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query archived turns: %w", err)
	}
	return turns, nil
}
