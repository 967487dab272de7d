package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fitcoach-go/internal/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BehaviorMemoryRepository 接口定义了用户行为记忆的持久化操作。
type BehaviorMemoryRepository interface {
	// Load 返回用户的行为记忆，记录不存在时返回空记忆。
	Load(ctx context.Context, userID string) (model.BehaviorMemory, error)
	// Save 以 upsert 方式写入行为记忆，只覆盖记忆相关的列。
	Save(ctx context.Context, userID string, mem model.BehaviorMemory) error
}

type behaviorMemoryRepository struct {
	db *gorm.DB
}

// NewBehaviorMemoryRepository 创建一个新的 BehaviorMemoryRepository 实例。
func NewBehaviorMemoryRepository(db *gorm.DB) BehaviorMemoryRepository {
	return &behaviorMemoryRepository{db: db}
}

func (r *behaviorMemoryRepository) Load(ctx context.Context, userID string) (model.BehaviorMemory, error) {
	var rec model.BehaviorMemoryRecord
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.BehaviorMemory{}, nil
	}
	if err != nil {
		return model.BehaviorMemory{}, fmt.Errorf("failed to load behavior memory: %w", err)
	}
	return recordToMemory(rec)
}

func (r *behaviorMemoryRepository) Save(ctx context.Context, userID string, mem model.BehaviorMemory) error {
	rec, err := memoryToRecord(userID, mem)
	if err != nil {
		return err
	}
	err = r.db.WithContext(ctx).
		Omit("extra").
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns(model.BehaviorMemoryColumns),
		}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to save behavior memory: %w", err)
	}
	return nil
}

func recordToMemory(rec model.BehaviorMemoryRecord) (model.BehaviorMemory, error) {
	mem := model.BehaviorMemory{
		PreferredTime: rec.PreferredTime,
		UpdatedAt:     rec.UpdatedAt,
		Retention: model.RetentionMarker{
			LastAt:     rec.LastRetentionAt,
			LastBand:   model.ChurnLevel(rec.LastRetentionBand),
			TurnsSince: rec.TurnsSinceRetention,
		},
	}
	fields := []struct {
		raw datatypes.JSON
		dst interface{}
	}{
		{rec.Goals, &mem.Goals},
		{rec.PainPoints, &mem.PainPoints},
		{rec.Complaints, &mem.Complaints},
		{rec.EmotionalHistory, &mem.EmotionalHistory},
		{rec.FavoriteTopics, &mem.FavoriteTopics},
	}
	for _, f := range fields {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return model.BehaviorMemory{}, fmt.Errorf("failed to decode behavior memory of %s: %w", rec.UserID, err)
		}
	}
	return mem, nil
}

func memoryToRecord(userID string, mem model.BehaviorMemory) (model.BehaviorMemoryRecord, error) {
	rec := model.BehaviorMemoryRecord{
		UserID:              userID,
		PreferredTime:       mem.PreferredTime,
		LastRetentionAt:     mem.Retention.LastAt,
		LastRetentionBand:   string(mem.Retention.LastBand),
		TurnsSinceRetention: mem.Retention.TurnsSince,
		UpdatedAt:           mem.UpdatedAt,
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	var err error
	if rec.Goals, err = encodeJSONColumn(nonNilStrings(mem.Goals)); err != nil {
		return rec, err
	}
	if rec.PainPoints, err = encodeJSONColumn(nonNilStrings(mem.PainPoints)); err != nil {
		return rec, err
	}
	if rec.Complaints, err = encodeJSONColumn(nonNilStrings(mem.Complaints)); err != nil {
		return rec, err
	}
	if rec.FavoriteTopics, err = encodeJSONColumn(nonNilStrings(mem.FavoriteTopics)); err != nil {
		return rec, err
	}
	history := mem.EmotionalHistory
	if history == nil {
		history = []model.EmotionSnapshot{}
	}
	if rec.EmotionalHistory, err = encodeJSONColumn(history); err != nil {
		return rec, err
	}
	return rec, nil
}

func encodeJSONColumn(v interface{}) (datatypes.JSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode behavior memory column: %w", err)
	}
	return datatypes.JSON(b), nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
