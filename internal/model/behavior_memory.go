package model

import (
	"time"

	"gorm.io/datatypes"
)

// 行为记忆各数组的容量上限，超出时丢弃最旧的元素。
const (
	MaxGoals            = 5
	MaxPainPoints       = 5
	MaxComplaints       = 5
	MaxFavoriteTopics   = 5
	MaxEmotionalHistory = 10
)

// EmotionSnapshot 记录某一轮识别出的情绪。
type EmotionSnapshot struct {
	State     EmotionalState `json:"state"`
	Timestamp time.Time      `json:"timestamp"`
}

// RetentionMarker 记录最近一次追加挽留话术的时间和等级，用于限流。
type RetentionMarker struct {
	LastAt   *time.Time `json:"lastAt,omitempty"`
	LastBand ChurnLevel `json:"lastBand,omitempty"`
	// TurnsSince 是上次挽留之后的助手消息条数。
	TurnsSince int `json:"turnsSince"`
}

// BehaviorMemory 是每个用户的长期行为画像，每轮对话后合并更新。
type BehaviorMemory struct {
	Goals            []string          `json:"goals"`
	PainPoints       []string          `json:"painPoints"`
	Complaints       []string          `json:"complaints"`
	EmotionalHistory []EmotionSnapshot `json:"emotionalHistory"`
	PreferredTime    string            `json:"preferredTime,omitempty"`
	FavoriteTopics   []string          `json:"favoriteTopics"`
	Retention        RetentionMarker   `json:"retention"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// Clone 返回深拷贝，避免更新时修改调用方持有的切片。
func (m BehaviorMemory) Clone() BehaviorMemory {
	out := m
	out.Goals = append([]string(nil), m.Goals...)
	out.PainPoints = append([]string(nil), m.PainPoints...)
	out.Complaints = append([]string(nil), m.Complaints...)
	out.FavoriteTopics = append([]string(nil), m.FavoriteTopics...)
	out.EmotionalHistory = append([]EmotionSnapshot(nil), m.EmotionalHistory...)
	if m.Retention.LastAt != nil {
		t := *m.Retention.LastAt
		out.Retention.LastAt = &t
	}
	return out
}

// BehaviorMemoryRecord 对应 user_behavior_memories 表。
// Extra 列由平台其他服务写入，本服务只读不写。
type BehaviorMemoryRecord struct {
	UserID              string         `gorm:"type:varchar(64);primaryKey;column:user_id"`
	Goals               datatypes.JSON `gorm:"type:json;column:goals"`
	PainPoints          datatypes.JSON `gorm:"type:json;column:pain_points"`
	Complaints          datatypes.JSON `gorm:"type:json;column:complaints"`
	EmotionalHistory    datatypes.JSON `gorm:"type:json;column:emotional_history"`
	FavoriteTopics      datatypes.JSON `gorm:"type:json;column:favorite_topics"`
	PreferredTime       string         `gorm:"type:varchar(20);column:preferred_time"`
	LastRetentionAt     *time.Time     `gorm:"column:last_retention_at"`
	LastRetentionBand   string         `gorm:"type:varchar(20);column:last_retention_band"`
	TurnsSinceRetention int            `gorm:"not null;default:0;column:turns_since_retention"`
	Extra               datatypes.JSON `gorm:"type:json;column:extra"`
	CreatedAt           time.Time      `gorm:"autoCreateTime;column:created_at"`
	UpdatedAt           time.Time      `gorm:"column:updated_at"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (BehaviorMemoryRecord) TableName() string {
	return "user_behavior_memories"
}

// BehaviorMemoryColumns 是保存行为记忆时允许覆盖的列，其余列保持原值。
var BehaviorMemoryColumns = []string{
	"goals", "pain_points", "complaints", "emotional_history", "favorite_topics",
	"preferred_time", "last_retention_at", "last_retention_band", "turns_since_retention", "updated_at",
}
