// Package model 包含了应用的数据模型定义。
package model

import (
	"time"

	"gorm.io/datatypes"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage 是客户端随请求携带的简化历史消息。
type ChatMessage struct {
	Role      string    `json:"role"` // "user" 或 "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationMessage 代表存储在 Redis 中的单条对话消息，写入后不可修改。
type ConversationMessage struct {
	ID        string                 `json:"id"`
	ScopeKey  string                 `json:"scopeKey"`
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Topic     Topic                  `json:"topic,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

// 助手消息 Metadata 中使用的键。
const (
	MetaEmotionalState = "emotionalState"
	MetaChurnLevel     = "churnLevel"
	MetaRetention      = "retention"
	MetaIsSafe         = "isSafe"
)

// HasRetention 表示该助手消息是否附带过挽留话术。
func (m ConversationMessage) HasRetention() bool {
	if m.Metadata == nil {
		return false
	}
	v, ok := m.Metadata[MetaRetention].(bool)
	return ok && v
}

// ConversationTurn 是归档到 MySQL 的一问一答，由 Kafka 消费者写入，用于离线分析。
type ConversationTurn struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	TurnID         string         `gorm:"type:varchar(36);uniqueIndex;not null" json:"turnId"`
	ScopeKey       string         `gorm:"type:varchar(100);index;not null" json:"scopeKey"`
	UserID         string         `gorm:"type:varchar(64);index" json:"userId"`
	Question       string         `gorm:"type:text;not null" json:"question"`
	Answer         string         `gorm:"type:text;not null" json:"answer"`
	Topic          string         `gorm:"type:varchar(20)" json:"topic"`
	EmotionalState string         `gorm:"type:varchar(20)" json:"emotionalState"`
	ChurnLevel     string         `gorm:"type:varchar(20)" json:"churnLevel"`
	Metadata       datatypes.JSON `gorm:"type:json" json:"metadata"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"createdAt"`
}

func (ConversationTurn) TableName() string {
	return "conversation_turns"
}
