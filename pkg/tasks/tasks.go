// Package tasks defines the structure for events that are sent to Kafka.
package tasks

import "time"

// TurnEvent 描述一次完成的对话轮次，由对话编排发布，归档消费者写入 MySQL。
type TurnEvent struct {
	TurnID         string    `json:"turn_id"`
	ScopeKey       string    `json:"scope_key"`
	UserID         string    `json:"user_id,omitempty"`
	Question       string    `json:"question"`
	Answer         string    `json:"answer"`
	Topic          string    `json:"topic"`
	EmotionalState string    `json:"emotional_state,omitempty"`
	ChurnLevel     string    `json:"churn_level,omitempty"`
	IsSafe         bool      `json:"is_safe"`
	Retention      bool      `json:"retention"`
	CreatedAt      time.Time `json:"created_at"`
}
