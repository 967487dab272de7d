// Package model 包含了应用的数据模型定义。
package model

import "strings"

// Lang 是对话语言。uz 为乌兹别克语（拉丁字母），ru 为俄语。
type Lang string

const (
	LangUz Lang = "uz"
	LangRu Lang = "ru"
)

// ParseLang 将任意输入归一为受支持的语言，无法识别时返回 fallback。
func ParseLang(s string, fallback Lang) Lang {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "uz", "uz-latn", "a":
		return LangUz
	case "ru", "b":
		return LangRu
	}
	if fallback == "" {
		return LangUz
	}
	return fallback
}

// Pick 返回与语言对应的文本。
func (l Lang) Pick(uz, ru string) string {
	if l == LangRu {
		return ru
	}
	return uz
}

// EmotionalState 是情绪识别的离散结果。
type EmotionalState string

const (
	StateMotivated   EmotionalState = "motivated"
	StateTired       EmotionalState = "tired"
	StateFrustrated  EmotionalState = "frustrated"
	StateInsecure    EmotionalState = "insecure"
	StateDoubting    EmotionalState = "doubting"
	StateOverwhelmed EmotionalState = "overwhelmed"
	StateConfident   EmotionalState = "confident"
)

// AllEmotionalStates 按固定顺序列出所有情绪，平分时靠前者胜出。
var AllEmotionalStates = []EmotionalState{
	StateMotivated, StateTired, StateFrustrated, StateInsecure,
	StateDoubting, StateOverwhelmed, StateConfident,
}

// IsNegative 表示该情绪是否计入流失风险。
func (s EmotionalState) IsNegative() bool {
	switch s {
	case StateTired, StateFrustrated, StateInsecure, StateDoubting, StateOverwhelmed:
		return true
	}
	return false
}

// ChurnLevel 是流失风险等级，随分数单调递增。
type ChurnLevel string

const (
	ChurnLow      ChurnLevel = "LOW"
	ChurnMedium   ChurnLevel = "MEDIUM"
	ChurnHigh     ChurnLevel = "HIGH"
	ChurnCritical ChurnLevel = "CRITICAL"
)

// Topic 标识最终回复来自哪个分支。
type Topic string

const (
	TopicMedical   Topic = "medical"
	TopicPregnancy Topic = "pregnancy"
	TopicContact   Topic = "contact"
	TopicSales     Topic = "sales"
	TopicAccess    Topic = "access"
	TopicFAQ       Topic = "faq"
	TopicKnowledge Topic = "knowledge"
	TopicGeneral   Topic = "general"
)

// Gender 取值 male / female，空字符串表示未知。
const (
	GenderMale   = "male"
	GenderFemale = "female"
)

// NormalizeGender 把客户端传来的性别统一为 GenderMale / GenderFemale，无法识别时返回空字符串。
func NormalizeGender(g string) string {
	switch strings.ToLower(strings.TrimSpace(g)) {
	case GenderMale, "m", "man", "erkak", "мужской", "мужчина":
		return GenderMale
	case GenderFemale, "f", "woman", "ayol", "женский", "женщина":
		return GenderFemale
	}
	return ""
}

// UserContext 是单次请求携带的用户画像与活跃度信号，不做持久化。
type UserContext struct {
	UserID               string   `json:"userId,omitempty"`
	SessionID            string   `json:"sessionId,omitempty"`
	FirstName            string   `json:"firstName,omitempty"`
	IsSubscribed         bool     `json:"isSubscribed"`
	HealthIssues         string   `json:"healthIssues,omitempty"`
	Gender               string   `json:"gender,omitempty"`
	Age                  int      `json:"age,omitempty"`
	IsPregnant           bool     `json:"isPregnant,omitempty"`
	LastActivityDaysAgo  int      `json:"lastActivityDaysAgo"`
	WatchTimeThisWeek    float64  `json:"watchTimeThisWeek"`
	WatchTimeLastWeek    float64  `json:"watchTimeLastWeek"`
	StreakDays           int      `json:"streakDays"`
	SubscriptionDaysLeft *int     `json:"subscriptionDaysLeft,omitempty"` // 未知时不参与到期判断
	ChatMessagesThisWeek int      `json:"chatMessagesThisWeek"`
	ChatMessagesLastWeek int      `json:"chatMessagesLastWeek"`
	LastMoodKPI          *float64 `json:"lastMoodKpi,omitempty"`
	DaysSinceLastLogin   *int     `json:"daysSinceLastLogin,omitempty"`
	SubscribedCourseName string   `json:"subscribedCourseName,omitempty"`
}

// IsAuthenticated 表示请求是否绑定了平台用户。
func (u UserContext) IsAuthenticated() bool {
	return u.UserID != ""
}

// ScopeKey 返回会话存储的分区键：登录用户按用户 ID，匿名流量按会话 ID，二者不会合并。
func (u UserContext) ScopeKey() string {
	if u.UserID != "" {
		return "user:" + u.UserID
	}
	if u.SessionID != "" {
		return "session:" + u.SessionID
	}
	return ""
}

// ChatRequest 是对话入口的请求体。
type ChatRequest struct {
	Query         string        `json:"query" binding:"required"`
	Lang          string        `json:"lang"`
	UserContext   UserContext   `json:"userContext"`
	ClientHistory []ChatMessage `json:"clientHistory,omitempty"`
}

// ResponseMetadata 描述回复的来源与风险信号。
type ResponseMetadata struct {
	IsSafe         bool           `json:"isSafe"`
	RequiresAccess bool           `json:"requiresAccess"`
	Topic          Topic          `json:"topic"`
	EmotionalState EmotionalState `json:"emotionalState,omitempty"`
	ChurnLevel     ChurnLevel     `json:"churnLevel,omitempty"`
}

// ChatResponse 是对话入口的返回值。
type ChatResponse struct {
	Content  string           `json:"content"`
	Role     string           `json:"role"`
	Metadata ResponseMetadata `json:"metadata"`
}
