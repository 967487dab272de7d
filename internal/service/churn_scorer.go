package service

import (
	"fmt"
	"math"

	"fitcoach-go/internal/config"
	"fitcoach-go/internal/model"
)

// ChurnInput 是流失评分所需的活跃度信号。观看时长单位为分钟。
type ChurnInput struct {
	WatchTimeThisWeek    float64
	WatchTimeLastWeek    float64
	DaysSinceLastSession int
	ChatMessagesThisWeek int
	ChatMessagesLastWeek int
	// SubscriptionDaysLeft 为 nil 时不计订阅到期因素。
	SubscriptionDaysLeft *int
	// RecentStates 按时间顺序排列，最后一个是本轮识别出的情绪。
	RecentStates []model.EmotionalState
	// DaysSinceLastLogin 缺失时按 DaysSinceLastSession 计算。
	DaysSinceLastLogin *int
	Lang               model.Lang
}

// ChurnResult 是流失评分结果。Factors 列出触发的因素，仅用于观测。
type ChurnResult struct {
	Score   float64
	Level   model.ChurnLevel
	Message string
	Factors []string
}

// ChurnScorer 是纯函数式的流失风险评分器。
type ChurnScorer struct {
	thresholds    config.ThresholdConfig
	contactHandle string
}

// NewChurnScorer 创建一个新的 ChurnScorer 实例。
func NewChurnScorer(thresholds config.ThresholdConfig, contactHandle string) *ChurnScorer {
	return &ChurnScorer{thresholds: thresholds, contactHandle: contactHandle}
}

// Score 对七个因素分别封顶后求和，并截断到 [0,100]。
func (c *ChurnScorer) Score(in ChurnInput) ChurnResult {
	var (
		total   float64
		factors []string
	)
	add := func(name string, v, cap float64) {
		v = math.Max(0, math.Min(v, cap))
		if v > 0 {
			total += v
			factors = append(factors, fmt.Sprintf("%s=%.0f", name, v))
		}
	}

	switch {
	case in.WatchTimeLastWeek > 0:
		add("activity_drop", (1-in.WatchTimeThisWeek/in.WatchTimeLastWeek)*50, 25)
	case in.WatchTimeThisWeek == 0:
		add("activity_drop", 20, 25)
	}

	add("session_gap", float64(in.DaysSinceLastSession*3), 20)

	switch {
	case in.WatchTimeThisWeek < 10:
		add("low_watch_time", 15, 15)
	case in.WatchTimeThisWeek < 30:
		add("low_watch_time", 8, 15)
	}

	switch {
	case in.ChatMessagesLastWeek > 0 && in.ChatMessagesThisWeek == 0:
		add("chat_drop", 10, 10)
	case float64(in.ChatMessagesThisWeek) < 0.5*float64(in.ChatMessagesLastWeek):
		add("chat_drop", 5, 10)
	}

	if in.SubscriptionDaysLeft != nil {
		switch left := *in.SubscriptionDaysLeft; {
		case left < 3:
			add("subscription_expiry", 15, 15)
		case left < 7:
			add("subscription_expiry", 10, 15)
		case left < 14:
			add("subscription_expiry", 5, 15)
		}
	}

	states := in.RecentStates
	if len(states) > 3 {
		states = states[len(states)-3:]
	}
	negatives := 0
	for _, s := range states {
		if s.IsNegative() {
			negatives++
		}
	}
	add("negative_emotions", float64(negatives*3), 10)

	loginGap := in.DaysSinceLastSession
	if in.DaysSinceLastLogin != nil {
		loginGap = *in.DaysSinceLastLogin
	}
	add("login_gap", float64(loginGap), 5)

	score := math.Max(0, math.Min(100, total))
	level := c.level(score)
	return ChurnResult{
		Score:   score,
		Level:   level,
		Message: c.retentionMessage(level, in.DaysSinceLastSession, in.Lang),
		Factors: factors,
	}
}

func (c *ChurnScorer) level(score float64) model.ChurnLevel {
	switch {
	case score <= float64(c.thresholds.ChurnLowMax):
		return model.ChurnLow
	case score <= float64(c.thresholds.ChurnMediumMax):
		return model.ChurnMedium
	case score <= float64(c.thresholds.ChurnHighMax):
		return model.ChurnHigh
	default:
		return model.ChurnCritical
	}
}

func (c *ChurnScorer) retentionMessage(level model.ChurnLevel, gapDays int, lang model.Lang) string {
	switch level {
	case model.ChurnMedium:
		return lang.Pick(
			"💪 Eslatma: hatto 10 daqiqalik mashg'ulot ham natija beradi. Bugun qisqa darsdan boshlab ko'ring!",
			"💪 Напоминание: даже 10-минутная тренировка даёт результат. Попробуйте сегодня короткое занятие!",
		)
	case model.ChurnHigh:
		return lang.Pick(
			"🤗 Ba'zan dam olish ham kerak, bu mutlaqo normal. Tayyor bo'lganingizda biz shu yerdamiz: 5 daqiqalik yengil cho'zilishdan boshlash mumkin.",
			"🤗 Иногда отдых тоже нужен, и это совершенно нормально. Когда будете готовы, мы рядом: можно начать с лёгкой 5-минутной растяжки.",
		)
	case model.ChurnCritical:
		return fmt.Sprintf(lang.Pick(
			"🌱 Siz %d kundan beri mashg'ulot qilmadingiz, sizni sog'indik! Murabbiyga yozing (%s), birgalikda sizga qulay reja tuzamiz.",
			"🌱 Вы не занимались уже %d дн., мы по вам скучаем! Напишите тренеру (%s), вместе составим удобный для вас план.",
		), gapDays, c.contactHandle)
	}
	return ""
}
