package service

import (
	"math"
	"strings"

	"fitcoach-go/internal/lexicon"
	"fitcoach-go/internal/model"
)

const (
	// 每个情绪词库命中 2 个关键词即拿满文本分
	emotionKeywordWeight = 40.0
	emotionKeywordCap    = 2.0
	emotionRecentWindow  = 5
	// 低于地板分时回退为 confident，并给出固定的低置信度
	emotionFallbackConfidence = 0.3
	emotionConfidenceScale    = 50.0
)

// EmotionInput 是情绪识别的全部输入信号。
type EmotionInput struct {
	Message string
	// Recent 是此前的用户消息（不含本条），按时间从旧到新。
	Recent               []string
	ActivityGapDays      int
	MoodScore            *float64
	HourOfDay            int
	StreakDays           int
	SubscriptionDaysLeft *int
}

// EmotionResult 是情绪识别结果。Signals 列出触发的次要信号，便于排查。
type EmotionResult struct {
	State            model.EmotionalState
	Confidence       float64
	ToneInstructions string
	Scores           map[model.EmotionalState]float64
	Signals          []string
}

// EmotionDetector 是纯函数式的情绪打分器，可被并发调用。
type EmotionDetector struct {
	lex   *lexicon.Lexicon
	floor float64
}

// NewEmotionDetector 创建一个新的 EmotionDetector 实例。
func NewEmotionDetector(lex *lexicon.Lexicon, scoreFloor float64) *EmotionDetector {
	return &EmotionDetector{lex: lex, floor: scoreFloor}
}

// Detect 对消息文本和行为信号加权打分，取最高分的情绪。
func (d *EmotionDetector) Detect(in EmotionInput) EmotionResult {
	scores := make(map[model.EmotionalState]float64, len(model.AllEmotionalStates))
	var signals []string
	add := func(state model.EmotionalState, v float64, signal string) {
		scores[state] += v
		signals = append(signals, signal)
	}

	text := lexicon.Normalize(in.Message)
	for _, state := range model.AllEmotionalStates {
		hits := d.lex.Emotion(string(state)).Hits(text)
		if hits > 0 {
			add(state, emotionKeywordWeight*math.Min(1, float64(hits)/emotionKeywordCap), "keywords:"+string(state))
		}
	}

	if in.ActivityGapDays >= 7 {
		add(model.StateTired, 15, "gap>=7d")
	}
	if in.ActivityGapDays >= 14 {
		add(model.StateFrustrated, 10, "gap>=14d")
	}
	if in.StreakDays >= 7 {
		add(model.StateMotivated, 10, "streak>=7d")
	}
	if in.StreakDays >= 14 {
		add(model.StateConfident, 15, "streak>=14d")
	}
	if in.MoodScore != nil {
		switch {
		case *in.MoodScore <= 2:
			add(model.StateTired, 15, "mood<=2")
			add(model.StateFrustrated, 10, "mood<=2")
		case *in.MoodScore >= 5:
			add(model.StateConfident, 15, "mood>=5")
		}
	}
	if in.HourOfDay < 6 || in.HourOfDay >= 23 {
		add(model.StateTired, 8, "late-hour")
	}

	recent := in.Recent
	if len(recent) > emotionRecentWindow {
		recent = recent[len(recent)-emotionRecentWindow:]
	}
	if isShort(text) && countShort(recent) >= 2 {
		add(model.StateFrustrated, 5, "short-repeated")
	}
	if in.SubscriptionDaysLeft != nil && *in.SubscriptionDaysLeft < 7 {
		add(model.StateDoubting, 10, "subscription<7d")
	}
	if len(recent) > 0 && text != "" && lexicon.Normalize(recent[len(recent)-1]) == text {
		add(model.StateFrustrated, 15, "identical-repeat")
	}

	best, bestScore := model.StateConfident, -1.0
	for _, state := range model.AllEmotionalStates {
		if scores[state] > bestScore {
			best, bestScore = state, scores[state]
		}
	}

	res := EmotionResult{Scores: scores, Signals: signals}
	if bestScore < d.floor {
		res.State = model.StateConfident
		res.Confidence = emotionFallbackConfidence
	} else {
		res.State = best
		res.Confidence = math.Min(1, bestScore/emotionConfidenceScale)
	}
	res.ToneInstructions = ToneInstructions(res.State)
	return res
}

func isShort(text string) bool {
	n := len(lexicon.Words(text))
	return n > 0 && n <= 2
}

func countShort(msgs []string) int {
	n := 0
	for _, m := range msgs {
		if isShort(lexicon.Normalize(m)) {
			n++
		}
	}
	return n
}

var toneInstructions = map[model.EmotionalState]string{
	model.StateMotivated: "The user is motivated. Match their energy, be upbeat and concrete, " +
		"suggest a clear next step or a slightly more challenging session.",
	model.StateTired: "The user is tired. Be gentle and brief. Suggest short, low-intensity sessions " +
		"(5-15 minutes), stretching or breathing. No pressure, no guilt, rest is allowed.",
	model.StateFrustrated: "The user is frustrated. Acknowledge the frustration first in one sentence, " +
		"do not argue, give one simple practical solution, keep the reply short and calm.",
	model.StateInsecure: "The user feels insecure. Reassure them that beginners are welcome, " +
		"emphasise small wins and modifications, avoid comparisons with others.",
	model.StateDoubting: "The user doubts whether the practice helps. Be honest, mention realistic timelines " +
		"and concrete benefits, invite them to try a short session instead of promising miracles.",
	model.StateOverwhelmed: "The user is overwhelmed. Simplify: offer one small action only, " +
		"use short sentences, reassure them that consistency beats volume.",
	model.StateConfident: "The user feels confident. Be friendly and direct, " +
		"support their progress and offer useful details.",
}

// ToneInstructions 返回与情绪对应的语气指导，写入生成 prompt。
func ToneInstructions(state model.EmotionalState) string {
	if t, ok := toneInstructions[state]; ok {
		return t
	}
	return toneInstructions[model.StateConfident]
}

// recentUserMessages 从历史中取出本条之前的用户消息内容。
func recentUserMessages(history []model.ConversationMessage, excludeID string) []string {
	var out []string
	for _, m := range history {
		if m.Role != model.RoleUser || (excludeID != "" && m.ID == excludeID) {
			continue
		}
		if c := strings.TrimSpace(m.Content); c != "" {
			out = append(out, c)
		}
	}
	return out
}
