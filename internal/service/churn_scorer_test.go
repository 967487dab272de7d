package service

import (
	"testing"

	"fitcoach-go/internal/config"
	"fitcoach-go/internal/model"

	"github.com/stretchr/testify/assert"
)

func newChurnScorer() *ChurnScorer {
	return NewChurnScorer(config.DefaultThresholds(), "@coach")
}

// healthy 是一个所有因素都不触发的基准输入。
func healthy() ChurnInput {
	return ChurnInput{
		WatchTimeThisWeek:    120,
		WatchTimeLastWeek:    100,
		ChatMessagesThisWeek: 5,
		ChatMessagesLastWeek: 5,
		SubscriptionDaysLeft: ptrInt(30),
		DaysSinceLastLogin:   ptrInt(0),
		Lang:                 model.LangUz,
	}
}

func TestChurnHealthyIsLow(t *testing.T) {
	res := newChurnScorer().Score(healthy())

	assert.Zero(t, res.Score)
	assert.Equal(t, model.ChurnLow, res.Level)
	assert.Empty(t, res.Message)
	assert.Empty(t, res.Factors)
}

func TestChurnFactorCaps(t *testing.T) {
	s := newChurnScorer()

	in := healthy()
	in.WatchTimeThisWeek, in.WatchTimeLastWeek = 40, 100
	assert.InDelta(t, 25, s.Score(in).Score, 1e-9, "activity drop capped at 25")

	in = healthy()
	in.DaysSinceLastSession = 4
	in.DaysSinceLastLogin = ptrInt(0)
	assert.InDelta(t, 12, s.Score(in).Score, 1e-9)

	in = healthy()
	in.WatchTimeThisWeek, in.WatchTimeLastWeek = 20, 0
	assert.InDelta(t, 8, s.Score(in).Score, 1e-9)

	in = healthy()
	in.ChatMessagesThisWeek, in.ChatMessagesLastWeek = 2, 5
	assert.InDelta(t, 5, s.Score(in).Score, 1e-9)

	in = healthy()
	in.SubscriptionDaysLeft = ptrInt(5)
	assert.InDelta(t, 10, s.Score(in).Score, 1e-9)

	in = healthy()
	in.RecentStates = []model.EmotionalState{model.StateTired, model.StateTired, model.StateFrustrated, model.StateDoubting}
	assert.InDelta(t, 9, s.Score(in).Score, 1e-9)

	in = healthy()
	in.DaysSinceLastLogin = ptrInt(30)
	assert.InDelta(t, 5, s.Score(in).Score, 1e-9)
}

func TestChurnUnknownSubscriptionExpiryAddsNothing(t *testing.T) {
	in := healthy()
	in.SubscriptionDaysLeft = nil

	res := newChurnScorer().Score(in)

	assert.Zero(t, res.Score)
	assert.Empty(t, res.Factors)
}

func TestChurnLoginGapFallsBackToSessionGap(t *testing.T) {
	in := healthy()
	in.DaysSinceLastLogin = nil
	in.DaysSinceLastSession = 2

	res := newChurnScorer().Score(in)
	assert.InDelta(t, 6+2, res.Score, 1e-9)
	assert.Contains(t, res.Factors, "login_gap=2")
}

func TestChurnBandsAndMessages(t *testing.T) {
	s := newChurnScorer()

	medium := healthy()
	medium.WatchTimeThisWeek, medium.WatchTimeLastWeek = 40, 100 // 25
	medium.SubscriptionDaysLeft = ptrInt(10)                     // 5
	res := s.Score(medium)
	assert.Equal(t, model.ChurnMedium, res.Level)
	assert.Contains(t, res.Message, "10 daqiqalik")

	high := medium
	high.DaysSinceLastSession = 7 // 20
	high.DaysSinceLastLogin = ptrInt(7)
	res = s.Score(high)
	assert.Equal(t, model.ChurnHigh, res.Level)
	assert.Contains(t, res.Message, "dam olish")
}

func TestChurnCriticalNamesGap(t *testing.T) {
	in := ChurnInput{
		WatchTimeThisWeek:    0,
		WatchTimeLastWeek:    120,
		DaysSinceLastSession: 10,
		SubscriptionDaysLeft: ptrInt(0),
		RecentStates:         []model.EmotionalState{model.StateTired},
		Lang:                 model.LangRu,
	}

	res := newChurnScorer().Score(in)

	// 25 + 20 + 15 + 15 (订阅剩余 0 天) + 3 + 5
	assert.InDelta(t, 83, res.Score, 1e-9)
	assert.Equal(t, model.ChurnCritical, res.Level)
	assert.Contains(t, res.Message, "10 дн.")
	assert.Contains(t, res.Message, "@coach")
}

func TestChurnMonotonicInSessionGap(t *testing.T) {
	s := newChurnScorer()
	bases := []ChurnInput{healthy(), {Lang: model.LangUz}, {
		WatchTimeThisWeek: 15, WatchTimeLastWeek: 30, ChatMessagesLastWeek: 3,
		SubscriptionDaysLeft: ptrInt(8), RecentStates: []model.EmotionalState{model.StateOverwhelmed},
	}}

	for _, base := range bases {
		base.DaysSinceLastLogin = nil
		prev := -1.0
		for gap := 0; gap <= 60; gap++ {
			in := base
			in.DaysSinceLastSession = gap
			res := s.Score(in)
			assert.GreaterOrEqual(t, res.Score, prev)
			assert.GreaterOrEqual(t, res.Score, 0.0)
			assert.LessOrEqual(t, res.Score, 100.0)
			prev = res.Score
		}
	}
}

func TestChurnNeverExceedsHundred(t *testing.T) {
	in := ChurnInput{
		WatchTimeLastWeek:    500,
		DaysSinceLastSession: 90,
		ChatMessagesLastWeek: 10,
		RecentStates:         []model.EmotionalState{model.StateTired, model.StateTired, model.StateTired},
		DaysSinceLastLogin:   ptrInt(90),
	}

	res := newChurnScorer().Score(in)
	// 情绪因素最多 3×3=9，其余全部封顶
	assert.InDelta(t, 99, res.Score, 1e-9)
	assert.Equal(t, model.ChurnCritical, res.Level)
}
