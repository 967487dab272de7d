package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"fitcoach-go/internal/config"
	"fitcoach-go/internal/lexicon"
	"fitcoach-go/internal/model"
	"fitcoach-go/internal/repository"
	"fitcoach-go/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatFixture struct {
	conv     *fakeConversationRepo
	mem      *fakeMemoryRepo
	embedder *fakeEmbedder
	llm      *fakeLLM
	pub      *fakePublisher
	metrics  *metrics.Metrics
	svc      ChatService
}

// 12:00 Asia/Tashkent
var chatNow = time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)

func newChatFixture(kb repository.KnowledgeRepository) *chatFixture {
	lex := lexicon.Default()
	assistant := config.DefaultAssistant()
	f := &chatFixture{
		conv:     newFakeConversationRepo(),
		mem:      newFakeMemoryRepo(),
		embedder: &fakeEmbedder{vectors: map[string][]float32{}, fallback: []float32{0, 0, 1}},
		llm:      &fakeLLM{reply: "generated answer"},
		pub:      &fakePublisher{},
		metrics:  metrics.New(),
	}
	f.svc = NewChatService(ChatServiceDeps{
		Conversations: NewConversationService(f.conv, f.metrics),
		Memory:        NewBehaviorMemoryService(f.mem, lex),
		Knowledge: NewKnowledgeService(kb, f.embedder, f.llm, lex, assistant,
			config.LLMGenerationConfig{Temperature: 0.7, MaxTokens: 300}, f.metrics),
		Emotion:   NewEmotionDetector(lex, assistant.Thresholds.EmotionScoreFloor),
		Churn:     NewChurnScorer(assistant.Thresholds, assistant.ContactHandle),
		Sales:     NewSalesIntelligence(lex, assistant.ContactHandle, assistant.PlatformName),
		Safety:    NewSafetyGuard(lex, assistant.ContactHandle),
		Lexicon:   lex,
		Publisher: f.pub,
		Metrics:   f.metrics,
		Assistant: assistant,
		Now:       func() time.Time { return chatNow },
	})
	return f
}

func (f *chatFixture) send(t *testing.T, query string, user model.UserContext) *model.ChatResponse {
	t.Helper()
	resp, err := f.svc.Process(context.Background(), model.ChatRequest{Query: query, Lang: "uz", UserContext: user})
	require.NoError(t, err)
	require.NotNil(t, resp)
	return resp
}

func anonymous() model.UserContext {
	return model.UserContext{SessionID: "s-1"}
}

// lapsedSubscriber 对应连续 10 天没有上课、本周观看为 0 的订阅用户。
func lapsedSubscriber() model.UserContext {
	return model.UserContext{
		UserID:               "u-1",
		IsSubscribed:         true,
		LastActivityDaysAgo:  10,
		WatchTimeThisWeek:    0,
		WatchTimeLastWeek:    120,
		SubscriptionDaysLeft: ptrInt(0),
	}
}

func activeSubscriber() model.UserContext {
	login := 0
	return model.UserContext{
		UserID:               "u-3",
		IsSubscribed:         true,
		WatchTimeThisWeek:    120,
		WatchTimeLastWeek:    100,
		ChatMessagesThisWeek: 5,
		ChatMessagesLastWeek: 5,
		SubscriptionDaysLeft: ptrInt(30),
		DaysSinceLastLogin:   &login,
	}
}

func TestProcessRejectsEmptyQuery(t *testing.T) {
	f := newChatFixture(newStubKnowledgeRepo())

	_, err := f.svc.Process(context.Background(), model.ChatRequest{Query: "   "})

	assert.ErrorIs(t, err, ErrEmptyQuery)
	assert.Empty(t, f.conv.messages)
}

func TestBackPainDeflectsWithoutGeneration(t *testing.T) {
	f := newChatFixture(newStubKnowledgeRepo(backEntry()))

	resp := f.send(t, "belim og'riyapti", anonymous())

	assert.Equal(t, model.TopicMedical, resp.Metadata.Topic)
	assert.False(t, resp.Metadata.IsSafe)
	assert.Contains(t, resp.Content, "shifokor")
	assert.Contains(t, resp.Content, "Obuna va batafsil ma'lumot uchun: @fitcoach_support")
	assert.Zero(t, f.llm.callCount())
	assert.Empty(t, f.embedder.calls)
}

func TestBackPainForSubscriberPointsToCourse(t *testing.T) {
	f := newChatFixture(newStubKnowledgeRepo())

	resp := f.send(t, "belim og'riyapti", activeSubscriber())

	assert.Equal(t, model.TopicMedical, resp.Metadata.Topic)
	assert.Contains(t, resp.Content, "Kursingizdagi")
	assert.NotContains(t, resp.Content, "@fitcoach_support")
}

func TestLapsedSubscriberGetsSingleCriticalRetention(t *testing.T) {
	f := newChatFixture(newStubKnowledgeRepo())

	resp := f.send(t, "Darslar qachon bo'ladi?", lapsedSubscriber())

	faq, ok := lexicon.Default().FindFAQ(lexicon.Normalize("darslar qachon"))
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(resp.Content, faq.AnswerIn("uz")))
	assert.Equal(t, 1, strings.Count(resp.Content, "🌱"))
	assert.Contains(t, resp.Content, "Siz 10 kundan beri")
	assert.NotContains(t, resp.Content, "10 daqiqalik")
	assert.Equal(t, model.TopicFAQ, resp.Metadata.Topic)
	assert.Equal(t, model.ChurnCritical, resp.Metadata.ChurnLevel)
	assert.Equal(t, model.StateTired, resp.Metadata.EmotionalState)
	assert.Zero(t, f.llm.callCount())

	stored := f.conv.assistantMessages("user:u-1")
	require.Len(t, stored, 1)
	assert.True(t, stored[0].HasRetention())
	assert.Equal(t, string(model.ChurnCritical), stored[0].Metadata[model.MetaChurnLevel])

	mem := f.mem.get("u-1")
	require.NotNil(t, mem.Retention.LastAt)
	assert.Equal(t, model.ChurnCritical, mem.Retention.LastBand)
	assert.Zero(t, mem.Retention.TurnsSince)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Retention.WithLabelValues("CRITICAL", "appended")))
}

func TestPriceObjectionFromNonSubscriber(t *testing.T) {
	f := newChatFixture(newStubKnowledgeRepo())

	resp := f.send(t, "qimmat", anonymous())

	assert.Equal(t, model.TopicSales, resp.Metadata.Topic)
	assert.True(t, resp.Metadata.IsSafe)
	assert.Contains(t, resp.Content, benefitText(benefitGeneric, model.LangUz))
	assert.Contains(t, resp.Content, "@fitcoach_support")
	assert.Zero(t, f.llm.callCount())
}

func TestPriceObjectionFromSubscriberIsAnswered(t *testing.T) {
	f := newChatFixture(newStubKnowledgeRepo())

	resp := f.send(t, "qimmat", activeSubscriber())

	assert.Equal(t, model.TopicGeneral, resp.Metadata.Topic)
	assert.Equal(t, "generated answer", resp.Content)
}

func TestSubscriberWithoutExpiryInfoIsNotTreatedAsExpiring(t *testing.T) {
	f := newChatFixture(newStubKnowledgeRepo())
	user := activeSubscriber()
	user.SubscriptionDaysLeft = nil

	resp := f.send(t, "salom", user)

	assert.Equal(t, model.ChurnLow, resp.Metadata.ChurnLevel)
	assert.NotEqual(t, model.StateDoubting, resp.Metadata.EmotionalState)
	assert.NotContains(t, resp.Content, "🌱")
}

func TestIdenticalRepeatIsFrustrated(t *testing.T) {
	f := newChatFixture(newStubKnowledgeRepo(backEntry()))
	user := model.UserContext{UserID: "u-2"}

	first := f.send(t, "mashq qanday qilinadi", user)
	second := f.send(t, "mashq qanday qilinadi", user)

	assert.NotEqual(t, model.StateFrustrated, first.Metadata.EmotionalState)
	assert.Equal(t, model.StateFrustrated, second.Metadata.EmotionalState)

	stored := f.conv.assistantMessages("user:u-2")
	require.Len(t, stored, 2)
	assert.Equal(t, string(model.StateFrustrated), stored[1].Metadata[model.MetaEmotionalState])

	mem := f.mem.get("u-2")
	require.Len(t, mem.EmotionalHistory, 2)
	assert.Equal(t, model.StateFrustrated, mem.EmotionalHistory[1].State)
}

func TestCorruptKnowledgeBaseFallsBackToFreeform(t *testing.T) {
	store := newMemObjectStore()
	store.objects["kb.json"] = []byte("{not json")
	f := newChatFixture(repository.NewKnowledgeRepository(store, "kb.json", 0))

	resp := f.send(t, "pilates haqida gapirib bering", anonymous())

	assert.Equal(t, model.TopicGeneral, resp.Metadata.Topic)
	assert.Equal(t, "generated answer", resp.Content)
	assert.Equal(t, 1, f.llm.callCount())
}

func TestFreeformFailureStillAnswers(t *testing.T) {
	f := newChatFixture(newStubKnowledgeRepo())
	f.llm.err = errors.New("llm down")

	resp := f.send(t, "pilates haqida gapirib bering", anonymous())

	assert.NotEmpty(t, resp.Content)
	assert.Contains(t, resp.Content, "@fitcoach_support")
}

func TestRetentionNeverRepeatsWithinWindow(t *testing.T) {
	queries := []string{
		"Darslar qachon bo'ladi?", "qaysi qurilma kerak", "necha daqiqa davom etadi",
		"qanday jihoz kerak", "dars jadvali qanday", "qaysi qurilma mos",
		"necha daqiqa bo'ladi", "qanday jihoz olay",
	}
	cases := []struct {
		name    string
		loadErr error
	}{
		{name: "memory marker"},
		{name: "history fallback", loadErr: errors.New("redis down")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newChatFixture(newStubKnowledgeRepo())
			f.mem.loadErr = tc.loadErr

			for _, q := range queries {
				resp := f.send(t, q, lapsedSubscriber())
				require.Equal(t, model.TopicFAQ, resp.Metadata.Topic, q)
			}

			stored := f.conv.assistantMessages("user:u-1")
			require.Len(t, stored, len(queries))
			var flags []bool
			for _, m := range stored {
				flags = append(flags, m.HasRetention())
			}
			assert.Equal(t, []bool{true, false, false, false, true, false, false, false}, flags)
			for i := 0; i+3 <= len(flags); i++ {
				n := 0
				for _, hit := range flags[i : i+3] {
					if hit {
						n++
					}
				}
				assert.LessOrEqual(t, n, 1, "window starting at %d", i)
			}
			if tc.loadErr != nil {
				assert.Zero(t, f.mem.saves)
			}
		})
	}
}

func TestRetentionSkippedOnSafetyReply(t *testing.T) {
	f := newChatFixture(newStubKnowledgeRepo())

	resp := f.send(t, "belim og'riyapti", lapsedSubscriber())

	assert.Equal(t, model.TopicMedical, resp.Metadata.Topic)
	assert.NotContains(t, resp.Content, "🌱")
	assert.Equal(t, model.ChurnCritical, resp.Metadata.ChurnLevel)
}

func TestPregnancyGuard(t *testing.T) {
	f := newChatFixture(newStubKnowledgeRepo())
	user := anonymous()
	user.IsPregnant = true

	resp := f.send(t, "qanday mashq qilsam bo'ladi?", user)

	assert.Equal(t, model.TopicPregnancy, resp.Metadata.Topic)
	assert.False(t, resp.Metadata.IsSafe)
	assert.Zero(t, f.llm.callCount())
}

func TestPregnancyCourseInquiryIsNotBlocked(t *testing.T) {
	f := newChatFixture(newStubKnowledgeRepo())

	resp := f.send(t, "homilador ayollar uchun kurs bormi", anonymous())

	assert.NotEqual(t, model.TopicPregnancy, resp.Metadata.Topic)
	assert.True(t, resp.Metadata.IsSafe)
}

func TestContactRequest(t *testing.T) {
	f := newChatFixture(newStubKnowledgeRepo())

	resp := f.send(t, "admin bilan bog'lanmoqchiman", activeSubscriber())

	assert.Equal(t, model.TopicContact, resp.Metadata.Topic)
	assert.Contains(t, resp.Content, "@fitcoach_support")
}

func TestPaidAccessRequiresSubscription(t *testing.T) {
	f := newChatFixture(newStubKnowledgeRepo())

	resp := f.send(t, "video darslarni ko'rmoqchiman", anonymous())
	assert.Equal(t, model.TopicAccess, resp.Metadata.Topic)
	assert.True(t, resp.Metadata.RequiresAccess)

	resp = f.send(t, "video darslarni ko'rmoqchiman", activeSubscriber())
	assert.NotEqual(t, model.TopicAccess, resp.Metadata.Topic)
	assert.False(t, resp.Metadata.RequiresAccess)
}

func TestFAQUpsellOnlyForNonSubscribers(t *testing.T) {
	f := newChatFixture(newStubKnowledgeRepo())
	upsell := NewSalesIntelligence(lexicon.Default(), "@fitcoach_support", "FitCoach").FAQUpsell(model.LangUz)

	resp := f.send(t, "necha daqiqa davom etadi", anonymous())
	assert.Contains(t, resp.Content, upsell)

	resp = f.send(t, "necha daqiqa davom etadi", activeSubscriber())
	assert.NotContains(t, resp.Content, upsell)
}

func TestKnowledgeMatchRecordsFavoriteTopic(t *testing.T) {
	f := newChatFixture(newStubKnowledgeRepo(backEntry()))
	f.embedder.vectors["yoga mashqlari"] = []float32{1, 0, 0}

	resp := f.send(t, "yoga mashqlari", activeSubscriber())

	assert.Equal(t, model.TopicKnowledge, resp.Metadata.Topic)
	assert.Equal(t, model.ChurnLow, resp.Metadata.ChurnLevel)
	assert.Equal(t, []string{"Bel uchun yoga"}, f.mem.get("u-3").FavoriteTopics)
}

func TestFollowUpIsEnrichedWithPreviousAnswer(t *testing.T) {
	f := newChatFixture(newStubKnowledgeRepo())
	user := anonymous()

	f.send(t, "yoga haqida", user)
	f.send(t, "batafsil", user)

	require.Equal(t, 2, f.llm.callCount())
	last := f.llm.calls[1]
	assert.Equal(t, "generated answer\n\nbatafsil", last[len(last)-1].Content)
}

func TestClientHistoryUsedWhenStoreIsEmpty(t *testing.T) {
	f := newChatFixture(newStubKnowledgeRepo())
	f.conv.loadErr = errors.New("redis down")

	resp, err := f.svc.Process(context.Background(), model.ChatRequest{
		Query:       "mashq qanday qilinadi",
		UserContext: anonymous(),
		ClientHistory: []model.ChatMessage{
			{Role: model.RoleUser, Content: "mashq qanday qilinadi"},
			{Role: model.RoleAssistant, Content: "earlier answer"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, model.StateFrustrated, resp.Metadata.EmotionalState)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StoreErrors.WithLabelValues("conversation")))
}

func TestAnonymousWithoutSessionGetsEphemeralScope(t *testing.T) {
	f := newChatFixture(newStubKnowledgeRepo())

	f.send(t, "salom", model.UserContext{})

	require.Len(t, f.conv.messages, 1)
	for scope := range f.conv.messages {
		assert.True(t, strings.HasPrefix(scope, "session:"))
	}
	assert.Zero(t, f.mem.saves)
}

func TestTurnIsPublished(t *testing.T) {
	f := newChatFixture(newStubKnowledgeRepo())

	f.send(t, "qimmat", anonymous())

	assert.Eventually(t, func() bool { return len(f.pub.published()) == 1 }, time.Second, 10*time.Millisecond)
	ev := f.pub.published()[0]
	assert.Equal(t, "session:s-1", ev.ScopeKey)
	assert.Equal(t, "qimmat", ev.Question)
	assert.Equal(t, string(model.TopicSales), ev.Topic)
	assert.NotEmpty(t, ev.TurnID)
}

func TestStagePrecedence(t *testing.T) {
	f := newChatFixture(newStubKnowledgeRepo())

	// 腰背问题同时包含价格异议时，安全拦截优先。
	resp := f.send(t, "belim og'riyapti, kurs qimmat", anonymous())
	assert.Equal(t, model.TopicMedical, resp.Metadata.Topic)

	// 联系意图优先于销售。
	resp = f.send(t, "qimmat, menejer bilan bog'lanish kerak", anonymous())
	assert.Equal(t, model.TopicContact, resp.Metadata.Topic)
}
