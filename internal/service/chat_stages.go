package service

import (
	"context"

	"fitcoach-go/internal/model"
)

// stageResult 是某个阶段给出的回复。allowRetention 表示该回复后面可以追加挽留话术。
type stageResult struct {
	content        string
	topic          model.Topic
	isSafe         bool
	requiresAccess bool
	allowRetention bool
	favoriteTopics []string
}

// stage 是编排中的一个判定步骤，ok 为 false 时交给下一个阶段。
type stage struct {
	name string
	run  func(ctx context.Context, t *turn) (stageResult, bool)
}

// pipeline 返回按优先级排列的阶段，知识引擎作为最后一个阶段总会给出回复。
func (s *chatService) pipeline() []stage {
	return []stage{
		{name: "safety", run: s.safetyStage},
		{name: "pregnancy", run: s.pregnancyStage},
		{name: "contact", run: s.contactStage},
		{name: "sales", run: s.salesStage},
		{name: "access", run: s.accessStage},
		{name: "faq", run: s.faqStage},
		{name: "knowledge", run: s.knowledgeStage},
	}
}

func (s *chatService) safetyStage(_ context.Context, t *turn) (stageResult, bool) {
	v := s.Safety.Check(t.enriched, t.lang, t.user.IsSubscribed)
	if !v.Triggered {
		return stageResult{}, false
	}
	content := v.Message
	if opener := EmpathyOpener(t.emotion.State, t.lang); opener != "" {
		content = opener + " " + content
	}
	return stageResult{content: content, topic: model.TopicMedical}, true
}

func (s *chatService) pregnancyStage(_ context.Context, t *turn) (stageResult, bool) {
	v := s.Safety.CheckPregnancy(t.enriched, t.user.IsPregnant, t.lang)
	if !v.Triggered {
		return stageResult{}, false
	}
	return stageResult{content: v.Message, topic: model.TopicPregnancy}, true
}

func (s *chatService) contactStage(_ context.Context, t *turn) (stageResult, bool) {
	if !s.Lexicon.Intents.Contact.Match(t.norm) {
		return stageResult{}, false
	}
	return stageResult{content: s.Sales.ContactInfo(t.lang), topic: model.TopicContact, isSafe: true}, true
}

func (s *chatService) salesStage(_ context.Context, t *turn) (stageResult, bool) {
	if t.user.IsSubscribed {
		return stageResult{}, false
	}
	if s.Sales.DetectOpportunity(t.query) == OpportunityNone && !s.Lexicon.Intents.Subscription.Match(t.norm) {
		return stageResult{}, false
	}
	content := s.Sales.GenerateResponse(SalesInput{
		Message:      t.query,
		Lang:         t.lang,
		State:        t.emotion.State,
		HealthIssues: t.user.HealthIssues,
		Gender:       t.user.Gender,
		Age:          t.user.Age,
	})
	return stageResult{content: content, topic: model.TopicSales, isSafe: true}, true
}

func (s *chatService) accessStage(_ context.Context, t *turn) (stageResult, bool) {
	if t.user.IsSubscribed || !s.Lexicon.Intents.PaidAccess.Match(t.norm) {
		return stageResult{}, false
	}
	return stageResult{
		content:        s.Sales.AccessUpsell(t.lang),
		topic:          model.TopicAccess,
		isSafe:         true,
		requiresAccess: true,
	}, true
}

func (s *chatService) faqStage(_ context.Context, t *turn) (stageResult, bool) {
	faq, ok := s.Lexicon.FindFAQ(t.norm)
	if !ok {
		return stageResult{}, false
	}
	content := faq.AnswerIn(string(t.lang))
	if !t.user.IsSubscribed {
		content += "\n\n" + s.Sales.FAQUpsell(t.lang)
	}
	return stageResult{content: content, topic: model.TopicFAQ, isSafe: true, allowRetention: true}, true
}

func (s *chatService) knowledgeStage(ctx context.Context, t *turn) (stageResult, bool) {
	q := KnowledgeQuery{
		Query:   t.enriched,
		Lang:    t.lang,
		User:    t.user,
		History: t.history,
		Tone:    t.emotion.ToneInstructions,
	}
	if t.memoryLoaded {
		q.MemoryContext = s.Memory.MemoryContext(t.memory)
	}
	ans := s.Knowledge.Answer(ctx, q)

	res := stageResult{content: ans.Content, topic: model.TopicKnowledge, isSafe: true, allowRetention: true}
	if ans.Tier == TierFreeform {
		res.topic = model.TopicGeneral
	}
	for _, m := range ans.Matches {
		res.favoriteTopics = append(res.favoriteTopics, m.Entry.Title)
	}
	return res, true
}
