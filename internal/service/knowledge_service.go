package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"fitcoach-go/internal/config"
	"fitcoach-go/internal/lexicon"
	"fitcoach-go/internal/model"
	"fitcoach-go/internal/repository"
	"fitcoach-go/pkg/embedding"
	"fitcoach-go/pkg/llm"
	"fitcoach-go/pkg/log"
	"fitcoach-go/pkg/metrics"
)

// 检索层级，用于指标与回复来源标记。
const (
	TierSemantic = "semantic"
	TierKeyword  = "keyword"
	TierFreeform = "freeform"
)

// 关键词检索的字段权重。
const (
	keywordTitleWeight      = 10
	keywordTopicWeight      = 5
	keywordSummaryWeight    = 3
	keywordTranscriptWeight = 1
	keywordMinRunes         = 3
)

// KnowledgeQuery 是知识检索与生成的输入。History 不含本轮用户消息。
type KnowledgeQuery struct {
	Query         string
	Lang          model.Lang
	User          model.UserContext
	History       []model.ConversationMessage
	Tone          string
	MemoryContext string
}

// KnowledgeAnswer 是知识引擎的输出，Content 永远非空。
type KnowledgeAnswer struct {
	Content string
	Tier    string
	Matches []model.ScoredEntry
}

// KnowledgeService 定义了三级知识检索：语义检索、关键词回退、自由生成。
type KnowledgeService interface {
	Answer(ctx context.Context, q KnowledgeQuery) KnowledgeAnswer
	SemanticSearch(ctx context.Context, query, gender string) []model.ScoredEntry
	KeywordSearch(ctx context.Context, query, gender string) (model.ScoredEntry, bool)
}

type knowledgeService struct {
	repo       repository.KnowledgeRepository
	embedder   embedding.Client
	llmClient  llm.Client
	lex        *lexicon.Lexicon
	assistant  config.AssistantConfig
	generation config.LLMGenerationConfig
	metrics    *metrics.Metrics
}

// NewKnowledgeService 创建一个新的 KnowledgeService 实例。
func NewKnowledgeService(
	repo repository.KnowledgeRepository,
	embedder embedding.Client,
	llmClient llm.Client,
	lex *lexicon.Lexicon,
	assistant config.AssistantConfig,
	generation config.LLMGenerationConfig,
	m *metrics.Metrics,
) KnowledgeService {
	return &knowledgeService{
		repo:       repo,
		embedder:   embedder,
		llmClient:  llmClient,
		lex:        lex,
		assistant:  assistant,
		generation: generation,
		metrics:    m,
	}
}

// Answer 依次尝试语义检索和关键词检索，命中的条目同样经过人设生成；都未命中时自由生成。
func (s *knowledgeService) Answer(ctx context.Context, q KnowledgeQuery) KnowledgeAnswer {
	entries := s.candidates(ctx, q.User.Gender)
	tier := TierSemantic
	matches := s.semanticRank(ctx, q.Query, entries)
	if len(matches) == 0 {
		tier = TierKeyword
		if best, ok := keywordBest(q.Query, entries); ok {
			matches = []model.ScoredEntry{best}
		}
	}

	if len(matches) > 0 {
		s.metrics.ObserveRetrievalTier(tier)
		log.Infof("[KnowledgeService] %s 检索命中 %d 条，最佳: %s (%.3f)", tier, len(matches), matches[0].Entry.ID, matches[0].Score)
		temperature := math.Min(s.generation.Temperature, 0.4)
		content, err := s.generate(ctx, q, s.groundedInstructions(matches), &llm.GenerationParams{Temperature: &temperature})
		if err != nil {
			log.Warnf("[KnowledgeService] 基于检索结果的生成失败，回退为条目摘要: %v", err)
			content = summaryReply(matches[0].Entry, q.Lang)
		}
		return KnowledgeAnswer{Content: content, Tier: tier, Matches: matches}
	}

	s.metrics.ObserveRetrievalTier(TierFreeform)
	log.Infof("[KnowledgeService] 知识库未命中，进入自由生成")
	content, err := s.generate(ctx, q, s.freeformInstructions(), nil)
	if err != nil {
		log.Errorf("[KnowledgeService] 自由生成失败: %v", err)
		content = s.apology(q.Lang)
	}
	return KnowledgeAnswer{Content: content, Tier: TierFreeform}
}

func (s *knowledgeService) SemanticSearch(ctx context.Context, query, gender string) []model.ScoredEntry {
	return s.semanticRank(ctx, query, s.candidates(ctx, gender))
}

func (s *knowledgeService) KeywordSearch(ctx context.Context, query, gender string) (model.ScoredEntry, bool) {
	return keywordBest(query, s.candidates(ctx, gender))
}

// semanticRank 按余弦相似度排序，保留超过阈值的前 K 个。缺失的条目向量在此计算并批量回写。
func (s *knowledgeService) semanticRank(ctx context.Context, query string, entries []model.KnowledgeEntry) []model.ScoredEntry {
	if len(entries) == 0 {
		return nil
	}
	qvec, err := s.embedder.CreateEmbedding(ctx, query)
	if err != nil || len(qvec) == 0 {
		log.Warnf("[KnowledgeService] 查询向量化失败，跳过语义检索: %v", err)
		return nil
	}

	th := s.assistant.Thresholds
	computed := make(map[string]model.EntryEmbedding)
	var scored []model.ScoredEntry
	for _, e := range entries {
		vec := e.Embedding
		if !e.HasFreshEmbedding() {
			v, err := s.embedder.CreateEmbedding(ctx, e.EmbeddingText())
			if err != nil || len(v) == 0 {
				log.Warnf("[KnowledgeService] 条目 %s 向量化失败: %v", e.ID, err)
				continue
			}
			vec = v
			computed[e.ID] = model.EntryEmbedding{TextHash: e.EmbeddingTextHash(), Vector: v}
		}
		if score := cosineSimilarity(qvec, vec); score > th.SimilarityThreshold {
			e.Embedding, e.EmbeddingHash = nil, ""
			scored = append(scored, model.ScoredEntry{Entry: e, Score: score})
		}
	}

	if len(computed) > 0 {
		if err := s.repo.SaveEmbeddings(ctx, computed); err != nil {
			s.metrics.ObserveStoreError("knowledge")
			log.Warnf("[KnowledgeService] 回写 %d 个条目向量失败: %v", len(computed), err)
		}
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if th.SemanticTopK > 0 && len(scored) > th.SemanticTopK {
		scored = scored[:th.SemanticTopK]
	}
	return scored
}

// keywordBest 按字段加权计分，返回得分最高的单个条目。
func keywordBest(query string, entries []model.KnowledgeEntry) (model.ScoredEntry, bool) {
	var tokens []string
	for _, w := range lexicon.Words(lexicon.Normalize(query)) {
		if utf8.RuneCountInString(w) >= keywordMinRunes {
			tokens = append(tokens, w)
		}
	}
	if len(tokens) == 0 {
		return model.ScoredEntry{}, false
	}

	var best model.ScoredEntry
	found := false
	for _, e := range entries {
		title := lexicon.Normalize(e.Title)
		summary := lexicon.Normalize(e.Summary)
		transcript := lexicon.Normalize(e.Transcript)
		topics := lexicon.Normalize(strings.Join(e.Topics, " | "))

		score := 0
		for _, tok := range tokens {
			if strings.Contains(title, tok) {
				score += keywordTitleWeight
			}
			if strings.Contains(topics, tok) {
				score += keywordTopicWeight
			}
			if strings.Contains(summary, tok) {
				score += keywordSummaryWeight
			}
			if strings.Contains(transcript, tok) {
				score += keywordTranscriptWeight
			}
		}
		if score > 0 && (!found || float64(score) > best.Score) {
			e.Embedding, e.EmbeddingHash = nil, ""
			best = model.ScoredEntry{Entry: e, Score: float64(score)}
			found = true
		}
	}
	return best, found
}

// candidates 读取知识库并去掉与用户性别冲突的条目。读取失败按空知识库处理。
func (s *knowledgeService) candidates(ctx context.Context, gender string) []model.KnowledgeEntry {
	entries, err := s.repo.List(ctx)
	if err != nil {
		s.metrics.ObserveStoreError("knowledge")
		log.Errorf("[KnowledgeService] 读取知识库失败，按空知识库处理: %v", err)
		return nil
	}
	out := make([]model.KnowledgeEntry, 0, len(entries))
	for _, e := range entries {
		if !s.conflictsWithGender(e, gender) {
			out = append(out, e)
		}
	}
	return out
}

// conflictsWithGender 判断条目是否明确面向另一性别。
func (s *knowledgeService) conflictsWithGender(e model.KnowledgeEntry, gender string) bool {
	text := lexicon.Normalize(e.Title + " " + e.Summary + " " + strings.Join(e.Topics, " "))
	switch model.NormalizeGender(gender) {
	case model.GenderMale:
		return s.lex.Gender.FemaleOnly.Match(text)
	case model.GenderFemale:
		return s.lex.Gender.MaleOnly.Match(text)
	}
	return false
}

func (s *knowledgeService) generate(ctx context.Context, q KnowledgeQuery, instructions string, gen *llm.GenerationParams) (string, error) {
	msgs := []llm.Message{{Role: "system", Content: s.personaPrompt(q) + "\n\n" + instructions}}
	history := q.History
	if n := s.assistant.PromptHistory; n > 0 && len(history) > n {
		history = history[len(history)-n:]
	}
	for _, m := range history {
		if strings.TrimSpace(m.Content) == "" || (m.Role != model.RoleUser && m.Role != model.RoleAssistant) {
			continue
		}
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: q.Query})

	if gen == nil {
		gen = &llm.GenerationParams{}
	}
	if gen.MaxTokens == nil && s.generation.MaxTokens > 0 {
		maxTokens := s.generation.MaxTokens
		gen.MaxTokens = &maxTokens
	}
	return s.llmClient.GenerateMessages(ctx, msgs, gen)
}

// personaPrompt 汇总人设、语言、用户画像、语气、行为记忆和订阅深度。
func (s *knowledgeService) personaPrompt(q KnowledgeQuery) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a warm and knowledgeable fitness and wellness coach of the %s online course platform.\n",
		s.assistant.PersonaName, s.assistant.PlatformName)
	b.WriteString(q.Lang.Pick(
		"Always answer in Uzbek (Latin script).\n",
		"Always answer in Russian.\n",
	))
	b.WriteString("Never diagnose or prescribe treatment; suggest a doctor for medical questions.\n")

	u := q.User
	u.Gender = model.NormalizeGender(u.Gender)
	var facts []string
	if u.FirstName != "" {
		facts = append(facts, "name: "+u.FirstName)
	}
	if u.Gender != "" {
		facts = append(facts, "gender: "+u.Gender)
	}
	if u.Age > 0 {
		facts = append(facts, fmt.Sprintf("age: %d", u.Age))
	}
	if u.HealthIssues != "" {
		facts = append(facts, "health notes: "+u.HealthIssues)
	}
	if u.IsPregnant {
		facts = append(facts, "pregnant: yes (only gentle, doctor-approved activity)")
	}
	if len(facts) > 0 {
		b.WriteString("User profile: " + strings.Join(facts, "; ") + ".\n")
	}
	if q.Tone != "" {
		b.WriteString("Tone: " + q.Tone + "\n")
	}
	if q.MemoryContext != "" {
		b.WriteString(q.MemoryContext + "\n")
	}

	if u.IsSubscribed {
		course := u.SubscribedCourseName
		if course == "" {
			course = "their course"
		}
		b.WriteString(fmt.Sprintf("The user is a subscriber of %q. Give a deep, practical, course-specific answer", course))
		switch u.Gender {
		case model.GenderMale:
			b.WriteString(" and only refer to lessons of the men's track")
		case model.GenderFemale:
			b.WriteString(" and only refer to lessons of the women's track")
		}
		b.WriteString(".")
	} else {
		fmt.Fprintf(&b, "The user is not subscribed yet. Keep the answer short (2-4 sentences) and end with an invitation to subscribe or to contact %s.",
			s.assistant.ContactHandle)
	}
	return b.String()
}

func (s *knowledgeService) groundedInstructions(matches []model.ScoredEntry) string {
	var b strings.Builder
	b.WriteString("Answer the user's question using ONLY the facts in the lessons below. ")
	b.WriteString("Do not invent facts that are not in them. Reply in 3-6 sentences and stay in character.\n")
	for i, m := range matches {
		fmt.Fprintf(&b, "[%d] %s: %s\n", i+1, m.Entry.Title, m.Entry.Summary)
	}
	return b.String()
}

func (s *knowledgeService) freeformInstructions() string {
	return "No lesson from the knowledge base matches this question. Still give a helpful, safe, best-effort answer " +
		"in your coach persona. Never say that nothing was found or that you have no information."
}

func summaryReply(e model.KnowledgeEntry, lang model.Lang) string {
	return fmt.Sprintf(lang.Pick("📘 «%s» darsidan: %s", "📘 Из урока «%s»: %s"), e.Title, e.Summary)
}

func (s *knowledgeService) apology(lang model.Lang) string {
	return fmt.Sprintf(lang.Pick(
		"Kechirasiz, hozir javob bera olmayapman. Iltimos, birozdan so'ng qayta urinib ko'ring yoki bizga yozing: %s",
		"Извините, сейчас не получается ответить. Попробуйте чуть позже или напишите нам: %s",
	), s.assistant.ContactHandle)
}

// cosineSimilarity 计算余弦相似度，长度不一致或零向量时返回 0。
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
