package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"fitcoach-go/internal/config"
	"fitcoach-go/internal/lexicon"
	"fitcoach-go/internal/model"
	"fitcoach-go/pkg/log"
	"fitcoach-go/pkg/metrics"
	"fitcoach-go/pkg/tasks"

	"github.com/google/uuid"
)

// ErrEmptyQuery 表示请求中没有可处理的文本。
var ErrEmptyQuery = errors.New("query must not be empty")

const (
	followUpMaxTokens  = 4
	followUpSnippetLen = 200
	recentStatesWindow = 3
	publishTimeout     = 5 * time.Second
)

// ChatService 定义了对话编排的入口：一条用户消息进，一条助手消息出。
type ChatService interface {
	Process(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error)
}

// TurnPublisher 发布已完成的对话轮次。
type TurnPublisher interface {
	PublishTurn(ctx context.Context, event tasks.TurnEvent) error
}

// ChatServiceDeps 汇总编排所需的全部协作者。Publisher、Metrics 和 Now 可以为空。
type ChatServiceDeps struct {
	Conversations ConversationService
	Memory        BehaviorMemoryService
	Knowledge     KnowledgeService
	Emotion       *EmotionDetector
	Churn         *ChurnScorer
	Sales         *SalesIntelligence
	Safety        *SafetyGuard
	Lexicon       *lexicon.Lexicon
	Publisher     TurnPublisher
	Metrics       *metrics.Metrics
	Assistant     config.AssistantConfig
	Now           func() time.Time
}

type chatService struct {
	ChatServiceDeps
	defaultLang model.Lang
	stages      []stage
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(deps ChatServiceDeps) ChatService {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &chatService{
		ChatServiceDeps: deps,
		defaultLang:     model.ParseLang(deps.Assistant.DefaultLang, model.LangUz),
	}
	s.stages = s.pipeline()
	return s
}

// turn 是单次请求在各阶段之间传递的状态。
type turn struct {
	query    string
	norm     string
	enriched string
	lang     model.Lang
	user     model.UserContext
	scopeKey string
	now      time.Time

	userMsg      model.ConversationMessage
	history      []model.ConversationMessage
	emotion      EmotionResult
	memory       model.BehaviorMemory
	memoryLoaded bool
	churn        *ChurnResult
}

// Process 按固定优先级执行各阶段，第一个命中的阶段产生回复。
func (s *chatService) Process(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	t := s.prepare(ctx, req, query)

	var (
		res  stageResult
		name string
	)
	for _, st := range s.stages {
		if r, ok := st.run(ctx, t); ok {
			res, name = r, st.name
			break
		}
	}
	log.Infof("[ChatService] scope: %s, 阶段: %s, 情绪: %s (%.2f)", t.scopeKey, name, t.emotion.State, t.emotion.Confidence)

	// 后续写入不随请求取消而中断
	return s.finish(context.WithoutCancel(ctx), t, res), nil
}

// prepare 完成前四步：保存用户消息、加载历史并识别情绪、加载记忆并评估流失风险、补全追问上下文。
func (s *chatService) prepare(ctx context.Context, req model.ChatRequest, query string) *turn {
	t := &turn{
		query: query,
		norm:  lexicon.Normalize(query),
		lang:  model.ParseLang(req.Lang, s.defaultLang),
		user:  req.UserContext,
		now:   s.Now(),
	}
	t.user.Gender = model.NormalizeGender(t.user.Gender)
	t.scopeKey = t.user.ScopeKey()
	if t.scopeKey == "" {
		t.scopeKey = "session:" + uuid.NewString()
	}

	t.userMsg = s.Conversations.Append(ctx, t.scopeKey, model.RoleUser, query, "", nil)
	t.history = s.loadHistory(ctx, t, req.ClientHistory)

	var subDaysLeft *int
	if t.user.IsSubscribed {
		subDaysLeft = t.user.SubscriptionDaysLeft
	}
	t.emotion = s.Emotion.Detect(EmotionInput{
		Message:              query,
		Recent:               recentUserMessages(t.history, ""),
		ActivityGapDays:      t.user.LastActivityDaysAgo,
		MoodScore:            t.user.LastMoodKPI,
		HourOfDay:            t.now.In(s.Assistant.Location()).Hour(),
		StreakDays:           t.user.StreakDays,
		SubscriptionDaysLeft: subDaysLeft,
	})

	if t.user.IsAuthenticated() {
		mem, err := s.Memory.Load(ctx, t.user.UserID)
		if err != nil {
			s.Metrics.ObserveStoreError("behavior_memory")
			log.Errorf("[ChatService] 加载行为记忆失败, user: %s, error: %v", t.user.UserID, err)
		} else {
			t.memory, t.memoryLoaded = mem, true
		}
		if t.user.IsSubscribed {
			res := s.Churn.Score(ChurnInput{
				WatchTimeThisWeek:    t.user.WatchTimeThisWeek,
				WatchTimeLastWeek:    t.user.WatchTimeLastWeek,
				DaysSinceLastSession: t.user.LastActivityDaysAgo,
				ChatMessagesThisWeek: t.user.ChatMessagesThisWeek,
				ChatMessagesLastWeek: t.user.ChatMessagesLastWeek,
				SubscriptionDaysLeft: t.user.SubscriptionDaysLeft,
				RecentStates:         recentStates(t.memory, t.emotion.State),
				DaysSinceLastLogin:   t.user.DaysSinceLastLogin,
				Lang:                 t.lang,
			})
			t.churn = &res
			s.Metrics.ObserveChurn(string(res.Level))
			log.Debugf("[ChatService] 流失评分: %.0f (%s), 因素: %v", res.Score, res.Level, res.Factors)
		}
	}

	t.enriched = s.enrich(t)
	return t
}

// loadHistory 返回本轮之前的消息。存储里没有记录时使用客户端携带的历史。
func (s *chatService) loadHistory(ctx context.Context, t *turn, client []model.ChatMessage) []model.ConversationMessage {
	stored, err := s.Conversations.LoadRecent(ctx, t.scopeKey, s.Assistant.HistoryLimit)
	if err != nil {
		s.Metrics.ObserveStoreError("conversation")
		log.Errorf("[ChatService] 加载对话历史失败, scope: %s, error: %v", t.scopeKey, err)
	}
	history := make([]model.ConversationMessage, 0, len(stored))
	for _, m := range stored {
		if m.ID != t.userMsg.ID {
			history = append(history, m)
		}
	}
	if len(history) > 0 || len(client) == 0 {
		return history
	}
	for _, m := range client {
		if m.Role != model.RoleUser && m.Role != model.RoleAssistant {
			continue
		}
		history = append(history, model.ConversationMessage{
			ScopeKey: t.scopeKey, Role: m.Role, Content: m.Content, CreatedAt: m.Timestamp,
		})
	}
	if limit := s.Assistant.HistoryLimit; limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}

// enrich 对简短的追问消息，在前面拼上上一条助手回复的片段。
func (s *chatService) enrich(t *turn) string {
	if len(lexicon.Words(t.norm)) > followUpMaxTokens || !s.Lexicon.Intents.FollowUp.Match(t.norm) {
		return t.query
	}
	for i := len(t.history) - 1; i >= 0; i-- {
		if m := t.history[i]; m.Role == model.RoleAssistant && strings.TrimSpace(m.Content) != "" {
			return truncateRunes(strings.TrimSpace(m.Content), followUpSnippetLen) + "\n\n" + t.query
		}
	}
	return t.query
}

// finish 追加挽留话术、保存助手消息与行为记忆、发布轮次事件。
func (s *chatService) finish(ctx context.Context, t *turn, res stageResult) *model.ChatResponse {
	retention := false
	if res.allowRetention && t.churn != nil && t.churn.Level != model.ChurnLow && t.churn.Message != "" {
		if s.retentionAllowed(t) {
			res.content += "\n\n" + t.churn.Message
			retention = true
			s.Metrics.ObserveRetention(string(t.churn.Level), "appended")
		} else {
			s.Metrics.ObserveRetention(string(t.churn.Level), "suppressed")
		}
	}

	meta := map[string]interface{}{
		model.MetaEmotionalState: string(t.emotion.State),
		model.MetaIsSafe:         res.isSafe,
		model.MetaRetention:      retention,
	}
	resp := &model.ChatResponse{
		Content: res.content,
		Role:    model.RoleAssistant,
		Metadata: model.ResponseMetadata{
			IsSafe:         res.isSafe,
			RequiresAccess: res.requiresAccess,
			Topic:          res.topic,
			EmotionalState: t.emotion.State,
		},
	}
	if t.churn != nil {
		meta[model.MetaChurnLevel] = string(t.churn.Level)
		resp.Metadata.ChurnLevel = t.churn.Level
	}
	assistantMsg := s.Conversations.Append(ctx, t.scopeKey, model.RoleAssistant, res.content, res.topic, meta)

	if t.memoryLoaded {
		mem := s.Memory.ExtractUpdates(t.query, t.memory, t.emotion.State, t.now)
		addFavoriteTopics(&mem, res.favoriteTopics...)
		advanceRetentionMarker(&mem, retention, t.churn, t.now)
		if err := s.Memory.Save(ctx, t.user.UserID, mem); err != nil {
			s.Metrics.ObserveStoreError("behavior_memory")
			log.Errorf("[ChatService] 保存行为记忆失败, user: %s, error: %v", t.user.UserID, err)
		}
	}

	s.Metrics.ObserveBranch(string(res.topic))
	s.publish(t, assistantMsg, resp, retention)
	return resp
}

// retentionAllowed 判断最近 N 条助手消息内是否已经发过挽留话术。
// 优先使用记忆中的标记，记忆不可用时回看历史消息的元数据。
func (s *chatService) retentionAllowed(t *turn) bool {
	window := s.Assistant.Thresholds.RetentionWindow
	if window <= 0 {
		window = config.DefaultThresholds().RetentionWindow
	}
	if t.memoryLoaded {
		m := t.memory.Retention
		return m.LastAt == nil || m.TurnsSince >= window
	}
	seen := 0
	for i := len(t.history) - 1; i >= 0 && seen < window; i-- {
		if t.history[i].Role != model.RoleAssistant {
			continue
		}
		if t.history[i].HasRetention() {
			return false
		}
		seen++
	}
	return true
}

func advanceRetentionMarker(mem *model.BehaviorMemory, appended bool, churn *ChurnResult, now time.Time) {
	switch {
	case appended:
		at := now
		mem.Retention = model.RetentionMarker{LastAt: &at, LastBand: churn.Level}
	case mem.Retention.LastAt != nil:
		mem.Retention.TurnsSince++
	}
}

// recentStates 取记忆中最近的情绪，加上本轮情绪，共 3 个。
func recentStates(mem model.BehaviorMemory, current model.EmotionalState) []model.EmotionalState {
	var out []model.EmotionalState
	hist := mem.EmotionalHistory
	if n := len(hist); n > recentStatesWindow-1 {
		hist = hist[n-(recentStatesWindow-1):]
	}
	for _, h := range hist {
		out = append(out, h.State)
	}
	return append(out, current)
}

func (s *chatService) publish(t *turn, assistantMsg model.ConversationMessage, resp *model.ChatResponse, retention bool) {
	if s.Publisher == nil {
		return
	}
	event := tasks.TurnEvent{
		TurnID:         assistantMsg.ID,
		ScopeKey:       t.scopeKey,
		UserID:         t.user.UserID,
		Question:       t.query,
		Answer:         resp.Content,
		Topic:          string(resp.Metadata.Topic),
		EmotionalState: string(resp.Metadata.EmotionalState),
		ChurnLevel:     string(resp.Metadata.ChurnLevel),
		IsSafe:         resp.Metadata.IsSafe,
		Retention:      retention,
		CreatedAt:      assistantMsg.CreatedAt,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := s.Publisher.PublishTurn(ctx, event); err != nil {
			log.Warnf("[ChatService] 发布对话轮次失败, turn: %s, error: %v", event.TurnID, err)
		}
	}()
}
