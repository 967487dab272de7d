package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fitcoach-go/internal/lexicon"
	"fitcoach-go/internal/model"
	"fitcoach-go/internal/repository"
)

const (
	goalMaxRunes      = 100
	painPointMaxRunes = 80
	complaintMaxRunes = 80
)

// 偏好练习时间的取值。
const (
	PreferredMorning = "morning"
	PreferredEvening = "evening"
)

// BehaviorMemoryService 定义了行为记忆的读取、合并与渲染。
type BehaviorMemoryService interface {
	Load(ctx context.Context, userID string) (model.BehaviorMemory, error)
	Save(ctx context.Context, userID string, mem model.BehaviorMemory) error
	// ExtractUpdates 只根据本条消息和已有记忆计算新记忆，不修改 current。
	ExtractUpdates(message string, current model.BehaviorMemory, state model.EmotionalState, now time.Time) model.BehaviorMemory
	MemoryContext(mem model.BehaviorMemory) string
}

type behaviorMemoryService struct {
	repo repository.BehaviorMemoryRepository
	lex  *lexicon.Lexicon
}

// NewBehaviorMemoryService 创建一个新的 BehaviorMemoryService 实例。
func NewBehaviorMemoryService(repo repository.BehaviorMemoryRepository, lex *lexicon.Lexicon) BehaviorMemoryService {
	return &behaviorMemoryService{repo: repo, lex: lex}
}

func (s *behaviorMemoryService) Load(ctx context.Context, userID string) (model.BehaviorMemory, error) {
	if userID == "" {
		return model.BehaviorMemory{}, fmt.Errorf("behavior memory requires a user id")
	}
	return s.repo.Load(ctx, userID)
}

func (s *behaviorMemoryService) Save(ctx context.Context, userID string, mem model.BehaviorMemory) error {
	if userID == "" {
		return fmt.Errorf("behavior memory requires a user id")
	}
	return s.repo.Save(ctx, userID, mem)
}

func (s *behaviorMemoryService) ExtractUpdates(message string, current model.BehaviorMemory, state model.EmotionalState, now time.Time) model.BehaviorMemory {
	mem := current.Clone()
	raw := strings.TrimSpace(message)
	text := lexicon.Normalize(raw)

	if raw != "" {
		if s.lex.IsGoal(text) {
			mem.Goals = appendBounded(mem.Goals, truncateRunes(raw, goalMaxRunes), model.MaxGoals)
		}
		if s.lex.IsPainPoint(text) {
			mem.PainPoints = appendBounded(mem.PainPoints, truncateRunes(raw, painPointMaxRunes), model.MaxPainPoints)
		}
		if s.lex.IsComplaint(text) {
			mem.Complaints = appendBounded(mem.Complaints, truncateRunes(raw, complaintMaxRunes), model.MaxComplaints)
		}
		switch {
		case s.lex.Memory.Morning.Match(text):
			mem.PreferredTime = PreferredMorning
		case s.lex.Memory.Evening.Match(text):
			mem.PreferredTime = PreferredEvening
		}
	}

	mem.EmotionalHistory = append(mem.EmotionalHistory, model.EmotionSnapshot{State: state, Timestamp: now})
	if n := len(mem.EmotionalHistory); n > model.MaxEmotionalHistory {
		mem.EmotionalHistory = mem.EmotionalHistory[n-model.MaxEmotionalHistory:]
	}
	mem.UpdatedAt = now
	return mem
}

// MemoryContext 把记忆渲染成可注入 prompt 的短文本，没有任何内容时返回空串。
func (s *behaviorMemoryService) MemoryContext(mem model.BehaviorMemory) string {
	var lines []string
	if len(mem.Goals) > 0 {
		lines = append(lines, "- Goals: "+strings.Join(lastN(mem.Goals, 3), "; "))
	}
	if len(mem.PainPoints) > 0 {
		lines = append(lines, "- Pain points: "+strings.Join(lastN(mem.PainPoints, 3), "; "))
	}
	if len(mem.Complaints) > 0 {
		lines = append(lines, "- Complaints: "+strings.Join(lastN(mem.Complaints, 2), "; "))
	}
	if mem.PreferredTime != "" {
		lines = append(lines, "- Preferred practice time: "+mem.PreferredTime)
	}
	if len(mem.FavoriteTopics) > 0 {
		lines = append(lines, "- Favorite topics: "+strings.Join(mem.FavoriteTopics, ", "))
	}
	if n := len(mem.EmotionalHistory); n > 0 {
		start := n - 3
		if start < 0 {
			start = 0
		}
		var trend []string
		for _, snap := range mem.EmotionalHistory[start:] {
			trend = append(trend, string(snap.State))
		}
		lines = append(lines, "- Emotional trend: "+strings.Join(trend, " → "))
	}
	if len(lines) == 0 {
		return ""
	}
	return "What we know about this user:\n" + strings.Join(lines, "\n")
}

// addFavoriteTopics 记录命中过的知识条目标题，去重并保留最近 5 个。
func addFavoriteTopics(mem *model.BehaviorMemory, titles ...string) {
	for _, t := range titles {
		if t = strings.TrimSpace(t); t != "" {
			mem.FavoriteTopics = appendBounded(mem.FavoriteTopics, t, model.MaxFavoriteTopics)
		}
	}
}

// appendBounded 追加不重复的元素，超过上限时丢弃最旧的。
func appendBounded(list []string, item string, max int) []string {
	key := lexicon.Normalize(item)
	for _, existing := range list {
		if lexicon.Normalize(existing) == key {
			return list
		}
	}
	list = append(list, item)
	if len(list) > max {
		list = list[len(list)-max:]
	}
	return list
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max]))
}

func lastN(list []string, n int) []string {
	if len(list) <= n {
		return list
	}
	return list[len(list)-n:]
}
