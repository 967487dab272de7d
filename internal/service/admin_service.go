package service

import (
	"context"
	"errors"
	"strings"

	"fitcoach-go/internal/model"
	"fitcoach-go/internal/repository"
)

// ErrScopeRequired 表示查询归档时没有指定会话范围。
var ErrScopeRequired = errors.New("scope key is required")

const (
	defaultTurnPageSize = 50
	maxTurnPageSize     = 200
)

// AdminService 接口定义了运营后台的只读查询。
type AdminService interface {
	// ListTurns 返回某个会话范围内最近归档的轮次，新的在前。
	ListTurns(ctx context.Context, scopeKey string, limit int) ([]model.ConversationTurn, error)
	// UserMemory 返回用户的行为记忆，便于排查个性化效果。
	UserMemory(ctx context.Context, userID string) (model.BehaviorMemory, error)
}

// adminService 是 AdminService 接口的实现。
type adminService struct {
	archiveRepo repository.TurnArchiveRepository
	memory      BehaviorMemoryService
}

// NewAdminService 创建一个新的 AdminService 实例。
func NewAdminService(archiveRepo repository.TurnArchiveRepository, memory BehaviorMemoryService) AdminService {
	return &adminService{archiveRepo: archiveRepo, memory: memory}
}

func (s *adminService) ListTurns(ctx context.Context, scopeKey string, limit int) ([]model.ConversationTurn, error) {
	scopeKey = strings.TrimSpace(scopeKey)
	if scopeKey == "" {
		return nil, ErrScopeRequired
	}
	if limit <= 0 {
		limit = defaultTurnPageSize
	}
	if limit > maxTurnPageSize {
		limit = maxTurnPageSize
	}
	return s.archiveRepo.FindByScope(ctx, scopeKey, limit)
}

func (s *adminService) UserMemory(ctx context.Context, userID string) (model.BehaviorMemory, error) {
	return s.memory.Load(ctx, userID)
}
