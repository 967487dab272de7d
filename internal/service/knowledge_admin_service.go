package service

import (
	"context"
	"errors"
	"fmt"

	"fitcoach-go/internal/model"
	"fitcoach-go/internal/repository"
	"fitcoach-go/pkg/es"
	"fitcoach-go/pkg/log"
)

// ErrSearchUnavailable 表示没有配置 Elasticsearch 镜像索引。
var ErrSearchUnavailable = errors.New("knowledge search index is not configured")

// KnowledgeAdminService 定义了知识库的后台管理操作。
type KnowledgeAdminService interface {
	List(ctx context.Context) ([]model.KnowledgeEntry, error)
	Get(ctx context.Context, id string) (model.KnowledgeEntry, error)
	Upsert(ctx context.Context, entry model.KnowledgeEntry) (model.KnowledgeEntry, error)
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, query string, size int) ([]model.KnowledgeSearchHit, error)
	// Reindex 把全部条目重新写入检索索引，返回写入条数。
	Reindex(ctx context.Context) (int, error)
}

type knowledgeAdminService struct {
	repo  repository.KnowledgeRepository
	index es.KnowledgeIndex
}

// NewKnowledgeAdminService 创建一个新的 KnowledgeAdminService 实例。index 为 nil 时不做全文镜像。
func NewKnowledgeAdminService(repo repository.KnowledgeRepository, index es.KnowledgeIndex) KnowledgeAdminService {
	return &knowledgeAdminService{repo: repo, index: index}
}

func (s *knowledgeAdminService) List(ctx context.Context) ([]model.KnowledgeEntry, error) {
	entries, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Embedding, entries[i].EmbeddingHash = nil, ""
	}
	return entries, nil
}

func (s *knowledgeAdminService) Get(ctx context.Context, id string) (model.KnowledgeEntry, error) {
	e, err := s.repo.Get(ctx, id)
	if err != nil {
		return model.KnowledgeEntry{}, err
	}
	e.Embedding, e.EmbeddingHash = nil, ""
	return e, nil
}

// Upsert 写入条目（清除其缓存向量），再同步到检索索引。索引失败只记录日志。
func (s *knowledgeAdminService) Upsert(ctx context.Context, entry model.KnowledgeEntry) (model.KnowledgeEntry, error) {
	saved, err := s.repo.Upsert(ctx, entry)
	if err != nil {
		return model.KnowledgeEntry{}, err
	}
	log.Infof("[KnowledgeAdmin] 条目已保存: %s", saved.ID)
	if s.index != nil {
		if err := s.index.Index(ctx, toIndexDoc(saved)); err != nil {
			log.Errorf("[KnowledgeAdmin] 同步条目到 ES 失败, id: %s, error: %v", saved.ID, err)
		}
	}
	return saved, nil
}

func (s *knowledgeAdminService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	log.Infof("[KnowledgeAdmin] 条目已删除: %s", id)
	if s.index != nil {
		if err := s.index.Delete(ctx, id); err != nil {
			log.Errorf("[KnowledgeAdmin] 从 ES 删除条目失败, id: %s, error: %v", id, err)
		}
	}
	return nil
}

func (s *knowledgeAdminService) Search(ctx context.Context, query string, size int) ([]model.KnowledgeSearchHit, error) {
	if s.index == nil {
		return nil, ErrSearchUnavailable
	}
	if size <= 0 || size > 50 {
		size = 10
	}
	return s.index.Search(ctx, query, size)
}

func (s *knowledgeAdminService) Reindex(ctx context.Context) (int, error) {
	if s.index == nil {
		return 0, ErrSearchUnavailable
	}
	if err := s.index.EnsureIndex(ctx); err != nil {
		return 0, err
	}
	entries, err := s.repo.List(ctx)
	if err != nil {
		return 0, err
	}
	for i, e := range entries {
		if err := s.index.Index(ctx, toIndexDoc(e)); err != nil {
			return i, fmt.Errorf("failed to index entry %s: %w", e.ID, err)
		}
	}
	log.Infof("[KnowledgeAdmin] 重建索引完成, 共 %d 条", len(entries))
	return len(entries), nil
}

func toIndexDoc(e model.KnowledgeEntry) model.KnowledgeIndexDoc {
	return model.KnowledgeIndexDoc{
		EntryID:    e.ID,
		Title:      e.Title,
		Summary:    e.Summary,
		Topics:     e.Topics,
		Transcript: e.Transcript,
	}
}
