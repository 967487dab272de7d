package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"fitcoach-go/internal/model"
	"fitcoach-go/pkg/log"
	"fitcoach-go/pkg/storage"
)

var (
	// ErrEntryNotFound 表示知识条目不存在。
	ErrEntryNotFound = errors.New("knowledge entry not found")
	// ErrCorruptKnowledgeBase 表示存储中的知识库文档无法解析，写操作会被拒绝以免覆盖原文件。
	ErrCorruptKnowledgeBase = errors.New("knowledge base document is malformed")
	// ErrInvalidEntry 表示条目缺少 ID 或标题。
	ErrInvalidEntry = errors.New("knowledge entry requires id and title")
)

// KnowledgeRepository 定义了知识库的读写接口。整个知识库持久化为一个带版本号的文档。
type KnowledgeRepository interface {
	// List 返回按 ID 排序的全部条目。文档格式错误时视为空知识库。
	List(ctx context.Context) ([]model.KnowledgeEntry, error)
	Get(ctx context.Context, id string) (model.KnowledgeEntry, error)
	// Upsert 新增或替换条目，并丢弃该条目已缓存的向量。
	Upsert(ctx context.Context, entry model.KnowledgeEntry) (model.KnowledgeEntry, error)
	Delete(ctx context.Context, id string) error
	// SaveEmbeddings 回写惰性计算出的向量。条目不存在或文本已变（摘要不一致）时跳过。
	SaveEmbeddings(ctx context.Context, vectors map[string]model.EntryEmbedding) error
	Version(ctx context.Context) (int, error)
}

type knowledgeRepository struct {
	store    storage.ObjectStore
	object   string
	cacheTTL time.Duration
	now      func() time.Time

	mu       sync.RWMutex
	cached   *model.KnowledgeBase
	loadedAt time.Time
}

// NewKnowledgeRepository 创建一个新的 KnowledgeRepository 实例。
// cacheTTL 控制进程内缓存多久后重新从对象存储读取，其他实例的写入最迟在该时间后可见。
func NewKnowledgeRepository(store storage.ObjectStore, object string, cacheTTL time.Duration) KnowledgeRepository {
	return &knowledgeRepository{
		store:    store,
		object:   object,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

func (r *knowledgeRepository) List(ctx context.Context) ([]model.KnowledgeEntry, error) {
	kb, err := r.read(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]model.KnowledgeEntry, 0, len(kb.Entries))
	for _, e := range kb.Entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

func (r *knowledgeRepository) Get(ctx context.Context, id string) (model.KnowledgeEntry, error) {
	kb, err := r.read(ctx)
	if err != nil {
		return model.KnowledgeEntry{}, err
	}
	e, ok := kb.Entries[id]
	if !ok {
		return model.KnowledgeEntry{}, ErrEntryNotFound
	}
	return e, nil
}

func (r *knowledgeRepository) Version(ctx context.Context) (int, error) {
	kb, err := r.read(ctx)
	if err != nil {
		return 0, err
	}
	return kb.Version, nil
}

func (r *knowledgeRepository) Upsert(ctx context.Context, entry model.KnowledgeEntry) (model.KnowledgeEntry, error) {
	entry.ID = strings.TrimSpace(entry.ID)
	entry.Title = strings.TrimSpace(entry.Title)
	if entry.ID == "" || entry.Title == "" {
		return model.KnowledgeEntry{}, ErrInvalidEntry
	}
	entry.Embedding = nil
	entry.EmbeddingHash = ""
	err := r.mutate(ctx, func(kb *model.KnowledgeBase) error {
		kb.Entries[entry.ID] = entry
		return nil
	})
	if err != nil {
		return model.KnowledgeEntry{}, err
	}
	return entry, nil
}

func (r *knowledgeRepository) Delete(ctx context.Context, id string) error {
	return r.mutate(ctx, func(kb *model.KnowledgeBase) error {
		if _, ok := kb.Entries[id]; !ok {
			return ErrEntryNotFound
		}
		delete(kb.Entries, id)
		return nil
	})
}

func (r *knowledgeRepository) SaveEmbeddings(ctx context.Context, vectors map[string]model.EntryEmbedding) error {
	if len(vectors) == 0 {
		return nil
	}
	return r.mutate(ctx, func(kb *model.KnowledgeBase) error {
		for id, emb := range vectors {
			e, ok := kb.Entries[id]
			if !ok || len(emb.Vector) == 0 {
				continue
			}
			if emb.TextHash != e.EmbeddingTextHash() {
				log.Infof("[KnowledgeRepo] 条目 %s 在向量计算期间已被修改，丢弃过期向量", id)
				continue
			}
			e.Embedding = emb.Vector
			e.EmbeddingHash = emb.TextHash
			kb.Entries[id] = e
		}
		return nil
	})
}

// read 优先使用未过期的缓存。
func (r *knowledgeRepository) read(ctx context.Context) (*model.KnowledgeBase, error) {
	r.mu.RLock()
	if r.cached != nil && r.now().Sub(r.loadedAt) < r.cacheTTL {
		kb := r.cached
		r.mu.RUnlock()
		return kb, nil
	}
	r.mu.RUnlock()

	kb, malformed, err := r.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if malformed {
		log.Warnf("[KnowledgeRepo] 知识库文档格式错误, 按空知识库处理, object: %s", r.object)
	}

	r.mu.Lock()
	r.cached = kb
	r.loadedAt = r.now()
	r.mu.Unlock()
	return kb, nil
}

func (r *knowledgeRepository) fetch(ctx context.Context) (*model.KnowledgeBase, bool, error) {
	empty := &model.KnowledgeBase{Entries: map[string]model.KnowledgeEntry{}}
	data, err := r.store.Get(ctx, r.object)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return empty, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read knowledge base: %w", err)
	}
	var kb model.KnowledgeBase
	if err := json.Unmarshal(data, &kb); err != nil {
		return empty, true, nil
	}
	if kb.Entries == nil {
		kb.Entries = map[string]model.KnowledgeEntry{}
	}
	return &kb, false, nil
}

// mutate 在进程内串行执行“读取-修改-写回”，每次写入版本号加一。
// 跨实例的并发写仍可能互相覆盖。
func (r *knowledgeRepository) mutate(ctx context.Context, fn func(kb *model.KnowledgeBase) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kb, malformed, err := r.fetch(ctx)
	if err != nil {
		return err
	}
	if malformed {
		return ErrCorruptKnowledgeBase
	}
	if err := fn(kb); err != nil {
		return err
	}
	kb.Version++
	kb.UpdatedAt = r.now()

	data, err := json.Marshal(kb)
	if err != nil {
		return fmt.Errorf("failed to marshal knowledge base: %w", err)
	}
	if err := r.store.Put(ctx, r.object, data, "application/json"); err != nil {
		return fmt.Errorf("failed to write knowledge base: %w", err)
	}
	r.cached = kb
	r.loadedAt = r.now()
	log.Infof("[KnowledgeRepo] 知识库已写入, version: %d, entries: %d", kb.Version, len(kb.Entries))
	return nil
}
