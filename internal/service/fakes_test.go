package service

import (
	"context"
	"sort"
	"strings"
	"sync"

	"fitcoach-go/internal/model"
	"fitcoach-go/internal/repository"
	"fitcoach-go/pkg/llm"
	"fitcoach-go/pkg/storage"
	"fitcoach-go/pkg/tasks"
)

type fakeMemoryRepo struct {
	mu      sync.Mutex
	data    map[string]model.BehaviorMemory
	loadErr error
	saveErr error
	saves   int
}

func newFakeMemoryRepo() *fakeMemoryRepo {
	return &fakeMemoryRepo{data: map[string]model.BehaviorMemory{}}
}

func (r *fakeMemoryRepo) Load(_ context.Context, userID string) (model.BehaviorMemory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadErr != nil {
		return model.BehaviorMemory{}, r.loadErr
	}
	return r.data[userID].Clone(), nil
}

func (r *fakeMemoryRepo) Save(_ context.Context, userID string, mem model.BehaviorMemory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	if r.saveErr != nil {
		return r.saveErr
	}
	r.data[userID] = mem.Clone()
	return nil
}

func (r *fakeMemoryRepo) get(userID string) model.BehaviorMemory {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data[userID]
}

type fakeConversationRepo struct {
	mu        sync.Mutex
	messages  map[string][]model.ConversationMessage
	appendErr error
	loadErr   error
}

func newFakeConversationRepo() *fakeConversationRepo {
	return &fakeConversationRepo{messages: map[string][]model.ConversationMessage{}}
}

func (r *fakeConversationRepo) Append(_ context.Context, msg model.ConversationMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return r.appendErr
	}
	r.messages[msg.ScopeKey] = append(r.messages[msg.ScopeKey], msg)
	return nil
}

func (r *fakeConversationRepo) LoadRecent(_ context.Context, scopeKey string, limit int) ([]model.ConversationMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	msgs := r.messages[scopeKey]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]model.ConversationMessage(nil), msgs...), nil
}

func (r *fakeConversationRepo) assistantMessages(scopeKey string) []model.ConversationMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.ConversationMessage
	for _, m := range r.messages[scopeKey] {
		if m.Role == model.RoleAssistant {
			out = append(out, m)
		}
	}
	return out
}

// fakeLLM 记录每次调用的消息，err 非空时返回错误。
type fakeLLM struct {
	mu    sync.Mutex
	reply string
	err   error
	calls [][]llm.Message
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, gen *llm.GenerationParams) (string, error) {
	return f.GenerateMessages(ctx, []llm.Message{{Role: "user", Content: prompt}}, gen)
}

func (f *fakeLLM) GenerateMessages(_ context.Context, messages []llm.Message, _ *llm.GenerationParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, messages)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeLLM) lastSystemPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 || len(f.calls[len(f.calls)-1]) == 0 {
		return ""
	}
	return f.calls[len(f.calls)-1][0].Content
}

// fakeEmbedder 按文本返回预设向量，未配置的文本返回 fallback。
type fakeEmbedder struct {
	mu       sync.Mutex
	vectors  map[string][]float32
	fallback []float32
	err      error
	calls    []string
}

func (f *fakeEmbedder) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, text)
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return f.fallback, nil
}

type memObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemObjectStore() *memObjectStore {
	return &memObjectStore{objects: map[string][]byte{}}
}

func (s *memObjectStore) Get(_ context.Context, name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[name]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return data, nil
}

func (s *memObjectStore) Put(_ context.Context, name string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[name] = append([]byte(nil), data...)
	return nil
}

// stubKnowledgeRepo 是只读的内存知识库，SaveEmbeddings 回写到条目上。
type stubKnowledgeRepo struct {
	mu      sync.Mutex
	entries map[string]model.KnowledgeEntry
	listErr error
	saved   int
}

func newStubKnowledgeRepo(entries ...model.KnowledgeEntry) *stubKnowledgeRepo {
	r := &stubKnowledgeRepo{entries: map[string]model.KnowledgeEntry{}}
	for _, e := range entries {
		r.entries[e.ID] = e
	}
	return r
}

func (r *stubKnowledgeRepo) List(_ context.Context) ([]model.KnowledgeEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]model.KnowledgeEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *stubKnowledgeRepo) Get(_ context.Context, id string) (model.KnowledgeEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return model.KnowledgeEntry{}, repository.ErrEntryNotFound
	}
	return e, nil
}

func (r *stubKnowledgeRepo) Upsert(_ context.Context, entry model.KnowledgeEntry) (model.KnowledgeEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.Embedding, entry.EmbeddingHash = nil, ""
	r.entries[entry.ID] = entry
	return entry, nil
}

func (r *stubKnowledgeRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
	return nil
}

func (r *stubKnowledgeRepo) SaveEmbeddings(_ context.Context, vectors map[string]model.EntryEmbedding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved++
	for id, v := range vectors {
		if e, ok := r.entries[id]; ok && v.TextHash == e.EmbeddingTextHash() {
			e.Embedding, e.EmbeddingHash = v.Vector, v.TextHash
			r.entries[id] = e
		}
	}
	return nil
}

func (r *stubKnowledgeRepo) Version(_ context.Context) (int, error) {
	return 1, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []tasks.TurnEvent
	err    error
}

func (p *fakePublisher) PublishTurn(_ context.Context, event tasks.TurnEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *fakePublisher) published() []tasks.TurnEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]tasks.TurnEvent(nil), p.events...)
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
