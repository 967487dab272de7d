// Package model 定义了与存储结构对应的 Go 结构体。
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// KnowledgeEntry 是知识库中的一个主题条目，通常对应一节课程。
type KnowledgeEntry struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Summary    string    `json:"summary"`
	Topics     []string  `json:"topics"`
	Transcript string    `json:"transcript,omitempty"`
	Embedding  []float32 `json:"embedding,omitempty"` // 首次检索时惰性计算并回写
	// EmbeddingHash 是计算 Embedding 时 EmbeddingText 的摘要
	EmbeddingHash string `json:"embeddingHash,omitempty"`
}

// EmbeddingText 返回用于计算向量的文本：标题 + 摘要 + 主题。
func (e KnowledgeEntry) EmbeddingText() string {
	return strings.TrimSpace(e.Title + " " + e.Summary + " " + strings.Join(e.Topics, " "))
}

// EmbeddingTextHash 返回 EmbeddingText 的 SHA-256 十六进制摘要。
func (e KnowledgeEntry) EmbeddingTextHash() string {
	sum := sha256.Sum256([]byte(e.EmbeddingText()))
	return hex.EncodeToString(sum[:])
}

// HasFreshEmbedding 判断缓存的向量是否仍对应当前文本。没有摘要的旧向量按有效处理。
func (e KnowledgeEntry) HasFreshEmbedding() bool {
	if len(e.Embedding) == 0 {
		return false
	}
	return e.EmbeddingHash == "" || e.EmbeddingHash == e.EmbeddingTextHash()
}

// EntryEmbedding 是惰性计算出的条目向量，TextHash 记录计算时的文本摘要。
type EntryEmbedding struct {
	TextHash string
	Vector   []float32
}

// KnowledgeBase 是持久化为单个对象的知识库文档，每次写入 Version 加一。
type KnowledgeBase struct {
	Version   int                       `json:"version"`
	UpdatedAt time.Time                 `json:"updatedAt"`
	Entries   map[string]KnowledgeEntry `json:"entries"`
}

// ScoredEntry 是检索结果及其得分。
type ScoredEntry struct {
	Entry KnowledgeEntry `json:"entry"`
	Score float64        `json:"score"`
}

// KnowledgeIndexDoc 是写入 Elasticsearch 的知识条目，用于后台全文检索，不含向量。
type KnowledgeIndexDoc struct {
	EntryID    string   `json:"entry_id"`
	Title      string   `json:"title"`
	Summary    string   `json:"summary"`
	Topics     []string `json:"topics"`
	Transcript string   `json:"transcript"`
}

// KnowledgeSearchHit 是后台全文检索的单条命中。
type KnowledgeSearchHit struct {
	EntryID string  `json:"entryId"`
	Title   string  `json:"title"`
	Summary string  `json:"summary"`
	Score   float64 `json:"score"`
}
