// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"fitcoach-go/internal/config"
	"fitcoach-go/internal/model"
	"fitcoach-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// 知识条目全文索引的 mapping。乌兹别克语和俄语都使用 standard 分词器。
const knowledgeMapping = `{
	"mappings": {
		"properties": {
			"entry_id":   { "type": "keyword" },
			"title":      { "type": "text", "analyzer": "standard" },
			"summary":    { "type": "text", "analyzer": "standard" },
			"topics":     { "type": "text", "analyzer": "standard", "fields": { "raw": { "type": "keyword" } } },
			"transcript": { "type": "text", "analyzer": "standard" }
		}
	}
}`

// NewClient 初始化 Elasticsearch 客户端
func NewClient(esCfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	return elasticsearch.NewClient(cfg)
}

// KnowledgeIndex 是知识条目在 Elasticsearch 中的全文镜像，仅用于后台检索。
type KnowledgeIndex interface {
	EnsureIndex(ctx context.Context) error
	Index(ctx context.Context, doc model.KnowledgeIndexDoc) error
	Delete(ctx context.Context, entryID string) error
	Search(ctx context.Context, query string, size int) ([]model.KnowledgeSearchHit, error)
}

type knowledgeIndex struct {
	client    *elasticsearch.Client
	indexName string
}

// NewKnowledgeIndex 创建一个新的 KnowledgeIndex 实例。
func NewKnowledgeIndex(client *elasticsearch.Client, indexName string) KnowledgeIndex {
	return &knowledgeIndex{client: client, indexName: indexName}
}

// EnsureIndex 检查索引是否存在，如果不存在则创建它
func (k *knowledgeIndex) EnsureIndex(ctx context.Context) error {
	res, err := k.client.Indices.Exists([]string{k.indexName}, k.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", k.indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	res, err = k.client.Indices.Create(
		k.indexName,
		k.client.Indices.Create.WithContext(ctx),
		k.client.Indices.Create.WithBody(strings.NewReader(knowledgeMapping)),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", k.indexName, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", k.indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}
	log.Infof("索引 '%s' 创建成功", k.indexName)
	return nil
}

// Index 将单个知识条目写入索引，已存在时覆盖。
func (k *knowledgeIndex) Index(ctx context.Context, doc model.KnowledgeIndexDoc) error {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	req := esapi.IndexRequest{
		Index:      k.indexName,
		DocumentID: doc.EntryID,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, k.client)
	if err != nil {
		return fmt.Errorf("failed to index knowledge entry: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("索引知识条目到 Elasticsearch 出错: %s", res.String())
		return fmt.Errorf("failed to index knowledge entry %s: %s", doc.EntryID, res.Status())
	}
	return nil
}

// Delete 删除索引中的条目，条目不存在视为成功。
func (k *knowledgeIndex) Delete(ctx context.Context, entryID string) error {
	req := esapi.DeleteRequest{
		Index:      k.indexName,
		DocumentID: entryID,
		Refresh:    "true",
	}
	res, err := req.Do(ctx, k.client)
	if err != nil {
		return fmt.Errorf("failed to delete knowledge entry: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("failed to delete knowledge entry %s: %s", entryID, res.Status())
	}
	return nil
}

// Search 在标题、摘要、主题和讲稿上做多字段全文检索。
func (k *knowledgeIndex) Search(ctx context.Context, query string, size int) ([]model.KnowledgeSearchHit, error) {
	if size <= 0 {
		size = 10
	}
	body := map[string]interface{}{
		"size": size,
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  query,
				"fields": []string{"title^3", "summary^2", "topics^2", "transcript"},
			},
		},
		"_source": []string{"entry_id", "title", "summary"},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("failed to encode search query: %w", err)
	}

	res, err := k.client.Search(
		k.client.Search.WithContext(ctx),
		k.client.Search.WithIndex(k.indexName),
		k.client.Search.WithBody(&buf),
	)
	if err != nil {
		log.Errorf("[KnowledgeIndex] 向 Elasticsearch 发送搜索请求失败: %v", err)
		return nil, fmt.Errorf("failed to search knowledge index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("[KnowledgeIndex] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, fmt.Errorf("knowledge search returned %s", res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Score  float64                 `json:"_score"`
				Source model.KnowledgeIndexDoc `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	hits := make([]model.KnowledgeSearchHit, 0, len(esResponse.Hits.Hits))
	for _, h := range esResponse.Hits.Hits {
		hits = append(hits, model.KnowledgeSearchHit{
			EntryID: h.Source.EntryID,
			Title:   h.Source.Title,
			Summary: h.Source.Summary,
			Score:   h.Score,
		})
	}
	return hits, nil
}
