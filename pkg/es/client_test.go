package es

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"fitcoach-go/internal/config"
	"fitcoach-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type esCall struct {
	method string
	path   string
	body   string
}

// fakeES 模拟 Elasticsearch 的 HTTP 接口，按 method+path 前缀返回预设响应。
func fakeES(t *testing.T, handler func(c esCall) (int, string)) (*httptest.Server, *[]esCall) {
	t.Helper()
	var mu sync.Mutex
	calls := []esCall{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		c := esCall{method: r.Method, path: r.URL.Path, body: string(raw)}
		mu.Lock()
		calls = append(calls, c)
		mu.Unlock()
		status, body := handler(c)
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestIndex(t *testing.T, srv *httptest.Server) KnowledgeIndex {
	t.Helper()
	client, err := NewClient(config.ElasticsearchConfig{Addresses: srv.URL})
	require.NoError(t, err)
	return NewKnowledgeIndex(client, "course_knowledge")
}

func TestEnsureIndexCreatesWhenMissing(t *testing.T) {
	srv, calls := fakeES(t, func(c esCall) (int, string) {
		if c.method == http.MethodHead {
			return http.StatusNotFound, ""
		}
		return http.StatusOK, `{"acknowledged":true}`
	})
	idx := newTestIndex(t, srv)

	require.NoError(t, idx.EnsureIndex(context.Background()))
	require.Len(t, *calls, 2)
	assert.Equal(t, http.MethodPut, (*calls)[1].method)
	assert.Contains(t, (*calls)[1].body, `"entry_id"`)
}

func TestEnsureIndexSkipsExisting(t *testing.T) {
	srv, calls := fakeES(t, func(c esCall) (int, string) { return http.StatusOK, "" })
	idx := newTestIndex(t, srv)

	require.NoError(t, idx.EnsureIndex(context.Background()))
	assert.Len(t, *calls, 1)
}

func TestIndexAndDelete(t *testing.T) {
	srv, calls := fakeES(t, func(c esCall) (int, string) {
		if c.method == http.MethodDelete {
			return http.StatusNotFound, `{"result":"not_found"}`
		}
		return http.StatusCreated, `{"result":"created"}`
	})
	idx := newTestIndex(t, srv)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, model.KnowledgeIndexDoc{EntryID: "yoga-1", Title: "Yoga"}))
	require.NoError(t, idx.Delete(ctx, "missing"))

	require.Len(t, *calls, 2)
	assert.True(t, strings.HasSuffix((*calls)[0].path, "/course_knowledge/_doc/yoga-1"), (*calls)[0].path)
	var doc model.KnowledgeIndexDoc
	require.NoError(t, json.Unmarshal([]byte((*calls)[0].body), &doc))
	assert.Equal(t, "Yoga", doc.Title)
}

func TestIndexReportsErrors(t *testing.T) {
	srv, _ := fakeES(t, func(c esCall) (int, string) {
		return http.StatusBadRequest, `{"error":"mapper_parsing_exception"}`
	})
	idx := newTestIndex(t, srv)

	assert.Error(t, idx.Index(context.Background(), model.KnowledgeIndexDoc{EntryID: "x"}))
	assert.Error(t, idx.Delete(context.Background(), "x"))
}

func TestSearchParsesHits(t *testing.T) {
	srv, calls := fakeES(t, func(c esCall) (int, string) {
		return http.StatusOK, `{"hits":{"hits":[
			{"_score":3.2,"_source":{"entry_id":"back-1","title":"Bel uchun","summary":"Yengil cho'zilish"}},
			{"_score":1.1,"_source":{"entry_id":"yoga-1","title":"Yoga","summary":"Ertalabki"}}
		]}}`
	})
	idx := newTestIndex(t, srv)

	hits, err := idx.Search(context.Background(), "bel", 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "back-1", hits[0].EntryID)
	assert.InDelta(t, 3.2, hits[0].Score, 1e-9)
	assert.Contains(t, (*calls)[0].body, `"multi_match"`)
	assert.Contains(t, (*calls)[0].body, `"size":5`)
}
