package handler

import (
	"errors"
	"net/http"
	"strconv"

	"fitcoach-go/internal/model"
	"fitcoach-go/internal/repository"
	"fitcoach-go/internal/service"
	"fitcoach-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// KnowledgeHandler 处理知识库管理相关的请求。
type KnowledgeHandler struct {
	service service.KnowledgeAdminService
}

// NewKnowledgeHandler 创建一个新的 KnowledgeHandler。
func NewKnowledgeHandler(service service.KnowledgeAdminService) *KnowledgeHandler {
	return &KnowledgeHandler{service: service}
}

// ListEntries 返回全部知识条目（不含向量）。
func (h *KnowledgeHandler) ListEntries(c *gin.Context) {
	entries, err := h.service.List(c.Request.Context())
	if err != nil {
		h.fail(c, "获取知识库失败", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": entries})
}

// GetEntry 返回单个知识条目。
func (h *KnowledgeHandler) GetEntry(c *gin.Context) {
	entry, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "获取知识条目失败", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": entry})
}

// UpsertEntry 新增或替换知识条目。PUT /:id 以路径中的 ID 为准，POST 使用请求体中的 ID。
func (h *KnowledgeHandler) UpsertEntry(c *gin.Context) {
	var entry model.KnowledgeEntry
	if err := c.ShouldBindJSON(&entry); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "请求参数错误", "data": nil})
		return
	}
	if id := c.Param("id"); id != "" {
		entry.ID = id
	}
	saved, err := h.service.Upsert(c.Request.Context(), entry)
	if err != nil {
		h.fail(c, "保存知识条目失败", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "保存成功", "data": saved})
}

// DeleteEntry 删除知识条目。
func (h *KnowledgeHandler) DeleteEntry(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, "删除知识条目失败", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "删除成功", "data": nil})
}

// Search 通过 Elasticsearch 镜像索引做全文检索。
func (h *KnowledgeHandler) Search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少检索关键词", "data": nil})
		return
	}
	size, _ := strconv.Atoi(c.Query("size"))
	hits, err := h.service.Search(c.Request.Context(), query, size)
	if err != nil {
		h.fail(c, "检索失败", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": hits})
}

// Reindex 把全部条目重新写入检索索引。
func (h *KnowledgeHandler) Reindex(c *gin.Context) {
	n, err := h.service.Reindex(c.Request.Context())
	if err != nil {
		h.fail(c, "重建索引失败", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"indexed": n}})
}

func (h *KnowledgeHandler) fail(c *gin.Context, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, repository.ErrEntryNotFound):
		status = http.StatusNotFound
	case errors.Is(err, repository.ErrInvalidEntry):
		status = http.StatusBadRequest
	case errors.Is(err, repository.ErrCorruptKnowledgeBase):
		status = http.StatusConflict
	case errors.Is(err, service.ErrSearchUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		log.Errorf("[KnowledgeHandler] %s: %v", message, err)
	}
	c.JSON(status, gin.H{"code": status, "message": message + ": " + err.Error(), "data": nil})
}
