package handler

import (
	"net/http"
	"strconv"

	"fitcoach-go/internal/middleware"
	"fitcoach-go/internal/model"
	"fitcoach-go/internal/service"
	"fitcoach-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ConversationHandler 处理与对话历史相关的 API 请求。
type ConversationHandler struct {
	service service.ConversationService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(service service.ConversationService) *ConversationHandler {
	return &ConversationHandler{service: service}
}

// GetConversations 返回当前用户（或匿名会话）最近的消息。
func (h *ConversationHandler) GetConversations(c *gin.Context) {
	uc := model.UserContext{SessionID: c.GetHeader(middleware.SessionHeader)}
	if claims, ok := middleware.ClaimsFrom(c); ok {
		uc.UserID = claims.UserID
	}
	scopeKey := uc.ScopeKey()
	if scopeKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少用户身份或会话 ID", "data": nil})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(service.DefaultHistoryLimit)))
	history, err := h.service.LoadRecent(c.Request.Context(), scopeKey, limit)
	if err != nil {
		log.Errorf("[ConversationHandler] 获取对话历史失败, scope: %s, error: %v", scopeKey, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "Failed to retrieve conversation history",
			"data":    nil,
		})
		return
	}
	if history == nil {
		history = []model.ConversationMessage{}
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    history,
	})
}
