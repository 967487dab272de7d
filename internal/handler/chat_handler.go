// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"fitcoach-go/internal/middleware"
	"fitcoach-go/internal/model"
	"fitcoach-go/internal/service"
	"fitcoach-go/pkg/log"
	"fitcoach-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// ChatHandler 负责对话入口，同时提供 HTTP 和 WebSocket 两种接入方式。
type ChatHandler struct {
	chatService service.ChatService
	jwtManager  *token.JWTManager
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{chatService: chatService, jwtManager: jwtManager}
}

// SendMessage 处理一条对话消息并同步返回回复。
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "请求参数错误", "data": nil})
		return
	}

	var userID string
	if claims, ok := middleware.ClaimsFrom(c); ok {
		userID = claims.UserID
	}
	sessionID := resolveSession(c.GetHeader(middleware.SessionHeader), req.UserContext.SessionID)
	bindIdentity(&req.UserContext, userID, sessionID)
	if !req.UserContext.IsAuthenticated() {
		c.Header(middleware.SessionHeader, sessionID)
	}

	resp, err := h.chatService.Process(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrEmptyQuery) {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "消息内容不能为空", "data": nil})
			return
		}
		log.Errorf("[ChatHandler] 处理消息失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "服务暂时不可用，请稍后重试", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": resp})
}

// wsFrame 是 WebSocket 下行消息。
type wsFrame struct {
	Type      string              `json:"type"`
	Data      *model.ChatResponse `json:"data,omitempty"`
	Message   string              `json:"message,omitempty"`
	Timestamp int64               `json:"timestamp"`
}

// Handle 处理一个 WebSocket 连接。登录用户通过 token 查询参数认证，匿名访客可带 session 参数续接会话。
// 每条上行消息可以是 ChatRequest JSON，也可以是纯文本问题。
func (h *ChatHandler) Handle(c *gin.Context) {
	var userID string
	if tok := c.Query("token"); tok != "" {
		claims, err := h.jwtManager.VerifyToken(tok)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
			return
		}
		userID = claims.UserID
	}
	sessionID := resolveSession(c.Query("session"), "")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("[ChatHandler] WebSocket 连接已建立, user: %q, session: %s", userID, sessionID)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("[ChatHandler] 从 WebSocket 读取消息失败: %v", err)
			}
			return
		}

		req := parseFrame(message)
		bindIdentity(&req.UserContext, userID, sessionID)

		frame := wsFrame{Type: "response", Timestamp: time.Now().UnixMilli()}
		resp, err := h.chatService.Process(c.Request.Context(), req)
		switch {
		case errors.Is(err, service.ErrEmptyQuery):
			frame.Type, frame.Message = "error", "消息内容不能为空"
		case err != nil:
			log.Errorf("[ChatHandler] 处理 WebSocket 消息失败: %v", err)
			frame.Type, frame.Message = "error", "服务暂时不可用，请稍后重试"
		default:
			frame.Data = resp
		}
		if err := conn.WriteJSON(frame); err != nil {
			log.Warnf("[ChatHandler] 写入 WebSocket 失败: %v", err)
			return
		}
	}
}

// parseFrame 解析上行消息，非 JSON 的内容按纯文本问题处理。
func parseFrame(message []byte) model.ChatRequest {
	var req model.ChatRequest
	trimmed := strings.TrimSpace(string(message))
	if strings.HasPrefix(trimmed, "{") && json.Unmarshal(message, &req) == nil {
		return req
	}
	return model.ChatRequest{Query: trimmed}
}

// bindIdentity 以认证结果覆盖请求体中的身份字段，未登录时不能冒用 userId。
func bindIdentity(uc *model.UserContext, userID, sessionID string) {
	uc.UserID = userID
	uc.SessionID = sessionID
}

func resolveSession(candidates ...string) string {
	for _, s := range candidates {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return uuid.NewString()
}
