package handler

import (
	"errors"
	"net/http"
	"strconv"

	"fitcoach-go/internal/model"
	"fitcoach-go/internal/service"
	"fitcoach-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// AdminHandler 处理运营后台的查询请求。
type AdminHandler struct {
	adminService service.AdminService
}

// NewAdminHandler 创建一个新的 AdminHandler。
func NewAdminHandler(adminService service.AdminService) *AdminHandler {
	return &AdminHandler{adminService: adminService}
}

// ListTurns 查询某个会话范围内的归档轮次，scope 形如 user:42 或 session:xxx。
func (h *AdminHandler) ListTurns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	turns, err := h.adminService.ListTurns(c.Request.Context(), c.Query("scope"), limit)
	if err != nil {
		if errors.Is(err, service.ErrScopeRequired) {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少 scope 参数", "data": nil})
			return
		}
		log.Errorf("[AdminHandler] 查询归档失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询归档失败", "data": nil})
		return
	}
	if turns == nil {
		turns = []model.ConversationTurn{}
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": turns})
}

// GetUserMemory 返回指定用户的行为记忆。
func (h *AdminHandler) GetUserMemory(c *gin.Context) {
	mem, err := h.adminService.UserMemory(c.Request.Context(), c.Param("userId"))
	if err != nil {
		log.Errorf("[AdminHandler] 获取行为记忆失败, user: %s, error: %v", c.Param("userId"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取行为记忆失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": mem})
}
