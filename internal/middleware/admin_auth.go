package middleware

import (
	"net/http"

	"fitcoach-go/pkg/log"
	"fitcoach-go/pkg/token"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// AdminKeyHeader 携带管理密钥，服务端只保存它的 bcrypt 哈希。
const AdminKeyHeader = "X-Admin-Key"

// AdminAuthMiddleware 检查请求是否具有知识库管理权限。
// 通过 X-Admin-Key（与配置的 bcrypt 哈希比对）或 ADMIN 角色的 JWT 均可。
func AdminAuthMiddleware(jwtManager *token.JWTManager, keyHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader(AdminKeyHeader); key != "" {
			if keyHash == "" || bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(key)) != nil {
				log.Warnf("[AdminAuth] 管理密钥校验失败, ip: %s", c.ClientIP())
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的管理密钥", "data": nil})
				return
			}
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "请求未包含授权信息", "data": nil})
			return
		}
		claims, ok := verifyBearer(c, jwtManager, authHeader)
		if !ok {
			return
		}
		if claims.Role != token.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": http.StatusForbidden, "message": "权限不足，需要管理员权限", "data": nil})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}
