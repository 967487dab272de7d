// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"fitcoach-go/pkg/token"

	"github.com/gin-gonic/gin"
)

const (
	claimsKey    = "claims"
	bearerPrefix = "Bearer "
	// SessionHeader 携带匿名访客的会话 ID。
	SessionHeader = "X-Session-ID"
)

// OptionalAuthMiddleware 在请求带有 Authorization 头时校验 JWT 并把 claims 存入上下文。
// 没有授权头的请求作为匿名访客放行，授权头无效时返回 401。
func OptionalAuthMiddleware(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Next()
			return
		}
		claims, ok := verifyBearer(c, jwtManager, authHeader)
		if !ok {
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// AuthMiddleware 要求请求携带有效的 JWT。
func AuthMiddleware(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "请求未包含授权头", "data": nil})
			return
		}
		claims, ok := verifyBearer(c, jwtManager, authHeader)
		if !ok {
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

func verifyBearer(c *gin.Context, jwtManager *token.JWTManager, authHeader string) (*token.CustomClaims, bool) {
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的授权头格式", "data": nil})
		return nil, false
	}
	claims, err := jwtManager.VerifyToken(strings.TrimPrefix(authHeader, bearerPrefix))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效或已过期的 token", "data": nil})
		return nil, false
	}
	return claims, true
}

// ClaimsFrom 返回认证中间件存入的 claims，匿名请求返回 false。
func ClaimsFrom(c *gin.Context) (*token.CustomClaims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*token.CustomClaims)
	return claims, ok
}
