package middleware

import (
	"net/http"
	"strings"

	"findout-affiliate/internal/model"
	auth "findout-affiliate/pkg/jwt"

	"github.com/gin-gonic/gin"
)

// 上下文中的用户信息键
const (
	ContextUserID   = "user_id"
	ContextUsername = "username"
	ContextRole     = "role"
)

// AuthMiddleware 要求请求携带有效的 Bearer 令牌
func AuthMiddleware(jwtManager *auth.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, status, msg := parseBearer(c, jwtManager)
		if claims == nil {
			c.JSON(status, gin.H{"error": msg})
			c.Abort()
			return
		}
		setClaims(c, claims)
		c.Next()
	}
}

// OptionalAuth 有令牌时解析用户信息，没有或无效时按匿名请求处理
func OptionalAuth(jwtManager *auth.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims, _, _ := parseBearer(c, jwtManager); claims != nil {
			setClaims(c, claims)
		}
		c.Next()
	}
}

// AdminMiddleware 管理员权限中间件
func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get(ContextRole)
		if !exists || role != model.RoleAdmin {
			c.JSON(http.StatusForbidden, gin.H{"error": "需要管理员权限"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// CurrentUserID 返回当前请求的用户 ID，匿名请求返回空串
func CurrentUserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

func parseBearer(c *gin.Context, jwtManager *auth.TokenManager) (*auth.Claims, int, string) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return nil, http.StatusUnauthorized, "缺少认证令牌"
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, http.StatusUnauthorized, "认证格式错误"
	}

	claims, err := jwtManager.ValidateToken(parts[1])
	if err != nil {
		return nil, http.StatusUnauthorized, "无效的认证令牌"
	}
	return claims, http.StatusOK, ""
}

func setClaims(c *gin.Context, claims *auth.Claims) {
	c.Set(ContextUserID, claims.UserID)
	c.Set(ContextUsername, claims.Username)
	c.Set(ContextRole, claims.Role)
}
