// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"kbqa-go/internal/model"
	"kbqa-go/internal/service"
	"kbqa-go/pkg/log"
	"kbqa-go/pkg/token"
)

// ContextUserKey 是认证通过后 User 对象在 gin.Context 中的键。
const ContextUserKey = "user"

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// 它会从请求头中提取 token，验证其有效性，并将完整的 User 对象存入 Gin 的上下文中。
func AuthMiddleware(jwtManager *token.JWTManager, userService service.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "请求未包含授权头")
			return
		}

		// Token 以 "Bearer <token>" 的形式提供
		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			abortUnauthorized(c, "无效的授权头格式")
			return
		}
		tokenString := strings.TrimPrefix(authHeader, bearerPrefix)

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			abortUnauthorized(c, "无效或已过期的 token")
			return
		}

		// 用户可能已被删除或停用
		user, err := userService.GetProfile(c.Request.Context(), claims.Username)
		if err != nil || !user.IsActive {
			log.Warnf("[Auth] token 对应的用户不可用, username: %s", claims.Username)
			abortUnauthorized(c, "用户不存在")
			return
		}

		c.Set(ContextUserKey, user)
		c.Set("claims", claims)
		c.Next()
	}
}

// CurrentUser 返回认证中间件写入的用户，未认证时返回 nil。
func CurrentUser(c *gin.Context) *model.User {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return nil
	}
	user, _ := v.(*model.User)
	return user
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": message, "data": nil})
}
