package auth

import (
	"strings"

	"playdrive/pkg/response"

	"github.com/gin-gonic/gin"
)

const (
	ctxAccountID = "account_id"
	ctxUsername  = "username"
)

// Middleware 校验 Authorization: Bearer <token>，把账户ID写入上下文
func Middleware(j *JWT) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			response.Unauthorized(c, "缺少登录凭证")
			c.Abort()
			return
		}

		claims, err := j.ValidateToken(parts[1])
		if err != nil {
			response.Unauthorized(c, ErrInvalidToken.Error())
			c.Abort()
			return
		}

		c.Set(ctxAccountID, claims.Subject)
		c.Set(ctxUsername, claims.Username)
		c.Next()
	}
}

// AccountID 当前登录账户，只能在 Middleware 之后调用
func AccountID(c *gin.Context) string {
	return c.GetString(ctxAccountID)
}

func Username(c *gin.Context) string {
	return c.GetString(ctxUsername)
}
