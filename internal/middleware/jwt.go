package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/tduarte/cs2server/internal/config"
	"github.com/tduarte/cs2server/internal/model"
)

// 上下文中保存身份信息的键
const (
	ctxUserID   = "user_id"
	ctxUsername = "username"
	ctxRoleName = "role_name"
)

// AnonymousUser 是关闭认证时请求使用的用户名
const AnonymousUser = "anonymous"

// JWTClaims 自定义JWT载荷
type JWTClaims struct {
	jwt.RegisteredClaims
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	RoleName string `json:"role_name"`
}

// GenerateToken 生成JWT Token
func GenerateToken(user model.User, cfg *config.Config) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.JWTExpireTime)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    cfg.JWTIssuer,
			Subject:   user.Username,
		},
		UserID:   user.ID,
		Username: user.Username,
		RoleName: user.Role.Name,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.JWTSecret))
}

// ParseToken 解析并校验JWT Token
func ParseToken(tokenString string, cfg *config.Config) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(cfg.JWTSecret), nil
	}, jwt.WithIssuer(cfg.JWTIssuer))
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("无效的Token")
}

// TokenCookieName 登录后写入的Token Cookie名称
const TokenCookieName = "token"

// tokenFromRequest 从 Authorization 头、Cookie 或 token 查询参数中取出Token
// 浏览器的 WebSocket 和 EventSource 无法设置请求头，所以也接受查询参数
func tokenFromRequest(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if cookie, err := c.Cookie(TokenCookieName); err == nil && cookie != "" {
		return cookie
	}
	return c.Query("token")
}

// JWTAuth JWT认证中间件
// 认证关闭时所有请求都以管理员身份的匿名用户通过
func JWTAuth(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.AuthEnabled {
			setIdentity(c, 0, AnonymousUser, model.RoleAdmin)
			c.Next()
			return
		}

		tokenString := tokenFromRequest(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, model.ErrorResponse(http.StatusUnauthorized, "未授权: 缺少Token"))
			return
		}

		claims, err := ParseToken(tokenString, cfg)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, model.ErrorResponse(http.StatusUnauthorized, "未授权: "+err.Error()))
			return
		}

		setIdentity(c, claims.UserID, claims.Username, claims.RoleName)
		c.Next()
	}
}

func setIdentity(c *gin.Context, userID uint, username, roleName string) {
	c.Set(ctxUserID, userID)
	c.Set(ctxUsername, username)
	c.Set(ctxRoleName, roleName)
}

// GetCurrentUserID 从上下文中获取当前用户ID
func GetCurrentUserID(c *gin.Context) uint {
	return c.GetUint(ctxUserID)
}

// GetCurrentUsername 从上下文中获取当前用户名
func GetCurrentUsername(c *gin.Context) string {
	return c.GetString(ctxUsername)
}

// GetCurrentRole 从上下文中获取当前角色
func GetCurrentRole(c *gin.Context) string {
	return c.GetString(ctxRoleName)
}

// RefreshToken 为当前用户签发新的Token
func RefreshToken(c *gin.Context, cfg *config.Config) (string, error) {
	username := GetCurrentUsername(c)
	if username == "" {
		return "", errors.New("无法获取当前用户")
	}

	user := model.User{Username: username}
	user.ID = GetCurrentUserID(c)
	user.Role.Name = GetCurrentRole(c)
	return GenerateToken(user, cfg)
}
