package middlewares

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"bantahserver/auth"
	"bantahserver/database"
	"bantahserver/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// UserKey はgin.Contextに載せる認証済みユーザーのキー
	UserKey = "user"
	// SessionCookie はセッションIDを保持するクッキー名
	SessionCookie = "sid"
)

var (
	errNoCredentials = errors.New("authorization header missing")
	errBadToken      = errors.New("invalid token or user ID not found")
)

// Authenticator は外部IDトークンをローカルユーザーに橋渡しする
type Authenticator struct {
	Verifier     auth.TokenVerifier
	Users        database.UserStore
	Sessions     database.SessionStore // nil ならセッションを使わない
	Logger       *zap.Logger
	SessionTTL   time.Duration
	CookieSecure bool
}

// IdentityAuth は認証必須のルート用ミドルウェア
func (a *Authenticator) IdentityAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := a.authenticate(c)
		switch {
		case err == nil:
			c.Set(UserKey, user)
			c.Next()
		case errors.Is(err, errNoCredentials):
			a.Logger.Warn("認証ヘッダーなし", zap.String("path", c.FullPath()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Authorization header missing"})
		case errors.Is(err, errBadToken):
			a.Logger.Warn("トークン検証に失敗", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Invalid token or user ID not found"})
		default:
			a.Logger.Error("Authentication error", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "Internal server error during authentication"})
		}
	}
}

// OptionalAuth はユーザーを解決できればセットし、失敗しても続行する
func (a *Authenticator) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := a.authenticate(c)
		if err == nil {
			c.Set(UserKey, user)
		} else if !errors.Is(err, errNoCredentials) && !errors.Is(err, errBadToken) {
			a.Logger.Error("Optional authentication failed", zap.Error(err))
		}
		c.Next()
	}
}

func (a *Authenticator) authenticate(c *gin.Context) (*models.AuthUser, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		user, err := a.sessionUser(c)
		if err != nil {
			return nil, err
		}
		if user != nil {
			return user, nil
		}
		return nil, errNoCredentials
	}

	tokenString := header
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && parts[0] == "Bearer" {
		tokenString = parts[1]
	}

	claims, err := a.Verifier.Verify(tokenString)
	if err != nil {
		return nil, errors.Join(errBadToken, err)
	}

	dbUser, err := provisionUser(c.Request.Context(), a.Users, claims)
	if err != nil {
		return nil, err
	}

	user := models.NewAuthUser(dbUser)
	a.issueSession(c, user)
	return &user, nil
}

// sessionSnapshot はクッキーのセッションに保存されたユーザーを返す
func (a *Authenticator) sessionSnapshot(c *gin.Context) *models.AuthUser {
	if a.Sessions == nil {
		return nil
	}
	sessionID, err := c.Cookie(SessionCookie)
	if err != nil || sessionID == "" {
		return nil
	}
	user, err := a.Sessions.Get(c.Request.Context(), sessionID)
	if err != nil {
		if !errors.Is(err, database.ErrSessionNotFound) {
			a.Logger.Warn("Failed to retrieve session info", zap.Error(err))
		}
		return nil
	}
	return user
}

// sessionUser はセッションのユーザーをDBから読み直す。権限の変更はすぐに反映される
func (a *Authenticator) sessionUser(c *gin.Context) (*models.AuthUser, error) {
	snapshot := a.sessionSnapshot(c)
	if snapshot == nil {
		return nil, nil
	}
	dbUser, err := a.Users.GetUser(c.Request.Context(), snapshot.ID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	user := models.NewAuthUser(dbUser)
	return &user, nil
}

// 有効なセッションクッキーがなければ発行する
func (a *Authenticator) issueSession(c *gin.Context, user models.AuthUser) {
	if a.Sessions == nil {
		return
	}
	if current := a.sessionSnapshot(c); current != nil && current.ID == user.ID {
		return
	}
	sessionID, err := a.Sessions.Create(c.Request.Context(), user)
	if err != nil {
		a.Logger.Error("Error storing session info in Redis", zap.Error(err))
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, sessionID, int(a.SessionTTL.Seconds()), "/", "", a.CookieSecure, true)
}

// AdminOnly は管理者以外を403で拒否する。IdentityAuthの後に置く
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Unauthorized"})
			return
		}
		if !user.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "Admin access required"})
			return
		}
		c.Next()
	}
}

// CurrentUser はコンテキストの認証済みユーザーを返す
func CurrentUser(c *gin.Context) (*models.AuthUser, bool) {
	v, ok := c.Get(UserKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*models.AuthUser)
	return user, ok && user != nil
}

// CurrentUserID は未ログインなら空文字を返す
func CurrentUserID(c *gin.Context) string {
	if user, ok := CurrentUser(c); ok {
		return user.ID
	}
	return ""
}
