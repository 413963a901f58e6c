package screens

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"bantahserver/database"
	"bantahserver/middlewares"
	"bantahserver/models"
	"bantahserver/realtime"
	"bantahserver/telegram"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const announceTimeout = 10 * time.Second

// Store はハンドラが使う永続化操作
type Store interface {
	database.UserStore
	database.UserDirectory
	database.ChallengeStore
	ApplyReferral(ctx context.Context, userID, code string) error
}

// Announcer は新しいチャレンジを外部に告知する
type Announcer interface {
	Broadcast(ctx context.Context, msg telegram.ChallengeMessage) bool
}

// Handlers はチャレンジAPIのハンドラ群
type Handlers struct {
	store     Store
	events    realtime.Publisher
	announcer Announcer
	hub       *realtime.Hub
	logger    *zap.Logger
	now       func() time.Time
}

// NewHandlers wires the API. announcer and hub may be nil.
func NewHandlers(store Store, events realtime.Publisher, announcer Announcer, hub *realtime.Hub, logger *zap.Logger) *Handlers {
	return &Handlers{
		store:     store,
		events:    events,
		announcer: announcer,
		hub:       hub,
		logger:    logger,
		now:       time.Now,
	}
}

// RegisterRoutes はAPIルートを登録する
func (h *Handlers) RegisterRoutes(r gin.IRouter, authn *middlewares.Authenticator) {
	required := authn.IdentityAuth()
	public := authn.OptionalAuth()

	api := r.Group("/api")
	{
		api.GET("/challenges/public", public, h.ListChallenges)
		api.GET("/challenges", required, h.ListChallenges)
		api.POST("/challenges/create-p2p", required, h.CreateP2PChallenge)
		api.GET("/challenges/:id", public, h.GetChallenge)
		api.POST("/challenges/:id/accept", required, h.AcceptChallenge)
		api.POST("/challenges/:id/join", required, h.JoinChallenge)
		api.GET("/challenges/:id/messages", public, h.ListMessages)
		api.POST("/challenges/:id/messages", required, h.PostMessage)

		api.GET("/users", required, h.ListUsers)
		api.GET("/auth/user", required, h.GetAuthUser)
		api.POST("/referrals/apply", required, h.ApplyReferral)
	}

	admin := api.Group("/admin", required, middlewares.AdminOnly())
	{
		admin.POST("/challenges", h.CreateAdminChallenge)
		admin.PUT("/challenges/:id/pin", h.PinChallenge)
		admin.PUT("/challenges/:id/resolve", h.ResolveChallenge)
	}

	if h.hub != nil {
		r.GET("/ws", public, func(c *gin.Context) {
			h.hub.ServeWS(c.Writer, c.Request, middlewares.CurrentUserID(c))
		})
	}
}

func challengeID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid challenge ID"})
		return 0, false
	}
	return uint(id), true
}

// storeError はストアのエラーをHTTPステータスに対応付けて返す
func (h *Handlers) storeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "Challenge not found"})
	case errors.Is(err, database.ErrNotJoinable),
		errors.Is(err, database.ErrOwnChallenge),
		errors.Is(err, database.ErrNotAcceptable),
		errors.Is(err, database.ErrNotResolvable),
		errors.Is(err, database.ErrInvalidReferral):
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
	case errors.Is(err, database.ErrAlreadyJoined),
		errors.Is(err, database.ErrAlreadyReferred):
		c.JSON(http.StatusConflict, gin.H{"message": err.Error()})
	default:
		h.logger.Error(fallback, zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": fallback})
	}
}

// publish はリアルタイムイベントを送る。失敗してもリクエストは成功させる
func (h *Handlers) publish(ctx context.Context, event realtime.Event) {
	if h.events == nil {
		return
	}
	if err := h.events.Publish(ctx, event); err != nil {
		h.logger.Warn("Failed to publish realtime event", zap.String("event", event.Name), zap.Error(err))
	}
}

// announce はTelegram告知をバックグラウンドで送る
func (h *Handlers) announce(ch *models.Challenge, creatorUsername string) {
	if h.announcer == nil {
		return
	}
	msg := telegram.NewChallengeMessage(ch, creatorUsername, h.now())
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), announceTimeout)
		defer cancel()
		h.announcer.Broadcast(ctx, msg)
	}()
}
