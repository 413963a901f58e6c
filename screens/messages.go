package screens

import (
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"bantahserver/feed"
	"bantahserver/middlewares"
	"bantahserver/models"
	"bantahserver/realtime"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxMessageLength = 1000

// MessageView はチャット1件のレスポンス
type MessageView struct {
	ID          uint       `json:"id"`
	ChallengeID uint       `json:"challengeId"`
	UserID      string     `json:"userId"`
	Message     string     `json:"message"`
	User        feed.Party `json:"user"`
	CreatedAt   time.Time  `json:"createdAt"`
}

func newMessageView(m models.ChallengeMessage, fallback *models.User) MessageView {
	author := m.User
	if author == nil {
		author = fallback
	}
	view := MessageView{
		ID:          m.ID,
		ChallengeID: m.ChallengeID,
		UserID:      m.UserID,
		Message:     m.Message,
		CreatedAt:   m.CreatedAt,
		User:        feed.Party{ID: m.UserID, DisplayName: "Anonymous"},
	}
	if author != nil {
		view.User = feed.Party{ID: author.ID, Username: author.Username, DisplayName: models.DisplayName(author)}
	}
	return view
}

func (h *Handlers) ListMessages(c *gin.Context) {
	id, ok := challengeID(c)
	if !ok {
		return
	}
	messages, err := h.store.ListMessages(c.Request.Context(), id)
	if err != nil {
		h.storeError(c, err, "Failed to fetch messages")
		return
	}

	views := make([]MessageView, 0, len(messages))
	for _, m := range messages {
		views = append(views, newMessageView(m, nil))
	}
	c.JSON(http.StatusOK, views)
}

type postMessageRequest struct {
	Message string `json:"message"`
}

// PostMessage はチャットを保存し new-message イベントを送る
func (h *Handlers) PostMessage(c *gin.Context) {
	id, ok := challengeID(c)
	if !ok {
		return
	}
	user, _ := middlewares.CurrentUser(c)
	ctx := c.Request.Context()

	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}
	text := strings.TrimSpace(req.Message)
	if text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Message cannot be empty"})
		return
	}
	if utf8.RuneCountInString(text) > maxMessageLength {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Message is too long"})
		return
	}

	msg := &models.ChallengeMessage{ChallengeID: id, UserID: user.ID, Message: text}
	if err := h.store.CreateMessage(ctx, msg); err != nil {
		h.storeError(c, err, "Failed to send message")
		return
	}

	author := &models.User{ID: user.ID, Username: user.Username, FirstName: user.FirstName, LastName: user.LastName}
	view := newMessageView(*msg, author)
	h.logger.Debug("Chat message stored", zap.Uint("challengeID", id), zap.String("userID", user.ID))

	h.publish(ctx, realtime.NewEvent(realtime.EventNewMessage, "challenge_message", id, user.ID, view))
	c.JSON(http.StatusCreated, view)
}
