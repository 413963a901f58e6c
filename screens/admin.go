package screens

import (
	"net/http"
	"strings"

	"bantahserver/feed"
	"bantahserver/middlewares"
	"bantahserver/models"
	"bantahserver/realtime"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AdminChallengeRequest は管理者のベッティングプール作成リクエスト
type AdminChallengeRequest struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	Category     string `json:"category"`
	Amount       string `json:"amount"`
	PaymentToken string `json:"paymentToken"`
	DueDate      string `json:"dueDate"`
	IsPinned     bool   `json:"isPinned"`
}

func (h *Handlers) CreateAdminChallenge(c *gin.Context) {
	user, _ := middlewares.CurrentUser(c)

	var req AdminChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Please enter a challenge title"})
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	dueDate, err := parseDueDate(strings.TrimSpace(req.DueDate))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	ch := &models.Challenge{
		Title:         title,
		Description:   optional(req.Description),
		Category:      optional(strings.ToLower(req.Category)),
		Status:        models.StatusOpen,
		ChallengeType: models.ChallengeTypeAdmin,
		Amount:        amount,
		PaymentToken:  strings.TrimSpace(req.PaymentToken),
		DueDate:       dueDate,
		AdminCreated:  true,
		IsPinned:      req.IsPinned,
		CreatorID:     &user.ID,
	}
	if err := h.store.CreateChallenge(c.Request.Context(), ch); err != nil {
		h.storeError(c, err, "Failed to create challenge")
		return
	}
	h.logger.Info("Admin challenge created", zap.Uint("challengeID", ch.ID), zap.String("adminID", user.ID))

	h.respondCreated(c, ch, user)
}

type pinRequest struct {
	Pinned bool `json:"isPinned"`
}

func (h *Handlers) PinChallenge(c *gin.Context) {
	id, ok := challengeID(c)
	if !ok {
		return
	}
	var req pinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}

	ch, err := h.store.SetPinned(c.Request.Context(), id, req.Pinned)
	if err != nil {
		h.storeError(c, err, "Failed to update challenge")
		return
	}
	h.updated(c, ch, "challenge_pinned")
}

type resolveRequest struct {
	Result string `json:"result"`
}

// ResolveChallenge は結果を記録してチャレンジを完了にする
func (h *Handlers) ResolveChallenge(c *gin.Context) {
	id, ok := challengeID(c)
	if !ok {
		return
	}
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Result) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Result is required"})
		return
	}

	ch, err := h.store.ResolveChallenge(c.Request.Context(), id, strings.TrimSpace(req.Result))
	if err != nil {
		h.storeError(c, err, "Failed to resolve challenge")
		return
	}
	h.logger.Info("Challenge resolved", zap.Uint("challengeID", id), zap.String("result", ch.Result))
	h.updated(c, ch, "challenge_resolved")
}

func (h *Handlers) updated(c *gin.Context, ch *models.Challenge, eventType string) {
	view := feed.Normalize(*ch)
	h.publish(c.Request.Context(), realtime.NewEvent(realtime.EventChallengeUpdated, eventType, view.ID, middlewares.CurrentUserID(c), view))
	c.JSON(http.StatusOK, view)
}
