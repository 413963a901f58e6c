package screens

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"bantahserver/database"
	"bantahserver/feed"
	"bantahserver/middlewares"
	"bantahserver/models"
	"bantahserver/realtime"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ListChallenges はフィードを検索・カテゴリ・タブで絞り込み、優先度順に返す
func (h *Handlers) ListChallenges(c *gin.Context) {
	userID := middlewares.CurrentUserID(c)

	stored, err := h.store.ListChallenges(c.Request.Context())
	if err != nil {
		h.storeError(c, err, "Failed to fetch challenges")
		return
	}

	query := feed.Query{
		Search:   strings.TrimSpace(c.Query("search")),
		Category: c.DefaultQuery("category", feed.CategoryAll),
		Tab:      feed.Tab(c.DefaultQuery("status", string(feed.TabAll))),
	}
	ranked := feed.Rank(feed.Filter(feed.NormalizeAll(stored), query), userID)

	sections := feed.Split(ranked, userID)
	counts := sections.Counts()
	selected := feed.ResolveTab(feed.HomeTab(c.DefaultQuery("tab", string(feed.DefaultHomeTab))), userID, counts)

	c.JSON(http.StatusOK, gin.H{
		"challenges":  ranked,
		"sections":    sections,
		"counts":      counts,
		"selectedTab": selected,
		"total":       len(ranked),
	})
}

func (h *Handlers) GetChallenge(c *gin.Context) {
	id, ok := challengeID(c)
	if !ok {
		return
	}
	ch, err := h.store.GetChallenge(c.Request.Context(), id)
	if err != nil {
		h.storeError(c, err, "Failed to fetch challenge")
		return
	}
	c.JSON(http.StatusOK, feed.Normalize(*ch))
}

// CreateP2PRequest はフォームまたはJSONで送られるP2Pチャレンジ作成リクエスト
type CreateP2PRequest struct {
	OpponentID      string `form:"opponentId" json:"opponentId"`
	Title           string `form:"title" json:"title"`
	Description     string `form:"description" json:"description"`
	Category        string `form:"category" json:"category"`
	StakeAmount     string `form:"stakeAmount" json:"stakeAmount"`
	PaymentToken    string `form:"paymentToken" json:"paymentToken"`
	DueDate         string `form:"dueDate" json:"dueDate"`
	MetadataURI     string `form:"metadataURI" json:"metadataURI"`
	ChallengeType   string `form:"challengeType" json:"challengeType"`
	TransactionHash string `form:"transactionHash" json:"transactionHash"`
	Side            string `form:"side" json:"side"`
}

type validationError string

func (e validationError) Error() string { return string(e) }

// datetime-local 形式と日付のみも受け付ける
var dueDateLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"}

func parseDueDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range dueDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, validationError("Invalid due date")
}

func parseAmount(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil || !amount.IsPositive() {
		return decimal.Zero, validationError("Please enter a valid amount")
	}
	return amount, nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// validateCreateP2P はリクエストを検証し、保存するチャレンジを組み立てる
func validateCreateP2P(req CreateP2PRequest, userID string, now time.Time) (*models.Challenge, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, validationError("Please enter a challenge title")
	}
	amount, err := parseAmount(req.StakeAmount)
	if err != nil {
		return nil, err
	}

	challengeType := req.ChallengeType
	if challengeType == "" {
		challengeType = models.ChallengeTypeOpen
	}
	if challengeType != models.ChallengeTypeOpen && challengeType != models.ChallengeTypeDirect {
		return nil, validationError("Invalid challenge type")
	}

	opponentID := strings.TrimSpace(req.OpponentID)
	if challengeType == models.ChallengeTypeDirect {
		if opponentID == "" {
			return nil, validationError("Please select an opponent for direct challenges")
		}
		if opponentID == userID {
			return nil, validationError("You cannot challenge yourself")
		}
	}
	if strings.TrimSpace(req.TransactionHash) == "" {
		return nil, validationError("Transaction hash is required")
	}

	dueDate, err := parseDueDate(strings.TrimSpace(req.DueDate))
	if err != nil {
		return nil, err
	}
	if dueDate != nil && !dueDate.After(now) {
		return nil, validationError("Due date must be in the future")
	}

	side := strings.ToUpper(strings.TrimSpace(req.Side))
	if side == "" {
		side = "YES"
	}

	ch := &models.Challenge{
		Title:           title,
		Description:     optional(req.Description),
		Category:        optional(strings.ToLower(req.Category)),
		Status:          models.StatusOpen,
		ChallengeType:   challengeType,
		Amount:          amount,
		PaymentToken:    strings.TrimSpace(req.PaymentToken),
		Side:            side,
		DueDate:         dueDate,
		TransactionHash: strings.TrimSpace(req.TransactionHash),
		MetadataURI:     strings.TrimSpace(req.MetadataURI),
		ChallengerID:    &userID,
		CreatorID:       &userID,
	}
	if challengeType == models.ChallengeTypeDirect {
		ch.Status = models.StatusPending
		ch.ChallengedID = &opponentID
	}
	return ch, nil
}

// CreateP2PChallenge はオンチェーン取引済みのP2Pチャレンジを登録する
func (h *Handlers) CreateP2PChallenge(c *gin.Context) {
	user, _ := middlewares.CurrentUser(c)
	ctx := c.Request.Context()

	var req CreateP2PRequest
	if err := c.ShouldBind(&req); err != nil {
		h.logger.Warn("Request binding error", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}

	ch, err := validateCreateP2P(req, user.ID, h.now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	if ch.ChallengedID != nil {
		_, err := h.store.GetUser(ctx, *ch.ChallengedID)
		if errors.Is(err, database.ErrNotFound) {
			h.logger.Warn("Opponent not found", zap.String("opponentID", *ch.ChallengedID))
			c.JSON(http.StatusBadRequest, gin.H{"message": "Opponent not found"})
			return
		}
		if err != nil {
			h.storeError(c, err, "Failed to look up opponent")
			return
		}
	}

	if err := h.store.CreateChallenge(ctx, ch); err != nil {
		h.storeError(c, err, "Failed to create challenge")
		return
	}
	h.logger.Info("Challenge created",
		zap.Uint("challengeID", ch.ID), zap.String("type", ch.ChallengeType), zap.String("userID", user.ID))

	h.respondCreated(c, ch, user)
}

// respondCreated は作成済みチャレンジを読み直して返し、イベントと告知を送る
func (h *Handlers) respondCreated(c *gin.Context, ch *models.Challenge, user *models.AuthUser) {
	ctx := c.Request.Context()
	created, err := h.store.GetChallenge(ctx, ch.ID)
	if err != nil {
		h.logger.Warn("Failed to reload created challenge", zap.Uint("challengeID", ch.ID), zap.Error(err))
		created = ch
	}
	view := feed.Normalize(*created)

	h.publish(ctx, realtime.NewEvent(realtime.EventChallengeCreated, "challenge_created", view.ID, user.ID, view))
	h.announce(created, user.Username)

	c.JSON(http.StatusCreated, view)
}

// AcceptChallenge は指名されたユーザーが直接チャレンジを承諾する
func (h *Handlers) AcceptChallenge(c *gin.Context) {
	id, ok := challengeID(c)
	if !ok {
		return
	}
	user, _ := middlewares.CurrentUser(c)

	ch, err := h.store.AcceptChallenge(c.Request.Context(), id, user.ID)
	if err != nil {
		h.storeError(c, err, "Failed to accept challenge")
		return
	}
	view := feed.Normalize(*ch)
	h.publish(c.Request.Context(), realtime.NewEvent(realtime.EventChallengeUpdated, "challenge_accepted", id, user.ID, view))
	c.JSON(http.StatusOK, view)
}

// JoinRequest is the optional body of a join. Side and amount only matter
// for admin pools.
type JoinRequest struct {
	Side   string `json:"side"`
	Amount string `json:"amount"`
}

func (h *Handlers) JoinChallenge(c *gin.Context) {
	id, ok := challengeID(c)
	if !ok {
		return
	}
	user, _ := middlewares.CurrentUser(c)
	ctx := c.Request.Context()

	var req JoinRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
			return
		}
	}

	current, err := h.store.GetChallenge(ctx, id)
	if err != nil {
		h.storeError(c, err, "Failed to join challenge")
		return
	}

	side := strings.ToUpper(strings.TrimSpace(req.Side))
	amount := current.Amount
	if current.AdminCreated {
		if side != "YES" && side != "NO" {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Please choose a side"})
			return
		}
		if req.Amount != "" {
			if amount, err = parseAmount(req.Amount); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
				return
			}
		}
	}

	ch, err := h.store.JoinChallenge(ctx, id, user.ID, side, amount)
	if err != nil {
		h.storeError(c, err, "Failed to join challenge")
		return
	}
	h.logger.Info("Challenge joined", zap.Uint("challengeID", id), zap.String("userID", user.ID))

	view := feed.Normalize(*ch)
	h.publish(ctx, realtime.NewEvent(realtime.EventChallengeJoined, "challenge_joined", id, user.ID, view))
	c.JSON(http.StatusOK, view)
}
