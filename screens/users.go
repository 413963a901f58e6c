package screens

import (
	"net/http"
	"strings"

	"bantahserver/database"
	"bantahserver/middlewares"
	"bantahserver/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// UserResponse は /api/auth/user のレスポンス
type UserResponse struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	Username         string `json:"username"`
	FirstName        string `json:"firstName"`
	LastName         string `json:"lastName"`
	DisplayName      string `json:"displayName"`
	ProfileImageURL  string `json:"profileImageUrl,omitempty"`
	IsAdmin          bool   `json:"isAdmin"`
	TelegramUsername string `json:"telegramUsername,omitempty"`
	IsTelegramUser   bool   `json:"isTelegramUser"`
	ReferralCode     string `json:"referralCode,omitempty"`
	ReferredBy       string `json:"referredBy,omitempty"`
}

func newUserResponse(u *models.User) UserResponse {
	return UserResponse{
		ID:               u.ID,
		Email:            u.Email,
		Username:         u.Username,
		FirstName:        u.FirstName,
		LastName:         u.LastName,
		DisplayName:      models.DisplayName(u),
		ProfileImageURL:  u.ProfileImageURL,
		IsAdmin:          u.IsAdmin,
		TelegramUsername: u.TelegramUsername,
		IsTelegramUser:   u.IsTelegramUser,
		ReferralCode:     u.ReferralCode,
		ReferredBy:       u.ReferredBy,
	}
}

func (h *Handlers) GetAuthUser(c *gin.Context) {
	authUser, _ := middlewares.CurrentUser(c)

	user, err := h.store.GetUser(c.Request.Context(), authUser.ID)
	if err != nil {
		h.logger.Error("Failed to fetch user", zap.String("userID", authUser.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to fetch user"})
		return
	}
	c.JSON(http.StatusOK, newUserResponse(user))
}

// クライアントは referralCode で送る。code も受け付ける
type referralRequest struct {
	ReferralCode string `json:"referralCode" form:"referralCode"`
	Code         string `json:"code" form:"code"`
}

// ApplyReferral は紹介コードを一度だけ適用する
func (h *Handlers) ApplyReferral(c *gin.Context) {
	user, _ := middlewares.CurrentUser(c)

	var req referralRequest
	err := c.ShouldBind(&req)
	code := strings.ToUpper(strings.TrimSpace(firstNonEmpty(req.ReferralCode, req.Code)))
	if err != nil || code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Referral code is required"})
		return
	}

	if err := h.store.ApplyReferral(c.Request.Context(), user.ID, code); err != nil {
		h.storeError(c, err, "Failed to apply referral code")
		return
	}
	h.logger.Info("Referral applied", zap.String("userID", user.ID), zap.String("code", code))
	c.JSON(http.StatusOK, gin.H{"message": "Referral code applied"})
}

const userDirectoryLimit = 50

// DirectoryUser は相手選択用の公開プロフィール
type DirectoryUser struct {
	ID                   string `json:"id"`
	Username             string `json:"username"`
	FirstName            string `json:"firstName"`
	LastName             string `json:"lastName"`
	DisplayName          string `json:"displayName"`
	ProfileImageURL      string `json:"profileImageUrl,omitempty"`
	PrimaryWalletAddress string `json:"primaryWalletAddress,omitempty"`
}

// ListUsers は直接チャレンジの相手候補を返す。管理者と本人は含めない
func (h *Handlers) ListUsers(c *gin.Context) {
	users, err := h.store.ListUsers(c.Request.Context(), database.UserQuery{
		ExcludeID: middlewares.CurrentUserID(c),
		Search:    c.Query("search"),
		Limit:     userDirectoryLimit,
	})
	if err != nil {
		h.storeError(c, err, "Failed to fetch users")
		return
	}

	resp := make([]DirectoryUser, 0, len(users))
	for i := range users {
		u := &users[i]
		resp = append(resp, DirectoryUser{
			ID:                   u.ID,
			Username:             u.Username,
			FirstName:            u.FirstName,
			LastName:             u.LastName,
			DisplayName:          models.DisplayName(u),
			ProfileImageURL:      u.ProfileImageURL,
			PrimaryWalletAddress: u.PrimaryWalletAddress,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
