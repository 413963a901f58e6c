package middlewares

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"bantahserver/auth"
	"bantahserver/database"
	"bantahserver/models"
)

// 外部認証ユーザーのパスワード欄に入れる固定値
const providerPassword = "PRIVY_AUTH_USER"

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// provisionUser はトークンのクレームに対応するユーザーを取得または作成する
func provisionUser(ctx context.Context, users database.UserStore, claims *auth.Claims) (*models.User, error) {
	userID := claims.Subject

	user, err := users.GetUser(ctx, userID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	if user == nil {
		email := claims.Email
		if email == "" {
			email = userID + "@privy.user"
		}

		// 同じメールの既存アカウントはそのまま使う
		existing, err := users.GetUserByEmail(ctx, email)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, database.ErrNotFound) {
			return nil, err
		}

		user, err = users.UpsertUser(ctx, newProviderUser(userID, email, claims))
		if err != nil {
			return nil, err
		}
	}

	if tg, ok := claims.Telegram(); ok && user.TelegramID == "" {
		info := models.TelegramInfo{
			TelegramID:       tg.TelegramUserID.String(),
			TelegramUsername: tg.TelegramUsername,
			IsTelegramUser:   true,
		}
		if info.TelegramUsername == "" {
			info.TelegramUsername = "tg_" + info.TelegramID
		}
		user, err = users.UpdateUserTelegramInfo(ctx, user.ID, info)
		if err != nil {
			return nil, err
		}
	}
	return user, nil
}

func newProviderUser(userID, email string, claims *auth.Claims) *models.User {
	username := ""
	if claims.Email != "" {
		username = strings.SplitN(claims.Email, "@", 2)[0]
	}
	if username == "" {
		username = "user_" + lastN(userID, 8)
	}

	firstName := firstNonEmpty(claims.GivenName, claims.Name, initialsFromEmail(claims.Email), "User")
	lastName := firstNonEmpty(claims.FamilyName, "User")

	return &models.User{
		ID:              userID,
		Email:           email,
		Password:        providerPassword,
		Username:        username,
		FirstName:       firstName,
		LastName:        lastName,
		ProfileImageURL: claims.Picture,
	}
}

// initialsFromEmail は "ada.lovelace@x" → "AL"、"ada@x" → "AD"
func initialsFromEmail(email string) string {
	if email == "" {
		return ""
	}
	local := strings.SplitN(email, "@", 2)[0]
	var parts []string
	for _, p := range nonAlnum.Split(local, -1) {
		if p != "" {
			parts = append(parts, p)
		}
	}
	switch {
	case len(parts) >= 2:
		return strings.ToUpper(parts[0][:1] + parts[1][:1])
	case len(parts) == 1:
		return strings.ToUpper(parts[0][:min(2, len(parts[0]))])
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func lastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
