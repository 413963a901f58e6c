package models

import (
	"time"
)

// User モデルの定義。IDは認証プロバイダが発行する識別子（例: did:privy:xxxx）
type User struct {
	ID                   string `gorm:"primaryKey"`
	Email                string `gorm:"uniqueIndex;not null"`
	Password             string
	Username             string `gorm:"index"`
	FirstName            string
	LastName             string
	ProfileImageURL      string
	PrimaryWalletAddress string `gorm:"index"`
	IsAdmin              bool   `gorm:"default:false"`
	TelegramID           string `gorm:"index"`
	TelegramUsername     string
	IsTelegramUser       bool   `gorm:"default:false"`
	ReferralCode         string `gorm:"uniqueIndex"`
	ReferredBy           string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// TelegramInfo はプロバイダのlinked accountから取り込むTelegram情報
type TelegramInfo struct {
	TelegramID       string
	TelegramUsername string
	IsTelegramUser   bool
}

// AuthUser はリクエストコンテキストに載せる正規化済みユーザー
type AuthUser struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	FirstName string     `json:"firstName"`
	LastName  string     `json:"lastName"`
	Username  string     `json:"username"`
	IsAdmin   bool       `json:"isAdmin"`
	Claims    AuthClaims `json:"claims"`
}

type AuthClaims struct {
	Sub       string `json:"sub"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// NewAuthUser はDBのユーザーからAuthUserを組み立てる
func NewAuthUser(u *User) AuthUser {
	return AuthUser{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Username:  u.Username,
		IsAdmin:   u.IsAdmin,
		Claims: AuthClaims{
			Sub:       u.ID,
			Email:     u.Email,
			FirstName: u.FirstName,
			LastName:  u.LastName,
		},
	}
}
