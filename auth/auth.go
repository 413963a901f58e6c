package auth

import (
	"encoding/json"
	"errors"
	"fmt"

	jwt "github.com/dgrijalva/jwt-go"
)

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrMissingSubject = errors.New("token has no subject")
)

// LinkedAccount はプロバイダのトークンに含まれる連携アカウント
type LinkedAccount struct {
	Type             string      `json:"type"`
	TelegramUserID   json.Number `json:"telegram_user_id,omitempty"`
	TelegramUsername string      `json:"username,omitempty"`
}

// Claims は認証プロバイダのIDトークンのクレーム
type Claims struct {
	Email          string          `json:"email,omitempty"`
	Name           string          `json:"name,omitempty"`
	GivenName      string          `json:"given_name,omitempty"`
	FamilyName     string          `json:"family_name,omitempty"`
	Picture        string          `json:"picture,omitempty"`
	LinkedAccounts []LinkedAccount `json:"linked_accounts,omitempty"`
	jwt.StandardClaims
}

// Telegram は最初のTelegram連携アカウントを返す
func (c *Claims) Telegram() (LinkedAccount, bool) {
	for _, acc := range c.LinkedAccounts {
		if acc.Type == "telegram" && acc.TelegramUserID.String() != "" {
			return acc, true
		}
	}
	return LinkedAccount{}, false
}

// TokenVerifier はベアラートークンを検証してクレームを返す
type TokenVerifier interface {
	Verify(tokenString string) (*Claims, error)
}

// Verifier は ES256 の公開鍵・issuer・audience(アプリID)でトークンを検証する
type Verifier struct {
	key    interface{}
	appID  string
	issuer string
}

// NewVerifier はPEM形式の公開鍵からVerifierを作る
func NewVerifier(appID, issuer, publicKeyPEM string) (*Verifier, error) {
	key, err := jwt.ParseECPublicKeyFromPEM([]byte(publicKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("検証鍵の読み込みに失敗しました: %w", err)
	}
	return &Verifier{key: key, appID: appID, issuer: issuer}, nil
}

func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.key, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrInvalidToken)
	}
	if v.appID != "" && !claims.VerifyAudience(v.appID, true) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrInvalidToken)
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	return claims, nil
}
