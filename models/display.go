package models

import (
	"strings"
)

const privyIDPrefix = "did:privy:"

// 既知のUSDCトークンアドレス（メインネットとテストネット）
var usdcAddresses = []string{
	"0x833589fCD6eDb6E08f4c7C32D4f71b3566dA8860",
	"0x1c7d4b196cb0c7b01d743fbc6116a792bf68cf5d",
}

// CurrencySymbol はトークンアドレスから表示用の通貨記号を返す
func CurrencySymbol(tokenAddress string) string {
	if tokenAddress == "" {
		return "$"
	}
	for _, addr := range usdcAddresses {
		if strings.EqualFold(tokenAddress, addr) {
			return "USDC"
		}
	}
	return "TOKEN"
}

// DisplayName はUIに表示するユーザー名を決める。
// username > 氏名 > プロバイダIDのウォレット部分 > 生のID > "Anonymous" の順
func DisplayName(u *User) string {
	if u == nil {
		return "Anonymous"
	}
	if u.Username != "" && !strings.HasPrefix(u.Username, privyIDPrefix) {
		return u.Username
	}
	if u.FirstName != "" {
		if u.LastName != "" {
			return u.FirstName + " " + u.LastName
		}
		return u.FirstName
	}
	if strings.HasPrefix(u.ID, privyIDPrefix) {
		parts := strings.Split(u.ID, ":")
		if len(parts) >= 3 {
			return shortenID(parts[2])
		}
	}
	if u.ID != "" && !strings.HasPrefix(u.ID, privyIDPrefix) {
		return shortenID(u.ID)
	}
	return "Anonymous"
}

func shortenID(id string) string {
	if strings.HasPrefix(id, "0x") && len(id) > 10 {
		return id[:6] + "..." + id[len(id)-4:]
	}
	if len(id) > 8 {
		return id[:8] + "..."
	}
	return id
}
