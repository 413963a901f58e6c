package models

// Config 構造体はサーバー全体の設定情報を保持します。
type Config struct {
	DBHost     string `json:"db_host"`
	DBUser     string `json:"db_user"`
	DBPassword string `json:"db_password"`
	DBName     string `json:"db_name"`
	DBSSLMode  string `json:"db_sslmode"`

	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`

	ListenAddr     string   `json:"listen_addr"`
	AllowedOrigins []string `json:"allowed_origins"`
	AutoMigrate    bool     `json:"auto_migrate"`

	// 認証プロバイダ（Privy）の設定
	PrivyAppID           string `json:"privy_app_id"`
	PrivyVerificationKey string `json:"privy_verification_key"` // ES256公開鍵（PEM）
	PrivyIssuer          string `json:"privy_issuer"`

	SessionTTLHours int  `json:"session_ttl_hours"`
	CookieSecure    bool `json:"cookie_secure"`

	TelegramBotToken  string `json:"telegram_bot_token"`
	TelegramChannelID string `json:"telegram_channel_id"`
	TelegramGroupID   string `json:"telegram_group_id"`
}
