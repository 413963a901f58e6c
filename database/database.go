package database

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"bantahserver/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// DefaultConfigPath は BANTAH_CONFIG が未設定のときに読む設定ファイル
const DefaultConfigPath = "config.json"

// ConfigPath は設定ファイルのパスを環境変数またはデフォルトから返す
func ConfigPath() string {
	if p := os.Getenv("BANTAH_CONFIG"); p != "" {
		return p
	}
	return DefaultConfigPath
}

// LoadConfig loads the configuration from a JSON file, then applies
// environment overrides and defaults. A missing file is not an error.
func LoadConfig(filename string) (models.Config, error) {
	var config models.Config
	configFile, err := os.Open(filename)
	switch {
	case err == nil:
		defer configFile.Close()
		if err := json.NewDecoder(configFile).Decode(&config); err != nil {
			return config, fmt.Errorf("設定ファイルの解析に失敗しました: %w", err)
		}
	case os.IsNotExist(err):
		// 環境変数だけで起動できるようにする
	default:
		return config, err
	}

	applyEnv(&config)
	applyDefaults(&config)
	return config, nil
}

func applyEnv(config *models.Config) {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&config.DBHost, "DB_HOST")
	setString(&config.DBUser, "DB_USER")
	setString(&config.DBPassword, "DB_PASSWORD")
	setString(&config.DBName, "DB_NAME")
	setString(&config.DBSSLMode, "DB_SSLMODE")
	setString(&config.RedisAddr, "REDIS_ADDR")
	setString(&config.RedisPassword, "REDIS_PASSWORD")
	setString(&config.ListenAddr, "LISTEN_ADDR")
	setString(&config.PrivyAppID, "PRIVY_APP_ID")
	setString(&config.PrivyVerificationKey, "PRIVY_VERIFICATION_KEY")
	setString(&config.TelegramBotToken, "TELEGRAM_BOT_TOKEN")
	setString(&config.TelegramChannelID, "TELEGRAM_CHANNEL_ID")
	setString(&config.TelegramGroupID, "TELEGRAM_GROUP_ID")

	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			config.RedisDB = db
		}
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		config.AllowedOrigins = strings.Split(v, ",")
	}
}

func applyDefaults(config *models.Config) {
	if config.DBSSLMode == "" {
		config.DBSSLMode = "disable"
	}
	if config.RedisAddr == "" {
		config.RedisAddr = "localhost:6379"
	}
	if config.ListenAddr == "" {
		config.ListenAddr = ":8080"
	}
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = []string{"http://localhost:5173"}
	}
	if config.PrivyIssuer == "" {
		config.PrivyIssuer = "privy.io"
	}
	if config.SessionTTLHours <= 0 {
		config.SessionTTLHours = 24
	}
}

func InitPostgreSQL(config models.Config, logger *zap.Logger) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s dbname=%s password=%s sslmode=%s",
		config.DBHost, config.DBUser, config.DBName, config.DBPassword, config.DBSSLMode)

	const maxRetries = 3
	const retryInterval = 5 * time.Second
	var err error
	for i := 0; i <= maxRetries; i++ {
		var gormDB *gorm.DB
		gormDB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err == nil {
			sqlDB, dbErr := gormDB.DB()
			if dbErr != nil {
				return nil, dbErr
			}
			sqlDB.SetMaxIdleConns(10)
			sqlDB.SetMaxOpenConns(100)
			sqlDB.SetConnMaxLifetime(time.Hour)
			return gormDB, nil
		}
		logger.Error("データベース接続のリトライ", zap.Int("retry", i), zap.Error(err))
		time.Sleep(retryInterval)
	}
	return nil, fmt.Errorf("データベース接続に失敗しました: %w", err)
}

func InitRedis(config models.Config, logger *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		logger.Error("Failed to connect to Redis", zap.Error(err))
		return nil, err
	}

	logger.Info("Connected to Redis", zap.String("addr", config.RedisAddr))
	return rdb, nil
}

// AutoMigrate はテーブルを作成・更新する
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Challenge{},
		&models.ChallengeParticipant{},
		&models.ChallengeMessage{},
	)
}

// BackfillReferralCodes は紹介コードを持たないユーザーにコードを割り当てる
func BackfillReferralCodes(ctx context.Context, db *gorm.DB) (int, error) {
	var users []models.User
	if err := db.WithContext(ctx).Where("referral_code IS NULL OR referral_code = ''").Find(&users).Error; err != nil {
		return 0, err
	}
	for i := range users {
		if err := db.WithContext(ctx).Model(&users[i]).Update("referral_code", newReferralCode()).Error; err != nil {
			return i, fmt.Errorf("backfill referral code for %s: %w", users[i].ID, err)
		}
	}
	return len(users), nil
}
