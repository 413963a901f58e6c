package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"bantahserver/auth"        //IDトークンの検証
	"bantahserver/database"    //設定・PostgreSQL・Redis・セッション
	"bantahserver/middlewares" //認証ブリッジ
	"bantahserver/models"      //モデル定義
	"bantahserver/realtime"    //WebSocketとRedis pub/sub
	"bantahserver/screens"     //チャレンジAPIのハンドラ
	"bantahserver/telegram"    //新規チャレンジのTelegram告知
	"bantahserver/utils"       //ロガー・メトリクス・Cronジョブ

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

func main() {
	logger, err := utils.InitLogger(os.Getenv("BANTAH_ENV")) // ロガーの初期化
	if err != nil {
		panic(err) // 失敗した場合はプログラム停止
	}
	defer logger.Sync() // ロガーのクリーンアップ

	// .env があれば環境変数に読み込む（既存の環境変数が優先）
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn(".envの読み込みに失敗しました", zap.Error(err))
	}

	config, err := database.LoadConfig(database.ConfigPath())
	if err != nil {
		logger.Fatal("設定ファイルの読み込みに失敗しました", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 非同期でPostgreSQLとRedisの初期化
	var db *gorm.DB
	var rdb *redis.Client
	done := make(chan bool)

	go func() {
		var err error
		db, err = database.InitPostgreSQL(config, logger)
		if err != nil {
			logger.Fatal("PostgreSQLの初期化に失敗しました", zap.Error(err))
		}
		if config.AutoMigrate {
			if err := database.AutoMigrate(db); err != nil {
				logger.Fatal("マイグレーションに失敗しました", zap.Error(err))
			}
		}
		done <- true
	}()

	go func() {
		var err error
		rdb, err = database.InitRedis(config, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Redis", zap.Error(err))
		}
		done <- true
	}()

	// 2つの初期化が完了するのを待つ
	<-done
	<-done

	store := database.NewGormStore(db)

	// クーロンスケジューラのセットアップと呼び出し
	scheduler, err := utils.CronCleaner(store, logger)
	if err != nil {
		logger.Fatal("Cronジョブの登録に失敗しました", zap.Error(err))
	}
	defer scheduler.Stop()

	// リアルタイム配信: 各インスタンスがRedisを購読して自分のクライアントに流す
	hub := realtime.NewHub(logger, config.AllowedOrigins)
	bus := realtime.NewRedisBus(rdb, hub, logger)
	go func() {
		if err := bus.Run(ctx); err != nil {
			logger.Error("Realtime subscriber stopped", zap.Error(err))
		}
	}()

	verifier, err := auth.NewVerifier(config.PrivyAppID, config.PrivyIssuer, config.PrivyVerificationKey)
	if err != nil {
		logger.Fatal("認証の初期化に失敗しました", zap.Error(err))
	}
	sessionTTL := time.Duration(config.SessionTTLHours) * time.Hour
	authn := &middlewares.Authenticator{
		Verifier:     verifier,
		Users:        store,
		Sessions:     database.NewRedisSessionStore(rdb, sessionTTL),
		Logger:       logger,
		SessionTTL:   sessionTTL,
		CookieSecure: config.CookieSecure,
	}

	handlers := screens.NewHandlers(store, bus, newAnnouncer(config, logger), hub, logger)

	router := gin.New()
	//リクエストロガーとメトリクスを起動
	router.Use(gin.Recovery(), utils.RequestLogger(logger), utils.Metrics())

	//CORS（Cross-Origin Resource Sharing）ポリシーを設定
	router.Use(cors.New(cors.Config{
		AllowOrigins:     config.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	handlers.RegisterRoutes(router, authn)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:              config.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTPサーバーを起動します", zap.String("addr", config.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTPサーバーの起動に失敗しました", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("シャットダウンします")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	hub.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTPサーバーの停止に失敗しました", zap.Error(err))
	}
	if err := rdb.Close(); err != nil {
		logger.Warn("Redis接続のクローズに失敗しました", zap.Error(err))
	}
}

// newAnnouncer はTelegramが設定されていればBroadcasterを返す
func newAnnouncer(config models.Config, logger *zap.Logger) screens.Announcer {
	if config.TelegramBotToken == "" {
		logger.Warn("Telegram bot not configured - broadcasts disabled")
		return nil
	}
	sender, err := telegram.NewBotSender(config.TelegramBotToken)
	if err != nil {
		logger.Error("Telegram botの初期化に失敗しました", zap.Error(err))
		return nil
	}
	return telegram.NewBroadcaster(sender, config, logger)
}
