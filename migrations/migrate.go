// migrate はテーブルの作成・更新と既存データの補正を行う単体コマンド
package main

import (
	"context"
	"flag"
	"time"

	"bantahserver/database"
	"bantahserver/utils"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", database.ConfigPath(), "設定ファイルのパス")
	backfill := flag.Bool("backfill", true, "紹介コードのないユーザーにコードを割り当てる")
	flag.Parse()

	logger, err := utils.InitLogger("development")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	config, err := database.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("設定ファイルの読み込みに失敗しました", zap.Error(err))
	}

	db, err := database.InitPostgreSQL(config, logger)
	if err != nil {
		logger.Fatal("データベース接続に失敗しました", zap.Error(err))
	}

	if err := database.AutoMigrate(db); err != nil {
		logger.Fatal("テーブルの作成に失敗しました", zap.Error(err))
	}
	logger.Info("テーブルの作成・更新が完了しました")

	if !*backfill {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	n, err := database.BackfillReferralCodes(ctx, db)
	if err != nil {
		logger.Fatal("紹介コードの補正に失敗しました", zap.Error(err), zap.Int("updated", n))
	}
	logger.Info("紹介コードの補正が完了しました", zap.Int("updated", n))
}
