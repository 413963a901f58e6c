package utils

import (
	"context"
	"time"

	"bantahserver/database"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	jobTimeout = time.Minute
	// 終了後この期間を過ぎたチャレンジのチャットを削除する
	messageRetention = 30 * 24 * time.Hour
)

// CronCleaner は定期ジョブを登録して開始したスケジューラを返す
func CronCleaner(store database.Maintenance, logger *zap.Logger) (*cron.Cron, error) {
	c := cron.New()

	// 期限切れチャレンジの処理（15分ごと）
	if _, err := c.AddFunc("*/15 * * * *", ExpireChallengesJob(store, logger, time.Now)); err != nil {
		return nil, err
	}

	// 古いチャットの削除（"分 時 日 月 曜日"）
	if _, err := c.AddFunc("0 3 * * *", PurgeMessagesJob(store, logger, time.Now)); err != nil {
		return nil, err
	}

	c.Start()
	return c, nil
}

// ExpireChallengesJob は期限を過ぎたP2Pチャレンジを取り消し、管理者プールを結果待ちにする
func ExpireChallengesJob(store database.Maintenance, logger *zap.Logger, now func() time.Time) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		logger.Info("期限切れチャレンジの処理を開始")
		cancelled, awaiting, err := store.ExpireOverdue(ctx, now())
		if err != nil {
			logger.Error("期限切れチャレンジの処理に失敗しました", zap.Error(err))
			return
		}
		logger.Info("期限切れチャレンジの処理完了",
			zap.Int64("cancelled", cancelled), zap.Int64("awaiting_resolution", awaiting))
	}
}

// PurgeMessagesJob は終了から30日以上経ったチャレンジのチャットを削除する
func PurgeMessagesJob(store database.Maintenance, logger *zap.Logger, now func() time.Time) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		deleted, err := store.PurgeMessages(ctx, now().Add(-messageRetention))
		if err != nil {
			logger.Error("チャットの削除に失敗しました", zap.Error(err))
			return
		}
		logger.Info("チャットの削除完了", zap.Int64("messages_deleted", deleted))
	}
}
