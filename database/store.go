package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"bantahserver/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrNotJoinable     = errors.New("challenge cannot be joined")
	ErrAlreadyJoined   = errors.New("already joined this challenge")
	ErrOwnChallenge    = errors.New("cannot join your own challenge")
	ErrNotAcceptable   = errors.New("challenge cannot be accepted")
	ErrNotResolvable   = errors.New("challenge cannot be resolved")
	ErrInvalidReferral = errors.New("invalid referral code")
	ErrAlreadyReferred = errors.New("referral already applied")
)

// UserStore は認証ブリッジが使うユーザー操作
type UserStore interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpsertUser(ctx context.Context, user *models.User) (*models.User, error)
	UpdateUserTelegramInfo(ctx context.Context, id string, info models.TelegramInfo) (*models.User, error)
}

// UserQuery はユーザー一覧の絞り込み条件
type UserQuery struct {
	ExcludeID string // 閲覧者本人
	Search    string
	Limit     int
}

// UserDirectory は対戦相手を探すためのユーザー一覧
type UserDirectory interface {
	ListUsers(ctx context.Context, q UserQuery) ([]models.User, error)
}

// ChallengeStore はチャレンジ関連の操作
type ChallengeStore interface {
	ListChallenges(ctx context.Context) ([]models.Challenge, error)
	GetChallenge(ctx context.Context, id uint) (*models.Challenge, error)
	CreateChallenge(ctx context.Context, ch *models.Challenge) error
	AcceptChallenge(ctx context.Context, id uint, userID string) (*models.Challenge, error)
	JoinChallenge(ctx context.Context, id uint, userID, side string, amount decimal.Decimal) (*models.Challenge, error)
	SetPinned(ctx context.Context, id uint, pinned bool) (*models.Challenge, error)
	ResolveChallenge(ctx context.Context, id uint, result string) (*models.Challenge, error)
	ListMessages(ctx context.Context, challengeID uint) ([]models.ChallengeMessage, error)
	CreateMessage(ctx context.Context, msg *models.ChallengeMessage) error
}

// Maintenance は定期ジョブ用の操作
type Maintenance interface {
	ExpireOverdue(ctx context.Context, now time.Time) (cancelled, awaiting int64, err error)
	PurgeMessages(ctx context.Context, endedBefore time.Time) (int64, error)
}

// Store はすべての永続化操作をまとめたもの
type Store interface {
	UserStore
	UserDirectory
	ChallengeStore
	Maintenance
	ApplyReferral(ctx context.Context, userID, code string) error
}

// GormStore は PostgreSQL(GORM) による Store 実装
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *GormStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("LOWER(email) = ?", strings.ToLower(email)).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// UpsertUser はIDで挿入し、既存なら基本プロフィールを更新する
func (s *GormStore) UpsertUser(ctx context.Context, user *models.User) (*models.User, error) {
	if user.ReferralCode == "" {
		user.ReferralCode = newReferralCode()
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "first_name", "last_name", "username", "profile_image_url", "updated_at"}),
	}).Create(user).Error
	if err != nil {
		return nil, fmt.Errorf("upsert user %s: %w", user.ID, err)
	}
	return s.GetUser(ctx, user.ID)
}

func (s *GormStore) UpdateUserTelegramInfo(ctx context.Context, id string, info models.TelegramInfo) (*models.User, error) {
	result := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(map[string]interface{}{
		"telegram_id":       info.TelegramID,
		"telegram_username": info.TelegramUsername,
		"is_telegram_user":  info.IsTelegramUser,
	})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.GetUser(ctx, id)
}

// ApplyReferral は紹介コードを一度だけ適用する
func (s *GormStore) ApplyReferral(ctx context.Context, userID, code string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", userID).First(&user).Error; err != nil {
			return notFound(err)
		}
		if user.ReferredBy != "" {
			return ErrAlreadyReferred
		}
		var referrer models.User
		if err := tx.Where("referral_code = ?", code).First(&referrer).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidReferral
			}
			return err
		}
		if referrer.ID == user.ID {
			return ErrInvalidReferral
		}
		return tx.Model(&user).Update("referred_by", referrer.ID).Error
	})
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// ListUsers は管理者と閲覧者本人を除いたユーザーを返す。
// Search は名・姓・ユーザー名・フルネーム・ウォレットアドレスに部分一致（大文字小文字を区別しない）
func (s *GormStore) ListUsers(ctx context.Context, q UserQuery) ([]models.User, error) {
	tx := s.db.WithContext(ctx).Where("is_admin = ?", false)
	if q.ExcludeID != "" {
		tx = tx.Where("id <> ?", q.ExcludeID)
	}
	if term := strings.ToLower(strings.TrimSpace(q.Search)); term != "" {
		pattern := "%" + likeEscaper.Replace(term) + "%"
		tx = tx.Where(
			"LOWER(first_name) LIKE @p OR LOWER(last_name) LIKE @p OR LOWER(username) LIKE @p"+
				" OR LOWER(TRIM(first_name || ' ' || last_name)) LIKE @p OR LOWER(primary_wallet_address) LIKE @p",
			sql.Named("p", pattern))
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	var users []models.User
	if err := tx.Order("username ASC").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (s *GormStore) withUsers(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Preload("ChallengerUser").Preload("ChallengedUser")
}

func (s *GormStore) ListChallenges(ctx context.Context) ([]models.Challenge, error) {
	var challenges []models.Challenge
	if err := s.withUsers(ctx).Order("created_at DESC").Find(&challenges).Error; err != nil {
		return nil, err
	}
	return challenges, nil
}

func (s *GormStore) GetChallenge(ctx context.Context, id uint) (*models.Challenge, error) {
	var ch models.Challenge
	if err := s.withUsers(ctx).First(&ch, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &ch, nil
}

func (s *GormStore) CreateChallenge(ctx context.Context, ch *models.Challenge) error {
	return s.db.WithContext(ctx).Create(ch).Error
}

// AcceptChallenge は指名された相手が pending のチャレンジを承諾し active にする
func (s *GormStore) AcceptChallenge(ctx context.Context, id uint, userID string) (*models.Challenge, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ch models.Challenge
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&ch, id).Error; err != nil {
			return notFound(err)
		}
		if ch.AdminCreated || ch.Status != models.StatusPending || ch.ChallengedID == nil || *ch.ChallengedID != userID {
			return ErrNotAcceptable
		}
		return tx.Model(&ch).Updates(map[string]interface{}{
			"status":            models.StatusActive,
			"participant_count": gorm.Expr("participant_count + 1"),
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return s.GetChallenge(ctx, id)
}

// JoinChallenge はオープンなP2Pチャレンジの相手になるか、管理者プールに参加する
func (s *GormStore) JoinChallenge(ctx context.Context, id uint, userID, side string, amount decimal.Decimal) (*models.Challenge, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 同時参加を防ぐため行ロック
		var ch models.Challenge
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&ch, id).Error; err != nil {
			return notFound(err)
		}
		if ch.Status != models.StatusOpen {
			return ErrNotJoinable
		}

		if ch.AdminCreated {
			var count int64
			if err := tx.Model(&models.ChallengeParticipant{}).
				Where("challenge_id = ? AND user_id = ?", id, userID).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return ErrAlreadyJoined
			}
			participant := models.ChallengeParticipant{ChallengeID: id, UserID: userID, Side: side, Amount: amount}
			if err := tx.Create(&participant).Error; err != nil {
				return err
			}
			return tx.Model(&ch).Update("participant_count", gorm.Expr("participant_count + 1")).Error
		}

		if ch.IsParticipant(userID) {
			return ErrOwnChallenge
		}
		if ch.ChallengedID != nil {
			return ErrNotJoinable
		}
		return tx.Model(&ch).Updates(map[string]interface{}{
			"challenged_id":     userID,
			"status":            models.StatusActive,
			"participant_count": gorm.Expr("participant_count + 1"),
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return s.GetChallenge(ctx, id)
}

func (s *GormStore) SetPinned(ctx context.Context, id uint, pinned bool) (*models.Challenge, error) {
	result := s.db.WithContext(ctx).Model(&models.Challenge{}).Where("id = ?", id).Update("is_pinned", pinned)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.GetChallenge(ctx, id)
}

// ResolveChallenge は結果待ち(pending_admin)または進行中(active)のチャレンジだけを完了にする
func (s *GormStore) ResolveChallenge(ctx context.Context, id uint, result string) (*models.Challenge, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ch models.Challenge
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&ch, id).Error; err != nil {
			return notFound(err)
		}
		if ch.Status != models.StatusPendingAdmin && ch.Status != models.StatusActive {
			return ErrNotResolvable
		}
		return tx.Model(&ch).Updates(map[string]interface{}{
			"result": result,
			"status": models.StatusCompleted,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return s.GetChallenge(ctx, id)
}

func (s *GormStore) ListMessages(ctx context.Context, challengeID uint) ([]models.ChallengeMessage, error) {
	var messages []models.ChallengeMessage
	err := s.db.WithContext(ctx).Preload("User").
		Where("challenge_id = ?", challengeID).
		Order("created_at ASC").
		Find(&messages).Error
	return messages, err
}

// CreateMessage はメッセージを保存し、コメント数を加算する
func (s *GormStore) CreateMessage(ctx context.Context, msg *models.ChallengeMessage) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Challenge{}).Where("id = ?", msg.ChallengeID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Challenge{}).Where("id = ?", msg.ChallengeID).
			Update("comment_count", gorm.Expr("comment_count + 1")).Error
	})
}

// ExpireOverdue は期限切れのチャレンジを処理する。
// P2Pの open/pending は cancelled、管理者プールの open は pending_admin（結果待ち）にする
func (s *GormStore) ExpireOverdue(ctx context.Context, now time.Time) (int64, int64, error) {
	cancelled := s.db.WithContext(ctx).Model(&models.Challenge{}).
		Where("admin_created = ? AND status IN ? AND due_date IS NOT NULL AND due_date <= ?",
			false, []string{models.StatusOpen, models.StatusPending}, now).
		Update("status", models.StatusCancelled)
	if cancelled.Error != nil {
		return 0, 0, cancelled.Error
	}

	awaiting := s.db.WithContext(ctx).Model(&models.Challenge{}).
		Where("admin_created = ? AND status = ? AND due_date IS NOT NULL AND due_date <= ?",
			true, models.StatusOpen, now).
		Update("status", models.StatusPendingAdmin)
	if awaiting.Error != nil {
		return cancelled.RowsAffected, 0, awaiting.Error
	}
	return cancelled.RowsAffected, awaiting.RowsAffected, nil
}

// PurgeMessages は終了済みチャレンジの古いチャットを削除する
func (s *GormStore) PurgeMessages(ctx context.Context, endedBefore time.Time) (int64, error) {
	ended := s.db.Model(&models.Challenge{}).Select("id").
		Where("status IN ? AND updated_at <= ?",
			[]string{models.StatusCompleted, models.StatusCancelled, models.StatusDisputed}, endedBefore)
	result := s.db.WithContext(ctx).Where("challenge_id IN (?)", ended).Delete(&models.ChallengeMessage{})
	return result.RowsAffected, result.Error
}

func newReferralCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
}
