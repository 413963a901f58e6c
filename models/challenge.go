package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// チャレンジの状態
const (
	StatusOpen         = "open"
	StatusPending      = "pending"
	StatusPendingAdmin = "pending_admin"
	StatusActive       = "active"
	StatusCompleted    = "completed"
	StatusCancelled    = "cancelled"
	StatusDisputed     = "disputed"
)

// チャレンジの種類
const (
	ChallengeTypeOpen   = "open"
	ChallengeTypeDirect = "direct"
	ChallengeTypeAdmin  = "admin"
)

// Challenge モデルの定義
type Challenge struct {
	gorm.Model
	Title            string          `gorm:"not null"`
	Description      *string         // NULL許容
	Category         *string         `gorm:"index"`
	Status           string          `gorm:"not null;default:'open';index"`
	ChallengeType    string          `gorm:"not null;default:'open'"`
	Amount           decimal.Decimal `gorm:"type:numeric(38,18);not null"`
	PaymentToken     string
	Side             string
	DueDate          *time.Time `gorm:"index"`
	TransactionHash  string     `gorm:"index"`
	MetadataURI      string
	AdminCreated     bool    `gorm:"default:false;index"`
	IsPinned         bool    `gorm:"default:false"`
	ChallengerID     *string `gorm:"index"` // 作成者側（P2P）
	ChallengedID     *string `gorm:"index"` // 相手側
	CreatorID        *string `gorm:"index"`
	Result           string
	CommentCount     int   `gorm:"default:0"`
	ParticipantCount int   `gorm:"default:0"`
	ChallengerUser   *User `gorm:"foreignKey:ChallengerID"`
	ChallengedUser   *User `gorm:"foreignKey:ChallengedID"`
}

// ChallengeParticipant は管理者プールへの参加を表す
type ChallengeParticipant struct {
	gorm.Model
	ChallengeID uint            `gorm:"uniqueIndex:idx_participant_challenge_user;not null"`
	UserID      string          `gorm:"uniqueIndex:idx_participant_challenge_user;not null"`
	Side        string          `gorm:"not null"`
	Amount      decimal.Decimal `gorm:"type:numeric(38,18);not null"`
}

// ChallengeMessage はチャレンジ内のチャット
type ChallengeMessage struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ChallengeID uint      `gorm:"index;not null" json:"challengeId"`
	UserID      string    `gorm:"index;not null" json:"userId"`
	Message     string    `gorm:"type:text;not null" json:"message"`
	User        *User     `gorm:"foreignKey:UserID" json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}

// IsParticipant はユーザーがチャレンジの当事者かどうかを返す
func (c *Challenge) IsParticipant(userID string) bool {
	if userID == "" {
		return false
	}
	return ptrEquals(c.ChallengerID, userID) || ptrEquals(c.ChallengedID, userID) || ptrEquals(c.CreatorID, userID)
}

func ptrEquals(p *string, s string) bool {
	return p != nil && *p == s
}
