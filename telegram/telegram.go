// Package telegram announces new challenges to the community channel and group.
package telegram

import (
	"context"
	"fmt"
	"html"
	"math"
	"strings"
	"time"

	"bantahserver/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultExpirationHours = 24

var broadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bantah_telegram_broadcasts_total",
	Help: "Telegram challenge broadcasts by destination and outcome",
}, []string{"destination", "outcome"})

// ChallengeMessage is what gets announced for a new challenge.
type ChallengeMessage struct {
	ID               uint
	Title            string
	Description      string
	Amount           decimal.Decimal
	Category         string
	CreatorUsername  string
	ChallengeType    string
	Status           string
	ExpirationHours  int
	IsAdminChallenge bool
}

// NewChallengeMessage builds a message from a stored challenge. The expiry is
// counted in whole hours from now until the due date, rounded up.
func NewChallengeMessage(ch *models.Challenge, creatorUsername string, now time.Time) ChallengeMessage {
	msg := ChallengeMessage{
		ID:               ch.ID,
		Title:            ch.Title,
		Amount:           ch.Amount,
		CreatorUsername:  creatorUsername,
		ChallengeType:    ch.ChallengeType,
		Status:           ch.Status,
		IsAdminChallenge: ch.AdminCreated,
	}
	if ch.Description != nil {
		msg.Description = *ch.Description
	}
	if ch.Category != nil {
		msg.Category = *ch.Category
	}
	if ch.DueDate != nil {
		if left := ch.DueDate.Sub(now); left > 0 {
			msg.ExpirationHours = int(math.Ceil(left.Hours()))
		}
	}
	return msg
}

// Broadcaster posts challenge announcements through a Sender.
type Broadcaster struct {
	sender    Sender
	token     string
	channelID string
	groupID   string
	logger    *zap.Logger
}

func NewBroadcaster(sender Sender, cfg models.Config, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		sender:    sender,
		token:     cfg.TelegramBotToken,
		channelID: cfg.TelegramChannelID,
		groupID:   cfg.TelegramGroupID,
		logger:    logger,
	}
}

// IsConfigured reports whether there is a token and at least one destination.
func (b *Broadcaster) IsConfigured() bool {
	return b != nil && b.sender != nil && b.token != "" && (b.channelID != "" || b.groupID != "")
}

// Broadcast sends msg to the channel and then to the group. A failing
// destination is logged and does not stop the other one. It returns false only
// when the bot is not configured.
func (b *Broadcaster) Broadcast(ctx context.Context, msg ChallengeMessage) bool {
	if !b.IsConfigured() {
		if b != nil && b.logger != nil {
			b.logger.Warn("Telegram bot not configured - skipping broadcast")
		}
		return false
	}

	text := FormatChallenge(msg)
	if b.channelID != "" {
		b.send(ctx, "channel", b.channelID, text)
	}
	if b.groupID != "" && b.groupID != b.channelID {
		b.send(ctx, "group", b.groupID, text)
	}
	b.logger.Info("Challenge broadcast to Telegram", zap.Uint("challengeID", msg.ID), zap.String("title", msg.Title))
	return true
}

func (b *Broadcaster) send(ctx context.Context, destination, chatID, text string) {
	messageID, err := b.sender.SendHTML(ctx, chatID, text)
	if err != nil {
		broadcasts.WithLabelValues(destination, "error").Inc()
		b.logger.Error("Failed to broadcast to Telegram",
			zap.String("destination", destination), zap.String("chatID", chatID), zap.Error(err))
		return
	}
	broadcasts.WithLabelValues(destination, "sent").Inc()
	b.logger.Debug("Broadcast sent", zap.String("destination", destination), zap.Int("messageID", messageID))
}

func typeLabel(challengeType string) string {
	switch challengeType {
	case models.ChallengeTypeAdmin:
		return "Betting Pool"
	case models.ChallengeTypeDirect:
		return "Direct Challenge"
	default:
		return "Open Challenge"
	}
}

// FormatChallenge renders msg as Telegram HTML. Text supplied by users is escaped.
func FormatChallenge(msg ChallengeMessage) string {
	category := msg.Category
	if category == "" {
		category = "General"
	}
	hours := msg.ExpirationHours
	if hours <= 0 {
		hours = defaultExpirationHours
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "\n🎯 <b>New Challenge: %s</b>\n\n", html.EscapeString(msg.Title))
	fmt.Fprintf(&sb, "💰 <b>Amount:</b> $%s\n", msg.Amount.StringFixed(2))
	fmt.Fprintf(&sb, "🏷️ <b>Category:</b> %s\n", html.EscapeString(category))
	fmt.Fprintf(&sb, "📝 <b>Type:</b> %s\n", typeLabel(msg.ChallengeType))
	fmt.Fprintf(&sb, "⏱️ <b>Expires in:</b> %d hours\n", hours)
	if msg.Description != "" {
		fmt.Fprintf(&sb, "\n📄 <b>Details:</b> %s\n", html.EscapeString(msg.Description))
	}

	// 管理者のプールには作成者タグを付けない
	if !msg.IsAdminChallenge && msg.CreatorUsername != "" {
		fmt.Fprintf(&sb, "\n👤 <b>Created by:</b> @%s", html.EscapeString(msg.CreatorUsername))
	}
	return sb.String()
}
