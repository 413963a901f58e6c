// Package feed builds the challenge list shown to a user: it normalizes stored
// challenges into views, filters them by search, category and status tab, and
// orders them by priority. Everything here is pure and safe to call
// concurrently on the same input.
package feed

import (
	"time"

	"bantahserver/models"

	"github.com/shopspring/decimal"
)

// Party is the public face of a challenge participant.
type Party struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

// View is a fully-defaulted challenge. Optional fields that are missing in
// storage are empty strings or zero values, never nil.
type View struct {
	ID               uint            `json:"id"`
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	Category         string          `json:"category"`
	Status           string          `json:"status"`
	ChallengeType    string          `json:"challengeType"`
	Amount           decimal.Decimal `json:"amount"`
	PaymentToken     string          `json:"paymentToken"`
	Currency         string          `json:"currency"`
	Side             string          `json:"side"`
	DueDate          *time.Time      `json:"dueDate,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	AdminCreated     bool            `json:"adminCreated"`
	IsPinned         bool            `json:"isPinned"`
	ChallengerID     string          `json:"challengerId"`
	ChallengedID     string          `json:"challengedId"`
	CreatorID        string          `json:"creatorId"`
	ChallengerUser   Party           `json:"challengerUser"`
	ChallengedUser   Party           `json:"challengedUser"`
	Result           string          `json:"result,omitempty"`
	CommentCount     int             `json:"commentCount"`
	ParticipantCount int             `json:"participantCount"`
}

// Normalize converts a stored challenge into a View.
func Normalize(c models.Challenge) View {
	return View{
		ID:               c.ID,
		Title:            c.Title,
		Description:      deref(c.Description),
		Category:         deref(c.Category),
		Status:           c.Status,
		ChallengeType:    c.ChallengeType,
		Amount:           c.Amount,
		PaymentToken:     c.PaymentToken,
		Currency:         models.CurrencySymbol(c.PaymentToken),
		Side:             c.Side,
		DueDate:          c.DueDate,
		CreatedAt:        c.CreatedAt,
		AdminCreated:     c.AdminCreated,
		IsPinned:         c.IsPinned,
		ChallengerID:     deref(c.ChallengerID),
		ChallengedID:     deref(c.ChallengedID),
		CreatorID:        deref(c.CreatorID),
		ChallengerUser:   party(c.ChallengerUser),
		ChallengedUser:   party(c.ChallengedUser),
		Result:           c.Result,
		CommentCount:     max(c.CommentCount, 0),
		ParticipantCount: max(c.ParticipantCount, 0),
	}
}

// NormalizeAll normalizes a list. A nil list yields an empty, non-nil slice.
func NormalizeAll(list []models.Challenge) []View {
	out := make([]View, 0, len(list))
	for _, c := range list {
		out = append(out, Normalize(c))
	}
	return out
}

// IsParticipant reports whether userID is the challenger or the challenged party.
func (v View) IsParticipant(userID string) bool {
	return userID != "" && (v.ChallengerID == userID || v.ChallengedID == userID)
}

func party(u *models.User) Party {
	if u == nil {
		return Party{}
	}
	return Party{ID: u.ID, Username: u.Username, DisplayName: models.DisplayName(u)}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
