// Package realtime pushes challenge events to connected browsers over
// WebSocket. Events are published on a Redis channel so that every server
// instance fans them out to its own clients.
package realtime

import (
	"context"
	"time"
)

// GlobalChannel はすべてのチャレンジイベントを流すRedisチャンネル
const GlobalChannel = "challenges:global"

const (
	EventNewMessage       = "new-message"
	EventChallengeJoined  = "challenge-joined"
	EventChallengeCreated = "challenge-created"
	EventChallengeUpdated = "challenge-updated"
)

// Event is the JSON frame sent to clients.
type Event struct {
	Name        string      `json:"event"`
	Type        string      `json:"type"`
	ChallengeID uint        `json:"challengeId"`
	UserID      string      `json:"userId,omitempty"`
	Data        interface{} `json:"data,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// NewEvent は現在時刻つきのイベントを作る
func NewEvent(name, eventType string, challengeID uint, userID string, data interface{}) Event {
	return Event{
		Name:        name,
		Type:        eventType,
		ChallengeID: challengeID,
		UserID:      userID,
		Data:        data,
		Timestamp:   time.Now().UTC(),
	}
}

// Publisher delivers events to every connected client.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}
