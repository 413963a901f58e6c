package screens

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"bantahserver/auth"
	"bantahserver/database"
	"bantahserver/models"
	"bantahserver/realtime"
	"bantahserver/telegram"

	"github.com/shopspring/decimal"
)

type fakeVerifier map[string]string

func (f fakeVerifier) Verify(token string) (*auth.Claims, error) {
	sub, ok := f[token]
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	c := &auth.Claims{Email: sub + "@example.com"}
	c.Subject = sub
	return c, nil
}

type memStore struct {
	mu           sync.Mutex
	users        map[string]*models.User
	challenges   map[uint]*models.Challenge
	participants map[uint][]string
	messages     []models.ChallengeMessage
	nextID       uint
	failUser     string
}

func newMemStore(users ...*models.User) *memStore {
	s := &memStore{
		users:        map[string]*models.User{},
		challenges:   map[uint]*models.Challenge{},
		participants: map[uint][]string{},
	}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *memStore) GetUser(_ context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" && id == s.failUser {
		return nil, errors.New("connection reset")
	}
	if u, ok := s.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, database.ErrNotFound
}

func (s *memStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, database.ErrNotFound
}

func (s *memStore) UpsertUser(_ context.Context, user *models.User) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *user
	s.users[user.ID] = &cp
	return user, nil
}

func (s *memStore) UpdateUserTelegramInfo(_ context.Context, id string, info models.TelegramInfo) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	u.TelegramID, u.TelegramUsername, u.IsTelegramUser = info.TelegramID, info.TelegramUsername, info.IsTelegramUser
	cp := *u
	return &cp, nil
}

func (s *memStore) ListUsers(_ context.Context, q database.UserQuery) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	term := strings.ToLower(strings.TrimSpace(q.Search))
	var out []models.User
	for _, u := range s.users {
		if u.IsAdmin || u.ID == q.ExcludeID {
			continue
		}
		fields := []string{u.FirstName, u.LastName, u.Username, strings.TrimSpace(u.FirstName + " " + u.LastName), u.PrimaryWalletAddress}
		match := term == ""
		for _, f := range fields {
			if strings.Contains(strings.ToLower(f), term) {
				match = true
			}
		}
		if match {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *memStore) ApplyReferral(_ context.Context, userID, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return database.ErrNotFound
	}
	if u.ReferredBy != "" {
		return database.ErrAlreadyReferred
	}
	for _, other := range s.users {
		if other.ReferralCode == code && other.ID != userID {
			u.ReferredBy = other.ID
			return nil
		}
	}
	return database.ErrInvalidReferral
}

// 呼び出し側はロック済みであること
func (s *memStore) hydrate(ch *models.Challenge) *models.Challenge {
	cp := *ch
	if cp.ChallengerID != nil {
		cp.ChallengerUser = s.users[*cp.ChallengerID]
	}
	if cp.ChallengedID != nil {
		cp.ChallengedUser = s.users[*cp.ChallengedID]
	}
	return &cp
}

func (s *memStore) ListChallenges(_ context.Context) ([]models.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Challenge, 0, len(s.challenges))
	for id := uint(1); id <= s.nextID; id++ {
		if ch, ok := s.challenges[id]; ok {
			out = append(out, *s.hydrate(ch))
		}
	}
	return out, nil
}

func (s *memStore) GetChallenge(_ context.Context, id uint) (*models.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return s.hydrate(ch), nil
}

func (s *memStore) CreateChallenge(_ context.Context, ch *models.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	ch.ID = s.nextID
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Date(2025, 1, 1, 0, 0, int(ch.ID), 0, time.UTC)
	}
	cp := *ch
	s.challenges[ch.ID] = &cp
	return nil
}

func (s *memStore) AcceptChallenge(_ context.Context, id uint, userID string) (*models.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	if ch.Status != models.StatusPending || ch.ChallengedID == nil || *ch.ChallengedID != userID {
		return nil, database.ErrNotAcceptable
	}
	ch.Status = models.StatusActive
	ch.ParticipantCount++
	return s.hydrate(ch), nil
}

func (s *memStore) JoinChallenge(_ context.Context, id uint, userID, _ string, _ decimal.Decimal) (*models.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	if ch.Status != models.StatusOpen {
		return nil, database.ErrNotJoinable
	}
	if ch.AdminCreated {
		for _, p := range s.participants[id] {
			if p == userID {
				return nil, database.ErrAlreadyJoined
			}
		}
		s.participants[id] = append(s.participants[id], userID)
		ch.ParticipantCount++
		return s.hydrate(ch), nil
	}
	if ch.IsParticipant(userID) {
		return nil, database.ErrOwnChallenge
	}
	ch.ChallengedID = &userID
	ch.Status = models.StatusActive
	ch.ParticipantCount++
	return s.hydrate(ch), nil
}

func (s *memStore) SetPinned(_ context.Context, id uint, pinned bool) (*models.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	ch.IsPinned = pinned
	return s.hydrate(ch), nil
}

func (s *memStore) ResolveChallenge(_ context.Context, id uint, result string) (*models.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	if ch.Status != models.StatusPendingAdmin && ch.Status != models.StatusActive {
		return nil, database.ErrNotResolvable
	}
	ch.Result = result
	ch.Status = models.StatusCompleted
	return s.hydrate(ch), nil
}

func (s *memStore) ListMessages(_ context.Context, challengeID uint) ([]models.ChallengeMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ChallengeMessage
	for _, m := range s.messages {
		if m.ChallengeID == challengeID {
			m.User = s.users[m.UserID]
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) CreateMessage(_ context.Context, msg *models.ChallengeMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[msg.ChallengeID]
	if !ok {
		return database.ErrNotFound
	}
	msg.ID = uint(len(s.messages) + 1)
	msg.CreatedAt = time.Now()
	s.messages = append(s.messages, *msg)
	ch.CommentCount++
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e realtime.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Name)
	}
	return out
}

type recordingAnnouncer struct {
	mu   sync.Mutex
	msgs []telegram.ChallengeMessage
}

func (a *recordingAnnouncer) Broadcast(_ context.Context, msg telegram.ChallengeMessage) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msgs = append(a.msgs, msg)
	return true
}

func (a *recordingAnnouncer) sent() []telegram.ChallengeMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]telegram.ChallengeMessage(nil), a.msgs...)
}
