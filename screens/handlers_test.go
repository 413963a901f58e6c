package screens

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"bantahserver/middlewares"
	"bantahserver/models"
	"bantahserver/realtime"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	alice = "did:privy:alice"
	bob   = "did:privy:bob"
	carol = "did:privy:carol"
	boss  = "did:privy:boss"
)

type testAPI struct {
	store     *memStore
	events    *recordingPublisher
	announcer *recordingAnnouncer
	router    *gin.Engine
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := newMemStore(
		&models.User{ID: alice, Email: "alice@example.com", Username: "alice", ReferralCode: "ALICE001"},
		&models.User{ID: bob, Email: "bob@example.com", Username: "bob", ReferralCode: "BOB00001"},
		&models.User{ID: carol, Email: "carol@example.com", Username: "carol"},
		&models.User{ID: boss, Email: "boss@example.com", Username: "boss", IsAdmin: true},
	)
	api := &testAPI{store: store, events: &recordingPublisher{}, announcer: &recordingAnnouncer{}}

	authn := &middlewares.Authenticator{
		Verifier: fakeVerifier{"alice": alice, "bob": bob, "carol": carol, "boss": boss},
		Users:    store,
		Logger:   zap.NewNop(),
	}
	h := NewHandlers(store, api.events, api.announcer, nil, zap.NewNop())
	h.now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }

	r := gin.New()
	h.RegisterRoutes(r, authn)
	api.router = r
	return api
}

func (a *testAPI) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testAPI) seed(ch models.Challenge) uint {
	_ = a.store.CreateChallenge(context.Background(), &ch)
	return ch.ID
}

func strp(s string) *string { return &s }

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func message(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Message string `json:"message"`
	}
	decode(t, w, &body)
	return body.Message
}

type listResponse struct {
	Challenges []struct {
		ID     uint   `json:"id"`
		Status string `json:"status"`
	} `json:"challenges"`
	Counts struct {
		Pending  int `json:"pending"`
		Active   int `json:"active"`
		Featured int `json:"featured"`
	} `json:"counts"`
	SelectedTab string `json:"selectedTab"`
	Total       int    `json:"total"`
}

func TestListPublicChallenges(t *testing.T) {
	api := newTestAPI(t)
	open := api.seed(models.Challenge{Title: "Open bet", Status: models.StatusOpen, ChallengeType: models.ChallengeTypeOpen, ChallengerID: strp(alice)})
	pool := api.seed(models.Challenge{Title: "BTC pool", Status: models.StatusOpen, ChallengeType: models.ChallengeTypeAdmin, AdminCreated: true, Category: strp("crypto")})
	pinned := api.seed(models.Challenge{Title: "Pinned", Status: models.StatusActive, IsPinned: true, ChallengerID: strp(bob)})

	w := api.do(http.MethodGet, "/api/challenges/public", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp listResponse
	decode(t, w, &resp)
	require.Len(t, resp.Challenges, 3)
	assert.Equal(t, pinned, resp.Challenges[0].ID)
	assert.Equal(t, pool, resp.Challenges[1].ID)
	assert.Equal(t, open, resp.Challenges[2].ID)
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, 1, resp.Counts.Featured)
	assert.Equal(t, "featured", resp.SelectedTab)
}

func TestListChallengesFilters(t *testing.T) {
	api := newTestAPI(t)
	api.seed(models.Challenge{Title: "Open bet", Status: models.StatusOpen, ChallengerID: strp(alice)})
	pool := api.seed(models.Challenge{Title: "BTC pool", Status: models.StatusOpen, AdminCreated: true, Category: strp("crypto")})

	w := api.do(http.MethodGet, "/api/challenges/public?search=btc&category=crypto", "", nil)
	var resp listResponse
	decode(t, w, &resp)
	require.Len(t, resp.Challenges, 1)
	assert.Equal(t, pool, resp.Challenges[0].ID)

	w = api.do(http.MethodGet, "/api/challenges/public?status=p2p", "", nil)
	decode(t, w, &resp)
	require.Len(t, resp.Challenges, 1)
	assert.Equal(t, "Open bet", mustTitle(t, api, resp.Challenges[0].ID))
}

func mustTitle(t *testing.T, api *testAPI, id uint) string {
	ch, err := api.store.GetChallenge(context.Background(), id)
	require.NoError(t, err)
	return ch.Title
}

func TestListChallengesPendingTabForParticipant(t *testing.T) {
	api := newTestAPI(t)
	api.seed(models.Challenge{Title: "Direct", Status: models.StatusPending, ChallengeType: models.ChallengeTypeDirect,
		ChallengerID: strp(alice), ChallengedID: strp(bob), CreatorID: strp(alice)})

	w := api.do(http.MethodGet, "/api/challenges?tab=pending", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp listResponse
	decode(t, w, &resp)
	assert.Equal(t, 1, resp.Counts.Pending)
	assert.Equal(t, "pending", resp.SelectedTab)

	w = api.do(http.MethodGet, "/api/challenges?tab=pending", "carol", nil)
	decode(t, w, &resp)
	assert.Equal(t, 0, resp.Counts.Pending)
	assert.Equal(t, "featured", resp.SelectedTab)
}

func TestListChallengesRequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	w := api.do(http.MethodGet, "/api/challenges", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Authorization header missing", message(t, w))
}

func TestGetChallenge(t *testing.T) {
	api := newTestAPI(t)
	id := api.seed(models.Challenge{Title: "One", Status: models.StatusOpen, ChallengerID: strp(alice), Amount: decimal.NewFromInt(5)})

	w := api.do(http.MethodGet, "/api/challenges/"+itoa(id), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view struct {
		Title          string `json:"title"`
		Currency       string `json:"currency"`
		ChallengerUser struct {
			Username string `json:"username"`
		} `json:"challengerUser"`
	}
	decode(t, w, &view)
	assert.Equal(t, "One", view.Title)
	assert.Equal(t, "$", view.Currency)
	assert.Equal(t, "alice", view.ChallengerUser.Username)

	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/api/challenges/999", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, "/api/challenges/abc", "", nil).Code)
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

func TestCreateP2PDirect(t *testing.T) {
	api := newTestAPI(t)
	w := api.do(http.MethodPost, "/api/challenges/create-p2p", "alice", map[string]string{
		"opponentId":      bob,
		"title":           "Lakers win",
		"stakeAmount":     "25.5",
		"challengeType":   "direct",
		"transactionHash": "0xabc",
		"dueDate":         "2025-01-02T12:00:00Z",
		"side":            "yes",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var view struct {
		ID           uint   `json:"id"`
		Status       string `json:"status"`
		ChallengedID string `json:"challengedId"`
		Side         string `json:"side"`
	}
	decode(t, w, &view)
	assert.Equal(t, models.StatusPending, view.Status)
	assert.Equal(t, bob, view.ChallengedID)
	assert.Equal(t, "YES", view.Side)

	assert.Equal(t, []string{realtime.EventChallengeCreated}, api.events.names())
	require.Eventually(t, func() bool { return len(api.announcer.sent()) == 1 }, time.Second, 5*time.Millisecond)
	sent := api.announcer.sent()[0]
	assert.Equal(t, "alice", sent.CreatorUsername)
	assert.Equal(t, 36, sent.ExpirationHours)
	assert.False(t, sent.IsAdminChallenge)
}

func TestCreateP2PForm(t *testing.T) {
	api := newTestAPI(t)
	form := url.Values{
		"title":           {"Open bet"},
		"stakeAmount":     {"1"},
		"challengeType":   {"open"},
		"transactionHash": {"0xdef"},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/challenges/create-p2p", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer alice")
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var view struct {
		Status string `json:"status"`
	}
	decode(t, w, &view)
	assert.Equal(t, models.StatusOpen, view.Status)
}

func TestCreateP2PValidation(t *testing.T) {
	api := newTestAPI(t)
	tests := []struct {
		name string
		body map[string]string
		want string
	}{
		{"title", map[string]string{"stakeAmount": "1", "transactionHash": "0x1"}, "Please enter a challenge title"},
		{"amount", map[string]string{"title": "t", "stakeAmount": "0", "transactionHash": "0x1"}, "Please enter a valid amount"},
		{"opponent", map[string]string{"title": "t", "stakeAmount": "1", "challengeType": "direct", "transactionHash": "0x1"}, "Please select an opponent for direct challenges"},
		{"self", map[string]string{"title": "t", "stakeAmount": "1", "challengeType": "direct", "opponentId": alice, "transactionHash": "0x1"}, "You cannot challenge yourself"},
		{"tx", map[string]string{"title": "t", "stakeAmount": "1"}, "Transaction hash is required"},
		{"past due", map[string]string{"title": "t", "stakeAmount": "1", "transactionHash": "0x1", "dueDate": "2024-12-31"}, "Due date must be in the future"},
		{"unknown opponent", map[string]string{"title": "t", "stakeAmount": "1", "challengeType": "direct", "opponentId": "did:privy:ghost", "transactionHash": "0x1"}, "Opponent not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(http.MethodPost, "/api/challenges/create-p2p", "alice", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.want, message(t, w))
		})
	}
	assert.Empty(t, api.events.names())
}

func TestAcceptChallenge(t *testing.T) {
	api := newTestAPI(t)
	id := api.seed(models.Challenge{Title: "Direct", Status: models.StatusPending, ChallengeType: models.ChallengeTypeDirect,
		ChallengerID: strp(alice), ChallengedID: strp(bob), CreatorID: strp(alice)})

	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, "/api/challenges/"+itoa(id)+"/accept", "carol", nil).Code)

	w := api.do(http.MethodPost, "/api/challenges/"+itoa(id)+"/accept", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	ch, _ := api.store.GetChallenge(context.Background(), id)
	assert.Equal(t, models.StatusActive, ch.Status)
	assert.Equal(t, 1, ch.ParticipantCount)
	assert.Equal(t, []string{realtime.EventChallengeUpdated}, api.events.names())
}

func TestJoinOpenChallenge(t *testing.T) {
	api := newTestAPI(t)
	id := api.seed(models.Challenge{Title: "Open", Status: models.StatusOpen, ChallengeType: models.ChallengeTypeOpen,
		ChallengerID: strp(alice), CreatorID: strp(alice), Amount: decimal.NewFromInt(10)})

	w := api.do(http.MethodPost, "/api/challenges/"+itoa(id)+"/join", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(http.MethodPost, "/api/challenges/"+itoa(id)+"/join", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	ch, _ := api.store.GetChallenge(context.Background(), id)
	assert.Equal(t, models.StatusActive, ch.Status)
	require.NotNil(t, ch.ChallengedID)
	assert.Equal(t, bob, *ch.ChallengedID)
	assert.Equal(t, []string{realtime.EventChallengeJoined}, api.events.names())

	w = api.do(http.MethodPost, "/api/challenges/"+itoa(id)+"/join", "carol", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJoinAdminPool(t *testing.T) {
	api := newTestAPI(t)
	id := api.seed(models.Challenge{Title: "Pool", Status: models.StatusOpen, ChallengeType: models.ChallengeTypeAdmin,
		AdminCreated: true, CreatorID: strp(boss), Amount: decimal.NewFromInt(5)})
	path := "/api/challenges/" + itoa(id) + "/join"

	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, path, "alice", map[string]string{}).Code)

	require.Equal(t, http.StatusOK, api.do(http.MethodPost, path, "alice", map[string]string{"side": "yes"}).Code)
	require.Equal(t, http.StatusOK, api.do(http.MethodPost, path, "bob", map[string]string{"side": "no", "amount": "3"}).Code)
	assert.Equal(t, http.StatusConflict, api.do(http.MethodPost, path, "alice", map[string]string{"side": "yes"}).Code)

	ch, _ := api.store.GetChallenge(context.Background(), id)
	assert.Equal(t, 2, ch.ParticipantCount)
	assert.Equal(t, models.StatusOpen, ch.Status)
}

func TestMessages(t *testing.T) {
	api := newTestAPI(t)
	id := api.seed(models.Challenge{Title: "Chat", Status: models.StatusActive, ChallengerID: strp(alice)})
	path := "/api/challenges/" + itoa(id) + "/messages"

	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodPost, path, "", map[string]string{"message": "hi"}).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, path, "bob", map[string]string{"message": "   "}).Code)
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodPost, "/api/challenges/999/messages", "bob", map[string]string{"message": "hi"}).Code)

	w := api.do(http.MethodPost, path, "bob", map[string]string{"message": "good luck"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, []string{realtime.EventNewMessage}, api.events.names())

	w = api.do(http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var msgs []MessageView
	decode(t, w, &msgs)
	require.Len(t, msgs, 1)
	assert.Equal(t, "good luck", msgs[0].Message)
	assert.Equal(t, "bob", msgs[0].User.DisplayName)

	ch, _ := api.store.GetChallenge(context.Background(), id)
	assert.Equal(t, 1, ch.CommentCount)
}

func TestAdminRoutes(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodPost, "/api/admin/challenges", "alice", map[string]string{"title": "Pool", "amount": "10"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(http.MethodPost, "/api/admin/challenges", "boss", map[string]string{"title": "Pool", "amount": "10"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var view struct {
		ID           uint   `json:"id"`
		AdminCreated bool   `json:"adminCreated"`
		Status       string `json:"status"`
	}
	decode(t, w, &view)
	assert.True(t, view.AdminCreated)
	assert.Equal(t, models.StatusOpen, view.Status)
	require.Eventually(t, func() bool { return len(api.announcer.sent()) == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, api.announcer.sent()[0].IsAdminChallenge)

	path := "/api/admin/challenges/" + itoa(view.ID)
	require.Equal(t, http.StatusOK, api.do(http.MethodPut, path+"/pin", "boss", map[string]bool{"isPinned": true}).Code)
	ch, _ := api.store.GetChallenge(context.Background(), view.ID)
	assert.True(t, ch.IsPinned)

	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPut, path+"/resolve", "boss", map[string]string{}).Code)

	// 受付中のプールはまだ確定できない
	w = api.do(http.MethodPut, path+"/resolve", "boss", map[string]string{"result": "yes"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "challenge cannot be resolved", message(t, w))

	api.store.mu.Lock()
	api.store.challenges[view.ID].Status = models.StatusPendingAdmin
	api.store.mu.Unlock()
	require.Equal(t, http.StatusOK, api.do(http.MethodPut, path+"/resolve", "boss", map[string]string{"result": "yes"}).Code)
	ch, _ = api.store.GetChallenge(context.Background(), view.ID)
	assert.Equal(t, models.StatusCompleted, ch.Status)
	assert.Equal(t, "yes", ch.Result)

	assert.Equal(t, http.StatusNotFound, api.do(http.MethodPut, "/api/admin/challenges/999/pin", "boss", map[string]bool{"isPinned": true}).Code)
}

func TestGetAuthUser(t *testing.T) {
	api := newTestAPI(t)
	w := api.do(http.MethodGet, "/api/auth/user", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var user UserResponse
	decode(t, w, &user)
	assert.Equal(t, alice, user.ID)
	assert.Equal(t, "alice", user.DisplayName)
	assert.NotContains(t, w.Body.String(), "password")
}

func TestApplyReferral(t *testing.T) {
	api := newTestAPI(t)

	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, "/api/referrals/apply", "carol", map[string]string{}).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, "/api/referrals/apply", "carol", map[string]string{"code": "NOPE"}).Code)
	assert.Equal(t, http.StatusOK, api.do(http.MethodPost, "/api/referrals/apply", "carol", map[string]string{"code": "alice001"}).Code)
	assert.Equal(t, http.StatusConflict, api.do(http.MethodPost, "/api/referrals/apply", "carol", map[string]string{"code": "BOB00001"}).Code)

	u, err := api.store.GetUser(context.Background(), carol)
	require.NoError(t, err)
	assert.Equal(t, alice, u.ReferredBy)
}

func TestResolveEndedChallenge(t *testing.T) {
	api := newTestAPI(t)
	for _, status := range []string{models.StatusCancelled, models.StatusCompleted, models.StatusOpen, models.StatusPending} {
		id := api.seed(models.Challenge{Title: "Ended", Status: status, Result: "no", ChallengerID: strp(alice)})
		w := api.do(http.MethodPut, "/api/admin/challenges/"+itoa(id)+"/resolve", "boss", map[string]string{"result": "yes"})
		assert.Equal(t, http.StatusBadRequest, w.Code, status)

		ch, _ := api.store.GetChallenge(context.Background(), id)
		assert.Equal(t, status, ch.Status)
		assert.Equal(t, "no", ch.Result)
	}

	id := api.seed(models.Challenge{Title: "Live", Status: models.StatusActive, ChallengerID: strp(alice), ChallengedID: strp(bob)})
	require.Equal(t, http.StatusOK, api.do(http.MethodPut, "/api/admin/challenges/"+itoa(id)+"/resolve", "boss", map[string]string{"result": "challenger"}).Code)
}

func TestApplyReferralClientBody(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodPost, "/api/referrals/apply", "carol", map[string]string{"referralCode": "alice001"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Referral code applied", message(t, w))

	u, err := api.store.GetUser(context.Background(), carol)
	require.NoError(t, err)
	assert.Equal(t, alice, u.ReferredBy)
}

func TestCreateP2POpponentLookupFailure(t *testing.T) {
	api := newTestAPI(t)
	api.store.failUser = bob

	w := api.do(http.MethodPost, "/api/challenges/create-p2p", "alice", map[string]string{
		"opponentId":      bob,
		"title":           "Lakers win",
		"stakeAmount":     "5",
		"challengeType":   "direct",
		"transactionHash": "0xabc",
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to look up opponent", message(t, w))
	assert.Empty(t, api.events.names())
}

func TestListUsers(t *testing.T) {
	api := newTestAPI(t)
	api.store.users["did:privy:dave"] = &models.User{ID: "did:privy:dave", Email: "dave@example.com", Username: "dmiller",
		FirstName: "Dave", LastName: "Miller", PrimaryWalletAddress: "0xAbCdEf0123"}

	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodGet, "/api/users", "", nil).Code)

	ids := func(w *httptest.ResponseRecorder) []string {
		t.Helper()
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var users []DirectoryUser
		decode(t, w, &users)
		out := []string{}
		for _, u := range users {
			out = append(out, u.ID)
		}
		return out
	}

	// 本人と管理者は含まれない
	assert.Equal(t, []string{bob, carol, "did:privy:dave"}, ids(api.do(http.MethodGet, "/api/users", "alice", nil)))

	assert.Equal(t, []string{"did:privy:dave"}, ids(api.do(http.MethodGet, "/api/users?search=DAVE+mil", "alice", nil)))
	assert.Equal(t, []string{"did:privy:dave"}, ids(api.do(http.MethodGet, "/api/users?search=0xabcdef", "alice", nil)))
	assert.Equal(t, []string{"did:privy:dave"}, ids(api.do(http.MethodGet, "/api/users?search=miller", "bob", nil)))
	assert.Empty(t, ids(api.do(http.MethodGet, "/api/users?search=boss", "alice", nil)))
	assert.Empty(t, ids(api.do(http.MethodGet, "/api/users?search=alice", "alice", nil)))

	w := api.do(http.MethodGet, "/api/users?search=dave", "alice", nil)
	assert.NotContains(t, w.Body.String(), "dave@example.com")
}
