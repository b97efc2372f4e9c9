package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchsync/engine/internal/auth"
	"github.com/watchsync/engine/internal/watchparty"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeWatchPartyRegistry struct {
	mu         sync.Mutex
	joinCalls  []watchparty.JoinOptions
	joinErr    error
	getRoom    *watchparty.Room
	getOK      bool
	leftCode   string
	leftUserID string
}

func (f *fakeWatchPartyRegistry) Get(code string) (*watchparty.Room, bool) {
	return f.getRoom, f.getOK
}

func (f *fakeWatchPartyRegistry) Join(ctx context.Context, code, userID, username string, sess watchparty.Sender, opts watchparty.JoinOptions) (*watchparty.Room, *watchparty.Participant, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joinCalls = append(f.joinCalls, opts)
	return nil, nil, true, f.joinErr
}

func (f *fakeWatchPartyRegistry) Leave(ctx context.Context, code, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leftCode = code
	f.leftUserID = userID
}

type fakeDirectMsgPipeline struct {
	mu             sync.Mutex
	privateCalls   []string
	friendReqCalls []string
	respCalls      []string
}

func (f *fakeDirectMsgPipeline) HandlePrivateMessage(ctx context.Context, senderID, receiverID, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.privateCalls = append(f.privateCalls, senderID+"->"+receiverID+":"+body)
}

func (f *fakeDirectMsgPipeline) HandleFriendRequest(ctx context.Context, fromUserID, toUserID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.friendReqCalls = append(f.friendReqCalls, fromUserID+"->"+toUserID)
}

func (f *fakeDirectMsgPipeline) HandleFriendRequestResponse(ctx context.Context, requestID, originatorUserID, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.respCalls = append(f.respCalls, requestID+":"+status)
}

func (f *fakeDirectMsgPipeline) Replay(ctx context.Context, userID string, sess interface {
	ID() string
	Send(frame any)
}) {
}

func newTestSession() *Session {
	return newSession("s1", "u1", "Alice", "ROOM1", "watch_party", &fakeConn{})
}

func TestHandleJoin_PassesOptionsThrough(t *testing.T) {
	reg := &fakeWatchPartyRegistry{}
	g := &Gateway{WatchParty: reg}
	sess := newTestSession()

	g.handleJoin(context.Background(), sess, map[string]any{
		"create":           true,
		"room_name":        "Movie Night",
		"video_id":         "abc123",
		"max_participants": float64(5),
		"is_private":       true,
	})

	require.Len(t, reg.joinCalls, 1)
	opts := reg.joinCalls[0]
	assert.True(t, opts.Create)
	assert.Equal(t, "Movie Night", opts.RoomName)
	assert.Equal(t, "abc123", opts.VideoID)
	assert.Equal(t, 5, opts.MaxParticipants)
	assert.True(t, opts.Private)
}

func TestHandleJoin_SendsErrorFrameOnFailure(t *testing.T) {
	reg := &fakeWatchPartyRegistry{joinErr: watchparty.ErrRoomFull}
	g := &Gateway{WatchParty: reg}
	sess := newTestSession()

	g.handleJoin(context.Background(), sess, map[string]any{})

	select {
	case data := <-sess.send:
		assert.Contains(t, string(data), `"error"`)
	default:
		t.Fatal("expected an error frame to be queued")
	}
}

func TestHandleWatchPartyFrame_RoomNotFoundSendsError(t *testing.T) {
	reg := &fakeWatchPartyRegistry{getOK: false}
	g := &Gateway{WatchParty: reg}
	sess := newTestSession()

	g.handleWatchPartyFrame(context.Background(), sess, "chat_message", map[string]any{"body": "hi"})

	select {
	case data := <-sess.send:
		assert.Contains(t, string(data), "room not found")
	default:
		t.Fatal("expected a room-not-found error frame")
	}
}

func TestHandleChatFrame_PrivateMessageRequiresToAndBody(t *testing.T) {
	pipe := &fakeDirectMsgPipeline{}
	g := &Gateway{DirectMsg: pipe}
	sess := newTestSession()

	g.handleChatFrame(context.Background(), sess, "private_message", map[string]any{"to": "", "body": "hi"})

	assert.Empty(t, pipe.privateCalls)
	select {
	case data := <-sess.send:
		assert.Contains(t, string(data), "error")
	default:
		t.Fatal("expected a validation error frame")
	}
}

func TestHandleChatFrame_PrivateMessageDispatches(t *testing.T) {
	pipe := &fakeDirectMsgPipeline{}
	g := &Gateway{DirectMsg: pipe}
	sess := newTestSession()

	g.handleChatFrame(context.Background(), sess, "private_message", map[string]any{"to": "u2", "body": "hello"})

	require.Len(t, pipe.privateCalls, 1)
	assert.Equal(t, "u1->u2:hello", pipe.privateCalls[0])
}

func TestHandleChatFrame_FriendRequestDispatches(t *testing.T) {
	pipe := &fakeDirectMsgPipeline{}
	g := &Gateway{DirectMsg: pipe}
	sess := newTestSession()

	g.handleChatFrame(context.Background(), sess, "friend_request", map[string]any{"to": "u2"})

	require.Len(t, pipe.friendReqCalls, 1)
	assert.Equal(t, "u1->u2", pipe.friendReqCalls[0])
}

func TestHandleChatFrame_FriendRequestResponseDispatches(t *testing.T) {
	pipe := &fakeDirectMsgPipeline{}
	g := &Gateway{DirectMsg: pipe}
	sess := newTestSession()

	g.handleChatFrame(context.Background(), sess, "friend_request_response", map[string]any{
		"requestId": "req1", "originator": "u2", "status": "accepted",
	})

	require.Len(t, pipe.respCalls, 1)
	assert.Equal(t, "req1:accepted", pipe.respCalls[0])
}

func TestUsernameOrDefault(t *testing.T) {
	assert.Equal(t, defaultUsername, usernameOrDefault(""))
	assert.Equal(t, "Bob", usernameOrDefault("Bob"))
}

// dialAndReadClose opens a WS connection to path on srv and reads until the
// server's close frame arrives, returning the close error.
func dialAndReadClose(t *testing.T, srv *httptest.Server, path string) error {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, _, readErr := conn.ReadMessage()
	return readErr
}

func TestServeWatchParty_RejectsMissingQueryParams(t *testing.T) {
	g := New(nil)
	router := gin.New()
	router.GET("/watch-party", g.ServeWatchParty)
	srv := httptest.NewServer(router)
	defer srv.Close()

	err := dialAndReadClose(t, srv, "/watch-party")

	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected a websocket close error, got %v", err)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}

func TestServeChat_RejectsMissingUser(t *testing.T) {
	g := New(nil)
	router := gin.New()
	router.GET("/chat", g.ServeChat)
	srv := httptest.NewServer(router)
	defer srv.Close()

	err := dialAndReadClose(t, srv, "/chat")

	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected a websocket close error, got %v", err)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}

func TestAuthorize_NilValidatorAlwaysPasses(t *testing.T) {
	g := &Gateway{}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/watch-party", nil)

	assert.True(t, g.authorize(c, "u1"))
}

func TestAuthorize_RejectsMissingToken(t *testing.T) {
	g := &Gateway{Auth: auth.NewHMACValidator("a-very-long-test-signing-secret")}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/watch-party?user=u1", nil)

	assert.False(t, g.authorize(c, "u1"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthorize_RejectsSubjectMismatch(t *testing.T) {
	secret := "a-very-long-test-signing-secret"
	g := &Gateway{Auth: auth.NewHMACValidator(secret)}

	claims := &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "someone-else"}}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/watch-party?user=u1&token="+signed, nil)

	assert.False(t, g.authorize(c, "u1"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthorize_AcceptsMatchingSubject(t *testing.T) {
	secret := "a-very-long-test-signing-secret"
	g := &Gateway{Auth: auth.NewHMACValidator(secret)}

	claims := &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"}}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/watch-party?user=u1&token="+signed, nil)

	assert.True(t, g.authorize(c, "u1"))
}

func TestUpgrader_CheckOriginAllowsConfiguredOrigins(t *testing.T) {
	g := &Gateway{AllowedOrigins: []string{"https://app.example.com"}}
	upgrader := g.upgrader()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	assert.True(t, upgrader.CheckOrigin(req))

	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, upgrader.CheckOrigin(req2))

	req3 := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.True(t, upgrader.CheckOrigin(req3), "requests without an Origin header (non-browser clients) are allowed")
}
