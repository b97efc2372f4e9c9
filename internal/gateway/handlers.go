package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/watchsync/engine/internal/auth"
	"github.com/watchsync/engine/internal/logging"
	"github.com/watchsync/engine/internal/metrics"
	"github.com/watchsync/engine/internal/watchparty"
)

const defaultUsername = "Guest"

// WatchPartyRegistry is the slice of the room registry the gateway drives.
type WatchPartyRegistry interface {
	Get(code string) (*watchparty.Room, bool)
	Join(ctx context.Context, code, userID, username string, sess watchparty.Sender, opts watchparty.JoinOptions) (*watchparty.Room, *watchparty.Participant, bool, error)
	Leave(ctx context.Context, code, userID string)
}

// PresenceRegistry is the slice of the presence registry the chat gateway drives.
type PresenceRegistry interface {
	Attach(ctx context.Context, userID string, sess interface{ ID() string })
	Detach(ctx context.Context, userID string, sess interface{ ID() string })
}

// DirectMessagePipeline is the slice of the direct-messaging pipeline the
// chat gateway drives on inbound frames and on-connect replay.
type DirectMessagePipeline interface {
	HandlePrivateMessage(ctx context.Context, senderID, receiverID, body string)
	HandleFriendRequest(ctx context.Context, fromUserID, toUserID string)
	HandleFriendRequestResponse(ctx context.Context, requestID, originatorUserID, status string)
	Replay(ctx context.Context, userID string, sess interface {
		ID() string
		Send(frame any)
	})
}

// ConnectLimiter bounds WS-connect attempts per IP and per user (§9
// supplemental rate limiting). Nil disables the check.
type ConnectLimiter interface {
	CheckWebSocket(c *gin.Context) bool
	CheckWebSocketUser(ctx context.Context, userID string) error
}

// Gateway accepts inbound WebSocket connections for both domains and wires
// each session's frames into the watch-party or direct-messaging engines.
type Gateway struct {
	WatchParty WatchPartyRegistry
	Presence   PresenceRegistry
	DirectMsg  DirectMessagePipeline
	RateLimit  ConnectLimiter
	Auth       auth.Validator

	AllowedOrigins []string
}

// New builds a Gateway. Any of WatchParty/Presence/DirectMsg may be left on
// the returned struct afterward if a deployment only hosts one domain. Auth
// defaults to nil, meaning token validation is skipped; callers running with
// AUTH_ENABLED=true should set it to an *auth.HMACValidator.
func New(allowedOrigins []string) *Gateway {
	return &Gateway{AllowedOrigins: allowedOrigins}
}

// authorize validates the optional `token` query parameter against the
// user id the caller is connecting as, when a Validator is configured. A nil
// Validator (auth disabled) always authorizes.
func (g *Gateway) authorize(c *gin.Context, userID string) bool {
	if g.Auth == nil {
		return true
	}
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token query parameter is required"})
		return false
	}
	claims, err := g.Auth.ValidateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return false
	}
	if claims.Subject != userID {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token subject does not match connecting user"})
		return false
	}
	return true
}

// rejectPolicyViolation upgrades the connection (so the rejection is a real
// WebSocket close frame, not a bare HTTP status) and immediately closes it
// with code 1008 and reason, per spec §4.1 Validation.
func (g *Gateway) rejectPolicyViolation(c *gin.Context, reason string) {
	conn, err := g.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}
	sess := newSession(uuid.NewString(), "", "", "", "rejected", conn)
	sess.Close(websocket.ClosePolicyViolation, reason)
}

func (g *Gateway) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		WriteBufferPool: &sync.Pool{New: func() any { return make([]byte, 4096) }},
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			originURL, err := url.Parse(origin)
			if err != nil {
				return false
			}
			for _, allowed := range g.AllowedOrigins {
				allowedURL, err := url.Parse(allowed)
				if err != nil {
					continue
				}
				if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
					return true
				}
			}
			return false
		},
	}
}

// ServeWatchParty handles GET <watch-party-path>?room=<code>&user=<id>&username=<name>.
func (g *Gateway) ServeWatchParty(c *gin.Context) {
	userID := c.Query("user")
	roomCode := c.Query("room")
	username := usernameOrDefault(c.Query("username"))

	if userID == "" || roomCode == "" {
		g.rejectPolicyViolation(c, "room and user query parameters are required")
		return
	}
	roomCode = strings.ToUpper(roomCode)

	if !g.authorize(c, userID) {
		return
	}

	if g.RateLimit != nil {
		if !g.RateLimit.CheckWebSocket(c) {
			return
		}
		if err := g.RateLimit.CheckWebSocketUser(c.Request.Context(), userID); err != nil {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
			return
		}
	}

	conn, err := g.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}

	ctx := logging.WithRoom(logging.WithUser(logging.WithCorrelationID(context.Background(), uuid.NewString()), userID), roomCode)
	sess := newSession(uuid.NewString(), userID, username, roomCode, "watch_party", conn)
	metrics.IncSession("watch_party")
	sess.Send(Frame{"type": "connected", "session_id": sess.id})

	defer func() {
		if g.WatchParty != nil {
			g.WatchParty.Leave(ctx, roomCode, userID)
		}
	}()

	go sess.writePump()

	sess.readPump(func(frameType string, payload map[string]any) {
		g.handleWatchPartyFrame(ctx, sess, frameType, payload)
	})
}

// ServeChat handles GET <chat-path>?user=<id>&username=<name>.
func (g *Gateway) ServeChat(c *gin.Context) {
	userID := c.Query("user")
	username := usernameOrDefault(c.Query("username"))

	if userID == "" {
		g.rejectPolicyViolation(c, "user query parameter is required")
		return
	}

	if !g.authorize(c, userID) {
		return
	}

	if g.RateLimit != nil {
		if !g.RateLimit.CheckWebSocket(c) {
			return
		}
		if err := g.RateLimit.CheckWebSocketUser(c.Request.Context(), userID); err != nil {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
			return
		}
	}

	conn, err := g.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}

	ctx := logging.WithUser(logging.WithCorrelationID(context.Background(), uuid.NewString()), userID)
	sess := newSession(uuid.NewString(), userID, username, "", "chat", conn)
	metrics.IncSession("chat")

	if g.Presence != nil {
		g.Presence.Attach(ctx, userID, sess)
	}
	sess.Send(Frame{"type": "connected", "session_id": sess.id})
	if g.DirectMsg != nil {
		g.DirectMsg.Replay(ctx, userID, sess)
	}

	defer func() {
		if g.Presence != nil {
			g.Presence.Detach(ctx, userID, sess)
		}
	}()

	go sess.writePump()

	sess.readPump(func(frameType string, payload map[string]any) {
		g.handleChatFrame(ctx, sess, frameType, payload)
	})
}

func (g *Gateway) handleWatchPartyFrame(ctx context.Context, sess *Session, frameType string, payload map[string]any) {
	if frameType == "join" {
		g.handleJoin(ctx, sess, payload)
		return
	}
	if g.WatchParty == nil {
		return
	}
	room, ok := g.WatchParty.Get(sess.roomCode)
	if !ok {
		sess.Send(Frame{"type": "error", "message": "room not found"})
		return
	}
	room.HandleCommand(ctx, sess.userID, frameType, payload)
}

func (g *Gateway) handleJoin(ctx context.Context, sess *Session, payload map[string]any) {
	if g.WatchParty == nil {
		return
	}
	opts := watchparty.JoinOptions{}
	if v, ok := payload["create"].(bool); ok {
		opts.Create = v
	}
	if v, ok := payload["room_name"].(string); ok {
		opts.RoomName = v
	}
	if v, ok := payload["video_id"].(string); ok {
		opts.VideoID = v
	}
	if v, ok := payload["max_participants"].(float64); ok {
		opts.MaxParticipants = int(v)
	}
	if v, ok := payload["is_private"].(bool); ok {
		opts.Private = v
	}

	if _, _, _, err := g.WatchParty.Join(ctx, sess.roomCode, sess.userID, sess.username, sess, opts); err != nil {
		sess.Send(Frame{"type": "error", "message": err.Error()})
		logging.Info(ctx, "join refused", zap.Error(err), zap.String("user_id", sess.userID), zap.String("room_code", sess.roomCode))
	}
}

func (g *Gateway) handleChatFrame(ctx context.Context, sess *Session, frameType string, payload map[string]any) {
	if g.DirectMsg == nil {
		return
	}
	switch frameType {
	case "private_message":
		to, _ := payload["to"].(string)
		body, _ := payload["body"].(string)
		if to == "" || strings.TrimSpace(body) == "" {
			sess.Send(Frame{"type": "error", "message": "private_message requires 'to' and 'body'"})
			return
		}
		g.DirectMsg.HandlePrivateMessage(ctx, sess.userID, to, body)
	case "friend_request":
		to, _ := payload["to"].(string)
		if to == "" {
			sess.Send(Frame{"type": "error", "message": "friend_request requires 'to'"})
			return
		}
		g.DirectMsg.HandleFriendRequest(ctx, sess.userID, to)
	case "friend_request_response":
		requestID, _ := payload["requestId"].(string)
		originator, _ := payload["originator"].(string)
		status, _ := payload["status"].(string)
		if requestID == "" || originator == "" {
			sess.Send(Frame{"type": "error", "message": "friend_request_response requires 'requestId' and 'originator'"})
			return
		}
		g.DirectMsg.HandleFriendRequestResponse(ctx, requestID, originator, status)
	default:
		logging.Warn(ctx, "unknown chat command", zap.String("type", frameType))
	}
}

func usernameOrDefault(raw string) string {
	if raw == "" {
		return defaultUsername
	}
	return raw
}
