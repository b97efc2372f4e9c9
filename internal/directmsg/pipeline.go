// Package directmsg persists and fans out private messages and
// friendship-lifecycle notifications, and replays pending items on connect.
package directmsg

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/watchsync/engine/internal/logging"
	"github.com/watchsync/engine/internal/metrics"
	"github.com/watchsync/engine/internal/presence"
	"github.com/watchsync/engine/internal/store"
)

const replayLimit = 10

// Frame mirrors the JSON envelope the gateway wraps outbound messages in.
type Frame = map[string]any

// Sender is what a chat session exposes to deliver a frame. Send takes `any`
// rather than Frame so the gateway's Session (whose Send signature is shared
// with the watch-party domain) satisfies this interface without a shim. It is
// an alias so Pipeline.Replay matches the gateway's DirectMessagePipeline.
type Sender = interface {
	presence.Session
	Send(frame any)
}

// Store is the slice of the external store the pipeline needs.
type Store interface {
	InsertDirectMessage(ctx context.Context, senderID, receiverID, body string) (*store.DirectMessage, error)
	UnreadDirectMessages(ctx context.Context, receiverID string, limit int) ([]store.DirectMessage, error)
	PendingFriendRequests(ctx context.Context, userID string, limit int) ([]store.FriendRequest, error)
}

// Presence is the subset of the presence registry the pipeline needs to
// decide whether to push live or rely on replay.
type Presence interface {
	SessionsOf(userID string) []presence.Session
}

// Pipeline wires the external store to live delivery and on-connect replay.
type Pipeline struct {
	store    Store
	presence Presence
}

// NewPipeline builds a direct-messaging pipeline.
func NewPipeline(store Store, presenceRegistry Presence) *Pipeline {
	return &Pipeline{store: store, presence: presenceRegistry}
}

// HandlePrivateMessage persists a message and pushes it live if the receiver
// is online; otherwise it is picked up at the receiver's next connect.
func (p *Pipeline) HandlePrivateMessage(ctx context.Context, senderID, receiverID, body string) {
	var stored *store.DirectMessage
	if p.store != nil {
		var err error
		stored, err = p.store.InsertDirectMessage(ctx, senderID, receiverID, body)
		if err != nil {
			logging.Warn(ctx, "failed to persist direct message", zap.Error(err), zap.String("user_id", senderID))
			metrics.StoreOperationsTotal.WithLabelValues("insert_direct_message", "error").Inc()
		} else {
			metrics.StoreOperationsTotal.WithLabelValues("insert_direct_message", "success").Inc()
		}
	}

	frame := Frame{"type": "private_message", "sender_id": senderID, "receiver_id": receiverID, "message": body}
	if stored != nil {
		frame["id"] = stored.ID
		frame["timestamp"] = stored.CreatedAt.UnixMilli()
	} else {
		frame["timestamp"] = time.Now().UnixMilli()
	}

	p.deliverLive(receiverID, frame, "live")
}

// HandleFriendRequest pushes a live notification to the target if online.
// Persistence of the request row is the external API's responsibility.
func (p *Pipeline) HandleFriendRequest(ctx context.Context, fromUserID, toUserID string) {
	p.deliverLive(toUserID, Frame{
		"type": "friend_request", "from_user_id": fromUserID, "timestamp": time.Now().UnixMilli(),
	}, "live")
}

// HandleFriendRequestResponse pushes the response back to the originator.
func (p *Pipeline) HandleFriendRequestResponse(ctx context.Context, requestID, originatorUserID, status string) {
	p.deliverLive(originatorUserID, Frame{
		"type": "friend_request_response", "request_id": requestID, "status": status, "timestamp": time.Now().UnixMilli(),
	}, "live")
}

func (p *Pipeline) deliverLive(userID string, frame Frame, path string) {
	sessions := p.presence.SessionsOf(userID)
	for _, s := range sessions {
		if sender, ok := s.(Sender); ok {
			sender.Send(frame)
		}
	}
	if len(sessions) > 0 {
		metrics.DirectMessagesDelivered.WithLabelValues(path).Inc()
	}
}

// Replay delivers, to a single freshly-attached session, any unread direct
// messages and pending friend requests for its user — best-effort.
func (p *Pipeline) Replay(ctx context.Context, userID string, sess Sender) {
	if p.store == nil {
		return
	}

	messages, err := p.store.UnreadDirectMessages(ctx, userID, replayLimit)
	if err != nil {
		logging.Warn(ctx, "failed to load unread direct messages for replay", zap.Error(err), zap.String("user_id", userID))
	} else {
		for _, m := range messages {
			sess.Send(Frame{
				"type": "private_message", "id": m.ID, "sender_id": m.SenderID,
				"message": m.Message, "timestamp": m.CreatedAt.UnixMilli(),
			})
			metrics.DirectMessagesDelivered.WithLabelValues("replay").Inc()
		}
	}

	requests, err := p.store.PendingFriendRequests(ctx, userID, replayLimit)
	if err != nil {
		logging.Warn(ctx, "failed to load pending friend requests for replay", zap.Error(err), zap.String("user_id", userID))
		return
	}
	for _, r := range requests {
		sess.Send(Frame{
			"type": "friend_request", "request_id": r.ID, "from_user_id": r.UserID,
			"from_username": r.RequesterUsername, "timestamp": r.CreatedAt.UnixMilli(),
		})
	}
}
