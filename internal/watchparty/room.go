// Package watchparty implements the room registry and per-room state
// machine: membership, host succession, bounded chat/playback history, and
// the typed commands participants exchange over a room's sessions.
package watchparty

import (
	"container/list"
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/watchsync/engine/internal/logging"
	"github.com/watchsync/engine/internal/metrics"
)

const playbackWriteInterval = time.Second

// Room is a single watch-party: one state machine, one lock, one history.
// All state-mutating operations execute under mu in a total order, per the
// single-writer discipline the rest of the engine assumes of a room.
type Room struct {
	mu sync.Mutex

	ID        string
	Code      string
	Name      string
	VideoID   string
	MaxParticipants int
	Private   bool
	CreatedAt time.Time

	hostUserID   string
	hostUsername string

	position float64
	playing  bool

	participants map[string]*Participant

	chatHistory     *list.List
	playbackHistory *list.List
	nextMsgID       int64

	lastPlaybackWrite time.Time

	store   StoreWriter
	onEmpty func(code string)
}

// NewRoom constructs an empty room. The first Join call assigns the host.
func NewRoom(code, name, videoID string, maxParticipants int, private bool, store StoreWriter, onEmpty func(string)) *Room {
	if maxParticipants < 1 {
		maxParticipants = 10
	}
	return &Room{
		ID:              uuid.NewString(),
		Code:            code,
		Name:            name,
		VideoID:         videoID,
		MaxParticipants: maxParticipants,
		Private:         private,
		CreatedAt:       time.Now(),
		participants:    make(map[string]*Participant),
		chatHistory:     list.New(),
		playbackHistory: list.New(),
		store:           store,
		onEmpty:         onEmpty,
	}
}

// ParticipantCount returns the current membership size.
func (r *Room) ParticipantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

// IsEmpty reports whether the room has no participants.
func (r *Room) IsEmpty() bool {
	return r.ParticipantCount() == 0
}

// CloseAll closes every participant's session with the given code/reason, for
// process shutdown. It does not remove the room from the registry; the
// process is exiting regardless.
func (r *Room) CloseAll(code int, reason string) {
	r.mu.Lock()
	sessions := make([]Sender, 0, len(r.participants))
	for _, p := range r.participants {
		sessions = append(sessions, p.Session)
	}
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.Close(code, reason)
	}
}

// Snapshot is a read-only view of a room used for /public-rooms listings.
type Snapshot struct {
	RoomCode         string    `json:"room_code"`
	RoomName         string    `json:"room_name"`
	HostUsername     string    `json:"host_username"`
	ParticipantCount int       `json:"participant_count"`
	MaxParticipants  int       `json:"max_participants"`
	VideoID          string    `json:"video_id"`
	CreatedAt        time.Time `json:"created_at"`
	Private          bool      `json:"-"`
}

// Snapshot returns the current public-facing state of the room.
func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		RoomCode:         r.Code,
		RoomName:         r.Name,
		HostUsername:     r.hostUsername,
		ParticipantCount: len(r.participants),
		MaxParticipants:  r.MaxParticipants,
		VideoID:          r.VideoID,
		CreatedAt:        r.CreatedAt,
		Private:          r.Private,
	}
}

// Join admits userID to the room. The first participant becomes host.
func (r *Room) Join(ctx context.Context, userID, username string, sess Sender) (*Participant, bool, error) {
	r.mu.Lock()

	if existing, ok := r.participants[userID]; ok {
		// Reconnect: replace the session handle, keep host/seat.
		existing.Session = sess
		existing.LastSeen = time.Now()
		isHost := existing.IsHost
		r.sendJoinReplyLocked(sess, isHost)
		roomCode := r.Code
		r.mu.Unlock()
		r.touchParticipant(ctx, roomCode, userID)
		return existing, isHost, nil
	}

	if len(r.participants) >= r.MaxParticipants {
		r.mu.Unlock()
		return nil, false, ErrRoomFull
	}

	isHost := len(r.participants) == 0
	now := time.Now()
	p := &Participant{
		Session:  sess,
		UserID:   userID,
		Username: username,
		JoinedAt: now,
		LastSeen: now,
		IsHost:   isHost,
	}
	if isHost {
		r.hostUserID = userID
		r.hostUsername = username
	}
	r.participants[userID] = p

	metrics.RoomParticipants.WithLabelValues(r.Code).Set(float64(len(r.participants)))

	r.broadcastExceptLocked(userID, Frame{
		"type": "user_joined", "user_id": userID, "username": username,
	})
	r.broadcastAllLocked(Frame{
		"type": "participants_update", "participants": r.participantsListLocked(),
	})
	r.sendJoinReplyLocked(sess, isHost)
	roomCode := r.Code

	r.mu.Unlock()
	r.touchParticipant(ctx, roomCode, userID)
	return p, isHost, nil
}

// touchParticipant asynchronously records a participant's last-seen
// timestamp in the external store. Best-effort per §4.5/§7's store policy.
func (r *Room) touchParticipant(ctx context.Context, roomCode, userID string) {
	if r.store == nil {
		return
	}
	go func() {
		if err := r.store.TouchParticipant(context.Background(), roomCode, userID); err != nil {
			logging.Warn(ctx, "failed to touch watch-party participant", zap.Error(err), zap.String("room_code", roomCode), zap.String("user_id", userID))
		}
	}()
}

func (r *Room) sendJoinReplyLocked(sess Sender, isHost bool) {
	sess.Send(Frame{
		"type": "room_joined", "room_code": r.Code, "is_host": isHost,
		"video_id": r.VideoID, "max_participants": r.MaxParticipants, "is_private": r.Private,
	})
	sess.Send(Frame{"type": "chat_history", "messages": r.chatHistorySliceLocked()})
	sess.Send(Frame{"type": "playback_sync", "current_time": r.position, "is_playing": r.playing})
}

// Leave removes userID, runs host succession if needed, and reports whether
// the room is now empty.
func (r *Room) Leave(ctx context.Context, userID string) bool {
	r.mu.Lock()
	empty := r.leaveLocked(ctx, userID)
	r.mu.Unlock()

	if empty && r.onEmpty != nil {
		go func() {
			defer func() {
				if rec := recover(); rec != nil {
					logging.Error(ctx, "panic in room onEmpty callback", zap.Any("recover", rec), zap.String("room_code", r.Code))
				}
			}()
			r.onEmpty(r.Code)
		}()
	}
	return empty
}

func (r *Room) leaveLocked(ctx context.Context, userID string) bool {
	p, ok := r.participants[userID]
	if !ok {
		return len(r.participants) == 0
	}
	delete(r.participants, userID)
	wasHost := p.IsHost

	if wasHost && len(r.participants) > 0 {
		next := r.earliestParticipantLocked()
		next.IsHost = true
		r.hostUserID = next.UserID
		r.hostUsername = next.Username
		r.broadcastAllLocked(Frame{
			"type": "system_message", "message": next.Username + " is now the host",
		})
	}

	if len(r.participants) > 0 {
		metrics.RoomParticipants.WithLabelValues(r.Code).Set(float64(len(r.participants)))
	} else {
		metrics.RoomParticipants.DeleteLabelValues(r.Code)
	}

	r.broadcastAllLocked(Frame{"type": "user_left", "user_id": userID})
	r.broadcastAllLocked(Frame{
		"type": "participants_update", "participants": r.participantsListLocked(),
	})

	return len(r.participants) == 0
}

// earliestParticipantLocked returns the participant with the earliest
// joined_at, tie-broken by user id. Caller must hold mu.
func (r *Room) earliestParticipantLocked() *Participant {
	candidates := make([]*Participant, 0, len(r.participants))
	for _, p := range r.participants {
		candidates = append(candidates, p)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].JoinedAt.Equal(candidates[j].JoinedAt) {
			return candidates[i].UserID < candidates[j].UserID
		}
		return candidates[i].JoinedAt.Before(candidates[j].JoinedAt)
	})
	return candidates[0]
}

// HandleCommand dispatches one typed frame already known to be a participant
// command. Sender must currently be a participant (except commands that
// tolerate stale membership, none exist in this table).
func (r *Room) HandleCommand(ctx context.Context, senderID, msgType string, payload map[string]any) {
	start := time.Now()
	status := "success"
	defer func() {
		metrics.CommandProcessingDuration.WithLabelValues(msgType).Observe(time.Since(start).Seconds())
		metrics.CommandsTotal.WithLabelValues(msgType, status).Inc()
	}()

	switch msgType {
	case "chat_message":
		if err := r.handleChatMessage(ctx, senderID, payload); err != nil {
			status = "error"
		}
	case "playback_update":
		if err := r.handlePlaybackUpdate(ctx, senderID, payload); err != nil {
			status = "error"
		}
	case "sync_request":
		r.handleSyncRequest(senderID)
	case "participants_request":
		r.handleParticipantsRequest(senderID)
	case "invite_user":
		if err := r.handleInviteUser(senderID, payload); err != nil {
			status = "error"
		}
	case "remove_participant":
		if err := r.handleRemoveParticipant(senderID, payload); err != nil {
			status = "error"
		}
	case "promote_to_cohost":
		if err := r.handlePromoteToCohost(senderID, payload); err != nil {
			status = "error"
		}
	case "transfer_host":
		if err := r.handleTransferHost(senderID, payload); err != nil {
			status = "error"
		}
	case "leave":
		r.Leave(ctx, senderID)
	default:
		status = "ignored"
		logging.Warn(ctx, "unknown watch-party command", zap.String("type", msgType))
	}
}

func (r *Room) handleChatMessage(ctx context.Context, senderID string, payload map[string]any) error {
	body, _ := payload["message"].(string)
	body = strings.TrimSpace(body)

	r.mu.Lock()
	sender, ok := r.participants[senderID]
	if !ok {
		r.mu.Unlock()
		return ErrNotParticipant
	}
	if body == "" {
		r.sendErrorLocked(sender, "message cannot be empty")
		r.mu.Unlock()
		return nil
	}

	r.nextMsgID++
	msg := ChatMessage{ID: r.nextMsgID, UserID: senderID, Username: sender.Username, Message: body, CreatedAt: time.Now()}
	r.chatHistory.PushBack(msg)
	if r.chatHistory.Len() > maxChatHistory {
		r.chatHistory.Remove(r.chatHistory.Front())
	}

	r.broadcastAllLocked(Frame{
		"type": "chat_message", "id": msg.ID, "user_id": msg.UserID,
		"username": msg.Username, "message": msg.Message, "timestamp": nowMillis(msg.CreatedAt),
	})
	roomCode, username := r.Code, sender.Username
	r.mu.Unlock()

	if r.store != nil {
		go func() {
			if err := r.store.InsertWatchPartyMessage(context.Background(), roomCode, senderID, username, body); err != nil {
				logging.Warn(ctx, "failed to persist watch-party message", zap.Error(err), zap.String("room_code", roomCode))
			}
		}()
	}
	return nil
}

func (r *Room) handlePlaybackUpdate(ctx context.Context, senderID string, payload map[string]any) error {
	position, _ := payload["current_time"].(float64)
	playing, _ := payload["is_playing"].(bool)
	eventType, _ := payload["event_type"].(string)
	if eventType == "" {
		eventType = "update"
	}

	r.mu.Lock()
	if _, ok := r.participants[senderID]; !ok {
		r.mu.Unlock()
		return ErrNotParticipant
	}

	r.position = position
	r.playing = playing
	r.playbackHistory.PushBack(PlaybackEvent{UserID: senderID, Position: position, Playing: playing, EventType: eventType, Timestamp: time.Now()})
	if r.playbackHistory.Len() > maxPlaybackHistory {
		r.playbackHistory.Remove(r.playbackHistory.Front())
	}

	r.broadcastExceptLocked(senderID, Frame{
		"type": "playback_update", "current_time": position, "is_playing": playing, "event_type": eventType,
	})

	shouldWrite := time.Since(r.lastPlaybackWrite) >= playbackWriteInterval
	if shouldWrite {
		r.lastPlaybackWrite = time.Now()
	}
	roomCode := r.Code
	r.mu.Unlock()

	if shouldWrite && r.store != nil {
		go func() {
			if err := r.store.UpdatePlaybackState(context.Background(), roomCode, position, playing); err != nil {
				logging.Warn(ctx, "failed to persist playback state", zap.Error(err), zap.String("room_code", roomCode))
			}
		}()
	}
	return nil
}

func (r *Room) handleSyncRequest(senderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sender, ok := r.participants[senderID]
	if !ok {
		return
	}
	sender.Session.Send(Frame{"type": "playback_sync", "current_time": r.position, "is_playing": r.playing})
}

func (r *Room) handleParticipantsRequest(senderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sender, ok := r.participants[senderID]
	if !ok {
		return
	}
	sender.Session.Send(Frame{"type": "participants_list", "participants": r.participantsListLocked()})
}

func (r *Room) handleInviteUser(senderID string, payload map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sender, ok := r.participants[senderID]
	if !ok {
		return ErrNotParticipant
	}
	if !sender.IsHost {
		r.sendErrorLocked(sender, "only the host can invite users")
		return ErrNotHost
	}
	invited, _ := payload["user_id"].(string)
	r.broadcastAllLocked(Frame{"type": "invitation_sent", "invited_user_id": invited, "by": sender.Username})
	return nil
}

func (r *Room) handleRemoveParticipant(senderID string, payload map[string]any) error {
	r.mu.Lock()
	sender, ok := r.participants[senderID]
	if !ok {
		r.mu.Unlock()
		return ErrNotParticipant
	}
	if !sender.IsHost {
		r.sendErrorLocked(sender, "only the host can remove participants")
		r.mu.Unlock()
		return ErrNotHost
	}
	targetID, _ := payload["user_id"].(string)
	target, ok := r.participants[targetID]
	if !ok || targetID == senderID {
		r.sendErrorLocked(sender, "target user not in room")
		r.mu.Unlock()
		return ErrTargetNotFound
	}
	r.broadcastAllLocked(Frame{
		"type": "system_message", "message": target.Username + " was removed from the room",
	})
	r.mu.Unlock()

	target.Session.Close(1000, "removed by host")
	r.Leave(context.Background(), targetID)
	return nil
}

func (r *Room) handlePromoteToCohost(senderID string, payload map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sender, ok := r.participants[senderID]
	if !ok {
		return ErrNotParticipant
	}
	if !sender.IsHost {
		r.sendErrorLocked(sender, "only the host can promote a co-host")
		return ErrNotHost
	}
	target, _ := payload["user_id"].(string)
	username := target
	if p, ok := r.participants[target]; ok {
		username = p.Username
	}
	r.broadcastAllLocked(Frame{
		"type": "system_message", "message": username + " was promoted to co-host",
	})
	return nil
}

func (r *Room) handleTransferHost(senderID string, payload map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sender, ok := r.participants[senderID]
	if !ok {
		return ErrNotParticipant
	}
	if !sender.IsHost {
		r.sendErrorLocked(sender, "only the host can transfer host")
		return ErrNotHost
	}
	targetID, _ := payload["user_id"].(string)
	target, ok := r.participants[targetID]
	if !ok {
		r.sendErrorLocked(sender, "target user not in room")
		return ErrTargetNotFound
	}

	sender.IsHost = false
	target.IsHost = true
	r.hostUserID = target.UserID
	r.hostUsername = target.Username

	r.broadcastAllLocked(Frame{
		"type": "system_message", "message": target.Username + " is now the host",
	})
	return nil
}

func (r *Room) sendErrorLocked(p *Participant, message string) {
	p.Session.Send(Frame{"type": "error", "message": message})
}

func (r *Room) chatHistorySliceLocked() []ChatMessage {
	out := make([]ChatMessage, 0, r.chatHistory.Len())
	for e := r.chatHistory.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(ChatMessage))
	}
	if len(out) > replayChatLimit {
		out = out[len(out)-replayChatLimit:]
	}
	return out
}

func (r *Room) participantsListLocked() []Frame {
	out := make([]Frame, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, Frame{
			"user_id": p.UserID, "username": p.Username, "is_host": p.IsHost,
			"joined_at": nowMillis(p.JoinedAt),
		})
	}
	return out
}

func (r *Room) broadcastAllLocked(frame Frame) {
	for _, p := range r.participants {
		p.Session.Send(frame)
	}
}

func (r *Room) broadcastExceptLocked(excludeUserID string, frame Frame) {
	for id, p := range r.participants {
		if id == excludeUserID {
			continue
		}
		p.Session.Send(frame)
	}
}

