package watchparty

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/watchsync/engine/internal/logging"
	"github.com/watchsync/engine/internal/metrics"
	"github.com/watchsync/engine/internal/store"
)

const (
	emptyRoomGrace    = 5 * time.Minute
	emptyRoomSweepAge = 10 * time.Minute
)

// Registry owns every active room, keyed by its upper-cased room code.
type Registry struct {
	mu             sync.Mutex
	rooms          map[string]*Room
	pendingCleanup map[string]*time.Timer
	store          StoreWriter
	lookup         RoomLookup
}

// NewRegistry builds an empty room registry. store also provides RoomLookup
// when its concrete type implements it (e.g. *store.Store); a store that
// doesn't maintain a pre-registered room catalog simply never matches and
// every room is created lazily from the client's `join` frame.
func NewRegistry(store StoreWriter) *Registry {
	reg := &Registry{
		rooms:          make(map[string]*Room),
		pendingCleanup: make(map[string]*time.Timer),
		store:          store,
	}
	if lookup, ok := store.(RoomLookup); ok {
		reg.lookup = lookup
	}
	return reg
}

// JoinOptions carries the fields a `join` frame may set.
type JoinOptions struct {
	Create          bool
	RoomName        string
	VideoID         string
	MaxParticipants int
	Private         bool
}

// Get looks up a room by code without side effects.
func (reg *Registry) Get(code string) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	room, ok := reg.rooms[strings.ToUpper(code)]
	return room, ok
}

// Join admits userID (via sess) to the named room, creating it first if the
// caller set opts.Create and no room exists yet.
func (reg *Registry) Join(ctx context.Context, code, userID, username string, sess Sender, opts JoinOptions) (*Room, *Participant, bool, error) {
	code = strings.ToUpper(code)

	reg.mu.Lock()
	room, exists := reg.rooms[code]
	if exists && room.Private && !opts.Create {
		reg.mu.Unlock()
		return nil, nil, false, ErrPrivateRoom
	}
	if !exists && !opts.Create {
		reg.mu.Unlock()
		return nil, nil, false, ErrRoomNotFound
	}
	reg.mu.Unlock()

	// A pre-registered row, when the deployment's store maintains one,
	// takes precedence over the client's declared fields; this call sits
	// outside any lock since it may block on the store per §5. Most
	// deployments have no such catalog and this is a cheap no-op lookup
	// that returns (nil, nil).
	var row *store.WatchPartyRoomRow
	if !exists && reg.lookup != nil {
		if r, err := reg.lookup.LookupWatchParty(ctx, code); err != nil {
			logging.Warn(ctx, "pre-registered room lookup failed, falling back to client-declared fields", zap.Error(err), zap.String("room_code", code))
		} else {
			row = r
		}
	}

	reg.mu.Lock()
	room, exists = reg.rooms[code]
	if !exists {
		videoID, maxParticipants, private := opts.VideoID, opts.MaxParticipants, opts.Private
		if row != nil {
			videoID, maxParticipants, private = row.VideoID, row.MaxParticipants, row.IsPrivate
		}
		name := opts.RoomName
		if name == "" {
			name = username + "'s room"
		}
		room = NewRoom(code, name, videoID, maxParticipants, private, reg.store, reg.onRoomEmpty)
		reg.rooms[code] = room
		metrics.ActiveRooms.Inc()
		logging.Info(ctx, "room created", zap.String("room_code", code), zap.String("user_id", userID))
	} else if room.Private && !opts.Create {
		reg.mu.Unlock()
		return nil, nil, false, ErrPrivateRoom
	}
	if timer, pending := reg.pendingCleanup[code]; pending {
		timer.Stop()
		delete(reg.pendingCleanup, code)
	}
	reg.mu.Unlock()

	p, isHost, err := room.Join(ctx, userID, username, sess)
	if err != nil {
		return nil, nil, false, err
	}
	return room, p, isHost, nil
}

// Leave removes userID from the named room and, if it becomes empty,
// schedules deferred eviction.
func (reg *Registry) Leave(ctx context.Context, code, userID string) {
	code = strings.ToUpper(code)
	reg.mu.Lock()
	room, ok := reg.rooms[code]
	reg.mu.Unlock()
	if !ok {
		return
	}
	room.Leave(ctx, userID)
}

// onRoomEmpty is invoked (off the room's lock) when a room's last
// participant leaves. It schedules a 5-minute grace-period deletion.
func (reg *Registry) onRoomEmpty(code string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if timer, pending := reg.pendingCleanup[code]; pending {
		timer.Stop()
		delete(reg.pendingCleanup, code)
	}

	timer := time.AfterFunc(emptyRoomGrace, func() {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		if room, ok := reg.rooms[code]; ok && room.IsEmpty() {
			delete(reg.rooms, code)
			delete(reg.pendingCleanup, code)
			metrics.ActiveRooms.Dec()
			logging.Info(context.Background(), "evicted empty room after grace period", zap.String("room_code", code))
		} else {
			delete(reg.pendingCleanup, code)
		}
	})
	reg.pendingCleanup[code] = timer
}

// SweepIdle deletes rooms that are empty now and were created more than
// emptyRoomSweepAge ago, as a backstop behind the deferred per-room eviction
// timers. How long a room has been empty is not tracked.
func (reg *Registry) SweepIdle() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	swept := 0
	cutoff := time.Now().Add(-emptyRoomSweepAge)
	for code, room := range reg.rooms {
		if room.IsEmpty() && room.CreatedAt.Before(cutoff) {
			delete(reg.rooms, code)
			if timer, pending := reg.pendingCleanup[code]; pending {
				timer.Stop()
				delete(reg.pendingCleanup, code)
			}
			metrics.ActiveRooms.Dec()
			swept++
		}
	}
	return swept
}

// CloseAll closes every live session in every room, for graceful process
// shutdown. Rooms are left in the registry; the process is exiting.
func (reg *Registry) CloseAll(code int, reason string) {
	reg.mu.Lock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.mu.Unlock()

	for _, r := range rooms {
		r.CloseAll(code, reason)
	}
}

// RoomCount reports how many rooms currently exist (health-check stat).
func (reg *Registry) RoomCount() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}

// ConnectionCount sums participant counts across every room.
func (reg *Registry) ConnectionCount() int {
	reg.mu.Lock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.mu.Unlock()

	total := 0
	for _, r := range rooms {
		total += r.ParticipantCount()
	}
	return total
}

// PublicRooms lists non-private rooms with at least one participant, for
// the /public-rooms endpoint.
func (reg *Registry) PublicRooms() []Snapshot {
	reg.mu.Lock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.mu.Unlock()

	out := make([]Snapshot, 0, len(rooms))
	for _, r := range rooms {
		snap := r.Snapshot()
		if !snap.Private && snap.ParticipantCount >= 1 {
			out = append(out, snap)
		}
	}
	return out
}
