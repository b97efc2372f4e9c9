package watchparty

import (
	"context"

	"github.com/watchsync/engine/internal/store"
)

// StoreWriter is the slice of the external store the room touches. Calls are
// best-effort: a failure is logged by the caller and never blocks the
// in-memory action that triggered it.
type StoreWriter interface {
	UpdatePlaybackState(ctx context.Context, roomCode string, position float64, playing bool) error
	InsertWatchPartyMessage(ctx context.Context, roomCode, userID, username, message string) error
	TouchParticipant(ctx context.Context, roomCode, userID string) error
}

// RoomLookup is the slice of the external store the registry consults, on
// room creation only, for a pre-registered row. A deployment with no such
// catalog returns (nil, nil) and the registry falls back to the
// client-declared fields on the `join` frame.
type RoomLookup interface {
	LookupWatchParty(ctx context.Context, roomCode string) (*store.WatchPartyRoomRow, error)
}
