package watchparty

import "errors"

var (
	// ErrRoomNotFound is returned by Join when the room doesn't exist and the
	// caller did not set the create flag.
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomFull is returned by Join when the room is already at capacity.
	ErrRoomFull = errors.New("La sala está llena")
	// ErrPrivateRoom is returned by Join on an existing private room when the
	// caller isn't creating it.
	ErrPrivateRoom = errors.New("Esta sala es privada, se necesita invitación")
	// ErrHostMismatch names a `create` request whose user id doesn't match
	// the connecting session's. Join never returns it: the creating user is
	// always the connecting session's user, so no mismatch can arise.
	ErrHostMismatch = errors.New("creating user must match connecting session")
	// ErrNotHost is returned when a host-only command is issued by a non-host.
	ErrNotHost = errors.New("only the host can do that")
	// ErrNotParticipant is returned when a participant-only command is issued
	// by a session no longer in the room.
	ErrNotParticipant = errors.New("not a participant in this room")
	// ErrTargetNotFound is returned when a host-targeted command names a user
	// who isn't a participant.
	ErrTargetNotFound = errors.New("target user not in room")
)
