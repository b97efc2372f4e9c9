// Package store wraps the external relational database the engine treats as
// an opaque persistence collaborator: presence transitions, direct-message
// rows, and (for the watch-party domain) room/video bookkeeping.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Store wraps a sqlx connection pool to Postgres.
type Store struct {
	db *sqlx.DB
}

// New connects to Postgres and configures the pool. The engine's concurrency
// model bounds the pool at 10 connections so a burst of store calls from many
// rooms can't starve the process of sockets.
func New(databaseURL string) (*Store, error) {
	if databaseURL == "" {
		return nil, errors.New("database URL is not set")
	}

	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to the database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping the database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies all pending migrations from migrationsPath.
func (s *Store) Migrate(databaseURL, migrationsPath string) error {
	sourceURL := fmt.Sprintf("file://%s", migrationsPath)

	m, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	if _, dirty, err := m.Version(); err == nil && dirty {
		return fmt.Errorf("database is in a dirty migration state")
	}

	return nil
}

// SetOnline updates a user's presence row.
func (s *Store) SetOnline(ctx context.Context, userID string, online bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_online = $1, last_seen = now() WHERE id = $2`,
		online, userID)
	if err != nil {
		return fmt.Errorf("set online(%s): %w", userID, err)
	}
	return nil
}

// DirectMessage is a persisted private message row.
type DirectMessage struct {
	ID              int64     `db:"id" json:"id"`
	SenderID        string    `db:"sender_id" json:"sender_id"`
	ReceiverID      string    `db:"receiver_id" json:"receiver_id"`
	SenderUsername  string    `db:"sender_username" json:"sender_username"`
	Message         string    `db:"message" json:"message"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// InsertDirectMessage persists a private message and returns the server-assigned id.
func (s *Store) InsertDirectMessage(ctx context.Context, senderID, receiverID, body string) (*DirectMessage, error) {
	var msg DirectMessage
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO chat_messages (sender_id, receiver_id, message)
		 VALUES ($1, $2, $3)
		 RETURNING id, sender_id, receiver_id, message, created_at`,
		senderID, receiverID, body,
	).Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Message, &msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert direct message: %w", err)
	}
	return &msg, nil
}

// UnreadDirectMessages returns the newest `limit` unread messages addressed
// to receiverID, joined to the sender's username.
func (s *Store) UnreadDirectMessages(ctx context.Context, receiverID string, limit int) ([]DirectMessage, error) {
	var rows []DirectMessage
	query := `
		SELECT cm.id, cm.sender_id, cm.receiver_id, u.username AS sender_username,
		       cm.message, cm.created_at
		FROM chat_messages cm
		JOIN users u ON u.id = cm.sender_id
		WHERE cm.receiver_id = $1 AND cm.read_at IS NULL
		ORDER BY cm.created_at DESC
		LIMIT $2`
	if err := s.db.SelectContext(ctx, &rows, query, receiverID, limit); err != nil {
		return nil, fmt.Errorf("unread direct messages(%s): %w", receiverID, err)
	}
	return rows, nil
}

// FriendRequest is a pending friendship row.
type FriendRequest struct {
	ID               int64     `db:"id" json:"id"`
	UserID           string    `db:"user_id" json:"user_id"`
	FriendID         string    `db:"friend_id" json:"friend_id"`
	RequesterUsername string  `db:"requester_username" json:"requester_username"`
	Status           string    `db:"status" json:"status"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// PendingFriendRequests returns the newest `limit` pending friend requests
// targeting userID, joined to the requester's username.
func (s *Store) PendingFriendRequests(ctx context.Context, userID string, limit int) ([]FriendRequest, error) {
	var rows []FriendRequest
	query := `
		SELECT f.id, f.user_id, f.friend_id, u.username AS requester_username,
		       f.status, f.created_at
		FROM friends f
		JOIN users u ON u.id = f.user_id
		WHERE f.friend_id = $1 AND f.status = 'pending'
		ORDER BY f.created_at DESC
		LIMIT $2`
	if err := s.db.SelectContext(ctx, &rows, query, userID, limit); err != nil {
		return nil, fmt.Errorf("pending friend requests(%s): %w", userID, err)
	}
	return rows, nil
}

// WatchPartyRoomRow is the durable counterpart of a room, used only to
// validate a room code and seed state when the engine is deployed against a
// pre-registered (rather than purely in-memory) room catalog.
type WatchPartyRoomRow struct {
	RoomCode    string `db:"room_code"`
	VideoID     string `db:"video_id"`
	HostUserID  string `db:"host_user_id"`
	MaxParticipants int `db:"max_participants"`
	IsPrivate   bool   `db:"is_private"`
}

// LookupWatchParty reads a pre-registered watch_parties row, if the
// deployment maintains one. Returns (nil, nil) when no row matches so the
// engine can fall back to lazy, client-declared room creation.
func (s *Store) LookupWatchParty(ctx context.Context, roomCode string) (*WatchPartyRoomRow, error) {
	var row WatchPartyRoomRow
	err := s.db.GetContext(ctx, &row,
		`SELECT room_code, video_id, host_user_id, max_participants, is_private
		 FROM watch_parties WHERE room_code = $1`, roomCode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup watch party(%s): %w", roomCode, err)
	}
	return &row, nil
}

// UpdatePlaybackState persists the current playback position for a room.
// Callers are expected to debounce this to at most once per second per room.
func (s *Store) UpdatePlaybackState(ctx context.Context, roomCode string, position float64, playing bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE watch_parties SET video_current_time = $1, is_playing = $2, updated_at = now()
		 WHERE room_code = $3`,
		position, playing, roomCode)
	if err != nil {
		return fmt.Errorf("update playback state(%s): %w", roomCode, err)
	}
	return nil
}

// InsertWatchPartyMessage persists a room chat message for analytics/audit;
// the engine's own authoritative chat history remains in-memory per §3.
func (s *Store) InsertWatchPartyMessage(ctx context.Context, roomCode, userID, username, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO watch_party_messages (room_code, user_id, username, message)
		 VALUES ($1, $2, $3, $4)`,
		roomCode, userID, username, message)
	if err != nil {
		return fmt.Errorf("insert watch party message(%s): %w", roomCode, err)
	}
	return nil
}

// TouchParticipant updates a watch-party participant's last-seen timestamp.
func (s *Store) TouchParticipant(ctx context.Context, roomCode, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE watch_party_participants SET last_seen = now()
		 WHERE room_code = $1 AND user_id = $2`,
		roomCode, userID)
	if err != nil {
		return fmt.Errorf("touch participant(%s, %s): %w", roomCode, userID, err)
	}
	return nil
}
