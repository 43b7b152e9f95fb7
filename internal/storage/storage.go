package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrRoomExists is returned when a room name is already taken. The
// unique constraint on room names is the final arbiter under
// concurrent creation of the same name.
var ErrRoomExists = errors.New("room already exists")

// Membership roles.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// User represents a persisted account record.
type User struct {
	ID        string
	Username  string
	Email     string
	Password  string
	Online    bool
	LastSeen  time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Room is a durable chat room. Name is the unique, case-insensitive
// key and is stored lowercase.
type Room struct {
	ID          string
	Name        string
	Description string
	IsPrivate   bool
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RoomMember records that an identity has joined a room at some point.
// Membership is append-only; it outlives live occupancy.
type RoomMember struct {
	RoomID   string
	UserID   string
	Role     string
	JoinedAt time.Time
}

// Message is a persisted chat message. SenderName is resolved from the
// users table at read time and is empty on write.
type Message struct {
	ID         string
	Room       string
	SenderID   string
	SenderName string
	Content    string
	CreatedAt  time.Time
}

// Store defines persistence operations used by the server.
type Store interface {
	Close() error
	Migrate(ctx context.Context) error

	CreateUser(ctx context.Context, user *User) error
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	SetUserPresence(ctx context.Context, id string, online bool, seen time.Time) error

	// FindRoomByName matches case-insensitively.
	FindRoomByName(ctx context.Context, name string) (*Room, error)
	// CreateRoom persists the room with its creator as sole admin
	// member. A duplicate name yields ErrRoomExists.
	CreateRoom(ctx context.Context, room *Room) error
	// EnsureMember appends a membership entry unless one already
	// exists for the user. Idempotent.
	EnsureMember(ctx context.Context, roomID, userID, role string) error
	ListPublicRooms(ctx context.Context) ([]Room, error)

	SaveMessage(ctx context.Context, msg *Message) error
	// RecentMessages returns up to limit messages for the room,
	// newest first, with sender usernames resolved.
	RecentMessages(ctx context.Context, room string, limit int) ([]Message, error)
}
