package protocol

import "time"

// MessageType enumerates high-level protocol intents.
type MessageType string

// Client to server.
const (
	MessageTypeAuthRequest    MessageType = "auth_request"
	MessageTypeConnect        MessageType = "connect"
	MessageTypeJoinRoom       MessageType = "join_room"
	MessageTypeSendMessage    MessageType = "send_message"
	MessageTypeGetRooms       MessageType = "get_rooms"
	MessageTypeGetOnlineUsers MessageType = "get_online_users"
)

// Server to client.
const (
	MessageTypeAuthResponse   MessageType = "auth_response"
	MessageTypeWelcome        MessageType = "welcome"
	MessageTypeRoomJoined     MessageType = "room_joined"
	MessageTypeNewMessage     MessageType = "new_message"
	MessageTypeRoomsUpdated   MessageType = "rooms_updated"
	MessageTypeUserJoined     MessageType = "user_joined"
	MessageTypeUserLeft       MessageType = "user_left"
	MessageTypeUserJoinedRoom MessageType = "user_joined_room"
	MessageTypeUserLeftRoom   MessageType = "user_left_room"
	MessageTypeOnlineUsers    MessageType = "online_users"
	MessageTypeError          MessageType = "error"
)

// Envelope wraps every payload sent over the wire.
type Envelope struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Token     string      `json:"token,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
}

// AuthRequest carries login or registration data.
type AuthRequest struct {
	Action   string `json:"action"` // login or register
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

// AuthResponse returns token and expiry details to the client.
type AuthResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
	UserID    string `json:"user_id"`
}

// ConnectRequest opens an authenticated session. The credential may
// instead travel in the envelope token field; both are accepted.
type ConnectRequest struct {
	Token string `json:"token,omitempty"`
}

// JoinRoomRequest switches the session to the named room, creating it
// on first use.
type JoinRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// SendMessageRequest posts a chat message. Room defaults to the
// session's current room when omitted.
type SendMessageRequest struct {
	Text string `json:"text"`
	Room string `json:"room,omitempty"`
}

// UserRef identifies a user in notifications.
type UserRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// OnlineUser is one entry of the online roster.
type OnlineUser struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// WelcomePayload greets a freshly authenticated session.
type WelcomePayload struct {
	Message     string       `json:"message"`
	User        UserRef      `json:"user"`
	OnlineUsers []OnlineUser `json:"onlineUsers"`
	Timestamp   time.Time    `json:"timestamp"`
}

// PresencePayload announces a user joining or leaving the service,
// together with the updated online roster.
type PresencePayload struct {
	User        UserRef      `json:"user"`
	OnlineUsers []OnlineUser `json:"onlineUsers"`
	Message     string       `json:"message"`
	Timestamp   time.Time    `json:"timestamp"`
}

// RoomSummary is one entry of a rooms_updated roster.
type RoomSummary struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	UserCount   int       `json:"userCount"`
	IsPrivate   bool      `json:"isPrivate"`
}

// RoomInfo describes the room a session just joined.
type RoomInfo struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	CreatedBy   string    `json:"createdBy,omitempty"`
}

// ChatMessage is a single rendered chat message, live or replayed.
type ChatMessage struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Room      string    `json:"room"`
}

// RoomJoinedPayload confirms a join to the joining session and replays
// the room history oldest-first.
type RoomJoinedPayload struct {
	Room     string        `json:"room"`
	Messages []ChatMessage `json:"messages"`
	RoomInfo RoomInfo      `json:"roomInfo"`
}

// RoomEventPayload notifies the occupants of a room about someone
// joining or leaving it.
type RoomEventPayload struct {
	Room      string    `json:"room"`
	User      UserRef   `json:"user"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorPayload reports a handler failure to the originating session.
type ErrorPayload struct {
	Message string `json:"message"`
}
