package server

import (
	"errors"

	"github.com/okvee/parlor/internal/identity"
	"github.com/okvee/parlor/internal/protocol"
)

// maxMessageLen caps chat message content length in characters.
const maxMessageLen = 1000

var (
	errNotAuthenticated = errors.New("authentication required")
	errAlreadyConnected = errors.New("session already authenticated")
	errEmptyMessage     = errors.New("message empty")
	errMessageTooLong   = errors.New("message too long")
	errRoomRequired     = errors.New("room name required")
	errInvalidPayload   = errors.New("invalid payload")
)

// userMessage maps a handler failure onto the error notification sent
// to the originating session. Unrecognized errors collapse into a
// per-event generic so internals never leak to clients.
func userMessage(eventType protocol.MessageType, err error) string {
	switch {
	case errors.Is(err, errEmptyMessage):
		return "Message cannot be empty"
	case errors.Is(err, errMessageTooLong):
		return "Message too long"
	case errors.Is(err, errRoomRequired):
		return "Room name is required"
	case errors.Is(err, errNotAuthenticated):
		return "Authentication required"
	case errors.Is(err, errAlreadyConnected):
		return "Already connected"
	case errors.Is(err, errInvalidPayload):
		return "Invalid payload"
	case errors.Is(err, identity.ErrMissingCredential):
		return "Authentication required"
	case errors.Is(err, identity.ErrInvalidCredential):
		return "Invalid token"
	case errors.Is(err, identity.ErrUnknownIdentity):
		return "User not found"
	case errors.Is(err, identity.ErrUserExists):
		return "Username already exists"
	case errors.Is(err, identity.ErrInvalidCredentials),
		errors.Is(err, identity.ErrInvalidInput):
		return "Invalid credentials"
	}

	switch eventType {
	case protocol.MessageTypeConnect:
		return "Connection setup failed"
	case protocol.MessageTypeSendMessage:
		return "Failed to send message"
	case protocol.MessageTypeJoinRoom:
		return "Failed to join room"
	case protocol.MessageTypeGetRooms, protocol.MessageTypeGetOnlineUsers:
		return "Failed to fetch roster"
	case protocol.MessageTypeAuthRequest:
		return "Authentication failed"
	}
	return "Internal error"
}
