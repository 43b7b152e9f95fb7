package server

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/okvee/parlor/internal/protocol"
	"github.com/okvee/parlor/internal/storage"
)

// handleSendMessage validates, persists, and fans a chat message out
// to every occupant of its room, the sender included. Fan-out happens
// inside the handler, so delivery order per room is the completion
// order of validated sends.
func (a *App) handleSendMessage(ctx context.Context, s *clientSession, env protocol.Envelope) error {
	id, err := s.requireIdentity()
	if err != nil {
		return err
	}

	req, err := decodeSendMessageRequest(env.Payload)
	if err != nil {
		return errInvalidPayload
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return errEmptyMessage
	}
	if len([]rune(req.Text)) > maxMessageLen {
		return errMessageTooLong
	}

	room := strings.ToLower(strings.TrimSpace(req.Room))
	if room == "" {
		room = s.room()
	}
	if room == "" {
		return errRoomRequired
	}

	msg := &storage.Message{
		ID:        ulid.Make().String(),
		Room:      room,
		SenderID:  id.ID,
		Content:   text,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.SaveMessage(ctx, msg); err != nil {
		return err
	}

	log.Debug().Str("module", "server").Str("room", room).
		Str("user", id.Username).Int("len", len(text)).Msg("message stored")

	event := newEvent(protocol.MessageTypeNewMessage, protocol.ChatMessage{
		ID:        msg.ID,
		UserID:    id.ID,
		Username:  id.Username,
		Text:      msg.Content,
		Timestamp: msg.CreatedAt,
		Room:      msg.Room,
	})
	for _, occupant := range a.hub.Occupants(room) {
		occupant.trySend(event)
	}
	return nil
}

// replayHistory sends the room's bounded history to one session as a
// room_joined event, oldest first.
func (a *App) replayHistory(ctx context.Context, s *clientSession, room *storage.Room) error {
	recent, err := a.store.RecentMessages(ctx, room.Name, a.cfg.HistoryLimit)
	if err != nil {
		return err
	}

	// The query returns newest-first; clients render oldest-first.
	messages := make([]protocol.ChatMessage, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		msg := recent[i]
		username := msg.SenderName
		if username == "" {
			username = "Unknown"
		}
		messages = append(messages, protocol.ChatMessage{
			ID:        msg.ID,
			UserID:    msg.SenderID,
			Username:  username,
			Text:      msg.Content,
			Timestamp: msg.CreatedAt,
			Room:      msg.Room,
		})
	}

	return s.send(ctx, newEvent(protocol.MessageTypeRoomJoined, protocol.RoomJoinedPayload{
		Room:     room.Name,
		Messages: messages,
		RoomInfo: protocol.RoomInfo{
			Name:        room.Name,
			Description: room.Description,
			CreatedAt:   room.CreatedAt,
			CreatedBy:   room.CreatedBy,
		},
	}))
}
