package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/okvee/parlor/internal/identity"
	"github.com/okvee/parlor/internal/protocol"
	"github.com/okvee/parlor/internal/storage"
)

// handleJoinRoom switches the session's room: occupancy moves first,
// then the durable side (lazy room creation, membership append),
// history replay to the joiner, notifications to both rooms' other
// occupants, and a directory-wide roster broadcast.
func (a *App) handleJoinRoom(ctx context.Context, s *clientSession, env protocol.Envelope) error {
	id, err := s.requireIdentity()
	if err != nil {
		return err
	}

	req, err := decodeJoinRoomRequest(env.Payload)
	if err != nil {
		return errInvalidPayload
	}

	name := strings.ToLower(strings.TrimSpace(req.Name))
	if name == "" {
		return errRoomRequired
	}

	previous := s.room()
	if previous == name {
		// Re-joining the current room stays a no-op but still replays
		// history.
		room, err := a.getOrCreateRoom(ctx, name, id, req.Description)
		if err != nil {
			return err
		}
		return a.replayHistory(ctx, s, room)
	}

	now := time.Now().UTC()
	if previous != "" {
		left := newEvent(protocol.MessageTypeUserLeftRoom, protocol.RoomEventPayload{
			Room:      previous,
			User:      s.userRef(),
			Message:   fmt.Sprintf("%s left the room", id.Username),
			Timestamp: now,
		})
		for _, occupant := range a.hub.Occupants(previous) {
			if occupant != s {
				occupant.trySend(left)
			}
		}
	}

	a.hub.Assign(s, name)
	s.setRoom(name)

	room, err := a.getOrCreateRoom(ctx, name, id, req.Description)
	if err != nil {
		return err
	}

	if err := a.store.EnsureMember(ctx, room.ID, id.ID, storage.RoleMember); err != nil {
		log.Warn().Err(err).Str("module", "server").Str("room", room.Name).
			Str("user", id.Username).Msg("membership not recorded")
	}

	if err := a.replayHistory(ctx, s, room); err != nil {
		return err
	}

	joined := newEvent(protocol.MessageTypeUserJoinedRoom, protocol.RoomEventPayload{
		Room:      name,
		User:      s.userRef(),
		Message:   fmt.Sprintf("%s joined the room", id.Username),
		Timestamp: time.Now().UTC(),
	})
	for _, occupant := range a.hub.Occupants(name) {
		if occupant != s {
			occupant.trySend(joined)
		}
	}

	log.Info().Str("module", "server").Str("user", id.Username).
		Str("from", previous).Str("room", name).Msg("room switched")

	a.broadcastRoomsUpdate(ctx)
	return nil
}

// getOrCreateRoom resolves a room by its case-insensitive name,
// creating it on first use with the joiner as creator and admin. Two
// concurrent creates of the same new name both observe "absent"; the
// unique constraint decides, and the loser fetches what the winner
// persisted.
func (a *App) getOrCreateRoom(ctx context.Context, name string, creator identity.Identity, description string) (*storage.Room, error) {
	room, err := a.store.FindRoomByName(ctx, name)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	if strings.TrimSpace(description) == "" {
		description = fmt.Sprintf("Room %s", name)
	}
	now := time.Now().UTC()
	fresh := &storage.Room{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedBy:   creator.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = a.store.CreateRoom(ctx, fresh)
	if err == nil {
		log.Info().Str("module", "server").Str("room", fresh.Name).
			Str("creator", creator.Username).Msg("room created")
		return fresh, nil
	}
	if errors.Is(err, storage.ErrRoomExists) {
		return a.store.FindRoomByName(ctx, name)
	}
	return nil, err
}
