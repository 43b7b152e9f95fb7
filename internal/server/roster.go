package server

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/okvee/parlor/internal/protocol"
)

// roomSummaries joins durable room metadata with live occupancy
// counts. Counts come from current connection assignments, not from
// durable membership.
func (a *App) roomSummaries(ctx context.Context) ([]protocol.RoomSummary, error) {
	rooms, err := a.store.ListPublicRooms(ctx)
	if err != nil {
		return nil, err
	}
	counts := a.hub.Counts()

	out := make([]protocol.RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, protocol.RoomSummary{
			Name:        room.Name,
			Description: room.Description,
			CreatedAt:   room.CreatedAt,
			UserCount:   counts[room.Name],
			IsPrivate:   room.IsPrivate,
		})
	}
	return out, nil
}

// broadcastRoomsUpdate recomputes the room roster and pushes it to
// every online session. Aggregation failures are logged and swallowed;
// they never fail the operation that triggered the broadcast.
func (a *App) broadcastRoomsUpdate(ctx context.Context) {
	summaries, err := a.roomSummaries(ctx)
	if err != nil {
		log.Warn().Err(err).Str("module", "server").Msg("roster aggregation failed")
		return
	}
	env := newEvent(protocol.MessageTypeRoomsUpdated, summaries)
	for _, s := range a.presence.Sessions() {
		s.trySend(env)
	}
}

// sendRooms pushes the current room roster to one session, used right
// after the handshake and for get_rooms requests.
func (a *App) sendRooms(ctx context.Context, s *clientSession) {
	summaries, err := a.roomSummaries(ctx)
	if err != nil {
		log.Warn().Err(err).Str("module", "server").Str("session", s.id).Msg("roster aggregation failed")
		return
	}
	if err := s.send(ctx, newEvent(protocol.MessageTypeRoomsUpdated, summaries)); err != nil {
		log.Debug().Err(err).Str("module", "server").Str("session", s.id).Msg("roster not delivered")
	}
}

func (a *App) handleGetRooms(ctx context.Context, s *clientSession, env protocol.Envelope) error {
	if _, err := s.requireIdentity(); err != nil {
		return err
	}
	a.sendRooms(ctx, s)
	return nil
}

// rosterLoop re-broadcasts the room roster on a fixed interval so
// occupancy counts self-heal even if an intermediate notification was
// lost.
func (a *App) rosterLoop(ctx context.Context) {
	if a.cfg.RosterInterval <= 0 {
		return
	}
	ticker := time.NewTicker(a.cfg.RosterInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.broadcastRoomsUpdate(ctx)
		}
	}
}
