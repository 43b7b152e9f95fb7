package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/okvee/parlor/internal/identity"
	"github.com/okvee/parlor/internal/protocol"
	"github.com/okvee/parlor/internal/storage"
)

// handleAuth serves the identity service's register/login surface
// in-band, before a handshake. It mints the bearer credential a later
// connect event presents.
func (a *App) handleAuth(ctx context.Context, s *clientSession, env protocol.Envelope) error {
	req, err := decodeAuthRequest(env.Payload)
	if err != nil {
		return errInvalidPayload
	}

	var (
		user  *storage.User
		token string
	)
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "register":
		user, token, err = a.ids.Register(ctx, req.Username, req.Email, req.Password)
	case "login":
		user, token, err = a.ids.Login(ctx, req.Username, req.Password)
	default:
		return errInvalidPayload
	}
	if err != nil {
		log.Info().Err(err).Str("module", "server").Str("action", req.Action).
			Str("user", req.Username).Str("remote", s.remoteAddr()).Msg("auth rejected")
		return err
	}

	log.Info().Str("module", "server").Str("action", req.Action).
		Str("user", user.Username).Str("remote", s.remoteAddr()).Msg("auth accepted")
	return s.send(ctx, newEvent(protocol.MessageTypeAuthResponse, protocol.AuthResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(a.ids.TokenTTL()).Unix(),
		UserID:    user.ID,
	}))
}

// handleConnect performs the handshake: the credential may ride in the
// envelope token field or the payload, for transports that cannot set
// either.
func (a *App) handleConnect(ctx context.Context, s *clientSession, env protocol.Envelope) error {
	if _, ok := s.who(); ok {
		return errAlreadyConnected
	}

	token := strings.TrimSpace(env.Token)
	if token == "" {
		req, err := decodeConnectRequest(env.Payload)
		if err != nil {
			return errInvalidPayload
		}
		token = strings.TrimSpace(req.Token)
	}

	a.completeHandshake(ctx, s, token)
	return nil
}

// completeHandshake authenticates the credential and brings the
// session online: presence registration, auto-join of the default
// room, history replay, and the connect-time broadcasts. Reports
// whether the session ended up authenticated; on a credential failure
// the connection is closed with no state left behind.
func (a *App) completeHandshake(ctx context.Context, s *clientSession, token string) bool {
	id, err := a.ids.Verify(ctx, token)
	if err != nil {
		log.Info().Err(err).Str("module", "server").Str("remote", s.remoteAddr()).Msg("handshake rejected")
		a.sendError(ctx, s, userMessage(protocol.MessageTypeConnect, err))
		s.close()
		return false
	}

	now := time.Now().UTC()
	if err := a.store.SetUserPresence(ctx, id.ID, true, now); err != nil {
		log.Warn().Err(err).Str("module", "server").Str("user", id.Username).Msg("online flag not persisted")
	}

	// Last writer wins: a previous connection for the same identity is
	// told why and evicted. Its teardown cannot remove the new entry.
	if displaced := a.presence.Add(id, s, now); displaced != nil && displaced != s {
		log.Info().Str("module", "server").Str("user", id.Username).Msg("displacing previous connection")
		a.sendError(ctx, displaced, "Signed in from another connection")
		displaced.close()
	}
	s.bindIdentity(id, now)

	log.Info().Str("module", "server").Str("user", id.Username).
		Str("session", s.id).Str("remote", s.remoteAddr()).Msg("connected")

	defaultRoom := a.cfg.DefaultRoom
	a.hub.Assign(s, defaultRoom)
	s.setRoom(defaultRoom)

	room, err := a.getOrCreateRoom(ctx, defaultRoom, id, "General chat room")
	if err != nil {
		log.Error().Err(err).Str("module", "server").Msg("default room unavailable")
		a.sendError(ctx, s, userMessage(protocol.MessageTypeConnect, err))
		return true
	}
	if err := a.store.EnsureMember(ctx, room.ID, id.ID, storage.RoleMember); err != nil {
		log.Warn().Err(err).Str("module", "server").Str("user", id.Username).Msg("membership not recorded")
	}

	a.sendRooms(ctx, s)

	if err := s.send(ctx, newEvent(protocol.MessageTypeWelcome, protocol.WelcomePayload{
		Message:     fmt.Sprintf("Welcome, %s!", id.Username),
		User:        s.userRef(),
		OnlineUsers: a.onlineRoster(),
		Timestamp:   now,
	})); err != nil {
		return true
	}

	a.broadcastExcept(s, newEvent(protocol.MessageTypeUserJoined, protocol.PresencePayload{
		User:        s.userRef(),
		OnlineUsers: a.onlineRoster(),
		Message:     fmt.Sprintf("%s joined the chat", id.Username),
		Timestamp:   time.Now().UTC(),
	}))

	if err := a.replayHistory(ctx, s, room); err != nil {
		log.Warn().Err(err).Str("module", "server").Str("room", room.Name).Msg("history replay failed")
	}

	a.broadcastRoomsUpdate(ctx)
	return true
}

// requireIdentity gates post-handshake events.
func (s *clientSession) requireIdentity() (identity.Identity, error) {
	id, ok := s.who()
	if !ok {
		return identity.Identity{}, errNotAuthenticated
	}
	return id, nil
}
