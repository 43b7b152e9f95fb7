package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/okvee/parlor/internal/config"
	"github.com/okvee/parlor/internal/identity"
	"github.com/okvee/parlor/internal/protocol"
	"github.com/okvee/parlor/internal/storage"
)

type handlerFunc func(ctx context.Context, s *clientSession, env protocol.Envelope) error

// App is the session controller: it owns the presence registry and
// live occupancy, accepts connections, and routes every inbound event
// through the event-to-handler table.
type App struct {
	cfg      config.ServerConfig
	store    storage.Store
	ids      *identity.Service
	presence *presenceRegistry
	hub      *occupancyHub
	handlers map[protocol.MessageType]handlerFunc

	listener  net.Listener
	closeOnce sync.Once
}

// NewApp constructs a server instance using the provided dependencies.
func NewApp(cfg config.ServerConfig, store storage.Store, ids *identity.Service) *App {
	a := &App{
		cfg:      cfg,
		store:    store,
		ids:      ids,
		presence: newPresenceRegistry(),
		hub:      newOccupancyHub(),
	}
	a.handlers = map[protocol.MessageType]handlerFunc{
		protocol.MessageTypeAuthRequest:    a.handleAuth,
		protocol.MessageTypeConnect:        a.handleConnect,
		protocol.MessageTypeJoinRoom:       a.handleJoinRoom,
		protocol.MessageTypeSendMessage:    a.handleSendMessage,
		protocol.MessageTypeGetRooms:       a.handleGetRooms,
		protocol.MessageTypeGetOnlineUsers: a.handleGetOnlineUsers,
	}
	return a
}

// Run accepts TCP connections until the context is canceled. The
// periodic roster broadcast runs alongside. The store must already be
// migrated.
func (a *App) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", a.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	a.listener = listener
	log.Info().Str("module", "server").Str("addr", a.cfg.ListenAddr).Msg("accepting connections")

	go a.rosterLoop(ctx)

	errCh := make(chan error, 1)

	go func() {
		<-ctx.Done()
		a.closeOnce.Do(func() {
			_ = a.listener.Close()
		})
	}()

	go func() {
		for {
			conn, err := a.listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					errCh <- nil
					return
				}
				errCh <- err
				return
			}
			wc := newTCPConn(conn, a.cfg.ReadTimeout, a.cfg.WriteTimeout, a.cfg.MaxFrameBytes)
			go a.serveConn(ctx, wc, "")
		}
	}()

	return <-errCh
}

// serveConn drives one connection: outbound write loop, optional
// transport-level credential, then the sequential read-dispatch loop.
// Events for a single connection are handled in arrival order.
func (a *App) serveConn(parentCtx context.Context, wc wireConn, presetToken string) {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	s := newClientSession(wc)
	go s.writeLoop(ctx)
	defer a.teardown(ctx, s)

	if presetToken != "" {
		if !a.completeHandshake(ctx, s, presetToken) {
			return
		}
	}

	for {
		env, err := wc.Read(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Str("module", "server").Str("session", s.id).Msg("read loop ended")
			}
			return
		}
		a.dispatch(ctx, s, env)
	}
}

// dispatch routes one envelope through the handler table. Handler
// failures are confined here: they become an error notification to the
// originating session and never terminate the connection.
func (a *App) dispatch(ctx context.Context, s *clientSession, env protocol.Envelope) {
	handler, ok := a.handlers[env.Type]
	if !ok {
		log.Warn().Str("module", "server").Str("type", string(env.Type)).Msg("unhandled envelope type")
		return
	}
	if err := handler(ctx, s, env); err != nil {
		log.Error().Err(err).Str("module", "server").Str("session", s.id).
			Str("type", string(env.Type)).Msg("handler failed")
		a.sendError(ctx, s, userMessage(env.Type, err))
	}
}

func (a *App) sendError(ctx context.Context, s *clientSession, message string) {
	env := newEvent(protocol.MessageTypeError, protocol.ErrorPayload{Message: message})
	if err := s.send(ctx, env); err != nil && !errors.Is(err, errSessionClosed) {
		log.Debug().Err(err).Str("module", "server").Str("session", s.id).Msg("error notification not delivered")
	}
}

// teardown handles the disconnect transition for any state the session
// died in. It is idempotent and tolerates sessions that never finished
// their handshake or join.
func (a *App) teardown(ctx context.Context, s *clientSession) {
	s.close()

	_, hadRoom := a.hub.Drop(s)

	id, authenticated := s.who()
	if !authenticated {
		return
	}

	// A displaced connection must not remove its successor's entry.
	removed := a.presence.Remove(id.ID, s)
	if removed {
		if err := a.store.SetUserPresence(ctx, id.ID, false, time.Now().UTC()); err != nil {
			log.Warn().Err(err).Str("module", "server").Str("user", id.Username).Msg("offline flag not persisted")
		}

		now := time.Now().UTC()
		a.broadcastExcept(s, newEvent(protocol.MessageTypeUserLeft, protocol.PresencePayload{
			User:        s.userRef(),
			OnlineUsers: a.onlineRoster(),
			Message:     fmt.Sprintf("%s left the chat", id.Username),
			Timestamp:   now,
		}))
		log.Info().Str("module", "server").Str("user", id.Username).Str("session", s.id).Msg("disconnected")
	}

	if removed || hadRoom {
		a.broadcastRoomsUpdate(ctx)
	}
}

// broadcastExcept fans an event out to every online session but the
// given one. Departed sessions are recomputed from the registry, so a
// connection that has since closed is never targeted.
func (a *App) broadcastExcept(except *clientSession, env protocol.Envelope) {
	for _, other := range a.presence.Sessions() {
		if other == except {
			continue
		}
		other.trySend(env)
	}
}

func (a *App) onlineRoster() []protocol.OnlineUser {
	entries := a.presence.Snapshot()
	out := make([]protocol.OnlineUser, 0, len(entries))
	for _, e := range entries {
		out = append(out, protocol.OnlineUser{
			ID:          e.identity.ID,
			Username:    e.identity.Username,
			ConnectedAt: e.connectedAt,
		})
	}
	return out
}

// newEvent wraps a payload in a fresh server-originated envelope.
func newEvent(t protocol.MessageType, payload interface{}) protocol.Envelope {
	return protocol.Envelope{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

func (a *App) handleGetOnlineUsers(ctx context.Context, s *clientSession, env protocol.Envelope) error {
	if _, ok := s.who(); !ok {
		return errNotAuthenticated
	}
	return s.send(ctx, newEvent(protocol.MessageTypeOnlineUsers, a.onlineRoster()))
}
