package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/okvee/parlor/internal/identity"
	"github.com/okvee/parlor/internal/protocol"
)

var errSessionClosed = errors.New("session closed")

// clientSession tracks per-connection state and outbound delivery.
// States: handshaking (authenticated=false), in room (currentRoom set),
// closed (done closed). Closed is terminal.
type clientSession struct {
	id   string
	conn wireConn

	sendCh chan protocol.Envelope
	done   chan struct{}

	mu            sync.Mutex
	identity      identity.Identity
	authenticated bool
	currentRoom   string
	connectedAt   time.Time

	closeOnce sync.Once
}

func newClientSession(conn wireConn) *clientSession {
	return &clientSession{
		id:     uuid.NewString(),
		conn:   conn,
		sendCh: make(chan protocol.Envelope, 64),
		done:   make(chan struct{}),
	}
}

// send queues an envelope for delivery, blocking until there is room
// in the outbound buffer. Used for direct responses to this session.
func (s *clientSession) send(ctx context.Context, env protocol.Envelope) error {
	select {
	case s.sendCh <- env:
		return nil
	case <-s.done:
		return errSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// trySend queues an envelope without blocking. Used for fan-out so one
// slow client cannot stall a broadcast; overflow drops the frame.
func (s *clientSession) trySend(env protocol.Envelope) {
	select {
	case s.sendCh <- env:
	case <-s.done:
	default:
		log.Warn().Str("module", "server").Str("session", s.id).
			Str("type", string(env.Type)).Msg("outbound buffer full, dropping frame")
	}
}

func (s *clientSession) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case env := <-s.sendCh:
			if err := s.conn.Write(ctx, env); err != nil {
				log.Debug().Err(err).Str("module", "server").Str("session", s.id).Msg("write failed")
				s.close()
				return
			}
		}
	}
}

func (s *clientSession) bindIdentity(id identity.Identity, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = id
	s.authenticated = true
	s.connectedAt = at
}

func (s *clientSession) who() (identity.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity, s.authenticated
}

func (s *clientSession) setRoom(room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentRoom = room
}

func (s *clientSession) room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentRoom
}

func (s *clientSession) userRef() protocol.UserRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return protocol.UserRef{ID: s.identity.ID, Username: s.identity.Username}
}

func (s *clientSession) remoteAddr() string {
	return s.conn.RemoteAddr()
}

// close tears the transport down exactly once. Registry cleanup is the
// session controller's job; see App.teardown.
func (s *clientSession) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}
