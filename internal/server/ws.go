package server

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSHandler returns the WebSocket entry point. Browser-style clients
// that cannot set custom headers may pass the credential as a `token`
// query parameter, which completes the handshake before any envelope
// is read; otherwise the first connect envelope carries it.
func (a *App) WSHandler(ctx context.Context) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug().Err(err).Str("module", "server").Str("remote", r.RemoteAddr).Msg("ws upgrade failed")
			return
		}
		wc := newWSConn(ws, a.cfg.ReadTimeout, a.cfg.WriteTimeout, a.cfg.MaxFrameBytes)
		go a.serveConn(ctx, wc, r.URL.Query().Get("token"))
	})
}
