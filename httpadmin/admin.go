// Package httpadmin exposes a small HTTP surface mirroring the protocol's
// QUERY verb for operators: /healthz, /stats, and /channels. It also hosts
// node.Node's WebSocket upgrade endpoint.
//
// Grounded on cmd/relay-server/admin.go's JSON-handler shape (zerolog for
// request logging, encoding/json responses) adapted from net/http's bare
// ServeMux to github.com/go-chi/chi/v5, the teacher's declared but unused
// router dependency.
package httpadmin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/socketfabric/broker/fabric"
)

// Admin serves the broker's operator-facing HTTP surface.
type Admin struct {
	socket    *fabric.Socket
	startedAt time.Time
	wsHandler http.HandlerFunc
}

// New builds an Admin for socket. wsHandler, if non-nil, is mounted at
// /ws (typically node.Node.WSHandler()).
func New(socket *fabric.Socket, wsHandler http.HandlerFunc) *Admin {
	return &Admin{socket: socket, startedAt: time.Now(), wsHandler: wsHandler}
}

// Router builds the chi router serving this Admin's endpoints.
func (a *Admin) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", a.handleHealthz)
	r.Get("/stats", a.handleStats)
	r.Get("/channels", a.handleChannels)
	if a.wsHandler != nil {
		r.HandleFunc("/ws", a.wsHandler)
	}
	return r
}

func (a *Admin) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(a.startedAt).String(),
	})
}

// handleStats mirrors the wire half of the protocol's QUERY: the wire count,
// uptime, and each connected wire's consecutive missed-keepalive-PING count
// (SPEC_FULL §13.6). The channel list is not included; /channels serves it.
func (a *Admin) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"wires":      a.socket.WireCount(),
		"uptime":     time.Since(a.startedAt).String(),
		"wire_stats": a.socket.WireStats(),
	})
}

// handleChannels mirrors QUERY VALUE="chans": the list of channels with at
// least one subscriber.
func (a *Admin) handleChannels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"channels": a.socket.ChannelNames(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("httpadmin: failed to encode response")
	}
}
