package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The dashboard may be served from another origin; the token is the
	// credential, not the Origin header.
	CheckOrigin: func(*http.Request) bool { return true },
}

// streamUser authenticates a stream request. Browser WebSocket clients
// cannot set headers, so a token query parameter is accepted too.
func (a *API) streamUser(r *http.Request) (string, string) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		if user, ok := a.auth.UserForToken(strings.TrimSpace(authz[len("bearer "):])); ok {
			return user, ""
		}
		return "", errInvalidAuth
	}
	if tok := r.URL.Query().Get("token"); tok != "" {
		if user, ok := a.auth.UserForToken(tok); ok {
			return user, ""
		}
		return "", errInvalidAuth
	}
	return "", errMissingAuth
}

// handleEventStream upgrades to a WebSocket and pushes a notice for every
// event stored into the project while the client is connected.
func (a *API) handleEventStream(w http.ResponseWriter, r *http.Request) {
	userID, kind := a.streamUser(r)
	if kind != "" {
		writeErr(w, http.StatusUnauthorized, kind, "stream requires a bearer token or token parameter")
		return
	}
	project, err := a.registry.ProjectBySlug(r.Context(), mux.Vars(r)["slug"], userID)
	if err != nil {
		writeRegistryErr(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote its own error response.
		return
	}
	defer conn.Close()

	sub := a.hub.Subscribe(project.ID)
	defer a.hub.Unsubscribe(project.ID, sub)
	streamClients.Inc()
	defer streamClients.Dec()

	logger := log.WithFields(log.Fields{
		"project": project.ID,
		"remote":  r.RemoteAddr,
	})
	logger.Info("stream connected")
	defer logger.Info("stream closed")

	// The read side only consumes control frames; any error means the
	// client went away. The deadline inherited from the HTTP server is
	// replaced by one that pongs keep extending.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case n, ok := <-sub.C():
			if !ok {
				// Dropped by the hub for falling behind.
				conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "subscriber too slow"))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(n); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
