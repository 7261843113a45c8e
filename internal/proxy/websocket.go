// Package proxy implements the tab-scoped CDP debug passthrough from
// SPEC_FULL.md §6.1: adapted from the teacher's session-scoped debug proxy,
// which dialed a session's root Chrome DevTools Protocol WebSocket and
// relayed frames bidirectionally between it and the caller. Here a single
// browserless/chrome container is shared by every tab a user has open, so
// the proxy still dials the user's one CDP endpoint; the tabId only gates
// who is allowed to attach, by requiring it to resolve to a live tab
// owned by the caller's userId first.
package proxy

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/redf0x1/camofox-browser/internal/pool"
	"github.com/redf0x1/camofox-browser/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server proxies a caller's WebSocket connection to the CDP endpoint
// backing a resolved tab's owning browser context.
type Server struct {
	sessions *session.Registry
	pool     *pool.Pool
}

// NewServer creates a proxy.Server bound to the session registry (for
// ownership resolution) and the context pool (for the CDP endpoint).
func NewServer(sessions *session.Registry, p *pool.Pool) *Server {
	return &Server{sessions: sessions, pool: p}
}

// HandleDebugConnection upgrades the HTTP request to a WebSocket, resolves
// tabID's owning CDP endpoint, and relays frames bidirectionally until
// either side closes.
func (s *Server) HandleDebugConnection(w http.ResponseWriter, r *http.Request, tabID, userID string) {
	if _, ok := s.sessions.FindTabByID(tabID, userID); !ok {
		http.Error(w, "tab not found", http.StatusNotFound)
		return
	}

	inst, ok := s.pool.Instance(userID)
	if !ok {
		http.Error(w, "no live browser context for user", http.StatusNotFound)
		return
	}

	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("failed to upgrade debug connection: %v", err)
		return
	}
	defer clientConn.Close()

	log.Printf("✅ client attached to tab %s debug", tabID)

	chromeURL := inst.ConnectURL
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	chromeConn, _, err := websocket.DefaultDialer.DialContext(ctx, chromeURL, nil)
	if err != nil {
		log.Printf("❌ failed to connect to Chrome: %v", err)
		_ = clientConn.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf("error connecting: %v", err)))
		return
	}
	defer chromeConn.Close()

	log.Printf("✅ connected to Chrome for tab %s", tabID)

	errChan := make(chan error, 2)
	go func() { errChan <- proxyMessages(clientConn, chromeConn, "client→chrome") }()
	go func() { errChan <- proxyMessages(chromeConn, clientConn, "chrome→client") }()

	if err := <-errChan; err != nil && err != io.EOF {
		log.Printf("proxy error for tab %s: %v", tabID, err)
	}

	log.Printf("client disconnected from tab %s debug", tabID)
}

func proxyMessages(src, dst *websocket.Conn, direction string) error {
	for {
		messageType, message, err := src.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket error (%s): %v", direction, err)
			}
			return err
		}
		if err := dst.WriteMessage(messageType, message); err != nil {
			log.Printf("failed to write message (%s): %v", direction, err)
			return err
		}
	}
}
