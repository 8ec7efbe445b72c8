package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/uhyunpark/agentvenue/pkg/app/venue"
	"github.com/uhyunpark/agentvenue/pkg/eventstore"
)

const (
	writeWait   = 10 * time.Second
	minPongWait = 60 * time.Second
)

func newUpgrader(origins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(origins, "*") || slices.Contains(origins, origin)
		},
	}
}

// client is one websocket stream bound to one venue subscription.
type client struct {
	conn      *websocket.Conn
	sub       *eventstore.Subscription[venue.Event]
	heartbeat time.Duration
	log       *zap.SugaredLogger
}

// readPump only services control frames; it returns when the peer goes away.
func (c *client) readPump(cancel context.CancelFunc) {
	defer cancel()

	pongWait := max(minPongWait, 2*c.heartbeat)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debugw("ws_read_error", "err", err)
			}
			return
		}
	}
}

func (c *client) write(e venue.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// writePump sends the replay, then live events newer than it, interleaved
// with pings. A slow socket slows the venue rather than losing events.
func (c *client) writePump(ctx context.Context, replay []venue.Event) {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	var lastSeq uint64
	for _, e := range replay {
		if err := c.write(e); err != nil {
			return
		}
		lastSeq = e.Seq
	}

	for {
		select {
		case <-ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			return
		case <-c.sub.Done():
			return
		case e := <-c.sub.C():
			if e.Seq <= lastSeq {
				continue // already sent as part of the replay
			}
			if err := c.write(e); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleWebSocket replays the recent tail and then streams live events.
// Subscribing before reading the tail leaves no gap between the two.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	v, ok := s.venueFor(w, r)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("ws_upgrade_failed", "err", err)
		return
	}

	sub := v.Subscribe()
	replay := v.Recent(s.opts.ReplayTail)
	c := &client{
		conn:      conn,
		sub:       sub,
		heartbeat: s.opts.Heartbeat,
		log:       s.log.With("symbol", v.Symbol(), "client", sub.ID),
	}
	c.log.Infow("ws_client_connected", "remote", conn.RemoteAddr().String(), "replay", len(replay))

	ctx, cancel := context.WithCancel(r.Context())
	defer func() {
		cancel()
		sub.Close()
		conn.Close()
		c.log.Infow("ws_client_disconnected")
	}()

	go c.readPump(cancel)
	c.writePump(ctx, replay)
}
