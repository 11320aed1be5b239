package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/skarch/logpanel/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	// feedBuffer is how many events a slow client may fall behind by before
	// it is told to resync.
	feedBuffer = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// FeedKindSnapshot is the first message on a feed; FeedKindResync tells the
// client it fell behind and should reconnect.
const (
	FeedKindSnapshot = "snapshot"
	FeedKindResync   = "resync"
)

// snapshotMessage opens every feed.
type snapshotMessage struct {
	Kind   string         `json:"kind"`
	Status session.Status `json:"status"`
	Lines  []lineView     `json:"lines"`
}

// feed streams session events over a WebSocket, starting with the current
// status and retained lines.
func (s *Server) feed(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	status, lines, sub := sess.Subscribe(feedBuffer)
	defer sub.Close()

	// The read side only handles control frames; it ends the feed when the
	// client goes away.
	gone := make(chan struct{})
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(v interface{}) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(v); err != nil {
			s.log.Debug("websocket write: %v", err)
			return false
		}
		return true
	}

	if !write(snapshotMessage{Kind: FeedKindSnapshot, Status: status, Lines: viewLines(lines)}) {
		return
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				if sub.Lagged() {
					write(map[string]string{"kind": FeedKindResync})
				}
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			if !write(ev) {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
