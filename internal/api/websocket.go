package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AaronLay10/AlchemyMachine/internal/events"
)

const (
	// Recent events replayed on connect unless ?recent= says otherwise.
	recentEventsCount = 50
	maxRecentEvents   = 500

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second // must be less than pongWait
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The operator page may be served from another host on the venue LAN.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// streamFilter decides which events a client receives. Debug events
// (device.input on every reader poll) are only sent with ?debug=1.
type streamFilter struct {
	debug bool
}

func (f streamFilter) allow(e events.Event) bool {
	return f.debug || e.Level != "debug"
}

func parseStreamQuery(r *http.Request) (streamFilter, int) {
	q := r.URL.Query()
	f := streamFilter{debug: q.Get("debug") == "1" || q.Get("debug") == "true"}

	recent := recentEventsCount
	if s := q.Get("recent"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			recent = n
		}
	}
	if recent > maxRecentEvents {
		recent = maxRecentEvents
	}
	return f, recent
}

func writeEvent(conn *websocket.Conn, e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// wsEventsHandler streams events: first a replay of recent ones, then
// live events until the client goes away.
func wsEventsHandler(w http.ResponseWriter, r *http.Request) {
	filter, recent := parseStreamQuery(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}

	sub := events.Subscribe()
	closeAll := func() {
		events.Unsubscribe(sub)
		conn.Close()
	}

	if recent > 0 {
		for _, e := range events.RecentEvents(recent) {
			if !filter.allow(e) {
				continue
			}
			if err := writeEvent(conn, e); err != nil {
				log.Printf("ws write recent event failed: %v", err)
				closeAll()
				return
			}
		}
	}

	// Reader: handles pongs and notices the client closing.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			closeAll()
			return

		case e, ok := <-sub:
			if !ok {
				// Server shutting down.
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
					time.Now().Add(writeWait))
				conn.Close()
				return
			}
			if !filter.allow(e) {
				continue
			}
			if err := writeEvent(conn, e); err != nil {
				log.Printf("ws write event failed: %v", err)
				closeAll()
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				closeAll()
				return
			}
		}
	}
}
