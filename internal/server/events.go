package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ayusman/moodwall/internal/emotion"
)

// Websocket message types.
const (
	MessageSnapshot = "snapshot"
	MessageColor    = "color"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// Message is pushed to websocket clients.
type Message struct {
	Type      string        `json:"type"`
	SessionID string        `json:"session_id"`
	Emotion   emotion.Label `json:"emotion,omitempty"`
	Color     emotion.Color `json:"color"`
	At        time.Time     `json:"at"`
}

// EventsHandler pushes the committed background color to websocket clients:
// one snapshot on connect, then a message per color change.
type EventsHandler struct {
	app Controller
}

// NewEventsHandler creates a new EventsHandler for app.
func NewEventsHandler(app Controller) *EventsHandler {
	return &EventsHandler{app: app}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// Subscribe before the snapshot so no commit falls between them.
	events, unsubscribe := h.app.Subscribe()
	defer unsubscribe()

	status := h.app.Status()
	snapshot := Message{
		Type:      MessageSnapshot,
		SessionID: h.app.SessionID(),
		Emotion:   status.Emotion,
		Color:     status.Color,
		At:        time.Now(),
	}
	if err := writeMessage(conn, snapshot); err != nil {
		return
	}

	closed := make(chan struct{})
	go readPump(conn, closed)

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			msg := Message{
				Type:      MessageColor,
				SessionID: h.app.SessionID(),
				Emotion:   ev.Emotion,
				Color:     ev.Color,
				At:        ev.At,
			}
			if err := writeMessage(conn, msg); err != nil {
				logrus.WithError(err).Debug("websocket write failed")
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeMessage(conn *websocket.Conn, msg Message) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

// readPump discards client messages and closes done when the peer goes away.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
