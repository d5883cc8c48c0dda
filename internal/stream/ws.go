package stream

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"snoopflow/internal/metrics"
)

const (
	pingInterval = 45 * time.Second
	readTimeout  = 90 * time.Second
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(*http.Request) bool { return true },
	EnableCompression: true,
}

// controlMessage lets a client change its filter after connecting:
//
//	{"type":"subscribe","symbols":["AAPL","NVDA"]}
type controlMessage struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

type statusMessage struct {
	Type    string   `json:"type"`
	Text    string   `json:"text"`
	Topics  []string `json:"topics,omitempty"`
	Symbols []string `json:"symbols,omitempty"`
}

// ServeWS returns a handler that upgrades to a websocket and streams hub
// events as JSON. Query parameters topics and symbols are comma separated
// initial filters.
func (h *Hub) ServeWS(logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Debug().Err(err).Msg("websocket upgrade failed")
			return
		}
		defer conn.Close()

		topics := splitParam(r.URL.Query().Get("topics"))
		symbols := splitParam(r.URL.Query().Get("symbols"))
		sub := h.Subscribe(topics, symbols)
		defer h.Unsubscribe(sub)

		metrics.WebSocketClients.Inc()
		defer metrics.WebSocketClients.Dec()
		logger.Debug().Str("subscriber", sub.ID).Strs("topics", topics).Strs("symbols", symbols).Msg("websocket client connected")

		control := make(chan controlMessage, 8)
		done := make(chan struct{})
		go h.readPump(conn, control, done)

		ping := time.NewTicker(pingInterval)
		defer ping.Stop()

		write := func(v interface{}) error {
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			return conn.WriteJSON(v)
		}
		if err := write(statusMessage{Type: "status", Text: "connected", Topics: topics, Symbols: symbols}); err != nil {
			return
		}

		for {
			select {
			case e, ok := <-sub.Channel:
				if !ok {
					return
				}
				if err := write(e); err != nil {
					logger.Debug().Err(err).Str("subscriber", sub.ID).Msg("websocket write failed")
					return
				}
			case msg := <-control:
				if msg.Type == "subscribe" {
					sub.SetSymbols(msg.Symbols)
					if err := write(statusMessage{Type: "status", Text: "subscribed", Symbols: msg.Symbols}); err != nil {
						return
					}
				}
			case <-ping.C:
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-done:
				return
			case <-r.Context().Done():
				return
			}
		}
	}
}

// readPump consumes client frames until the connection fails.
func (h *Hub) readPump(conn *websocket.Conn, control chan<- controlMessage, done chan<- struct{}) {
	defer close(done)

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		var msg controlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		select {
		case control <- msg:
		default:
		}
	}
}

func splitParam(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
