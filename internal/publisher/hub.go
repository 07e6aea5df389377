package publisher

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Hub relays broker topics to websocket clients, one topic per connection.
type Hub struct {
	broker   Broker
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewHub(broker Broker, log zerolog.Logger) *Hub {
	return &Hub{
		broker: broker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log.With().Str("component", "ws-hub").Logger(),
	}
}

// ValidTopic reports whether topic is one the publisher emits on.
func ValidTopic(topic string) bool {
	switch {
	case topic == GlobalTopic, topic == ListingTopic:
		return true
	case strings.HasPrefix(topic, "gallery_") && len(topic) > len("gallery_"):
		return true
	}
	return false
}

// Serve upgrades the request and streams topic until either side closes.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, topic string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	msgs, unsubscribe, err := h.broker.Subscribe(ctx, topic)
	if err != nil {
		h.log.Warn().Err(err).Str("topic", topic).Msg("subscribe")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"),
			time.Now().Add(writeWait))
		return
	}
	defer unsubscribe()

	h.log.Debug().Str("topic", topic).Msg("client subscribed")
	go h.readPump(conn, cancel)
	h.writePump(ctx, conn, msgs)
}

// readPump discards client frames and cancels on close or missed pongs.
func (h *Hub) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(ctx context.Context, conn *websocket.Conn, msgs <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
