package handlers

import (
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"git.home.luguber.info/inful/prefsd/internal/daemon/events"
	"git.home.luguber.info/inful/prefsd/internal/logfields"
	"git.home.luguber.info/inful/prefsd/internal/observability"
	"git.home.luguber.info/inful/prefsd/internal/server/responses"
	"git.home.luguber.info/inful/prefsd/internal/util/sets"
	"git.home.luguber.info/inful/prefsd/internal/value"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	subscribeQueue = 64
)

// MessageTypeValue is the frame type of the current values sent when a stream opens.
const MessageTypeValue = "value"

// CurrentValues reads the values a new subscriber starts from.
type CurrentValues interface {
	GetMany(keys []string) (map[string]value.Value, []string)
}

// SubscribeHandler streams bus events over a websocket. With ?keys=a,b only changes of
// those keys are forwarded; mode events are always forwarded.
type SubscribeHandler struct {
	bus      *events.Bus
	current  CurrentValues
	upgrader websocket.Upgrader
}

func NewSubscribeHandler(bus *events.Bus, current CurrentValues) *SubscribeHandler {
	return &SubscribeHandler{
		bus:     bus,
		current: current,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Local daemon; callers are identified by origin, not by browser Origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *SubscribeHandler) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	keys := splitList(r.URL.Query().Get("keys"))
	filter := sets.New(keys...)
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", logfields.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()
	// Clear the deadline inherited from the server's ReadTimeout.
	_ = conn.SetReadDeadline(time.Time{})

	stream, unsubscribe := events.Subscribe[events.Event](h.bus, subscribeQueue)
	defer unsubscribe()

	requestID := observability.GetContext(r.Context()).RequestID
	slog.Debug("Subscriber connected", logfields.RequestID(requestID), logfields.Count(len(keys)))

	if len(keys) > 0 && h.current != nil {
		found, _ := h.current.GetMany(keys)
		for _, key := range slices.Sorted(maps.Keys(found)) {
			msg := responses.StreamMessage{
				Type: MessageTypeValue,
				Data: map[string]any{"key": key, "value": found[key]},
			}
			if err := writeFrame(conn, msg); err != nil {
				return
			}
		}
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
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
		case <-closed:
			slog.Debug("Subscriber disconnected", logfields.RequestID(requestID))
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case evt, ok := <-stream:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				return
			}
			if !wanted(evt, filter) {
				continue
			}
			if err := writeFrame(conn, responses.StreamMessage{Type: evt.EventName(), Data: evt}); err != nil {
				return
			}
		}
	}
}

func wanted(evt events.Event, keys sets.Set[string]) bool {
	if keys.Len() == 0 {
		return true
	}
	switch e := evt.(type) {
	case events.ValueChanged:
		return keys.Has(e.Key)
	case events.RestoreCompleted:
		return keys.Has(e.Key)
	default:
		return true
	}
}

func writeFrame(conn *websocket.Conn, msg responses.StreamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}
