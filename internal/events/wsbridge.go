package events

import (
	"encoding/json"
	"log"
	"net/http"

	"nhooyr.io/websocket"
)

// WSBridge fans bus events out to WebSocket clients — the `GET /events`
// collaborator interface (§6). Adapted from the teacher's WSHub
// (internal/api/websocket.go): a mutex-free design here since delivery goes
// through the bus's own subscriber channel instead of a second client map.
type WSBridge struct {
	bus *Bus
}

func NewWSBridge(bus *Bus) *WSBridge {
	return &WSBridge{bus: bus}
}

type wsEnvelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// ServeHTTP upgrades the connection and streams bus events as JSON text
// frames until the client disconnects or the request context is canceled.
func (b *WSBridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		log.Printf("[events] websocket accept error: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	sub := b.bus.Subscribe()
	defer b.bus.Unsubscribe(sub)

	ctx := r.Context()

	// Reader goroutine: discard client frames, detect disconnects.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			payload, err := json.Marshal(wsEnvelope{Event: string(evt.Kind), Data: evt.Data})
			if err != nil {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
				return
			}
		}
	}
}
