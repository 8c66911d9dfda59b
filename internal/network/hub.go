package network

import "github.com/rs/zerolog"

type clientMessage struct {
	client *Client
	msg    Message
}

// Hub owns the set of live connections and serializes every connect,
// disconnect and inbound message into a single goroutine before handing
// them to the EventHandler.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	incoming   chan clientMessage

	handler EventHandler
	log     zerolog.Logger
}

func NewHub(handler EventHandler, log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		incoming:   make(chan clientMessage, 64),
		handler:    handler,
		log:        log.With().Str("component", "hub").Logger(),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.log.Debug().Str("remote", client.RemoteAddr()).Int("clients", len(h.clients)).Msg("client registered")
			h.dispatch(func() { h.handler.OnConnect(client) })

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.log.Debug().Str("remote", client.RemoteAddr()).Int("clients", len(h.clients)).Msg("client unregistered")
				h.dispatch(func() { h.handler.OnDisconnect(client) })
			}

		case cm := <-h.incoming:
			h.dispatch(func() { h.handler.OnMessage(cm.client, cm.msg) })
		}
	}
}

// dispatch confines a handler panic to the message that caused it. The hub
// goroutine carries every connection and the queue intake; one hostile
// payload must not take them all down.
func (h *Hub) dispatch(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			h.log.Error().Interface("panic", rec).Msg("event handler panicked")
		}
	}()
	fn()
}
