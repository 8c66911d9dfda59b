package network

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Server upgrades HTTP requests to websocket connections and feeds them to
// the Hub.
type Server struct {
	hub *Hub
	log zerolog.Logger
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The engine sits behind its own auth layer; origin filtering belongs
	// to the fronting proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func NewServer(handler EventHandler, log zerolog.Logger) *Server {
	return &Server{
		hub: NewHub(handler, log),
		log: log.With().Str("component", "ws-server").Logger(),
	}
}

// Handler returns the websocket endpoint. The Hub goroutine must be running
// before the first connection arrives; Start takes care of that.
func (s *Server) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		client := &Client{
			conn: conn,
			hub:  s.hub,
			send: make(chan Message, sendBuffer),
			log:  s.log,
		}
		s.hub.register <- client

		go client.writeLoop()
		go client.readLoop()
	}
}

// Start launches the hub goroutine.
func (s *Server) Start() {
	go s.hub.Run()
}
