package ws

import (
	"github.com/gorilla/websocket"
)

// Client is one WebSocket connection. gameID is zero until the client sends
// join-game; it and the room sets are guarded by the Manager's mutex.
type Client struct {
	id       string
	conn     *websocket.Conn
	userID   int64
	username string
	gameID   int64
	send     chan []byte
}

// Room is the group of connections that declared the same game.
type Room struct {
	gameID  int64
	clients map[*Client]struct{}
}

func newRoom(gameID int64) *Room {
	return &Room{
		gameID:  gameID,
		clients: make(map[*Client]struct{}),
	}
}

func (r *Room) add(c *Client) {
	r.clients[c] = struct{}{}
}

func (r *Room) remove(c *Client) {
	delete(r.clients, c)
}

func (r *Room) empty() bool {
	return len(r.clients) == 0
}

// each calls fn for every member that skip does not exclude.
func (r *Room) each(skip func(*Client) bool, fn func(*Client)) {
	for c := range r.clients {
		if skip != nil && skip(c) {
			continue
		}
		fn(c)
	}
}
