package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pythonquest/game"
	"pythonquest/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
	rosterTimeout  = 5 * time.Second
)

// Roster answers whether a user holds a seat in a game.
type Roster interface {
	GetGamePlayer(ctx context.Context, gameID, userID int64) (*store.GamePlayer, error)
}

// Manager keeps the in-memory presence maps and fans events out to the
// connections of each game. It implements game.Notifier. Presence is never
// persisted and does not feed back into game rules.
type Manager struct {
	roster Roster
	logger *zap.Logger

	mu      sync.RWMutex
	rooms   map[int64]*Room
	clients map[string]*Client
}

func NewManager(roster Roster, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		roster:  roster,
		logger:  logger.Named("ws"),
		rooms:   make(map[int64]*Room),
		clients: make(map[string]*Client),
	}
}

// HandleConnection registers conn for the authenticated user and starts its
// pumps. It returns immediately.
func (m *Manager) HandleConnection(conn *websocket.Conn, userID int64, username string) {
	client := &Client{
		id:       uuid.NewString(),
		conn:     conn,
		userID:   userID,
		username: username,
		send:     make(chan []byte, sendBuffer),
	}

	m.mu.Lock()
	m.clients[client.id] = client
	m.mu.Unlock()

	m.logger.Debug("connection opened", zap.String("conn_id", client.id), zap.Int64("user_id", userID))

	go m.writePump(client)
	go m.readPump(client)
}

// Publish implements game.Notifier.
func (m *Manager) Publish(scope game.Scope, ev game.Event) {
	env := ev.Envelope()
	var skip func(*Client) bool
	if scope == game.ScopeOthers {
		skip = func(c *Client) bool { return c.userID == env.ActorID }
	}
	m.fanout(env.GameID, ev, skip)
}

// ConnectionCount reports how many connections are in a game's group.
func (m *Manager) ConnectionCount(gameID int64) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if room, ok := m.rooms[gameID]; ok {
		return len(room.clients)
	}
	return 0
}

// Online lists the user ids with at least one connection in a game's group.
func (m *Manager) Online(gameID int64) []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[gameID]
	if !ok {
		return nil
	}
	seen := make(map[int64]bool)
	var ids []int64
	for c := range room.clients {
		if !seen[c.userID] {
			seen[c.userID] = true
			ids = append(ids, c.userID)
		}
	}
	return ids
}

func (m *Manager) fanout(gameID int64, ev game.Event, skip func(*Client) bool) {
	data, err := encode(ev)
	if err != nil {
		m.logger.Error("failed to encode event", zap.String("event", ev.Name()), zap.Error(err))
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	room, ok := m.rooms[gameID]
	if !ok {
		return
	}
	room.each(skip, func(c *Client) { m.trySend(c, data, ev.Name()) })
}

// sendTo delivers ev to one connection if it is still registered.
func (m *Manager) sendTo(c *Client, ev game.Event) {
	data, err := encode(ev)
	if err != nil {
		m.logger.Error("failed to encode event", zap.String("event", ev.Name()), zap.Error(err))
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.clients[c.id]; ok {
		m.trySend(c, data, ev.Name())
	}
}

// trySend must be called with m.mu held.
func (m *Manager) trySend(c *Client, data []byte, name string) {
	select {
	case c.send <- data:
	default:
		m.logger.Warn("client send buffer full, dropping event",
			zap.String("conn_id", c.id), zap.Int64("user_id", c.userID), zap.String("event", name))
	}
}

// enter moves c into gameID's group, leaving any group it was in.
func (m *Manager) enter(c *Client, gameID int64) (previous int64, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	previous = m.detachLocked(c)
	room, ok := m.rooms[gameID]
	if !ok {
		room = newRoom(gameID)
		m.rooms[gameID] = room
	}
	room.add(c)
	c.gameID = gameID
	return previous, len(room.clients)
}

// leave takes c out of its group and reports which game it was in.
func (m *Manager) leave(c *Client) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detachLocked(c)
}

func (m *Manager) detachLocked(c *Client) int64 {
	gameID := c.gameID
	if gameID == 0 {
		return 0
	}
	if room, ok := m.rooms[gameID]; ok {
		room.remove(c)
		if room.empty() {
			delete(m.rooms, gameID)
		}
	}
	c.gameID = 0
	return gameID
}

func (m *Manager) currentGame(c *Client) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return c.gameID
}

// unregister drops c from every map and closes its send channel.
func (m *Manager) unregister(c *Client) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.clients[c.id]; !ok {
		return 0
	}
	gameID := m.detachLocked(c)
	delete(m.clients, c.id)
	close(c.send)
	return gameID
}

func (m *Manager) readPump(c *Client) {
	defer func() {
		if gameID := m.unregister(c); gameID != 0 {
			m.fanout(gameID, game.PlayerDisconnected{
				Base:     game.NewBase(gameID, c.userID, fmt.Sprintf("%s disconnected", c.username)),
				Username: c.username,
			}, nil)
			m.fanout(gameID, game.UpdatePlayerList{Base: game.NewBase(gameID, c.userID, "Player list changed")}, nil)
		}
		c.conn.Close()
		m.logger.Debug("connection closed", zap.String("conn_id", c.id), zap.Int64("user_id", c.userID))
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				m.logger.Warn("websocket read error", zap.String("conn_id", c.id), zap.Error(err))
			}
			return
		}

		var msg IncomingMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			m.sendError(c, "Malformed message")
			continue
		}
		m.handleMessage(c, &msg)
	}
}

func (m *Manager) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (m *Manager) sendError(c *Client, message string) {
	m.sendTo(c, game.ErrorNotice{Base: game.NewBase(m.currentGame(c), c.userID, message)})
}

func (m *Manager) handleMessage(c *Client, msg *IncomingMessage) {
	log := m.logger.With(zap.String("conn_id", c.id), zap.Int64("user_id", c.userID), zap.String("type", msg.Type))

	if msg.Type == MsgJoinGame {
		var p joinPayload
		if err := decodePayload(msg.Payload, &p); err != nil || p.GameID <= 0 {
			m.sendError(c, "Invalid game id")
			return
		}
		m.join(c, p.GameID, log)
		return
	}

	gameID := m.currentGame(c)
	if gameID == 0 {
		m.sendError(c, "Join a game first")
		return
	}
	// Relayed messages skip only the sending connection.
	others := func(other *Client) bool { return other == c }

	switch msg.Type {
	case MsgLeaveGame:
		if left := m.leave(c); left != 0 {
			m.announceLeft(c, left)
		}

	case MsgPlayerMove:
		var p movePayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			m.sendError(c, "Invalid move payload")
			return
		}
		m.fanout(gameID, game.PlayerPosition{
			Base:     game.NewBase(gameID, c.userID, fmt.Sprintf("%s moved to room %d", c.username, p.Position)),
			Username: c.username,
			DiceRoll: p.DiceRoll,
			Position: p.Position,
		}, others)

	case MsgQRScanned:
		var p scanPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			m.sendError(c, "Invalid scan payload")
			return
		}
		m.fanout(gameID, game.QRScanned{
			Base:       game.NewBase(gameID, c.userID, fmt.Sprintf("Player scanned QR code: %s", p.QRCode)),
			QRCode:     p.QRCode,
			QuestionID: p.QuestionID,
		}, others)

	case MsgAnswerSubmitted:
		var p answerPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			m.sendError(c, "Invalid answer payload")
			return
		}
		m.fanout(gameID, game.AnswerResult{
			Base:       game.NewBase(gameID, c.userID, fmt.Sprintf("%s submitted an answer", c.username)),
			QuestionID: p.QuestionID,
			IsCorrect:  p.IsCorrect,
		}, others)

	case MsgRequestWinnerStats:
		m.fanout(gameID, game.ShowWinnerModal{Base: game.NewBase(gameID, c.userID, "Loading game results...")}, nil)

	case MsgReturnToDashboard:
		m.fanout(gameID, game.PlayerReturnedDashboard{
			Base: game.NewBase(gameID, c.userID, "A player returned to dashboard"),
		}, others)

	default:
		log.Debug("unknown message type")
		m.sendError(c, "Unknown message type")
	}
}

func (m *Manager) join(c *Client, gameID int64, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), rosterTimeout)
	defer cancel()

	player, err := m.roster.GetGamePlayer(ctx, gameID, c.userID)
	if err != nil {
		log.Error("failed to check game membership", zap.Int64("game_id", gameID), zap.Error(err))
		m.sendError(c, "Failed to join game room")
		return
	}
	if player == nil {
		m.sendError(c, "You are not a player in this game")
		return
	}

	previous, count := m.enter(c, gameID)
	if previous != 0 && previous != gameID {
		m.announceLeft(c, previous)
	}
	log.Debug("joined game room", zap.Int64("game_id", gameID), zap.Int("connections", count))

	m.sendTo(c, game.RoomInfo{
		Base:        game.NewBase(gameID, c.userID, "You joined the quest"),
		PlayerCount: count,
	})
	if previous != gameID {
		m.fanout(gameID, game.PlayerJoined{
			Base:     game.NewBase(gameID, c.userID, fmt.Sprintf("%s joined the game room", c.username)),
			Username: c.username,
		}, func(other *Client) bool { return other == c })
	}
	m.fanout(gameID, game.UpdatePlayerList{Base: game.NewBase(gameID, c.userID, "Player list changed")}, nil)
}

// announceLeft tells the remaining connections of gameID that c left its room.
func (m *Manager) announceLeft(c *Client, gameID int64) {
	m.fanout(gameID, game.PlayerLeft{
		Base:     game.NewBase(gameID, c.userID, fmt.Sprintf("%s left the game room", c.username)),
		Username: c.username,
	}, nil)
	m.fanout(gameID, game.UpdatePlayerList{Base: game.NewBase(gameID, c.userID, "Player list changed")}, nil)
}
