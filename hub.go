/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	sendBuffer     = 16
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	handshakeWait  = 10 * time.Second
	maxMessageSize = 1024

	closeUnknownPlayer = 4000
)

// Messages coming from clients
type ClientMessage struct {
	Type     string `json:"type"`               // "init", "ping"
	PlayerID string `json:"playerId,omitempty"` // init
}

type StateMessage struct {
	Type  string   `json:"type"` // "state"
	State Snapshot `json:"state"`
}

type PongMessage struct {
	Type string  `json:"type"` // "pong"
	T    float64 `json:"t"`
}

// Client is one attached connection. conn is nil for connections that are
// not backed by a websocket.
type Client struct {
	playerID string
	conn     *websocket.Conn
	send     chan []byte

	mu     sync.Mutex
	closed bool
}

func newClient(conn *websocket.Conn, playerID string) *Client {
	return &Client{
		playerID: playerID,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
	}
}

// deliver queues payload without blocking. It reports false when the client
// is closed or too far behind.
func (c *Client) deliver(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// attach registers c with the session. The player must already exist.
func (s *Session) attach(c *Client) error {
	s.mu.Lock()
	if s.reaped {
		s.mu.Unlock()
		return ErrNoSession
	}

	p, ok := s.players[c.playerID]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownPlayer
	}

	s.clients[c] = true
	p.conns++
	s.lastActive = s.gm.clock.Now()
	s.mu.Unlock()

	log.Info().
		Str("session", s.code).
		Str("player", p.Name).
		Msg("client connected")

	s.broadcast()

	return nil
}

func (s *Session) detach(c *Client) {
	s.mu.Lock()
	removed := s.detachLocked(c)
	s.mu.Unlock()

	if removed {
		s.broadcast()
	}
}

func (s *Session) detachLocked(c *Client) bool {
	if !s.clients[c] {
		return false
	}

	delete(s.clients, c)
	if p, ok := s.players[c.playerID]; ok && p.conns > 0 {
		p.conns--
	}
	c.close()
	s.lastActive = s.gm.clock.Now()

	return true
}

// broadcast queues a personalized snapshot for every attached client.
// Queueing never blocks, so holding the lock keeps snapshots in order
// without waiting on the network.
func (s *Session) broadcast() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.broadcastLocked()
}

func (s *Session) broadcastLocked() {
	for {
		var failed []*Client

		for c := range s.clients {
			payload, err := json.Marshal(StateMessage{
				Type:  "state",
				State: s.snapshotLocked(c.playerID),
			})
			if err != nil {
				log.Error().Err(err).Str("session", s.code).Msg("failed to encode snapshot")
				continue
			}

			if !c.deliver(payload) {
				failed = append(failed, c)
			}
		}

		if len(failed) == 0 {
			return
		}

		// Dropped clients change the roster, so the rest hear about it.
		for _, c := range failed {
			s.detachLocked(c)

			log.Warn().
				Str("session", s.code).
				Str("player", c.playerID).
				Msg("client send buffer full, disconnecting")
		}
	}
}

// closeAll disconnects all clients of this session (used by reaper).
func (s *Session) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for c := range s.clients {
		s.detachLocked(c)
	}
}

func (s *Session) pong() []byte {
	payload, _ := json.Marshal(PongMessage{
		Type: "pong",
		T:    unixSeconds(s.gm.clock.Now()),
	})
	return payload
}

func (c *Client) readPump(s *Session) {
	defer func() {
		s.detach(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("session", s.code).Msg("websocket closed")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch msg.Type {
		case "ping":
			c.deliver(s.pong())
		default:
			// ignore unknown types
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
