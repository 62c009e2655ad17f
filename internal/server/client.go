package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog"

	"crashwager/internal/game"
)

const writeWait = 10 * time.Second

// wsConn is the part of *websocket.Conn a client writes to.
type wsConn interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
}

type outbound struct {
	Type    string `json:"type"`
	Success *bool  `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type initialState struct {
	Round   *game.RoundState `json:"round"`
	History []float64        `json:"history"`
}

type inbound struct {
	Type        string  `json:"type"`
	Amount      int64   `json:"amount"`
	AutoCashout float64 `json:"auto_cashout"`
}

// Client is one websocket connection. It observes the engine through the hub,
// so Notify runs on the hub's goroutine for this client while replies to
// commands are written from the read loop. The hub may still deliver queued
// events after the handler returns; once closed, writes are dropped because
// the underlying conn goes back to the websocket pool.
type Client struct {
	conn   wsConn
	userID string
	mu     sync.Mutex
	closed bool
	logger zerolog.Logger
}

func newClient(conn wsConn, userID string, logger zerolog.Logger) *Client {
	return &Client{
		conn:   conn,
		userID: userID,
		logger: logger.With().Str("user_id", userID).Logger(),
	}
}

func (c *Client) Notify(ev game.Event) {
	c.send(outbound{Type: string(ev.Type), Data: ev})
}

func (c *Client) send(msg outbound) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error().Err(err).Str("type", msg.Type).Msg("marshal websocket message")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Debug().Err(err).Msg("websocket write failed")
	}
}

// close waits for an in-flight write and stops all later ones.
func (c *Client) close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Client) reply(kind string, data any, err error) {
	ok := err == nil
	msg := outbound{Type: kind, Success: &ok, Data: data}
	if err != nil {
		msg.Error = err.Error()
		msg.Data = nil
	}
	c.send(msg)
}

// handle runs one inbound command for this client.
func (s *FiberServer) handle(ctx context.Context, c *Client, raw []byte) {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.send(outbound{Type: "error", Error: "invalid message"})
		return
	}

	switch msg.Type {
	case "ping":
		c.send(outbound{Type: "pong"})
		return
	case "place_bet", "cashout":
	default:
		c.send(outbound{Type: "error", Error: "unknown message type"})
		return
	}

	if c.userID != "" && !s.commands.Allow(c.userID) {
		c.send(outbound{Type: "error", Error: "rate limited"})
		return
	}

	switch msg.Type {
	case "place_bet":
		bet, err := s.gameManager.PlaceBet(ctx, game.BetRequest{
			UserID:      c.userID,
			Amount:      msg.Amount,
			AutoCashout: msg.AutoCashout,
		})
		c.reply("bet_result", bet, err)

	case "cashout":
		settlement, err := s.gameManager.CashOut(c.userID)
		c.reply("cashout_result", settlement, err)
	}
}

// gameWebSocketHandler streams engine events to the connection and accepts
// bet commands from it. Connections without a user_id only watch.
func (s *FiberServer) gameWebSocketHandler(conn *websocket.Conn) {
	userID := conn.Query("user_id", "")
	client := newClient(conn, userID, s.logger)

	unsubscribe := s.gameManager.Subscribe(client)
	defer unsubscribe()
	defer client.close()

	client.logger.Info().Int("subscribers", s.gameManager.Hub().SubscriberCount()).Msg("websocket connected")

	if state := s.gameManager.GetCurrentRound(); state != nil {
		client.send(outbound{Type: "initial_state", Data: initialState{
			Round:   state,
			History: s.gameManager.RecentCrashHistory(defaultHistoryLimit),
		}})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			client.logger.Info().Err(err).Msg("websocket disconnected")
			return
		}
		if messageType == websocket.TextMessage {
			s.handle(ctx, client, message)
		}
	}
}
