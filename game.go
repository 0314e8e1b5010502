// Lupibox Lowest Unique Number Game
//
// Players repeatedly pick a number within a configured range. When a round
// is settled, the player who picked the smallest number that nobody else
// picked wins the round and is retired from play; the game continues until
// no players remain. An admin console drives the game.
//
// Features:
// - One game session per process: /path, /path/admin, /path/ws, /path/qr
// - Admin authenticates with a shared secret; one admin channel at a time
// - Players identified by cookie (playerID); seats survive reconnects
// - Seats granted only before round one, up to the configured player count
// - Players must set a name before choosing a number
// - Rounds stay open until the admin settles them (or until every active
//   player has chosen, with --auto-settle)
// - Admin can kick players: pre-game the seat is freed, mid-game the seat
//   is retired and keeps its id
// - Full reset drops every seat and disconnects all non-admin clients
// - In-browser QR button to share the game URL, backed by go-qrcode

package main

import (
	"crypto/subtle"
	_ "embed"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Messages coming from clients. Payload fields are pointers so a missing
// or mistyped value is distinguishable from a zero and can be dropped.
type ClientMessage struct {
	Type     string `json:"type"`                // "register_admin", "set_player_count", "set_name", "choose_number", "next_round", "settle_round", "reset_game", "kick_player"
	Password string `json:"password,omitempty"`  // register_admin
	Count    *int   `json:"count,omitempty"`     // set_player_count
	Name     string `json:"name,omitempty"`      // set_name
	Number   *int   `json:"number,omitempty"`    // choose_number
	PlayerID *int   `json:"player_id,omitempty"` // kick_player
}

// PlayerInfoMessage tells a connection which seat it holds and what
// numbers it may choose from.
type PlayerInfoMessage struct {
	Type      string `json:"type"` // "player_info"
	PlayerID  int    `json:"player_id"`
	Name      string `json:"name"`
	MinNumber int    `json:"min_number"`
	MaxNumber int    `json:"max_number"`
}

// SpectatorMessage tells a connection it holds no seat.
type SpectatorMessage struct {
	Type string `json:"type"` // "spectator"
}

// AdminStatusMessage reports the outcome of an admin login attempt.
// Sent only to the attempting client.
type AdminStatusMessage struct {
	Type  string `json:"type"` // "admin_status"
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// StateUpdateMessage carries the full game snapshot, broadcast after
// every mutation.
type StateUpdateMessage struct {
	Type string `json:"type"` // "state_update"
	GameState
}

// NewRoundMessage announces a freshly opened round.
type NewRoundMessage struct {
	Type  string `json:"type"` // "new_round"
	Round int    `json:"round"`
}

// RoundResultMessage announces a settled round to everyone.
type RoundResultMessage struct {
	Type         string   `json:"type"` // "round_result"
	Round        int      `json:"round"`
	HasWinner    bool     `json:"has_winner"`
	LowestUnique *int     `json:"lowest_unique"`
	Winners      []int    `json:"winners"`
	WinnerNames  []string `json:"winner_names"`
	Message      string   `json:"message"`
}

// SimpleMessage is for generic notifications ("kicked", "game_reset").
type SimpleMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	playerID string
}

type command struct {
	client *Client
	msg    ClientMessage
}

// Hub owns the session and every connected client. Its run loop is the
// only goroutine that touches either, so commands apply one at a time
// in arrival order.
type Hub struct {
	clients map[*Client]bool
	session *Session
	admin   *Client // channel currently holding admin authority

	register chan *Client
	unreg    chan *Client
	commands chan command
}

func newHub(cfg *Config) *Hub {
	return &Hub{
		clients:  make(map[*Client]bool),
		session:  newSession(cfg),
		register: make(chan *Client),
		unreg:    make(chan *Client),
		commands: make(chan command),
	}
}

func (h *Hub) run(cfg *Config) {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true

			seat, kind := h.session.attach(c.playerID)
			switch kind {
			case attachNewSeat:
				logf(cfg, "GAMES: Assigned seat %d to player %s", seat.ID, c.playerID)
				h.unicast(c, PlayerInfoMessage{
					Type:      "player_info",
					PlayerID:  seat.ID,
					Name:      seat.Name,
					MinNumber: h.session.minNumber,
					MaxNumber: h.session.maxNumber,
				})
			case attachResumed:
				logf(cfg, "GAMES: Player %s resumed seat %d", c.playerID, seat.ID)
				h.unicast(c, PlayerInfoMessage{
					Type:      "player_info",
					PlayerID:  seat.ID,
					Name:      seat.Name,
					MinNumber: h.session.minNumber,
					MaxNumber: h.session.maxNumber,
				})
			case attachSpectator:
				h.unicast(c, SpectatorMessage{Type: "spectator"})
			}

			h.broadcastState()

		case c := <-h.unreg:
			// The client may already be gone if a full send buffer got it
			// dropped mid-broadcast; the admin slot and the seat still have
			// to be released when the read side reports the disconnect.
			h.drop(c)

			if c == h.admin {
				h.admin = nil
				logf(cfg, "GAMES: Admin disconnected")
			}

			if c.playerID != "" && !h.tokenConnected(c.playerID) {
				h.session.detach(c.playerID)
			}

			h.broadcastState()

		case cmd := <-h.commands:
			h.handleCommand(cfg, cmd)
		}
	}
}

// drop removes a client from the roster and closes its channel. Safe to
// call more than once for the same client.
func (h *Hub) drop(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// tokenConnected reports whether any live connection still carries the
// given player token.
func (h *Hub) tokenConnected(token string) bool {
	for c := range h.clients {
		if c.playerID == token {
			return true
		}
	}
	return false
}

func (h *Hub) handleCommand(cfg *Config, cmd command) {
	c := cmd.client
	msg := cmd.msg

	if _, ok := h.clients[c]; !ok {
		return
	}

	switch msg.Type {
	case "register_admin":
		if subtle.ConstantTimeCompare([]byte(msg.Password), []byte(cfg.adminPassword)) != 1 {
			h.unicast(c, AdminStatusMessage{Type: "admin_status", Error: "incorrect admin password"})
			return
		}
		h.admin = c
		logf(cfg, "GAMES: Admin registered")
		h.unicast(c, AdminStatusMessage{Type: "admin_status", OK: true})
		h.broadcastState()

	case "set_player_count":
		if c != h.admin || msg.Count == nil {
			return
		}
		if !h.session.setPlayerCount(*msg.Count) {
			return
		}
		logf(cfg, "GAMES: Player count set to %d", *msg.Count)
		h.broadcastState()

	case "set_name":
		if !h.session.setName(c.playerID, msg.Name) {
			return
		}
		logf(cfg, "GAMES: Player %s set name to %q", c.playerID, strings.TrimSpace(msg.Name))
		h.broadcastState()

	case "choose_number":
		if msg.Number == nil {
			return
		}
		ok, settleNow := h.session.choose(c.playerID, *msg.Number)
		if !ok {
			return
		}
		logf(cfg, "GAMES: Player %s chose a number", c.playerID)
		h.broadcastState()
		if settleNow {
			h.settleRound(cfg)
		}

	case "next_round":
		if c != h.admin {
			return
		}
		if !h.session.nextRound() {
			return
		}
		logf(cfg, "GAMES: Round %d started", h.session.round)
		h.broadcastState()
		h.broadcast(NewRoundMessage{Type: "new_round", Round: h.session.round})

	case "settle_round":
		if c != h.admin {
			return
		}
		h.settleRound(cfg)

	case "reset_game":
		if c != h.admin {
			return
		}
		logf(cfg, "GAMES: Game reset by admin")
		h.broadcast(SimpleMessage{Type: "game_reset"})
		for client := range h.clients {
			if client == h.admin {
				continue
			}
			h.drop(client)
		}
		h.session.reset()
		h.broadcastState()

	case "kick_player":
		if c != h.admin || msg.PlayerID == nil {
			return
		}
		token, found := h.session.kick(*msg.PlayerID)
		if !found {
			logf(cfg, "GAMES: Kick requested for unknown seat %d", *msg.PlayerID)
			return
		}
		logf(cfg, "GAMES: Admin kicked seat %d", *msg.PlayerID)
		for client := range h.clients {
			if client.playerID != token {
				continue
			}
			// unicast may have already dropped a stalled client
			h.unicast(client, SimpleMessage{
				Type:    "kicked",
				Message: "You have been removed by the admin.",
			})
			h.drop(client)
		}
		h.broadcastState()
	}
}

func (h *Hub) settleRound(cfg *Config) {
	result, ok := h.session.settle()
	if !ok {
		return
	}

	logf(cfg, "GAMES: %s", result.Message)

	h.broadcast(RoundResultMessage{
		Type:         "round_result",
		Round:        result.Round,
		HasWinner:    result.HasWinner,
		LowestUnique: result.LowestUnique,
		Winners:      result.WinnerIDs,
		WinnerNames:  result.WinnerNames,
		Message:      result.Message,
	})
	h.broadcastState()
}

func (h *Hub) broadcastState() {
	h.broadcast(StateUpdateMessage{
		Type:      "state_update",
		GameState: h.session.state(),
	})
}

func (h *Hub) broadcast(msg any) {
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			h.drop(client)
		}
	}
}

func (h *Hub) unicast(c *Client, msg any) {
	select {
	case c.send <- msg:
	default:
		h.drop(c)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "lupibox_id"

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	id := uuid.NewString()

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// serveGameSocket upgrades a connection and hands it to the hub. The
// "client" query parameter carries the durable player token; admin and
// spectator consoles connect without one and never receive a seat.
func serveGameSocket(cfg *Config, hub *Hub) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		token := r.URL.Query().Get("client")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		logf(cfg, "GAMES: New connection from %s (token: %s)", realIP(r), token)

		client := &Client{
			conn:     conn,
			send:     make(chan any, 8),
			playerID: token,
		}

		hub.register <- client

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unreg <- c
		_ = c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// malformed or mistyped payloads never reach the session
			continue
		}

		switch msg.Type {
		case "register_admin", "set_player_count", "set_name", "choose_number",
			"next_round", "settle_round", "reset_game", "kick_player":
			h.commands <- command{client: c, msg: msg}
		default:
			// ignore unknown types
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the game URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../qr; strip trailing "/qr" to get the game URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// ---- Static file paths ----

//go:embed game/index.html
var gameHTML []byte

//go:embed game/admin.html
var adminHTML []byte

func getGameHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)

		_ = getOrSetPlayerID(w, r)

		_, _ = w.Write(gameHTML)
	}
}

func getAdminHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)

		_, _ = w.Write(adminHTML)
	}
}

// registerLupiGame sets up routes so that:
//   - $path          → player client (HTML, sets identity cookie)
//   - $path/admin    → admin console (HTML, no cookie)
//   - $path/ws       → WebSocket for the session
//   - $path/qr       → PNG QR code for the player URL
func registerLupiGame(cfg *Config, path string, mux *httprouter.Router) {
	hub := newHub(cfg)
	go hub.run(cfg)

	mux.GET(cfg.prefix+path, getGameHandler(cfg))
	mux.GET(cfg.prefix+path+"/admin", getAdminHandler(cfg))
	mux.GET(cfg.prefix+path+"/ws", serveGameSocket(cfg, hub))
	mux.GET(cfg.prefix+path+"/qr", qrHandler)
}
