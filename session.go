/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"sort"
	"strings"
)

// Seat is one playable slot, bound to a durable player token.
// IDs are small integers allocated from the lowest free slot in
// [1, maxPlayers], and stay stable for the life of the seat.
type Seat struct {
	ID         int
	Name       string
	HasName    bool
	Choice     *int
	Eliminated bool
	Connected  bool
}

// HistoryEntry records one settled round. Entries are append-only and
// survive until a full game reset.
type HistoryEntry struct {
	Round        int      `json:"round"`
	HasWinner    bool     `json:"has_winner"`
	LowestUnique *int     `json:"lowest_unique"`
	WinnerIDs    []int    `json:"winner_ids"`
	WinnerNames  []string `json:"winner_names"`
}

// RoundResult is the outcome of settling one round.
type RoundResult struct {
	Round        int
	HasWinner    bool
	LowestUnique *int
	WinnerIDs    []int
	WinnerNames  []string
	Message      string
}

// SeatState is the public view of one seat. Choice is withheld until
// the round's choices have been revealed.
type SeatState struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	HasName    bool   `json:"has_name"`
	Choice     *int   `json:"choice"`
	Eliminated bool   `json:"eliminated"`
	Connected  bool   `json:"connected"`
}

// GameState is the snapshot broadcast to every client after each
// mutation. Every viewer receives the same snapshot.
type GameState struct {
	Round          int            `json:"round"`
	Players        []SeatState    `json:"players"`
	Winners        []int          `json:"winners"`
	ChoicesVisible bool           `json:"choices_visible"`
	MaxPlayers     int            `json:"max_players"`
	JoinedCount    int            `json:"joined_count"`
	ActiveCount    int            `json:"active_count"`
	RoundActive    bool           `json:"round_active"`
	History        []HistoryEntry `json:"history"`
}

type attachKind int

const (
	attachSpectator attachKind = iota
	attachNewSeat
	attachResumed
)

// Session holds the entire game: seats, round scalars, and history.
// It knows nothing about transport; the hub's run loop is the only
// goroutine that touches it, so no locking happens here.
type Session struct {
	minNumber  int
	maxNumber  int
	reconnect  bool
	autoSettle bool

	seats          map[string]*Seat // player token -> seat
	maxPlayers     int              // 0 until the admin sets it
	round          int              // 0 until the first round starts
	locked         bool
	choicesVisible bool
	winners        []int
	history        []HistoryEntry
}

func newSession(cfg *Config) *Session {
	return &Session{
		minNumber:  cfg.minNumber,
		maxNumber:  cfg.maxNumber,
		reconnect:  cfg.reconnect,
		autoSettle: cfg.autoSettle,
		seats:      make(map[string]*Seat),
	}
}

// attach resolves an inbound connection to a seat. A known token
// resumes its seat; an unknown token is granted a fresh seat only
// before the game has started and while slots remain. Everyone else
// is a spectator.
func (s *Session) attach(token string) (*Seat, attachKind) {
	if token == "" {
		return nil, attachSpectator
	}

	if seat, ok := s.seats[token]; ok {
		seat.Connected = true
		return seat, attachResumed
	}

	if s.round != 0 || s.maxPlayers == 0 || len(s.seats) >= s.maxPlayers {
		return nil, attachSpectator
	}

	id := s.allocateSeatID()
	seat := &Seat{
		ID:        id,
		Name:      fmt.Sprintf("Player %d", id),
		Connected: true,
	}
	s.seats[token] = seat

	return seat, attachNewSeat
}

// detach handles the loss of a token's last connection. With
// reconnect enabled the seat is kept and marked offline; otherwise
// the seat is removed outright.
func (s *Session) detach(token string) {
	seat, ok := s.seats[token]
	if !ok {
		return
	}

	if s.reconnect {
		seat.Connected = false
	} else {
		delete(s.seats, token)
	}
}

// allocateSeatID returns the lowest seat id not currently in use.
func (s *Session) allocateSeatID() int {
	used := make(map[int]bool, len(s.seats))
	for _, seat := range s.seats {
		used[seat.ID] = true
	}
	for i := 1; i <= s.maxPlayers; i++ {
		if !used[i] {
			return i
		}
	}
	return s.maxPlayers + 1
}

func (s *Session) setName(token, name string) bool {
	seat, ok := s.seats[token]
	if !ok {
		return false
	}

	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return false
	}

	seat.Name = trimmed
	seat.HasName = true

	return true
}

// choose records a seat's number for the current round. The second
// return value reports whether this submission completed the round
// under auto-settle.
func (s *Session) choose(token string, number int) (ok, settleNow bool) {
	seat, exists := s.seats[token]
	if !exists {
		return false, false
	}

	if seat.Eliminated || s.locked || s.round == 0 {
		return false, false
	}
	if number < s.minNumber || number > s.maxNumber {
		return false, false
	}
	if !seat.HasName {
		return false, false
	}

	n := number
	seat.Choice = &n

	if s.autoSettle && s.allActiveChosen() {
		return true, true
	}

	return true, false
}

func (s *Session) allActiveChosen() bool {
	active := s.activeSeats()
	if len(active) == 0 {
		return false
	}
	for _, seat := range active {
		if seat.Choice == nil {
			return false
		}
	}
	return true
}

// setPlayerCount fixes the number of playable slots. Rejected once
// the first round has started.
func (s *Session) setPlayerCount(n int) bool {
	if n <= 0 || s.round > 0 {
		return false
	}

	s.maxPlayers = n

	return true
}

// nextRound opens a fresh round: choices cleared, lock and visibility
// dropped, pending winners forgotten. Requires a configured player
// count.
func (s *Session) nextRound() bool {
	if s.maxPlayers == 0 {
		return false
	}

	s.round++
	s.locked = false
	s.choicesVisible = false
	s.winners = nil

	for _, seat := range s.seats {
		seat.Choice = nil
	}

	return true
}

// settle closes the current round and computes its winner: the seat
// holding the smallest number that exactly one active seat chose.
// Winners are eliminated from future rounds. Settling an already
// locked or unstarted round is a no-op.
func (s *Session) settle() (*RoundResult, bool) {
	if s.locked || s.round == 0 {
		return nil, false
	}

	s.locked = true
	s.choicesVisible = true

	active := s.activeSeats()

	counts := make(map[int]int)
	for _, seat := range active {
		if seat.Choice == nil {
			continue
		}
		counts[*seat.Choice]++
	}

	lowestUnique := 0
	hasWinner := false
	for number, count := range counts {
		if count != 1 {
			continue
		}
		if !hasWinner || number < lowestUnique {
			lowestUnique = number
			hasWinner = true
		}
	}

	result := &RoundResult{
		Round:       s.round,
		WinnerIDs:   []int{},
		WinnerNames: []string{},
	}

	if !hasWinner {
		s.winners = nil
		result.Message = fmt.Sprintf("Round %d: no unique number was chosen. Start the next round to continue.", s.round)
	} else {
		result.HasWinner = true
		n := lowestUnique
		result.LowestUnique = &n

		for _, seat := range active {
			if seat.Choice != nil && *seat.Choice == lowestUnique {
				seat.Eliminated = true
				result.WinnerIDs = append(result.WinnerIDs, seat.ID)
				result.WinnerNames = append(result.WinnerNames, seat.Name)
			}
		}
		s.winners = result.WinnerIDs

		result.Message = fmt.Sprintf("Round %d: %d was the lowest unique number, won by %s!",
			s.round, lowestUnique, strings.Join(result.WinnerNames, ", "))
	}

	s.history = append(s.history, HistoryEntry{
		Round:        result.Round,
		HasWinner:    result.HasWinner,
		LowestUnique: result.LowestUnique,
		WinnerIDs:    result.WinnerIDs,
		WinnerNames:  result.WinnerNames,
	})

	return result, true
}

// kick removes a player by seat id. Before the game starts the seat
// is deleted and its id freed for reuse; mid-game the seat is marked
// eliminated and keeps its id. Returns the owning token so the caller
// can sever its connections.
func (s *Session) kick(seatID int) (string, bool) {
	for token, seat := range s.seats {
		if seat.ID != seatID {
			continue
		}

		if s.round == 0 {
			delete(s.seats, token)
		} else {
			seat.Eliminated = true
			seat.Choice = nil
		}

		return token, true
	}

	return "", false
}

// reset returns the session to its initial state, dropping every
// seat, the round scalars, and the history.
func (s *Session) reset() {
	s.seats = make(map[string]*Seat)
	s.maxPlayers = 0
	s.round = 0
	s.locked = false
	s.choicesVisible = false
	s.winners = nil
	s.history = nil
}

// activeSeats returns seats still in the running: not eliminated and,
// when reconnects are enabled, currently connected. Disconnected
// seats do not count toward settlement.
func (s *Session) activeSeats() []*Seat {
	active := make([]*Seat, 0, len(s.seats))
	for _, seat := range s.seats {
		if seat.Eliminated || !seat.Connected {
			continue
		}
		active = append(active, seat)
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].ID < active[j].ID
	})

	return active
}

func (s *Session) state() GameState {
	players := make([]SeatState, 0, len(s.seats))
	for _, seat := range s.seats {
		ps := SeatState{
			ID:         seat.ID,
			Name:       seat.Name,
			HasName:    seat.HasName,
			Eliminated: seat.Eliminated,
			Connected:  seat.Connected,
		}
		if s.choicesVisible && seat.Choice != nil {
			n := *seat.Choice
			ps.Choice = &n
		}
		players = append(players, ps)
	}

	sort.Slice(players, func(i, j int) bool {
		return players[i].ID < players[j].ID
	})

	winners := s.winners
	if winners == nil {
		winners = []int{}
	}
	history := s.history
	if history == nil {
		history = []HistoryEntry{}
	}

	return GameState{
		Round:          s.round,
		Players:        players,
		Winners:        winners,
		ChoicesVisible: s.choicesVisible,
		MaxPlayers:     s.maxPlayers,
		JoinedCount:    len(s.seats),
		ActiveCount:    len(s.activeSeats()),
		RoundActive:    s.round > 0 && !s.locked,
		History:        history,
	}
}
