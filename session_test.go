/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"testing"
)

func testConfig() *Config {
	return &Config{
		adminPassword: "secret",
		minNumber:     1,
		maxNumber:     30,
		reconnect:     true,
	}
}

// seatPlayers attaches n tokens ("p1".."pn") and names them ("Alice 1"..),
// so they are ready to choose numbers.
func seatPlayers(t *testing.T, s *Session, n int) []string {
	t.Helper()

	tokens := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		token := fmt.Sprintf("p%d", i)
		seat, kind := s.attach(token)
		if kind != attachNewSeat {
			t.Fatalf("attach(%q): want new seat, got kind %d", token, kind)
		}
		if seat.ID != i {
			t.Fatalf("attach(%q): want seat id %d, got %d", token, i, seat.ID)
		}
		if !s.setName(token, fmt.Sprintf("Player-%d", i)) {
			t.Fatalf("setName(%q) failed", token)
		}
		tokens = append(tokens, token)
	}
	return tokens
}

func TestAttachAllocatesLowestFreeSeat(t *testing.T) {
	s := newSession(testConfig())
	s.setPlayerCount(3)

	seatPlayers(t, s, 3)

	// Table is full; a fourth identity spectates.
	if _, kind := s.attach("p4"); kind != attachSpectator {
		t.Fatalf("want spectator for overflow join, got kind %d", kind)
	}

	// Freeing seat 2 before the game starts makes id 2 available again.
	if _, found := s.kick(2); !found {
		t.Fatalf("kick(2): seat not found")
	}
	seat, kind := s.attach("p4")
	if kind != attachNewSeat || seat.ID != 2 {
		t.Fatalf("want reallocated seat 2, got kind %d id %d", kind, seat.ID)
	}
}

func TestAttachRequiresConfiguredCount(t *testing.T) {
	s := newSession(testConfig())

	if _, kind := s.attach("p1"); kind != attachSpectator {
		t.Fatalf("want spectator before player count is set, got kind %d", kind)
	}

	s.setPlayerCount(2)
	seatPlayers(t, s, 2)
	s.nextRound()

	// Once the game is running, new identities never get a seat.
	if _, kind := s.attach("late"); kind != attachSpectator {
		t.Fatalf("want spectator after round start, got kind %d", kind)
	}
}

func TestAttachResumesSeatAfterDisconnect(t *testing.T) {
	s := newSession(testConfig())
	s.setPlayerCount(2)
	seatPlayers(t, s, 1)

	s.detach("p1")
	if s.seats["p1"] == nil || s.seats["p1"].Connected {
		t.Fatalf("detach should keep the seat and mark it offline")
	}

	seat, kind := s.attach("p1")
	if kind != attachResumed || seat.ID != 1 || !seat.Connected {
		t.Fatalf("want resumed seat 1, got kind %d seat %+v", kind, seat)
	}
	if seat.Name != "Player-1" {
		t.Fatalf("resume must not touch seat content, got name %q", seat.Name)
	}
}

func TestDetachWithoutReconnectRemovesSeat(t *testing.T) {
	cfg := testConfig()
	cfg.reconnect = false
	s := newSession(cfg)
	s.setPlayerCount(2)
	seatPlayers(t, s, 1)

	s.detach("p1")
	if len(s.seats) != 0 {
		t.Fatalf("want seat removed on disconnect, still have %d", len(s.seats))
	}
}

func TestSetName(t *testing.T) {
	s := newSession(testConfig())
	s.setPlayerCount(1)
	s.attach("p1")

	cases := []struct {
		name  string
		token string
		value string
		want  bool
	}{
		{"no seat", "ghost", "X", false},
		{"empty", "p1", "", false},
		{"whitespace only", "p1", "   ", false},
		{"ok", "p1", "  Alice  ", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := s.setName(tc.token, tc.value); got != tc.want {
				t.Fatalf("setName(%q, %q) = %v, want %v", tc.token, tc.value, got, tc.want)
			}
		})
	}

	if seat := s.seats["p1"]; seat.Name != "Alice" || !seat.HasName {
		t.Fatalf("want trimmed custom name, got %+v", seat)
	}
}

func TestChoosePreconditions(t *testing.T) {
	cases := []struct {
		name   string
		setup  func(s *Session)
		token  string
		number int
		want   bool
	}{
		{
			name:   "no seat",
			setup:  func(s *Session) { s.nextRound() },
			token:  "ghost",
			number: 5,
		},
		{
			name:   "round not started",
			setup:  func(s *Session) {},
			token:  "p1",
			number: 5,
		},
		{
			name: "round locked",
			setup: func(s *Session) {
				s.nextRound()
				s.settle()
			},
			token:  "p1",
			number: 5,
		},
		{
			name: "eliminated seat",
			setup: func(s *Session) {
				s.nextRound()
				s.seats["p1"].Eliminated = true
			},
			token:  "p1",
			number: 5,
		},
		{
			name:   "below range",
			setup:  func(s *Session) { s.nextRound() },
			token:  "p1",
			number: 0,
		},
		{
			name:   "above range",
			setup:  func(s *Session) { s.nextRound() },
			token:  "p1",
			number: 31,
		},
		{
			name: "no custom name yet",
			setup: func(s *Session) {
				s.nextRound()
				s.seats["p1"].HasName = false
			},
			token:  "p1",
			number: 5,
		},
		{
			name:   "ok",
			setup:  func(s *Session) { s.nextRound() },
			token:  "p1",
			number: 5,
			want:   true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newSession(testConfig())
			s.setPlayerCount(2)
			seatPlayers(t, s, 2)
			tc.setup(s)

			ok, _ := s.choose(tc.token, tc.number)
			if ok != tc.want {
				t.Fatalf("choose(%q, %d) = %v, want %v", tc.token, tc.number, ok, tc.want)
			}
		})
	}
}

func TestSettleLowestUniqueWins(t *testing.T) {
	s := newSession(testConfig())
	s.setPlayerCount(4)
	seatPlayers(t, s, 4)
	s.nextRound()

	for token, number := range map[string]int{"p1": 3, "p2": 5, "p3": 3, "p4": 7} {
		if ok, _ := s.choose(token, number); !ok {
			t.Fatalf("choose(%q, %d) rejected", token, number)
		}
	}

	result, ok := s.settle()
	if !ok {
		t.Fatalf("settle rejected")
	}
	if !result.HasWinner || result.LowestUnique == nil || *result.LowestUnique != 5 {
		t.Fatalf("want lowest unique 5, got %+v", result)
	}
	if len(result.WinnerIDs) != 1 || result.WinnerIDs[0] != 2 {
		t.Fatalf("want winner seat 2, got %v", result.WinnerIDs)
	}
	if !s.seats["p2"].Eliminated {
		t.Fatalf("winner must be eliminated from future rounds")
	}
	if len(s.history) != 1 || !s.history[0].HasWinner {
		t.Fatalf("want one winning history entry, got %+v", s.history)
	}
}

func TestSettleWithNoUniqueNumbers(t *testing.T) {
	s := newSession(testConfig())
	s.setPlayerCount(4)
	seatPlayers(t, s, 4)
	s.nextRound()

	for token, number := range map[string]int{"p1": 2, "p2": 2, "p3": 4, "p4": 4} {
		s.choose(token, number)
	}

	result, ok := s.settle()
	if !ok {
		t.Fatalf("settle rejected")
	}
	if result.HasWinner || result.LowestUnique != nil || len(result.WinnerIDs) != 0 {
		t.Fatalf("want no winner, got %+v", result)
	}
	if !s.locked {
		t.Fatalf("round must stay locked until the admin advances")
	}
	for _, seat := range s.seats {
		if seat.Eliminated {
			t.Fatalf("nobody may be eliminated without a winner")
		}
	}
}

func TestSettleIsIdempotent(t *testing.T) {
	s := newSession(testConfig())
	s.setPlayerCount(2)
	seatPlayers(t, s, 2)
	s.nextRound()
	s.choose("p1", 1)
	s.choose("p2", 2)

	if _, ok := s.settle(); !ok {
		t.Fatalf("first settle rejected")
	}
	if _, ok := s.settle(); ok {
		t.Fatalf("second settle must be a no-op")
	}
	if len(s.history) != 1 {
		t.Fatalf("want exactly one history entry, got %d", len(s.history))
	}
}

func TestSettleIgnoresDisconnectedSeats(t *testing.T) {
	s := newSession(testConfig())
	s.setPlayerCount(3)
	seatPlayers(t, s, 3)
	s.nextRound()

	s.choose("p1", 5)
	s.choose("p2", 5)
	s.choose("p3", 3)

	// Seat 3 drops before settlement; its choice no longer counts.
	s.detach("p3")

	result, _ := s.settle()
	if result.HasWinner {
		t.Fatalf("want no winner once the unique chooser is offline, got %+v", result)
	}
	if s.seats["p3"].Eliminated {
		t.Fatalf("offline seat must not be eliminated")
	}
}

func TestSettleUnstartedGameRejected(t *testing.T) {
	s := newSession(testConfig())
	s.setPlayerCount(2)
	seatPlayers(t, s, 2)

	if _, ok := s.settle(); ok {
		t.Fatalf("settle before round one must be a no-op")
	}
}

func TestEliminationIsPermanent(t *testing.T) {
	s := newSession(testConfig())
	s.setPlayerCount(2)
	seatPlayers(t, s, 2)
	s.nextRound()
	s.choose("p1", 1)
	s.choose("p2", 2)
	s.settle()

	if !s.seats["p1"].Eliminated {
		t.Fatalf("want seat 1 eliminated")
	}

	s.nextRound()
	if ok, _ := s.choose("p1", 3); ok {
		t.Fatalf("eliminated seat must not choose again")
	}
	if !s.seats["p1"].Eliminated {
		t.Fatalf("elimination must survive new rounds")
	}
}

func TestNextRound(t *testing.T) {
	s := newSession(testConfig())

	if s.nextRound() {
		t.Fatalf("nextRound must fail before the player count is set")
	}

	s.setPlayerCount(2)
	seatPlayers(t, s, 2)

	for want := 1; want <= 3; want++ {
		if !s.nextRound() {
			t.Fatalf("nextRound %d rejected", want)
		}
		if s.round != want {
			t.Fatalf("want round %d, got %d", want, s.round)
		}
		// Same number for both: no winner, nobody eliminated.
		s.choose("p1", 9)
		s.choose("p2", 9)
		s.settle()
	}

	if s.seats["p2"].Choice == nil {
		t.Fatalf("expected a recorded choice before the next round")
	}
	s.nextRound()
	for token, seat := range s.seats {
		if seat.Choice != nil {
			t.Fatalf("nextRound must clear the choice of %q", token)
		}
	}
	if s.locked || s.choicesVisible || s.winners != nil {
		t.Fatalf("nextRound must reopen the round")
	}
}

func TestPlayerCountImmutableOnceStarted(t *testing.T) {
	s := newSession(testConfig())

	if s.setPlayerCount(0) || s.setPlayerCount(-3) {
		t.Fatalf("non-positive counts must be rejected")
	}

	s.setPlayerCount(3)
	if !s.setPlayerCount(5) {
		t.Fatalf("count may change before the game starts")
	}

	seatPlayers(t, s, 2)
	s.nextRound()

	if s.setPlayerCount(8) {
		t.Fatalf("count must be immutable once the game has started")
	}
	if s.maxPlayers != 5 {
		t.Fatalf("want maxPlayers 5, got %d", s.maxPlayers)
	}
}

func TestKickMidGameKeepsSeat(t *testing.T) {
	s := newSession(testConfig())
	s.setPlayerCount(3)
	seatPlayers(t, s, 3)
	s.nextRound()
	s.choose("p2", 7)

	token, found := s.kick(2)
	if !found || token != "p2" {
		t.Fatalf("kick(2): want token p2, got %q found=%v", token, found)
	}

	seat := s.seats["p2"]
	if seat == nil {
		t.Fatalf("mid-game kick must keep the seat")
	}
	if !seat.Eliminated || seat.Choice != nil {
		t.Fatalf("kicked seat must be eliminated with its choice cleared, got %+v", seat)
	}
}

func TestResetClearsEverything(t *testing.T) {
	s := newSession(testConfig())
	s.setPlayerCount(2)
	seatPlayers(t, s, 2)
	s.nextRound()
	s.choose("p1", 1)
	s.choose("p2", 2)
	s.settle()

	s.reset()

	if len(s.seats) != 0 || s.maxPlayers != 0 || s.round != 0 {
		t.Fatalf("reset must clear seats and round scalars")
	}
	if s.locked || s.choicesVisible || s.winners != nil || s.history != nil {
		t.Fatalf("reset must clear flags, winners, and history")
	}
}

func TestAutoSettleTriggersOnLastChoice(t *testing.T) {
	cfg := testConfig()
	cfg.autoSettle = true
	s := newSession(cfg)
	s.setPlayerCount(3)
	seatPlayers(t, s, 3)
	s.nextRound()

	if _, settleNow := s.choose("p1", 4); settleNow {
		t.Fatalf("auto-settle must wait for every active seat")
	}
	if _, settleNow := s.choose("p2", 4); settleNow {
		t.Fatalf("auto-settle must wait for every active seat")
	}
	ok, settleNow := s.choose("p3", 9)
	if !ok || !settleNow {
		t.Fatalf("final choice should trigger auto-settle, got ok=%v settleNow=%v", ok, settleNow)
	}
}

func TestStateHidesChoicesUntilRevealed(t *testing.T) {
	s := newSession(testConfig())
	s.setPlayerCount(2)
	seatPlayers(t, s, 2)
	s.nextRound()
	s.choose("p1", 3)
	s.choose("p2", 8)

	for _, p := range s.state().Players {
		if p.Choice != nil {
			t.Fatalf("choices must not leak before settlement, seat %d shows %d", p.ID, *p.Choice)
		}
	}

	s.settle()

	state := s.state()
	if !state.ChoicesVisible {
		t.Fatalf("settlement must reveal choices")
	}
	if state.Players[1].Choice == nil || *state.Players[1].Choice != 8 {
		t.Fatalf("want revealed choice 8 for seat 2, got %+v", state.Players[1])
	}
}

func TestStateOrderedBySeatID(t *testing.T) {
	s := newSession(testConfig())
	s.setPlayerCount(3)
	seatPlayers(t, s, 3)
	s.kick(2)
	s.attach("p4")

	state := s.state()
	if state.JoinedCount != 3 || state.ActiveCount != 3 {
		t.Fatalf("want 3 joined and active, got %+v", state)
	}
	for i, p := range state.Players {
		if p.ID != i+1 {
			t.Fatalf("players must be ordered by seat id, got %+v", state.Players)
		}
	}
}
