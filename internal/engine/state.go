package engine

import (
	"fmt"
	"slices"

	"github.com/ludoarena/backend/internal/board"
)

// NewMatch builds the initial document for a freshly paired two-player
// match. Seat order is the pairing order; seat 0 (first enqueued) opens.
func NewMatch(id string, stake int64, a, b Player) State {
	a.Color = board.TwoPlayerColors[0]
	b.Color = board.TwoPlayerColors[1]

	players := []Player{a, b}
	tokens := make([]Token, 0, len(players)*board.TokensPerColor)
	for _, p := range players {
		for slot := 0; slot < board.TokensPerColor; slot++ {
			tokens = append(tokens, Token{
				ID:       fmt.Sprintf("%s-%d", p.Color, slot),
				Color:    p.Color,
				Slot:     slot,
				Position: board.Yard(slot),
			})
		}
	}

	return State{
		ID:                 id,
		Stake:              stake,
		Status:             StatusWaiting,
		Players:            players,
		Tokens:             tokens,
		CurrentPlayerIndex: 0,
		TurnState:          TurnRolling,
	}
}

func (s State) Clone() State {
	ns := s
	ns.Players = slices.Clone(s.Players)
	ns.Tokens = slices.Clone(s.Tokens)
	ns.LegalMoves = slices.Clone(s.LegalMoves)
	ns.Winners = slices.Clone(s.Winners)
	return ns
}

// SeatByIdentity returns the seat index owned by the given user id, or -1.
func (s State) SeatByIdentity(identity string) int {
	if identity == "" {
		return -1
	}
	for i, p := range s.Players {
		if p.Identity == identity {
			return i
		}
	}
	return -1
}

// SeatByConn returns the seat index currently bound to a connection ref.
func (s State) SeatByConn(connRef string) int {
	if connRef == "" {
		return -1
	}
	for i, p := range s.Players {
		if p.ConnectionRef == connRef {
			return i
		}
	}
	return -1
}

// AttachSeat binds a connection to a seat and clears its disconnect flag.
// Reconnection never resets game progress.
func AttachSeat(s State, seat int, connRef string) State {
	ns := s.Clone()
	ns.Players[seat].ConnectionRef = connRef
	ns.Players[seat].IsDisconnected = false
	if ns.Status == StatusWaiting && ns.allSeatsAttached() {
		ns.Status = StatusActive
	}
	return ns
}

// DetachSeat marks a seat disconnected and drops its connection ref. The
// seat keeps its identity; autopilot plays through it.
func DetachSeat(s State, seat int) State {
	ns := s.Clone()
	ns.Players[seat].ConnectionRef = ""
	ns.Players[seat].IsDisconnected = true
	return ns
}

func (s State) allSeatsAttached() bool {
	for _, p := range s.Players {
		if p.ConnectionRef == "" {
			return false
		}
	}
	return true
}

// WinnerLoser resolves the payout pair for a completed heads-up match: the
// first finisher wins, the remaining seat is implicitly last.
func (s State) WinnerLoser() (winner, loser Player, ok bool) {
	if len(s.Winners) == 0 {
		return Player{}, Player{}, false
	}
	for _, p := range s.Players {
		if p.Color == s.Winners[0] {
			winner = p
		} else {
			loser = p
		}
	}
	return winner, loser, winner.Color == s.Winners[0]
}
