package engine

import (
	"errors"

	"github.com/ludoarena/backend/internal/board"
)

var ErrNotYourTurn = errors.New("not your turn")
var ErrMatchNotStarted = errors.New("match not started")
var ErrWrongTurnState = errors.New("wrong turn state")
var ErrIllegalMove = errors.New("token has no legal move")
var ErrBadDie = errors.New("die value out of range")
var ErrGameOver = errors.New("match already over")
var ErrUnsupportedCommand = errors.New("unsupported command")

type TurnState string

const (
	TurnRolling  TurnState = "rolling"
	TurnMoving   TurnState = "moving"
	TurnGameOver TurnState = "game_over"
)

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
)

// Player is one seat in a match. Autopilot acts through the seat while it is
// disconnected or slow; IsBot stays false because the seat never changes
// ownership.
type Player struct {
	Color          board.Color `json:"color"`
	Identity       string      `json:"identity,omitempty"`
	DisplayName    string      `json:"display_name,omitempty"`
	ConnectionRef  string      `json:"connection_ref,omitempty"`
	IsDisconnected bool        `json:"is_disconnected,omitempty"`
	IsBot          bool        `json:"is_bot,omitempty"`
}

// Token is one of the four pieces of a color. Slot is the token's own yard
// slot, where it returns when captured.
type Token struct {
	ID       string         `json:"id"`
	Color    board.Color    `json:"color"`
	Slot     int            `json:"slot"`
	Position board.Position `json:"position"`
}

type Move struct {
	TokenID string         `json:"token_id"`
	To      board.Position `json:"to"`
}

// State is the full authoritative match document. It is the unit the store
// persists and the snapshot broadcast to clients.
type State struct {
	ID                  string        `json:"id"`
	Stake               int64         `json:"stake"`
	Status              Status        `json:"status"`
	Players             []Player      `json:"players"`
	Tokens              []Token       `json:"tokens"`
	CurrentPlayerIndex  int           `json:"current_player_index"`
	DiceValue           int           `json:"dice_value,omitempty"`
	TurnState           TurnState     `json:"turn_state"`
	LegalMoves          []Move        `json:"legal_moves,omitempty"`
	Winners             []board.Color `json:"winners,omitempty"`
	ConsecutiveSixes    int           `json:"consecutive_sixes,omitempty"`
	SettlementProcessed bool          `json:"settlement_processed,omitempty"`
}

type CommandType string

const (
	CmdRoll CommandType = "Roll"
	CmdMove CommandType = "Move"
)

// Command carries a validated player action into Apply. Die is injected by
// the caller so manual rolls, autopilot rolls and tests all share one code
// path.
type Command struct {
	Type    CommandType
	Seat    int
	Die     int
	TokenID string
}

type EventType string

const (
	EvtDiceRolled    EventType = "DiceRolled"
	EvtNoLegalMoves  EventType = "NoLegalMoves"
	EvtTokenMoved    EventType = "TokenMoved"
	EvtTokenCaptured EventType = "TokenCaptured"
	EvtColorFinished EventType = "ColorFinished"
	EvtExtraTurn     EventType = "ExtraTurn"
	EvtTurnPassed    EventType = "TurnPassed"
	EvtGameCompleted EventType = "GameCompleted"
)

type Event struct {
	Type    EventType
	Seat    int
	Color   board.Color
	Die     int
	TokenID string
	From    board.Position
	To      board.Position
}

// Apply runs one command against the state and returns the events it
// produced plus the successor state. The input state is never mutated.
func Apply(s State, cmd Command) ([]Event, State, error) {
	if s.TurnState == TurnGameOver || s.Status == StatusCompleted || s.Status == StatusAbandoned {
		return nil, s, ErrGameOver
	}
	// Play opens only once both seats have attached.
	if s.Status == StatusWaiting {
		return nil, s, ErrMatchNotStarted
	}

	switch cmd.Type {
	case CmdRoll:
		return applyRoll(s, cmd)
	case CmdMove:
		return applyMove(s, cmd)
	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func applyRoll(s State, cmd Command) ([]Event, State, error) {
	if s.TurnState != TurnRolling {
		return nil, s, ErrWrongTurnState
	}
	if cmd.Seat != s.CurrentPlayerIndex {
		return nil, s, ErrNotYourTurn
	}
	if cmd.Die < board.DiceMin || cmd.Die > board.DiceMax {
		return nil, s, ErrBadDie
	}

	ns := s.Clone()
	color := ns.Players[cmd.Seat].Color
	ns.DiceValue = cmd.Die
	if cmd.Die == board.RollForExtraTurn {
		ns.ConsecutiveSixes++
	} else {
		ns.ConsecutiveSixes = 0
	}

	events := []Event{{Type: EvtDiceRolled, Seat: cmd.Seat, Color: color, Die: cmd.Die}}

	// A third six in a row forfeits the turn outright.
	var moves []Move
	if ns.ConsecutiveSixes < board.MaxConsecutiveSixes {
		moves = LegalMoves(ns.Tokens, color, cmd.Die)
	}

	if len(moves) == 0 {
		// No extra turn even on a six: the six was unusable.
		events = append(events,
			Event{Type: EvtNoLegalMoves, Seat: cmd.Seat, Color: color, Die: cmd.Die},
			Event{Type: EvtTurnPassed, Seat: cmd.Seat, Color: color})
		ns.passTurn()
		return events, ns, nil
	}

	ns.LegalMoves = moves
	ns.TurnState = TurnMoving
	return events, ns, nil
}

func applyMove(s State, cmd Command) ([]Event, State, error) {
	if s.TurnState != TurnMoving {
		return nil, s, ErrWrongTurnState
	}
	if cmd.Seat != s.CurrentPlayerIndex {
		return nil, s, ErrNotYourTurn
	}

	var mv Move
	found := false
	for _, m := range s.LegalMoves {
		if m.TokenID == cmd.TokenID {
			mv, found = m, true
			break
		}
	}
	if !found {
		return nil, s, ErrIllegalMove
	}

	ns := s.Clone()
	color := ns.Players[cmd.Seat].Color
	tok := ns.tokenByID(cmd.TokenID)
	from := tok.Position
	tok.Position = mv.To

	events := []Event{{Type: EvtTokenMoved, Seat: cmd.Seat, Color: color, TokenID: tok.ID, From: from, To: mv.To}}

	captured := 0
	if mv.To.Kind == board.KindPath && !board.IsSafe(mv.To.Index) {
		for i := range ns.Tokens {
			t := &ns.Tokens[i]
			if t.Color == color {
				continue
			}
			if t.Position.Kind == board.KindPath && t.Position.Index == mv.To.Index {
				events = append(events, Event{
					Type: EvtTokenCaptured, Seat: cmd.Seat, Color: t.Color,
					TokenID: t.ID, From: t.Position, To: board.Yard(t.Slot),
				})
				t.Position = board.Yard(t.Slot)
				captured++
			}
		}
	}

	reachedHome := mv.To.Kind == board.KindHome
	if reachedHome && ns.colorDone(color) && !containsColor(ns.Winners, color) {
		ns.Winners = append(ns.Winners, color)
		events = append(events, Event{Type: EvtColorFinished, Seat: cmd.Seat, Color: color})
	}

	if len(ns.Winners) >= len(ns.Players)-1 {
		ns.Status = StatusCompleted
		ns.TurnState = TurnGameOver
		ns.DiceValue = 0
		ns.LegalMoves = nil
		events = append(events, Event{Type: EvtGameCompleted})
		return events, ns, nil
	}

	extra := ns.DiceValue == board.RollForExtraTurn || captured > 0 || reachedHome
	if extra && !ns.colorDone(color) {
		events = append(events, Event{Type: EvtExtraTurn, Seat: cmd.Seat, Color: color})
		ns.DiceValue = 0
		ns.LegalMoves = nil
		ns.TurnState = TurnRolling
		return events, ns, nil
	}

	events = append(events, Event{Type: EvtTurnPassed, Seat: cmd.Seat, Color: color})
	ns.passTurn()
	return events, ns, nil
}

// passTurn hands the turn to the next seat whose color has not finished and
// resets per-turn fields.
func (s *State) passTurn() {
	s.DiceValue = 0
	s.LegalMoves = nil
	s.ConsecutiveSixes = 0
	s.TurnState = TurnRolling

	n := len(s.Players)
	for i := 1; i <= n; i++ {
		cand := (s.CurrentPlayerIndex + i) % n
		if !containsColor(s.Winners, s.Players[cand].Color) {
			s.CurrentPlayerIndex = cand
			return
		}
	}
}

func (s *State) tokenByID(id string) *Token {
	for i := range s.Tokens {
		if s.Tokens[i].ID == id {
			return &s.Tokens[i]
		}
	}
	return nil
}

func (s *State) colorDone(c board.Color) bool {
	for _, t := range s.Tokens {
		if t.Color == c && t.Position.Kind != board.KindHome {
			return false
		}
	}
	return true
}

func containsColor(cs []board.Color, c board.Color) bool {
	for _, x := range cs {
		if x == c {
			return true
		}
	}
	return false
}
