// Package types defines the JSON protocol spoken over the websocket.
package types

import "github.com/ludoarena/backend/internal/engine"

// ClientMessage is every inbound action. Type selects which fields matter:
//
//	search_match:  stake, display_name
//	cancel_search: stake
//	join:          match_id
//	roll:          (none; the joined match is implicit)
//	move:          token_id
//	watch:         match_id
type ClientMessage struct {
	Type        string `json:"type"`
	Stake       int64  `json:"stake,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	MatchID     string `json:"match_id,omitempty"`
	TokenID     string `json:"token_id,omitempty"`
}

// ServerMessage is every outbound frame. "state" carries the full match
// snapshot after each successful mutation; clients never receive deltas.
type ServerMessage struct {
	Type     string        `json:"type"` // "match_found" | "state" | "queued" | "search_cancelled" | "error"
	MatchID  string        `json:"match_id,omitempty"`
	Color    string        `json:"color,omitempty"`
	Opponent string        `json:"opponent,omitempty"`
	Stake    int64         `json:"stake,omitempty"`
	State    *engine.State `json:"state,omitempty"`
	Code     string        `json:"code,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Stable error codes surfaced to clients.
const (
	CodeNotYourTurn       = "NOT_YOUR_TURN"
	CodeWrongTurnState    = "WRONG_TURN_STATE"
	CodeInvalidMove       = "INVALID_MOVE"
	CodeMatchOver         = "MATCH_OVER"
	CodeMatchNotFound     = "MATCH_NOT_FOUND"
	CodeMatchNotStarted   = "MATCH_NOT_STARTED"
	CodeNotASeat          = "NOT_A_SEAT"
	CodeAlreadySearching  = "ALREADY_SEARCHING"
	CodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	CodeTryAgain          = "TRY_AGAIN"
	CodeBadMessage        = "BAD_MESSAGE"
	CodeUnauthorized      = "UNAUTHORIZED"
)

func ErrorFrame(code, msg string) ServerMessage {
	return ServerMessage{Type: "error", Code: code, Error: msg}
}

func StateFrame(st engine.State) ServerMessage {
	return ServerMessage{Type: "state", MatchID: st.ID, State: &st}
}
