package table

import (
	"github.com/ludoarena/backend/internal/board"
	"github.com/ludoarena/backend/internal/engine"
)

// chooseMove picks for a timed-out seat: a capturing move first, then one
// that reaches home, otherwise the first legal move.
func chooseMove(st engine.State) engine.Move {
	if len(st.LegalMoves) == 0 {
		return engine.Move{}
	}
	mover := st.Players[st.CurrentPlayerIndex].Color

	for _, m := range st.LegalMoves {
		if captures(st, mover, m) {
			return m
		}
	}
	for _, m := range st.LegalMoves {
		if m.To.Kind == board.KindHome {
			return m
		}
	}
	return st.LegalMoves[0]
}

func captures(st engine.State, mover board.Color, m engine.Move) bool {
	if m.To.Kind != board.KindPath || board.IsSafe(m.To.Index) {
		return false
	}
	for _, tok := range st.Tokens {
		if tok.Color == mover {
			continue
		}
		if tok.Position.Kind == board.KindPath && tok.Position.Index == m.To.Index {
			return true
		}
	}
	return false
}
