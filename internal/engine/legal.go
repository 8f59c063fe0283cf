package engine

import "github.com/ludoarena/backend/internal/board"

// LegalMoves computes every move the acting color may make with the given
// roll. An empty result is a valid outcome; the turn will pass.
func LegalMoves(tokens []Token, c board.Color, roll int) []Move {
	var out []Move
	for _, t := range tokens {
		if t.Color != c {
			continue
		}
		to, ok := board.ResolveStep(c, t.Position, roll)
		if !ok {
			continue
		}
		// Relaxed stacking: entering from the yard is only capped by the
		// color's own start square being full. Stacking elsewhere is free.
		if t.Position.Kind == board.KindYard &&
			countAt(tokens, c, board.StartIndex(c)) >= board.TokensPerColor {
			continue
		}
		if to.Kind == board.KindPath && blockadeAt(tokens, c, to.Index) {
			continue
		}
		out = append(out, Move{TokenID: t.ID, To: to})
	}
	return out
}

// countAt counts the mover's own tokens sitting on a path square.
func countAt(tokens []Token, c board.Color, pathIndex int) int {
	n := 0
	for _, t := range tokens {
		if t.Color == c && t.Position.Kind == board.KindPath && t.Position.Index == pathIndex {
			n++
		}
	}
	return n
}

// blockadeAt reports whether two or more opposing tokens of one color sit on
// the square, which blocks the mover from landing there.
func blockadeAt(tokens []Token, mover board.Color, pathIndex int) bool {
	counts := map[board.Color]int{}
	for _, t := range tokens {
		if t.Color == mover {
			continue
		}
		if t.Position.Kind == board.KindPath && t.Position.Index == pathIndex {
			counts[t.Color]++
			if counts[t.Color] >= 2 {
				return true
			}
		}
	}
	return false
}
