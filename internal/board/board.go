// Package board holds the pure geometry of the track: colors, the tagged
// token position type, safe squares, and step resolution. Nothing here
// touches match state; the engine composes these helpers into move rules.
package board

import "fmt"

const (
	// PathLen is the number of squares on the shared circular track.
	PathLen = 52
	// HomePathLen is the number of squares on each color's private stretch.
	HomePathLen = 5
	// TokensPerColor is fixed; a color always owns exactly four tokens.
	TokensPerColor = 4

	DiceMin = 1
	DiceMax = 6
	// RollToEnter is the roll required to bring a token out of the yard.
	RollToEnter = 6
	// RollForExtraTurn grants the mover another roll, provided the roll had
	// at least one legal move.
	RollForExtraTurn = 6
	// MaxConsecutiveSixes: a third six in a row forfeits the turn.
	MaxConsecutiveSixes = 3
)

type Color string

const (
	ColorRed    Color = "red"
	ColorGreen  Color = "green"
	ColorYellow Color = "yellow"
	ColorBlue   Color = "blue"
)

var startOffsets = map[Color]int{
	ColorRed:    0,
	ColorGreen:  13,
	ColorYellow: 26,
	ColorBlue:   39,
}

// TwoPlayerColors are the seats of a heads-up match, opposite corners.
var TwoPlayerColors = [2]Color{ColorRed, ColorYellow}

// safeSquares is the fixed capture-free set: every start square plus every
// home entrance.
var safeSquares = map[int]bool{
	0: true, 8: true, 13: true, 21: true,
	26: true, 34: true, 39: true, 47: true,
	50: true, 11: true, 24: true, 37: true,
}

func IsSafe(pathIndex int) bool { return safeSquares[pathIndex%PathLen] }

// StartIndex is the square a color's tokens enter the path on.
func StartIndex(c Color) int { return startOffsets[c] }

// HomeEntrance is the last path square a color occupies before turning into
// its home stretch.
func HomeEntrance(c Color) int { return (startOffsets[c] + PathLen - 2) % PathLen }

// DistanceToHomeEntrance returns how many forward steps land a token of the
// given color exactly on its home entrance.
func DistanceToHomeEntrance(c Color, pathIndex int) int {
	return ((HomeEntrance(c) - pathIndex) % PathLen + PathLen) % PathLen
}

type PositionKind string

const (
	KindYard     PositionKind = "yard"
	KindPath     PositionKind = "path"
	KindHomePath PositionKind = "home_path"
	KindHome     PositionKind = "home"
)

// Position is a tagged union over the four places a token can be. Index is
// the yard slot (0..3), path square (0..51) or home-path square (0..4)
// depending on Kind, and zero for Home.
type Position struct {
	Kind  PositionKind `json:"kind"`
	Index int          `json:"index,omitempty"`
}

func Yard(slot int) Position      { return Position{Kind: KindYard, Index: slot} }
func PathAt(idx int) Position     { return Position{Kind: KindPath, Index: ((idx % PathLen) + PathLen) % PathLen} }
func HomePathAt(idx int) Position { return Position{Kind: KindHomePath, Index: idx} }
func Home() Position              { return Position{Kind: KindHome} }

func (p Position) String() string {
	switch p.Kind {
	case KindYard:
		return fmt.Sprintf("yard[%d]", p.Index)
	case KindPath:
		return fmt.Sprintf("path[%d]", p.Index)
	case KindHomePath:
		return fmt.Sprintf("home_path[%d]", p.Index)
	case KindHome:
		return "home"
	default:
		return "invalid"
	}
}

// ResolveStep returns the landing position for a token of color c at pos
// moved by roll. ok is false when the step overshoots the home column
// (reaching Home requires an exact roll) or when the position cannot move
// at all (a token already Home, or a yarded token without a six).
func ResolveStep(c Color, pos Position, roll int) (Position, bool) {
	switch pos.Kind {
	case KindYard:
		if roll != RollToEnter {
			return Position{}, false
		}
		return PathAt(StartIndex(c)), true

	case KindPath:
		d := DistanceToHomeEntrance(c, pos.Index)
		if roll <= d {
			return PathAt(pos.Index + roll), true
		}
		// Steps taken past the entrance walk the home column.
		h := roll - d - 1
		if h < HomePathLen {
			return HomePathAt(h), true
		}
		if h == HomePathLen {
			return Home(), true
		}
		return Position{}, false

	case KindHomePath:
		n := pos.Index + roll
		if n < HomePathLen {
			return HomePathAt(n), true
		}
		if n == HomePathLen {
			return Home(), true
		}
		return Position{}, false

	case KindHome:
		return Position{}, false

	default:
		return Position{}, false
	}
}
