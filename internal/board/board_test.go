package board

import "testing"

func TestResolveStep(t *testing.T) {
	cases := []struct {
		name  string
		color Color
		pos   Position
		roll  int
		want  Position
		ok    bool
	}{
		{name: "yard needs a six", color: ColorRed, pos: Yard(0), roll: 5, ok: false},
		{name: "yard with six enters on start square", color: ColorRed, pos: Yard(2), roll: 6, want: PathAt(0), ok: true},
		{name: "yellow enters on its own start", color: ColorYellow, pos: Yard(0), roll: 6, want: PathAt(26), ok: true},
		{name: "plain path step", color: ColorRed, pos: PathAt(10), roll: 3, want: PathAt(13), ok: true},
		{name: "path wraps modulo 52", color: ColorYellow, pos: PathAt(50), roll: 4, want: PathAt(2), ok: true},
		{name: "lands exactly on home entrance", color: ColorRed, pos: PathAt(47), roll: 3, want: PathAt(50), ok: true},
		{name: "crosses entrance into home column", color: ColorRed, pos: PathAt(48), roll: 4, want: HomePathAt(1), ok: true},
		{name: "entrance plus six reaches home", color: ColorRed, pos: PathAt(50), roll: 6, want: Home(), ok: true},
		{name: "home column exact finishes", color: ColorGreen, pos: HomePathAt(2), roll: 3, want: Home(), ok: true},
		{name: "home column overshoot is no move", color: ColorGreen, pos: HomePathAt(2), roll: 4, ok: false},
		{name: "finished token never moves", color: ColorBlue, pos: Home(), roll: 1, ok: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ResolveStep(tc.color, tc.pos, tc.roll)
			if ok != tc.ok {
				t.Fatalf("ok: got %v, want %v", ok, tc.ok)
			}
			if ok && got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDistanceToHomeEntrance(t *testing.T) {
	cases := []struct {
		name  string
		color Color
		idx   int
		want  int
	}{
		{name: "red from start walks almost full lap", color: ColorRed, idx: 0, want: 50},
		{name: "red on its entrance", color: ColorRed, idx: 50, want: 0},
		{name: "yellow wraps past zero", color: ColorYellow, idx: 50, want: 26},
		{name: "green one short", color: ColorGreen, idx: 10, want: 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DistanceToHomeEntrance(tc.color, tc.idx); got != tc.want {
				t.Fatalf("got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestSafeSquaresCoverStartsAndEntrances(t *testing.T) {
	for _, c := range []Color{ColorRed, ColorGreen, ColorYellow, ColorBlue} {
		if !IsSafe(StartIndex(c)) {
			t.Errorf("start square of %s must be safe", c)
		}
		if !IsSafe(HomeEntrance(c)) {
			t.Errorf("home entrance of %s must be safe", c)
		}
	}
	if IsSafe(1) || IsSafe(25) {
		t.Error("ordinary squares must not be safe")
	}
}
