package tiebreak

import (
	"testing"

	"fwa-warsync/internal/domain"
)

func iptr(n int) *int { return &n }

func TestCompareReflexive(t *testing.T) {
	for _, tag := range []string{"#ABC123", "abc123", "#2PP", "", "#9Q8R7"} {
		if got := Compare(tag, tag); got != 0 {
			t.Errorf("Compare(%q, %q) = %d, want 0", tag, tag, got)
		}
	}
}

func TestCompareAntisymmetric(t *testing.T) {
	pairs := [][2]string{
		{"#ABC", "#ABD"},
		{"#2PP", "#9Q8"},
		{"#AB", "#ABC"},
		{"#Z", "#0"},
	}
	for _, p := range pairs {
		ab := Compare(p[0], p[1])
		ba := Compare(p[1], p[0])
		if sign(ab) != -sign(ba) {
			t.Errorf("Compare(%q,%q)=%d but Compare(%q,%q)=%d", p[0], p[1], ab, p[1], p[0], ba)
		}
	}
}

func TestCompareNormalizes(t *testing.T) {
	if Compare("#abc", "ABC") != 0 {
		t.Error("hash prefix and case should not affect ordering")
	}
}

func TestCompareDigitsBeforeLetters(t *testing.T) {
	if Compare("#2PP", "#APP") >= 0 {
		t.Error("digits must rank before letters")
	}
}

func TestCompareShorterTagSortsLast(t *testing.T) {
	// A missing character compares as +infinity, so the shorter tag
	// sorts after its own prefix.
	if Compare("#AB", "#ABC") <= 0 {
		t.Error("missing characters must lose the comparison")
	}
}

func TestProjectUnknownPoints(t *testing.T) {
	if got := Project("#A", "#B", nil, iptr(10), iptr(4)); got != domain.OutcomeUnknown {
		t.Errorf("nil clan points: got %v", got)
	}
	if got := Project("#A", "#B", iptr(10), nil, iptr(4)); got != domain.OutcomeUnknown {
		t.Errorf("nil opponent points: got %v", got)
	}
}

func TestProjectHigherPointsWins(t *testing.T) {
	if got := Project("#A", "#B", iptr(1200), iptr(1195), nil); got != domain.OutcomeWin {
		t.Errorf("got %v, want WIN", got)
	}
	if got := Project("#A", "#B", iptr(1100), iptr(1195), nil); got != domain.OutcomeLose {
		t.Errorf("got %v, want LOSE", got)
	}
}

func TestProjectTieNeedsSync(t *testing.T) {
	if got := Project("#A", "#B", iptr(100), iptr(100), nil); got != domain.OutcomeUnknown {
		t.Errorf("tie without sync: got %v", got)
	}
}

func TestProjectTieParity(t *testing.T) {
	// #A sorts before #B. Even sync: high tag wins, so #B. Odd sync:
	// low tag wins, so #A.
	if got := Project("#A", "#B", iptr(100), iptr(100), iptr(4)); got != domain.OutcomeLose {
		t.Errorf("even sync, low tag: got %v, want LOSE", got)
	}
	if got := Project("#A", "#B", iptr(100), iptr(100), iptr(5)); got != domain.OutcomeWin {
		t.Errorf("odd sync, low tag: got %v, want WIN", got)
	}
}

func TestProjectIdenticalTags(t *testing.T) {
	if got := Project("#SAME", "#same", iptr(100), iptr(100), iptr(2)); got != domain.OutcomeUnknown {
		t.Errorf("identical tags: got %v, want UNKNOWN", got)
	}
}

func TestProjectSwapSides(t *testing.T) {
	cases := []struct {
		a, b   string
		pa, pb int
		sync   int
	}{
		{"#A", "#B", 1200, 1195, 4},
		{"#A", "#B", 100, 100, 4},
		{"#A", "#B", 100, 100, 5},
		{"#2PP", "#9Q8", 50, 50, 8},
	}
	for _, c := range cases {
		fwd := Project(c.a, c.b, iptr(c.pa), iptr(c.pb), iptr(c.sync))
		rev := Project(c.b, c.a, iptr(c.pb), iptr(c.pa), iptr(c.sync))
		if fwd == domain.OutcomeUnknown || rev == domain.OutcomeUnknown {
			t.Fatalf("determinate case projected unknown: %+v", c)
		}
		if fwd == rev {
			t.Errorf("swap sides (%+v): both projected %v", c, fwd)
		}
	}
}

func TestSummary(t *testing.T) {
	got := Summary("Alpha", "#A", "Beta", "#B", iptr(1200), iptr(1195), iptr(4))
	want := "Alpha (1200) vs Beta (1195): WIN expected"
	if got != want {
		t.Errorf("Summary = %q, want %q", got, want)
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}
