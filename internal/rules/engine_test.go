package rules

import (
	"errors"
	"testing"
)

func TestApplyAcceptsUCIAndSAN(t *testing.T) {
	g := NewEngine().NewGame()

	ap, err := g.Apply("e2e4")
	if err != nil {
		t.Fatalf("Apply(e2e4): %v", err)
	}
	if ap.UCI != "e2e4" || ap.SAN != "e4" {
		t.Fatalf("applied = %+v", ap)
	}
	if ap.Turn != "black" {
		t.Fatalf("turn after e4 = %s", ap.Turn)
	}

	ap, err = g.Apply("Nf6")
	if err != nil {
		t.Fatalf("Apply(Nf6): %v", err)
	}
	if ap.UCI != "g8f6" {
		t.Fatalf("SAN move encoded as %s", ap.UCI)
	}

	if uci := g.MovesUCI(); len(uci) != 2 || uci[0] != "e2e4" || uci[1] != "g8f6" {
		t.Fatalf("moves = %v", uci)
	}
}

func TestApplyRejectsIllegal(t *testing.T) {
	g := NewEngine().NewGame()
	for _, bad := range []string{"", "e2e5", "Ke2", "zzzz", "e7e5"} {
		if _, err := g.Apply(bad); !errors.Is(err, ErrIllegalMove) {
			t.Fatalf("Apply(%q) err = %v, want ErrIllegalMove", bad, err)
		}
	}
	if g.Turn() != "white" {
		t.Fatalf("turn changed after rejected moves")
	}
	if len(g.MovesUCI()) != 0 {
		t.Fatalf("rejected moves recorded")
	}
}

func TestCheckmateDetection(t *testing.T) {
	g := NewEngine().NewGame()
	moves := []string{"f2f3", "e7e5", "g2g4", "d8h4"}
	var last *Applied
	for _, mv := range moves {
		ap, err := g.Apply(mv)
		if err != nil {
			t.Fatalf("Apply(%s): %v", mv, err)
		}
		last = ap
	}
	if !last.Terminal || last.Outcome != "black" || last.Method != "checkmate" {
		t.Fatalf("fool's mate = %+v", last)
	}
	if !last.Check {
		t.Fatalf("mating move not flagged as check")
	}
}

func TestMethodKey(t *testing.T) {
	cases := map[string]string{
		"Checkmate":            "checkmate",
		"Stalemate":            "stalemate",
		"InsufficientMaterial": "insufficient_material",
		"FivefoldRepetition":   "fivefold_repetition",
	}
	for in, want := range cases {
		if got := methodKey(in); got != want {
			t.Fatalf("methodKey(%q) = %q, want %q", in, got, want)
		}
	}
}
