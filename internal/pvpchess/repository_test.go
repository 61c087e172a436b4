package pvpchess

import (
	"strings"
	"testing"
	"time"
)

func TestBuildPGN(t *testing.T) {
	g := &Game{
		WhiteUsername:  `al"ice`,
		BlackUsername:  "bob",
		WinnerUsername: "bob",
		Outcome:        OutcomeCheckmate,
		UpdatedAt:      time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	pgn := buildPGN(g, []string{"f3", "e5", "g4", "Qh4#"}, mapResultToPGN(resultToken(g)))
	for _, want := range []string{
		`[White "al'ice"]`,
		`[Date "2026.03.01"]`,
		`[Termination "checkmate"]`,
		`[Result "0-1"]`,
		"1. f3 e5 2. g4 Qh4# 0-1",
	} {
		if !strings.Contains(pgn, want) {
			t.Fatalf("pgn missing %q:\n%s", want, pgn)
		}
	}
}

func TestResultToken(t *testing.T) {
	g := &Game{WhiteUsername: "a", BlackUsername: "b", WinnerUsername: "a"}
	if resultToken(g) != "white" || mapResultToPGN("white") != "1-0" {
		t.Fatalf("white win not mapped")
	}
	g.WinnerUsername = ""
	if mapResultToPGN(resultToken(g)) != "*" {
		t.Fatalf("unknown result should be *")
	}
}
