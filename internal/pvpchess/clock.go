package pvpchess

import "time"

// ClockView is a read-only projection of both clocks.
type ClockView struct {
	WhiteRemainingSeconds int
	BlackRemainingSeconds int
	SideToMove            Color
}

// elapsedSeconds counts whole seconds between epoch-second timestamps.
func elapsedSeconds(from, now time.Time) int {
	d := now.Unix() - from.Unix()
	if d < 0 {
		return 0
	}
	return int(d)
}

// ProjectClock charges elapsed time to the side to move without mutating g.
// Finished games and games without a turn start report stored values.
func ProjectClock(g *Game, now time.Time) ClockView {
	v := ClockView{
		WhiteRemainingSeconds: g.WhiteRemainingSeconds,
		BlackRemainingSeconds: g.BlackRemainingSeconds,
		SideToMove:            g.SideToMove(),
	}
	if g.Status != StatusActive || g.TurnStartedAt == nil {
		return v
	}
	elapsed := elapsedSeconds(*g.TurnStartedAt, now)
	if v.SideToMove == White {
		v.WhiteRemainingSeconds = max(0, v.WhiteRemainingSeconds-elapsed)
	} else {
		v.BlackRemainingSeconds = max(0, v.BlackRemainingSeconds-elapsed)
	}
	return v
}

// remainingForMover is stored minus elapsed for the side to move, unclamped.
func remainingForMover(g *Game, now time.Time) (int, bool) {
	if g.TurnStartedAt == nil {
		return 0, false
	}
	elapsed := elapsedSeconds(*g.TurnStartedAt, now)
	if g.SideToMove() == White {
		return g.WhiteRemainingSeconds - elapsed, true
	}
	return g.BlackRemainingSeconds - elapsed, true
}

// chargeMover deducts elapsed time from the side to move and restarts the turn.
// It leaves g untouched and returns ErrTimeExpired when nothing would remain.
func chargeMover(g *Game, now time.Time) error {
	rem, ok := remainingForMover(g, now)
	if ok {
		if rem <= 0 {
			return ErrTimeExpired
		}
		if g.SideToMove() == White {
			g.WhiteRemainingSeconds = rem
		} else {
			g.BlackRemainingSeconds = rem
		}
	}
	t := now
	g.TurnStartedAt = &t
	return nil
}

// expireMover clamps the side to move to zero and finishes the game for the opponent.
func expireMover(g *Game, now time.Time) {
	loser := g.SideToMove()
	if loser == White {
		g.WhiteRemainingSeconds = 0
	} else {
		g.BlackRemainingSeconds = 0
	}
	g.Status = StatusFinished
	g.WinnerUsername = g.PlayerFor(loser.Opponent())
	g.Outcome = OutcomeTimeout
	g.UpdatedAt = now
}
