package pvpchess

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/park285/cheese-arena/internal/movecheck"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type published struct {
	topic, typ string
	payload    any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) PublishTopic(_ context.Context, topic, typ string, payload any) {
	p.mu.Lock()
	p.events = append(p.events, published{topic, typ, payload})
	p.mu.Unlock()
}

func (p *recordingPublisher) ofType(typ string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, e := range p.events {
		if e.typ == typ {
			out = append(out, e)
		}
	}
	return out
}

type backend struct {
	Store
	UserDirectory
}

type testEnv struct {
	svc   *Service
	clock *fakeClock
	pub   *recordingPublisher
	store Store
}

func newRedisBackend(t *testing.T) backend {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	s := NewRedisStore(rdb)
	return backend{s, s}
}

func newMemoryBackend(*testing.T) backend {
	s := NewMemoryStore()
	return backend{s, s}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, env *testEnv)) {
	for name, mk := range map[string]func(*testing.T) backend{
		"memory": newMemoryBackend,
		"redis":  newRedisBackend,
	} {
		t.Run(name, func(t *testing.T) {
			b := mk(t)
			fn(t, newTestEnv(t, b))
		})
	}
}

func newTestEnv(t *testing.T, b backend) *testEnv {
	t.Helper()
	ctx := context.Background()
	for _, u := range []string{"alice", "bob", "carol"} {
		if err := b.RememberUser(ctx, u); err != nil {
			t.Fatalf("remember %s: %v", u, err)
		}
	}
	clk := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	var seq atomic.Int64
	svc := NewService(b.Store, b.UserDirectory, movecheck.New(), Options{
		Now:   clk.Now,
		NewID: func() string { return fmt.Sprintf("g%d", seq.Add(1)) },
	})
	pub := &recordingPublisher{}
	svc.AttachPublisher(pub)
	return &testEnv{svc: svc, clock: clk, pub: pub, store: b.Store}
}

func move(g *Game, user string, idx int, from, to string) MoveRequest {
	return MoveRequest{GameID: g.ID, Username: user, ExpectedIndex: idx, From: from, To: to}
}

func TestCreateGameRequiresKnownUsers(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		if _, err := env.svc.CreateGame(ctx, "alice", "mallory"); !errors.Is(err, ErrUnknownUser) {
			t.Fatalf("expected ErrUnknownUser, got %v", err)
		}
		g, err := env.svc.CreateGame(ctx, "alice", "bob")
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if g.Status != StatusActive || g.WhiteRemainingSeconds != 600 || g.BlackRemainingSeconds != 600 {
			t.Fatalf("unexpected game: %+v", g)
		}
		if g.TurnStartedAt == nil || !g.TurnStartedAt.Equal(env.clock.Now()) {
			t.Fatalf("turn start not set")
		}
	})
}

func TestMoveAfterFiveSecondsCharges(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		g, _ := env.svc.CreateGame(ctx, "alice", "bob")
		env.clock.Advance(5 * time.Second)

		mv, err := env.svc.SubmitMove(ctx, move(g, "alice", 0, "e2", "e4"))
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if mv.Index != 0 || mv.Piece != "P" || mv.SAN != "e4" {
			t.Fatalf("unexpected move: %+v", mv)
		}
		view, err := env.svc.GetGame(ctx, g.ID, "alice")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if view.WhiteRemainingSeconds != 595 || view.BlackRemainingSeconds != 600 {
			t.Fatalf("clocks = %d/%d", view.WhiteRemainingSeconds, view.BlackRemainingSeconds)
		}
		if len(view.Moves) != 1 || view.Moves[0].MoveNumber != 1 {
			t.Fatalf("moves = %+v", view.Moves)
		}
		if got := env.pub.ofType(arenadto.EventMove); len(got) != 1 || got[0].topic != arenadto.GameTopic(g.ID) {
			t.Fatalf("move events = %+v", got)
		}
	})
}

func TestSubmitMoveSequence(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		g, _ := env.svc.CreateGame(ctx, "alice", "bob")

		if _, err := env.svc.SubmitMove(ctx, move(g, "alice", 1, "e2", "e4")); !errors.Is(err, ErrInvalidSequence) {
			t.Fatalf("out of order: %v", err)
		}
		if _, err := env.svc.SubmitMove(ctx, move(g, "alice", 0, "e2", "e4")); err != nil {
			t.Fatalf("first: %v", err)
		}
		// duplicate submission of index 0
		if _, err := env.svc.SubmitMove(ctx, move(g, "alice", 0, "e2", "e4")); !errors.Is(err, ErrInvalidSequence) {
			t.Fatalf("duplicate: %v", err)
		}
		if _, err := env.svc.SubmitMove(ctx, move(g, "bob", 1, "e7", "e5")); err != nil {
			t.Fatalf("second: %v", err)
		}
	})
}

func TestSubmitMoveConcurrentDuplicatesSucceedOnce(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		g, _ := env.svc.CreateGame(ctx, "alice", "bob")

		var ok atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := env.svc.SubmitMove(ctx, move(g, "alice", 0, "e2", "e4")); err == nil {
					ok.Add(1)
				}
			}()
		}
		wg.Wait()
		if ok.Load() != 1 {
			t.Fatalf("successful submissions = %d", ok.Load())
		}
		moves, _ := env.store.ListMoves(ctx, g.ID)
		if len(moves) != 1 {
			t.Fatalf("stored moves = %d", len(moves))
		}
	})
}

func TestSubmitMoveIllegal(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		g, _ := env.svc.CreateGame(ctx, "alice", "bob")

		if _, err := env.svc.SubmitMove(ctx, move(g, "bob", 0, "e7", "e5")); !errors.Is(err, ErrIllegalMove) {
			t.Fatalf("black on white's turn: %v", err)
		}
		if _, err := env.svc.SubmitMove(ctx, move(g, "alice", 0, "e2", "e5")); !errors.Is(err, ErrIllegalMove) {
			t.Fatalf("illegal pawn move: %v", err)
		}
		if _, err := env.svc.SubmitMove(ctx, move(g, "carol", 0, "e2", "e4")); !errors.Is(err, ErrNotParticipant) {
			t.Fatalf("outsider: %v", err)
		}
		cur, _ := env.store.FindGame(ctx, g.ID)
		if cur.MoveCount != 0 || cur.WhiteRemainingSeconds != 600 {
			t.Fatalf("rejected moves changed state: %+v", cur)
		}
	})
}

func TestExpiredMoveRejectedThenSwept(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		g, _ := env.svc.CreateGame(ctx, "alice", "bob")
		env.clock.Advance(601 * time.Second)

		if _, err := env.svc.SubmitMove(ctx, move(g, "alice", 0, "e2", "e4")); !errors.Is(err, ErrTimeExpired) {
			t.Fatalf("expected ErrTimeExpired, got %v", err)
		}
		cur, _ := env.store.FindGame(ctx, g.ID)
		if cur.Status != StatusActive || cur.WhiteRemainingSeconds != 600 {
			t.Fatalf("move path must not finish the game: %+v", cur)
		}
		// projection clamps without persisting
		view, _ := env.svc.GetGame(ctx, g.ID, "carol")
		if view.WhiteRemainingSeconds != 0 || view.Status != string(StatusActive) {
			t.Fatalf("view = %+v", view)
		}

		rep, err := env.svc.SweepExpired(ctx)
		if err != nil {
			t.Fatalf("sweep: %v", err)
		}
		if len(rep.Finished) != 1 {
			t.Fatalf("report = %+v", rep)
		}
		cur, _ = env.store.FindGame(ctx, g.ID)
		if cur.Status != StatusFinished || cur.WinnerUsername != "bob" || cur.WhiteRemainingSeconds != 0 {
			t.Fatalf("after sweep: %+v", cur)
		}
	})
}

func TestSweepFinishesIdleBlackForWhite(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		g, _ := env.svc.CreateGame(ctx, "alice", "bob")
		if _, err := env.svc.SubmitMove(ctx, move(g, "alice", 0, "e2", "e4")); err != nil {
			t.Fatalf("submit: %v", err)
		}
		env.clock.Advance(599 * time.Second)
		if rep, _ := env.svc.SweepExpired(ctx); len(rep.Finished) != 0 {
			t.Fatalf("finished too early: %+v", rep)
		}
		env.clock.Advance(2 * time.Second)

		rep, err := env.svc.SweepExpired(ctx)
		if err != nil || len(rep.Finished) != 1 {
			t.Fatalf("sweep: %+v %v", rep, err)
		}
		cur, _ := env.store.FindGame(ctx, g.ID)
		if cur.Status != StatusFinished || cur.WinnerUsername != "alice" || cur.BlackRemainingSeconds != 0 {
			t.Fatalf("unexpected: %+v", cur)
		}
		if cur.WhiteRemainingSeconds != 600 {
			t.Fatalf("white clock touched: %d", cur.WhiteRemainingSeconds)
		}

		// second tick is a no-op
		rep, _ = env.svc.SweepExpired(ctx)
		if rep.Scanned != 0 || len(rep.Finished) != 0 {
			t.Fatalf("second sweep: %+v", rep)
		}
		if got := env.pub.ofType(arenadto.EventGameOver); len(got) != 1 {
			t.Fatalf("game over events = %d", len(got))
		}
	})
}

func TestResign(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		g, _ := env.svc.CreateGame(ctx, "alice", "bob")
		if _, err := env.svc.Resign(ctx, g.ID, "carol"); !errors.Is(err, ErrNotParticipant) {
			t.Fatalf("outsider resign: %v", err)
		}
		// resign ignores the clock
		env.clock.Advance(time.Hour)
		done, err := env.svc.Resign(ctx, g.ID, "alice")
		if err != nil {
			t.Fatalf("resign: %v", err)
		}
		if done.WinnerUsername != "bob" || done.Outcome != OutcomeResign {
			t.Fatalf("unexpected: %+v", done)
		}
		before, _ := env.store.FindGame(ctx, g.ID)

		if _, err := env.svc.SubmitMove(ctx, move(g, "alice", 0, "e2", "e4")); !errors.Is(err, ErrNotFound) {
			t.Fatalf("move on resigned game: %v", err)
		}
		if _, err := env.svc.Resign(ctx, g.ID, "bob"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("double resign: %v", err)
		}
		after, _ := env.store.FindGame(ctx, g.ID)
		if after.Version != before.Version {
			t.Fatalf("finished game rewritten: version %d -> %d", before.Version, after.Version)
		}
		if after.Status != StatusFinished || after.WinnerUsername != "bob" || after.MoveCount != 0 {
			t.Fatalf("finished game changed: %+v", after)
		}
		over := env.pub.ofType(arenadto.EventGameOver)
		if len(over) != 1 {
			t.Fatalf("game over events = %d", len(over))
		}
		if ev := over[0].payload.(arenadto.GameOverEvent); ev.WinnerUsername != "bob" {
			t.Fatalf("winner in event = %q", ev.WinnerUsername)
		}
	})
}

func TestCheckmateFinishesGame(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		g, _ := env.svc.CreateGame(ctx, "alice", "bob")
		plies := []struct{ user, from, to string }{
			{"alice", "f2", "f3"}, {"bob", "e7", "e5"}, {"alice", "g2", "g4"}, {"bob", "d8", "h4"},
		}
		for i, p := range plies {
			if _, err := env.svc.SubmitMove(ctx, move(g, p.user, i, p.from, p.to)); err != nil {
				t.Fatalf("ply %d: %v", i, err)
			}
		}
		view, _ := env.svc.GetGame(ctx, g.ID, "alice")
		if view.Status != string(StatusFinished) || view.WinnerUsername != "bob" || view.Outcome != string(OutcomeCheckmate) {
			t.Fatalf("view = %+v", view)
		}
		finished, _ := env.svc.FinishedGamesFor(ctx, "alice")
		if len(finished) != 1 {
			t.Fatalf("history = %d", len(finished))
		}
		active, _ := env.svc.ActiveGamesFor(ctx, "alice")
		if len(active) != 0 {
			t.Fatalf("active = %d", len(active))
		}
	})
}

func TestGetGameUnknown(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		if _, err := env.svc.GetGame(context.Background(), "nope", "alice"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestConcurrentMoveAndSweepFinishOnce(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		g, _ := env.svc.CreateGame(ctx, "alice", "bob")
		env.clock.Advance(700 * time.Second)

		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(2)
			go func() { defer wg.Done(); _, _ = env.svc.SweepExpired(ctx) }()
			go func() { defer wg.Done(); _, _ = env.svc.SubmitMove(ctx, move(g, "alice", 0, "e2", "e4")) }()
		}
		wg.Wait()

		cur, _ := env.store.FindGame(ctx, g.ID)
		if cur.Status != StatusFinished || cur.MoveCount != 0 {
			t.Fatalf("unexpected: %+v", cur)
		}
		if got := env.pub.ofType(arenadto.EventGameOver); len(got) != 1 {
			t.Fatalf("game over events = %d", len(got))
		}
	})
}

// cancelOnGameOver drops the caller's context the moment GAME_OVER goes out.
type cancelOnGameOver struct{ cancel context.CancelFunc }

func (p cancelOnGameOver) PublishTopic(_ context.Context, _, eventType string, _ any) {
	if eventType == arenadto.EventGameOver {
		p.cancel()
	}
}

type ctxArchive struct {
	mu    sync.Mutex
	errs  []error
	moves int
}

func (a *ctxArchive) SaveResult(ctx context.Context, _ *Game, moves []Move) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errs = append(a.errs, ctx.Err())
	a.moves = len(moves)
	return ctx.Err()
}

func TestArchiveSurvivesCallerDisconnect(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		g, _ := env.svc.CreateGame(context.Background(), "alice", "bob")
		if _, err := env.svc.SubmitMove(context.Background(), move(g, "alice", 0, "e2", "e4")); err != nil {
			t.Fatalf("move: %v", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		env.svc.AttachPublisher(cancelOnGameOver{cancel: cancel})
		arch := &ctxArchive{}
		env.svc.AttachArchive(arch)

		if _, err := env.svc.Resign(ctx, g.ID, "bob"); err != nil {
			t.Fatalf("resign: %v", err)
		}
		if ctx.Err() == nil {
			t.Fatalf("caller context was not cancelled")
		}
		arch.mu.Lock()
		defer arch.mu.Unlock()
		if len(arch.errs) != 1 || arch.errs[0] != nil {
			t.Fatalf("archive ctx errs = %v", arch.errs)
		}
		if arch.moves != 1 {
			t.Fatalf("archived moves = %d", arch.moves)
		}
	})
}
