package pvpchess

import (
	"context"

	"github.com/park285/cheese-arena/internal/movecheck"
)

// Store persists games and their moves. Writes are conditional on Game.Version:
// the stored version must equal the caller's, and on success the caller's copy
// is bumped. A mismatch yields ErrConflict.
type Store interface {
	CreateGame(ctx context.Context, g *Game) error
	UpdateGame(ctx context.Context, g *Game) error
	// AppendMove writes g and appends mv in one step. mv.Index must equal the
	// previous move count.
	AppendMove(ctx context.Context, g *Game, mv Move) error
	FindGame(ctx context.Context, id string) (*Game, error)
	ListMoves(ctx context.Context, id string) ([]Move, error)
	FindGamesByStatus(ctx context.Context, status Status) ([]*Game, error)
	FindGamesByUserAndStatus(ctx context.Context, username string, status Status) ([]*Game, error)
}

// UserDirectory knows which usernames exist. Identities are issued elsewhere;
// users become known on first connect.
type UserDirectory interface {
	RememberUser(ctx context.Context, username string) error
	UserExists(ctx context.Context, username string) (bool, error)
}

// Publisher delivers game events to topic subscribers.
type Publisher interface {
	PublishTopic(ctx context.Context, topic, eventType string, payload any)
}

// Archive records finished games. Failures never undo the finish.
type Archive interface {
	SaveResult(ctx context.Context, g *Game, moves []Move) error
}

// Rules validates moves against a position replayed from UCI history.
type Rules interface {
	Check(history []string, c movecheck.Candidate) (movecheck.Verdict, error)
	FEN(history []string) (string, error)
}

type nopPublisher struct{}

func (nopPublisher) PublishTopic(context.Context, string, string, any) {}
