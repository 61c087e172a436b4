package pvpchess

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/obslog"
)

// Repository archives finished games to Postgres.
type Repository struct {
	db *sql.DB
}

func NewRepository(ctx context.Context, databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

const schemaSQL = `CREATE TABLE IF NOT EXISTS arena_games (
	game_id         TEXT PRIMARY KEY,
	white_username  TEXT NOT NULL,
	black_username  TEXT NOT NULL,
	winner_username TEXT NOT NULL,
	result          TEXT NOT NULL,
	result_method   TEXT NOT NULL,
	white_remaining INTEGER NOT NULL,
	black_remaining INTEGER NOT NULL,
	moves_uci       JSONB NOT NULL,
	pgn             TEXT NOT NULL,
	started_at      TIMESTAMPTZ NOT NULL,
	ended_at        TIMESTAMPTZ NOT NULL,
	duration_ms     BIGINT NOT NULL
)`

// EnsureSchema creates the archive table when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure arena_games: %w", err)
	}
	return nil
}

// SaveResult upserts a finished game.
func (r *Repository) SaveResult(ctx context.Context, g *Game, moves []Move) error {
	if r == nil || r.db == nil || g == nil || g.Status != StatusFinished {
		return nil
	}
	result := resultToken(g)
	uci := make([]string, len(moves))
	sanList := make([]string, len(moves))
	for i, m := range moves {
		uci[i] = m.UCI
		sanList[i] = m.SAN
	}
	movesRaw, err := json.Marshal(uci)
	if err != nil {
		return err
	}
	pgn := buildPGN(g, sanList, mapResultToPGN(result))
	duration := g.UpdatedAt.Sub(g.CreatedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	q := `INSERT INTO arena_games (
        game_id, white_username, black_username, winner_username,
        result, result_method, white_remaining, black_remaining,
        moves_uci, pgn, started_at, ended_at, duration_ms
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
      ) ON CONFLICT (game_id) DO UPDATE SET
        winner_username=EXCLUDED.winner_username,
        result=EXCLUDED.result,
        result_method=EXCLUDED.result_method,
        white_remaining=EXCLUDED.white_remaining,
        black_remaining=EXCLUDED.black_remaining,
        moves_uci=EXCLUDED.moves_uci,
        pgn=EXCLUDED.pgn,
        ended_at=EXCLUDED.ended_at,
        duration_ms=EXCLUDED.duration_ms`

	_, err = r.db.ExecContext(ctx, q,
		g.ID, g.WhiteUsername, g.BlackUsername, g.WinnerUsername,
		result, string(g.Outcome), g.WhiteRemainingSeconds, g.BlackRemainingSeconds,
		string(movesRaw), pgn, g.CreatedAt, g.UpdatedAt, duration,
	)
	if err != nil {
		return err
	}
	obslog.L().Info("game_archived", zap.String("game_id", g.ID), zap.String("result", result))
	return nil
}

func resultToken(g *Game) string {
	switch g.WinnerUsername {
	case g.WhiteUsername:
		return "white"
	case g.BlackUsername:
		return "black"
	}
	return ""
}

func mapResultToPGN(result string) string {
	switch result {
	case "white":
		return "1-0"
	case "black":
		return "0-1"
	default:
		return "*"
	}
}

func buildPGN(g *Game, san []string, pgnResult string) string {
	var b strings.Builder
	date := g.UpdatedAt
	if date.IsZero() {
		date = time.Now()
	}
	fmt.Fprintf(&b, "[Event \"Arena\"]\n")
	fmt.Fprintf(&b, "[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day())
	fmt.Fprintf(&b, "[White \"%s\"]\n", sanitizePGN(g.WhiteUsername))
	fmt.Fprintf(&b, "[Black \"%s\"]\n", sanitizePGN(g.BlackUsername))
	if g.Outcome != "" {
		fmt.Fprintf(&b, "[Termination \"%s\"]\n", sanitizePGN(string(g.Outcome)))
	}
	fmt.Fprintf(&b, "[Result \"%s\"]\n\n", pgnResult)

	for i := 0; i < len(san); i += 2 {
		fmt.Fprintf(&b, "%d. %s", i/2+1, strings.TrimSpace(san[i]))
		if i+1 < len(san) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(san[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(pgnResult)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
