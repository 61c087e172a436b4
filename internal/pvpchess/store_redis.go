package pvpchess

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/obslog"
)

// RedisStore keeps games as JSON documents with set indexes by status and user.
// Conditional writes use WATCH on the game key.
type RedisStore struct {
	rdb         *redis.Client
	prefix      string
	finishedTTL time.Duration
}

type RedisStoreOption func(*RedisStore)

// WithKeyPrefix namespaces every key; default "arena:". Empty keeps the default.
func WithKeyPrefix(p string) RedisStoreOption {
	return func(s *RedisStore) {
		if p != "" {
			s.prefix = p
		}
	}
}

// WithFinishedTTL expires finished games and their moves after d. Zero keeps them.
func WithFinishedTTL(d time.Duration) RedisStoreOption {
	return func(s *RedisStore) { s.finishedTTL = d }
}

func NewRedisStore(rdb *redis.Client, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{rdb: rdb, prefix: "arena:"}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *RedisStore) gameKey(id string) string  { return s.prefix + "game:" + strings.TrimSpace(id) }
func (s *RedisStore) movesKey(id string) string { return s.gameKey(id) + ":moves" }
func (s *RedisStore) statusKey(st Status) string {
	return s.prefix + "index:status:" + string(st)
}
func (s *RedisStore) userKey(u string) string { return s.prefix + "index:user:" + strings.TrimSpace(u) }
func (s *RedisStore) usersKey() string        { return s.prefix + "users" }

// playersKey maps game id to its two usernames so stale ids can be pruned
// from the user index sets after the game key expires.
func (s *RedisStore) playersKey() string { return s.prefix + "index:players" }

func (s *RedisStore) CreateGame(ctx context.Context, g *Game) error {
	g.Version = 1
	raw, err := json.Marshal(g)
	if err != nil {
		return err
	}
	players, err := json.Marshal([2]string{g.WhiteUsername, g.BlackUsername})
	if err != nil {
		return err
	}
	created, err := s.rdb.SetNX(ctx, s.gameKey(g.ID), raw, 0).Result()
	if err != nil {
		return fmt.Errorf("create game: %w", err)
	}
	if !created {
		return fmt.Errorf("game %s already exists", g.ID)
	}
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, s.playersKey(), g.ID, players)
	pipe.SAdd(ctx, s.statusKey(g.Status), g.ID)
	pipe.SAdd(ctx, s.userKey(g.WhiteUsername), g.ID)
	pipe.SAdd(ctx, s.userKey(g.BlackUsername), g.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("index game %s: %w", g.ID, err)
	}
	return nil
}

func (s *RedisStore) UpdateGame(ctx context.Context, g *Game) error {
	return s.commit(ctx, g, nil)
}

func (s *RedisStore) AppendMove(ctx context.Context, g *Game, mv Move) error {
	return s.commit(ctx, g, &mv)
}

// commit writes g (and mv) if the stored version still matches g.Version.
func (s *RedisStore) commit(ctx context.Context, g *Game, mv *Move) error {
	gk, mk := s.gameKey(g.ID), s.movesKey(g.ID)
	next := g.clone()
	next.Version = g.Version + 1

	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, gk).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var cur Game
		if err := json.Unmarshal(raw, &cur); err != nil {
			return fmt.Errorf("decode game %s: %w", g.ID, err)
		}
		if cur.Version != g.Version {
			return ErrConflict
		}
		var mvRaw []byte
		if mv != nil {
			n, err := tx.LLen(ctx, mk).Result()
			if err != nil {
				return err
			}
			if int(n) != mv.Index {
				return ErrConflict
			}
			if mvRaw, err = json.Marshal(mv); err != nil {
				return err
			}
		}
		newRaw, err := json.Marshal(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			ttl := time.Duration(0)
			if next.Status == StatusFinished {
				ttl = s.finishedTTL
			}
			pipe.Set(ctx, gk, newRaw, ttl)
			if mvRaw != nil {
				pipe.RPush(ctx, mk, mvRaw)
			}
			if ttl > 0 {
				pipe.Expire(ctx, mk, ttl)
			}
			if cur.Status != next.Status {
				pipe.SRem(ctx, s.statusKey(cur.Status), g.ID)
				pipe.SAdd(ctx, s.statusKey(next.Status), g.ID)
			}
			return nil
		})
		return err
	}, gk, mk)

	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	if err != nil {
		return err
	}
	g.Version = next.Version
	return nil
}

func (s *RedisStore) FindGame(ctx context.Context, id string) (*Game, error) {
	raw, err := s.rdb.Get(ctx, s.gameKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var g Game
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode game %s: %w", id, err)
	}
	return &g, nil
}

func (s *RedisStore) ListMoves(ctx context.Context, id string) ([]Move, error) {
	raws, err := s.rdb.LRange(ctx, s.movesKey(id), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Move, 0, len(raws))
	for _, r := range raws {
		var mv Move
		if err := json.Unmarshal([]byte(r), &mv); err != nil {
			return nil, fmt.Errorf("decode move of %s: %w", id, err)
		}
		out = append(out, mv)
	}
	return out, nil
}

func (s *RedisStore) FindGamesByStatus(ctx context.Context, status Status) ([]*Game, error) {
	ids, err := s.rdb.SMembers(ctx, s.statusKey(status)).Result()
	if err != nil {
		return nil, err
	}
	return s.loadMany(ctx, ids, status)
}

func (s *RedisStore) FindGamesByUserAndStatus(ctx context.Context, username string, status Status) ([]*Game, error) {
	ids, err := s.rdb.SInter(ctx, s.userKey(username), s.statusKey(status)).Result()
	if err != nil {
		return nil, err
	}
	return s.loadMany(ctx, ids, status)
}

// loadMany fetches ids and drops entries that expired or moved to another status.
func (s *RedisStore) loadMany(ctx context.Context, ids []string, status Status) ([]*Game, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.gameKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	var (
		out   []*Game
		stale []string
	)
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var g Game
		if err := json.Unmarshal([]byte(str), &g); err != nil {
			obslog.L().Warn("game_decode_error", zap.String("game_id", ids[i]), zap.Error(err))
			continue
		}
		if g.Status == status {
			out = append(out, &g)
		}
	}
	if len(stale) > 0 {
		// 만료된 게임 id 는 인덱스에서 정리
		if err := s.prune(ctx, status, stale); err != nil {
			obslog.L().Warn("index_prune_error", zap.Int("count", len(stale)), zap.Error(err))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// prune drops expired ids from the status set, both players' sets and the
// players hash.
func (s *RedisStore) prune(ctx context.Context, status Status, ids []string) error {
	players, err := s.rdb.HMGet(ctx, s.playersKey(), ids...).Result()
	if err != nil {
		return err
	}
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	pipe := s.rdb.TxPipeline()
	pipe.SRem(ctx, s.statusKey(status), members...)
	for i, v := range players {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var names [2]string
		if err := json.Unmarshal([]byte(raw), &names); err != nil {
			continue
		}
		for _, u := range names {
			pipe.SRem(ctx, s.userKey(u), ids[i])
		}
	}
	pipe.HDel(ctx, s.playersKey(), ids...)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) RememberUser(ctx context.Context, username string) error {
	return s.rdb.SAdd(ctx, s.usersKey(), username).Err()
}

func (s *RedisStore) UserExists(ctx context.Context, username string) (bool, error) {
	return s.rdb.SIsMember(ctx, s.usersKey(), username).Result()
}
