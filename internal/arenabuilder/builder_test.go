package arenabuilder

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/park285/cheese-arena/internal/config"
	"github.com/park285/cheese-arena/internal/pvpchess"
)

func baseConfig() *config.AppConfig {
	return &config.AppConfig{
		Fanout:                 config.FanoutLocal,
		AllowHeaderIdentity:    true,
		InitialClockSeconds:    60,
		SweepInterval:          time.Second,
		PresenceResyncInterval: 2 * time.Second,
	}
}

func joinBoth(t *testing.T, ctx context.Context, d *Deps) {
	t.Helper()
	for conn, user := range map[string]string{"c-a": "alice", "c-b": "bob"} {
		if err := d.Lobby.JoinLobby(ctx, conn, user); err != nil {
			t.Fatalf("join %s: %v", user, err)
		}
	}
}

func TestBuildInMemory(t *testing.T) {
	ctx := context.Background()
	d, err := New(ctx, baseConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if d.Redis != nil || d.Fanout != nil || d.Archive != nil {
		t.Fatalf("unexpected backing services: %+v", d)
	}
	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	joinBoth(t, ctx, d)
	g, err := d.Games.CreateGame(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if v, err := d.Games.GetGame(ctx, g.ID, "alice"); err != nil || v.WhiteRemainingSeconds != 60 {
		t.Fatalf("view = %+v %v", v, err)
	}
	stop, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := d.Close(stop); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestBuildRedisFanout(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := baseConfig()
	cfg.RedisURL = "redis://" + mr.Addr() + "/0"
	cfg.Fanout = config.FanoutRedis

	ctx := context.Background()
	d, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if d.Fanout == nil || d.Redis == nil {
		t.Fatalf("redis components missing")
	}
	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		stop, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		_ = d.Close(stop)
	}()

	joinBoth(t, ctx, d)
	g, err := d.Games.CreateGame(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !mr.Exists("arena:game:" + g.ID) {
		t.Fatalf("game not stored in redis")
	}
	if _, err := d.Games.Resign(ctx, g.ID, "bob"); err != nil {
		t.Fatalf("resign: %v", err)
	}
	v, err := d.Games.GetGame(ctx, g.ID, "bob")
	if err != nil || v.Status != string(pvpchess.StatusFinished) {
		t.Fatalf("view = %+v %v", v, err)
	}
}

func TestBuildRedisRetentionSettings(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := baseConfig()
	cfg.RedisURL = "redis://" + mr.Addr() + "/0"
	cfg.RedisKeyPrefix = "blitz:"
	cfg.FinishedGameTTL = 2 * time.Hour

	ctx := context.Background()
	d, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() {
		stop, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		_ = d.Close(stop)
	}()
	joinBoth(t, ctx, d)

	g, err := d.Games.CreateGame(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	key := "blitz:game:" + g.ID
	if !mr.Exists(key) || mr.Exists("arena:game:"+g.ID) {
		t.Fatalf("game stored under the wrong prefix")
	}
	if ttl := mr.TTL(key); ttl != 0 {
		t.Fatalf("active game expires: %v", ttl)
	}
	if _, err := d.Games.Resign(ctx, g.ID, "bob"); err != nil {
		t.Fatalf("resign: %v", err)
	}
	if ttl := mr.TTL(key); ttl != 2*time.Hour {
		t.Fatalf("finished ttl = %v", ttl)
	}
	if got := fanoutPrefix(cfg.RedisKeyPrefix); got != "blitz:fanout:" {
		t.Fatalf("fanout prefix = %q", got)
	}
}
