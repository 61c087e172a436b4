// Package arenabuilder wires the arena components from configuration.
package arenabuilder

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/auth"
	"github.com/park285/cheese-arena/internal/config"
	"github.com/park285/cheese-arena/internal/httpapi"
	"github.com/park285/cheese-arena/internal/invite"
	"github.com/park285/cheese-arena/internal/lobby"
	"github.com/park285/cheese-arena/internal/movecheck"
	"github.com/park285/cheese-arena/internal/msgcat"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/presence"
	"github.com/park285/cheese-arena/internal/pvpchess"
	"github.com/park285/cheese-arena/internal/realtime"
	"github.com/park285/cheese-arena/internal/scheduler"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

type Deps struct {
	Config *config.AppConfig

	Redis   *redis.Client         // nil without REDIS_URL
	Archive *pvpchess.Repository  // nil without DATABASE_URL
	Fanout  *realtime.RedisFanout // nil unless FANOUT=redis

	Catalog   *msgcat.Catalog
	Games     *pvpchess.Service
	Lobby     *lobby.Coordinator
	Hub       *realtime.Hub
	Socket    *realtime.Server
	API       *httpapi.Server
	Scheduler *scheduler.Scheduler
}

func New(ctx context.Context, cfg *config.AppConfig) (*Deps, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	d := &Deps{Config: cfg}

	cat, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	d.Catalog = cat

	var (
		store pvpchess.Store
		users pvpchess.UserDirectory
	)
	if cfg.RedisURL != "" {
		rdb, err := pvpchess.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("init redis: %w", err)
		}
		d.Redis = rdb
		rs := pvpchess.NewRedisStore(rdb,
			pvpchess.WithKeyPrefix(cfg.RedisKeyPrefix),
			pvpchess.WithFinishedTTL(cfg.FinishedGameTTL))
		store, users = rs, rs
	} else {
		obslog.L().Warn("store_memory", zap.String("reason", "REDIS_URL not set; games are lost on restart"))
		ms := pvpchess.NewMemoryStore()
		store, users = ms, ms
	}

	d.Hub = realtime.NewHub()
	var shared lobby.Publisher = d.Hub
	if cfg.Fanout == config.FanoutRedis {
		d.Fanout = realtime.NewRedisFanout(d.Redis, d.Hub, fanoutPrefix(cfg.RedisKeyPrefix))
		shared = d.Fanout
	}

	d.Games = pvpchess.NewService(store, users, movecheck.New(), pvpchess.Options{InitialClockSeconds: cfg.InitialClockSeconds})
	d.Games.AttachPublisher(shared)

	if cfg.DatabaseURL != "" {
		repo, err := pvpchess.NewRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			d.closeStores()
			return nil, fmt.Errorf("init archive: %w", err)
		}
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = repo.Close()
			d.closeStores()
			return nil, fmt.Errorf("archive schema: %w", err)
		}
		d.Archive = repo
		d.Games.AttachArchive(repo)
	}

	d.Lobby = lobby.NewCoordinator(presence.NewRegistry(), invite.NewRegistry(), d.Games, users,
		lobbyPublisher{local: d.Hub, shared: shared}, cat, lobby.Options{InvitationTTL: cfg.InvitationTTL})
	d.Hub.ResolveUsersWith(d.Lobby.Presence().ConnectionFor)

	resolver := auth.NewResolver(cfg.JWTSecret, cfg.AllowHeaderIdentity)
	d.Socket = realtime.NewServer(d.Hub, d.Lobby, resolver, realtime.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		Catalog:        cat,
	})
	d.API = httpapi.New(d.Games, d.Lobby, resolver, cat)

	d.Scheduler = scheduler.New()
	if err := d.Scheduler.Every("clock_sweep", cfg.SweepInterval, d.sweep); err != nil {
		d.closeStores()
		return nil, err
	}
	if err := d.Scheduler.Every("presence_resync", cfg.PresenceResyncInterval, d.resync); err != nil {
		d.closeStores()
		return nil, err
	}
	return d, nil
}

func (d *Deps) sweep(ctx context.Context) {
	rep, err := d.Games.SweepExpired(ctx)
	if err != nil {
		obslog.L().Warn("sweep_failed", zap.Error(err))
		return
	}
	if len(rep.Finished) > 0 || rep.Failed > 0 {
		obslog.L().Info("sweep_pass",
			zap.Int("scanned", rep.Scanned),
			zap.Strings("finished", rep.Finished),
			zap.Int("failed", rep.Failed))
	}
}

func (d *Deps) resync(ctx context.Context) {
	d.Lobby.ResyncPresence(ctx)
	if d.Config.InvitationTTL > 0 {
		d.Lobby.ExpireInvitations(ctx)
	}
}

// Start begins background work: the Redis relay and scheduled duties.
func (d *Deps) Start(ctx context.Context) error {
	if d.Fanout != nil {
		if err := d.Fanout.Start(ctx); err != nil {
			return fmt.Errorf("start fanout: %w", err)
		}
	}
	d.Scheduler.Start()
	return nil
}

// Close stops background work and releases connections.
func (d *Deps) Close(ctx context.Context) error {
	var errs []error
	if d.Scheduler != nil {
		if err := d.Scheduler.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if d.Fanout != nil {
		if err := d.Fanout.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.Archive != nil {
		if err := d.Archive.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	d.closeStores()
	return errors.Join(errs...)
}

func (d *Deps) closeStores() {
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
}

// lobbyPublisher keeps lobby/users broadcasts on this instance, since the
// presence registry is per process. Everything else goes to shared.
type lobbyPublisher struct {
	local  *realtime.Hub
	shared lobby.Publisher
}

func (p lobbyPublisher) PublishTopic(ctx context.Context, topic, eventType string, payload any) {
	if topic == arenadto.TopicLobbyUsers {
		p.local.PublishTopic(ctx, topic, eventType, payload)
		return
	}
	p.shared.PublishTopic(ctx, topic, eventType, payload)
}

func (p lobbyPublisher) PublishUser(ctx context.Context, username, queue, eventType string, payload any) {
	p.shared.PublishUser(ctx, username, queue, eventType, payload)
}

func fanoutPrefix(keyPrefix string) string {
	if keyPrefix == "" {
		return realtime.DefaultFanoutPrefix
	}
	return keyPrefix + "fanout:"
}
