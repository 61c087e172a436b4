package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-arena/internal/lobby"
	"github.com/park285/cheese-arena/internal/msgcat"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

// Actions receives the frames a connection sends, other than subscriptions.
type Actions interface {
	HandleAction(ctx context.Context, connID, username string, in arenadto.Inbound)
	Disconnect(ctx context.Context, connID string)
}

// Identifier resolves the user of an upgrade request.
type Identifier interface {
	IdentifyRequest(r *http.Request) (string, error)
}

type Options struct {
	AllowedOrigins []string
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	SendBuffer     int
	ReadLimit      int64
	Catalog        *msgcat.Catalog
}

type Server struct {
	hub     *Hub
	actions Actions
	ident   Identifier
	opts    Options
}

func NewServer(hub *Hub, actions Actions, ident Identifier, opts Options) *Server {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 32 << 10
	}
	return &Server{hub: hub, actions: actions, ident: ident, opts: opts}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	username, err := s.ident.IdentifyRequest(r)
	if err != nil {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  s.opts.AllowedOrigins,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("ws_accept_failed", zap.String("user", username), zap.Error(err))
		return
	}
	ws.SetReadLimit(s.opts.ReadLimit)

	c := newConn(uuid.NewString(), username, ws, s.opts.SendBuffer)
	s.hub.add(c)
	s.hub.Subscribe(c.id, arenadto.TopicLobbyUsers)
	obslog.L().Info("ws_connected", zap.String("conn_id", c.id), zap.String("user", username))

	ctx, cancel := context.WithCancel(r.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writePump(ctx, c)
	}()

	status := s.readLoop(ctx, c)

	s.hub.remove(c.id)
	cancel()
	<-done
	s.actions.Disconnect(context.WithoutCancel(r.Context()), c.id)
	_ = ws.Close(websocket.StatusNormalClosure, "")
	obslog.L().Info("ws_disconnected", zap.String("conn_id", c.id), zap.String("user", username), zap.Int("status", int(status)))
}

func (s *Server) readLoop(ctx context.Context, c *Conn) websocket.StatusCode {
	for {
		var in arenadto.Inbound
		if err := wsjson.Read(ctx, c.ws, &in); err != nil {
			if st := websocket.CloseStatus(err); st != -1 {
				return st
			}
			if !errors.Is(err, context.Canceled) {
				obslog.L().Debug("ws_read_failed", zap.String("conn_id", c.id), zap.Error(err))
			}
			return websocket.StatusAbnormalClosure
		}
		switch in.Type {
		case arenadto.ActionSubscribe, arenadto.ActionUnsubscribe:
			s.handleSubscription(c, in)
		default:
			s.actions.HandleAction(ctx, c.id, c.username, in)
		}
	}
}

func (s *Server) handleSubscription(c *Conn, in arenadto.Inbound) {
	var req arenadto.SubscribeRequest
	if len(in.Payload) > 0 {
		_ = json.Unmarshal(in.Payload, &req)
	}
	topic := strings.TrimSpace(req.Topic)
	if !validTopic(topic) {
		de := lobby.Classify(s.opts.Catalog, lobby.ErrBadRequest, lobby.Details{})
		s.hub.sendTo(c, arenadto.EventError, arenadto.QueueErrors, arenadto.ErrorEvent{Code: de.Code, Message: de.Message})
		return
	}
	if in.Type == arenadto.ActionSubscribe {
		s.hub.Subscribe(c.id, topic)
		return
	}
	s.hub.Unsubscribe(c.id, topic)
}

func validTopic(topic string) bool {
	if topic == arenadto.TopicLobbyUsers {
		return true
	}
	_, ok := arenadto.GameIDFromTopic(topic)
	return ok
}

func (s *Server) writePump(ctx context.Context, c *Conn) {
	t := time.NewTicker(s.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				obslog.L().Debug("ws_write_failed", zap.String("conn_id", c.id), zap.Error(err))
				_ = c.ws.Close(websocket.StatusGoingAway, "write failure")
				return
			}
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				_ = c.ws.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}
