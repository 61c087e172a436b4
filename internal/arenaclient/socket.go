package arenaclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-arena/pkg/arenadto"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

var (
	ErrNotConnected = errors.New("socket not connected")
	ErrClosed       = errors.New("socket closed")
)

// Frame is one server frame; Payload is decoded by the caller per Type.
type Frame struct {
	Destination string          `json:"destination"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
}

type FrameHandler func(Frame)
type StateHandler func(State)

type handlerEntry[T any] struct {
	id int
	fn T
}

// Socket is a reconnecting client for the arena socket. After a reconnect it
// rejoins the lobby and restores topic subscriptions made through it.
type Socket struct {
	url     string
	headers HeaderProvider

	connMu sync.Mutex
	conn   *websocket.Conn

	stateMu sync.RWMutex
	state   State

	cbMu     sync.RWMutex
	nextID   int
	frameCbs []handlerEntry[FrameHandler]
	stateCbs []handlerEntry[StateHandler]

	replayMu sync.Mutex
	joined   bool
	topics   map[string]struct{}

	maxReconnectAttempts int
	pingInterval         time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

func NewSocket(wsURL string, maxReconnectAttempts int) *Socket {
	ctx, cancel := context.WithCancel(context.Background())
	return &Socket{
		url:                  wsURL,
		state:                StateDisconnected,
		topics:               make(map[string]struct{}),
		maxReconnectAttempts: maxReconnectAttempts,
		pingInterval:         30 * time.Second,
		stopCh:               make(chan struct{}),
		rootCtx:              ctx,
		rootCancel:           cancel,
	}
}

func (s *Socket) SetHeaderProvider(h HeaderProvider) { s.headers = h }

func (s *Socket) SetPingInterval(d time.Duration) {
	if d > 0 {
		s.pingInterval = d
	}
}

func (s *Socket) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *Socket) Connect(ctx context.Context) error {
	if st := s.State(); st == StateConnected || st == StateConnecting {
		return nil
	}
	s.setState(StateConnecting)
	conn, err := s.dial(ctx)
	if err != nil {
		s.setState(StateFailed)
		s.scheduleReconnect()
		return err
	}
	if !s.attach(conn) {
		s.setState(StateDisconnected)
		return ErrClosed
	}
	return nil
}

func (s *Socket) dial(ctx context.Context) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dctx, s.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      s.buildHeaders(),
	})
	return conn, err
}

// attach installs conn unless Close already ran, in which case conn is closed.
func (s *Socket) attach(conn *websocket.Conn) bool {
	s.connMu.Lock()
	if s.isStopping() {
		s.connMu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "close")
		return false
	}
	s.conn = conn
	s.connMu.Unlock()
	s.setState(StateConnected)

	cctx, cancel := context.WithCancel(s.rootCtx)
	s.wg.Add(2)
	go s.listen(cctx, cancel, conn)
	go s.pingLoop(cctx, conn)
	s.replay(cctx, conn)
	return true
}

func (s *Socket) current() *websocket.Conn {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn
}

func (s *Socket) detach(conn *websocket.Conn, code websocket.StatusCode, reason string) {
	s.connMu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.connMu.Unlock()
	_ = conn.Close(code, reason)
}

func (s *Socket) listen(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	defer s.wg.Done()
	defer cancel()
	for {
		var f Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			if s.isStopping() {
				return
			}
			s.setState(StateDisconnected)
			s.detach(conn, websocket.StatusGoingAway, "reconnect")
			s.scheduleReconnect()
			return
		}
		s.cbMu.RLock()
		cbs := append([]handlerEntry[FrameHandler](nil), s.frameCbs...)
		s.cbMu.RUnlock()
		for _, e := range cbs {
			e.fn(f)
		}
	}
}

func (s *Socket) pingLoop(ctx context.Context, conn *websocket.Conn) {
	defer s.wg.Done()
	t := time.NewTicker(s.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			// 두 번 연속 실패하면 끊고 listen 쪽에서 재연결
			if failures++; failures >= 2 {
				_ = conn.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

func (s *Socket) scheduleReconnect() {
	if s.maxReconnectAttempts <= 0 || s.isStopping() {
		return
	}
	s.setState(StateReconnecting)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for attempt := 1; attempt <= s.maxReconnectAttempts; attempt++ {
			select {
			case <-s.stopCh:
				return
			case <-time.After(backoffDuration(attempt)):
			}
			conn, err := s.dial(s.rootCtx)
			if err != nil {
				continue
			}
			s.attach(conn)
			return
		}
		s.setState(StateFailed)
	}()
}

func (s *Socket) replay(ctx context.Context, conn *websocket.Conn) {
	s.replayMu.Lock()
	joined := s.joined
	topics := make([]string, 0, len(s.topics))
	for t := range s.topics {
		topics = append(topics, t)
	}
	s.replayMu.Unlock()

	if joined {
		_ = write(ctx, conn, arenadto.ActionJoinLobby, nil)
	}
	for _, t := range topics {
		_ = write(ctx, conn, arenadto.ActionSubscribe, arenadto.SubscribeRequest{Topic: t})
	}
}

// Send writes one action frame.
func (s *Socket) Send(ctx context.Context, action string, payload any) error {
	conn := s.current()
	if conn == nil {
		return ErrNotConnected
	}
	return write(ctx, conn, action, payload)
}

func (s *Socket) JoinLobby(ctx context.Context) error {
	s.replayMu.Lock()
	s.joined = true
	s.replayMu.Unlock()
	return s.Send(ctx, arenadto.ActionJoinLobby, nil)
}

func (s *Socket) Subscribe(ctx context.Context, topic string) error {
	s.replayMu.Lock()
	s.topics[topic] = struct{}{}
	s.replayMu.Unlock()
	return s.Send(ctx, arenadto.ActionSubscribe, arenadto.SubscribeRequest{Topic: topic})
}

func (s *Socket) Unsubscribe(ctx context.Context, topic string) error {
	s.replayMu.Lock()
	delete(s.topics, topic)
	s.replayMu.Unlock()
	return s.Send(ctx, arenadto.ActionUnsubscribe, arenadto.SubscribeRequest{Topic: topic})
}

func (s *Socket) Invite(ctx context.Context, to string) error {
	return s.Send(ctx, arenadto.ActionInvite, arenadto.InviteRequest{ToUsername: to})
}

func (s *Socket) Accept(ctx context.Context, from string) error {
	return s.Send(ctx, arenadto.ActionAccept, arenadto.InvitationReply{FromUsername: from})
}

func (s *Socket) Decline(ctx context.Context, from string) error {
	return s.Send(ctx, arenadto.ActionDecline, arenadto.InvitationReply{FromUsername: from})
}

func (s *Socket) Move(ctx context.Context, req arenadto.MoveRequest) error {
	return s.Send(ctx, arenadto.ActionMove, req)
}

func (s *Socket) Resign(ctx context.Context, gameID string) error {
	return s.Send(ctx, arenadto.ActionResign, arenadto.ResignRequest{GameID: gameID})
}

func write(ctx context.Context, conn *websocket.Conn, action string, payload any) error {
	in := arenadto.Inbound{Type: action}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		in.Payload = raw
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(wctx, conn, in)
}

func (s *Socket) OnFrame(fn FrameHandler) int {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.nextID++
	s.frameCbs = append(s.frameCbs, handlerEntry[FrameHandler]{id: s.nextID, fn: fn})
	return s.nextID
}

func (s *Socket) OnStateChange(fn StateHandler) int {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.nextID++
	s.stateCbs = append(s.stateCbs, handlerEntry[StateHandler]{id: s.nextID, fn: fn})
	return s.nextID
}

// RemoveHandler drops a frame or state handler by id.
func (s *Socket) RemoveHandler(id int) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.frameCbs = removeEntry(s.frameCbs, id)
	s.stateCbs = removeEntry(s.stateCbs, id)
}

func removeEntry[T any](list []handlerEntry[T], id int) []handlerEntry[T] {
	for i, e := range list {
		if e.id == id {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func (s *Socket) setState(st State) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()

	s.cbMu.RLock()
	cbs := append([]handlerEntry[StateHandler](nil), s.stateCbs...)
	s.cbMu.RUnlock()
	for _, e := range cbs {
		e.fn(st)
	}
}

func (s *Socket) Close(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.rootCancel()
	if conn := s.current(); conn != nil {
		s.detach(conn, websocket.StatusNormalClosure, "close")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		s.setState(StateDisconnected)
		return nil
	}
}

func (s *Socket) isStopping() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

func (s *Socket) buildHeaders() http.Header {
	hdr := http.Header{}
	if s.headers == nil {
		return hdr
	}
	for k, v := range s.headers() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}
