package arenaclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-arena/pkg/arenadto"
)

func TestSocketReconnectReplaysLobbyAndTopics(t *testing.T) {
	var conns atomic.Int32
	got := make(chan arenadto.Inbound, 16)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-User-Id") != "alice" {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		if conns.Add(1) == 1 {
			for i := 0; i < 2; i++ {
				var in arenadto.Inbound
				if wsjson.Read(ctx, c, &in) != nil {
					return
				}
				got <- in
			}
			_ = wsjson.Write(ctx, c, arenadto.Outbound{
				Destination: arenadto.TopicDestination(arenadto.TopicLobbyUsers),
				Type:        arenadto.EventLobby,
				Payload:     arenadto.LobbyUsers{Usernames: []string{"alice"}},
			})
			_ = c.Close(websocket.StatusGoingAway, "restart")
			return
		}
		for {
			var in arenadto.Inbound
			if wsjson.Read(ctx, c, &in) != nil {
				return
			}
			got <- in
		}
	}))
	defer ts.Close()

	s := NewSocket("ws"+strings.TrimPrefix(ts.URL, "http"), 5)
	s.SetHeaderProvider(func() map[string]string { return map[string]string{"X-User-Id": "alice"} })
	frames := make(chan Frame, 4)
	s.OnFrame(func(f Frame) { frames <- f })

	ctx := context.Background()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer func() {
		cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		_ = s.Close(cctx)
	}()
	if err := s.JoinLobby(ctx); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := s.Subscribe(ctx, "game/g1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	select {
	case f := <-frames:
		if f.Type != arenadto.EventLobby {
			t.Fatalf("frame = %+v", f)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no frame")
	}

	want := []string{arenadto.ActionJoinLobby, arenadto.ActionSubscribe, arenadto.ActionJoinLobby, arenadto.ActionSubscribe}
	for i, typ := range want {
		select {
		case in := <-got:
			if in.Type != typ {
				t.Fatalf("frame %d = %s, want %s", i, in.Type, typ)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("frame %d (%s) not seen; conns=%d", i, typ, conns.Load())
		}
	}
	if conns.Load() != 2 {
		t.Fatalf("conns = %d", conns.Load())
	}
	if s.State() != StateConnected {
		t.Fatalf("state = %s", s.State())
	}
}

func TestSocketSendBeforeConnect(t *testing.T) {
	s := NewSocket("ws://127.0.0.1:1/ws", 0)
	if err := s.Invite(context.Background(), "bob"); err != ErrNotConnected {
		t.Fatalf("err = %v", err)
	}
}

func TestSocketDialAfterCloseIsDropped(t *testing.T) {
	closed := make(chan websocket.StatusCode, 4)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		for {
			var in arenadto.Inbound
			if err := wsjson.Read(r.Context(), c, &in); err != nil {
				closed <- websocket.CloseStatus(err)
				return
			}
		}
	}))
	defer ts.Close()

	s := NewSocket("ws"+strings.TrimPrefix(ts.URL, "http"), 5)
	ctx := context.Background()
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := s.Close(cctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	// a reconnect dial that completes after Close
	conn, err := s.dial(ctx)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if s.attach(conn) {
		t.Fatalf("attach accepted a connection after close")
	}
	if s.current() != nil {
		t.Fatalf("connection installed after close")
	}
	select {
	case code := <-closed:
		if code != websocket.StatusNormalClosure {
			t.Fatalf("close code = %v", code)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("late connection left open")
	}
	if err := s.Connect(ctx); err != ErrClosed {
		t.Fatalf("connect after close = %v", err)
	}
}
