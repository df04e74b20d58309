package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"homechat/internal/chat"
	"homechat/internal/config"
	"homechat/internal/db"
	"homechat/internal/models"
	"homechat/internal/protocol"
	"homechat/internal/store"
	"homechat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) (string, *chat.Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	gdb, err := db.Connect("sqlite::memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	require.NoError(t, gdb.Create(&[]models.User{
		{ID: 1, Username: "alice", DisplayName: "Alice Homeowner", Role: models.RoleHomeowner, PasswordHash: "x"},
		{ID: 2, Username: "bob", DisplayName: "Bob Builder", Role: models.RoleContractor, PasswordHash: "x"},
	}).Error)
	require.NoError(t, gdb.Create(&models.Project{ID: 42, Title: "Leaky sink", OwnerID: 1}).Error)
	require.NoError(t, gdb.Create(&models.ProjectParticipant{ProjectID: 42, UserID: 2}).Error)

	hub := chat.NewHub(chat.Deps{
		Messages: store.NewMessages(gdb),
		Users:    store.NewDirectory(gdb),
		Projects: store.NewAccess(gdb),
	}, chat.Options{TypingTimeout: time.Second, StoreTimeout: time.Second, QueueSize: 32, Overflow: config.OverflowDropOldest})
	r := gin.New()
	r.GET("/ws", ws.Serve(hub, config.Config{JWTSecret: "secret"}))
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", hub
}

func start(t *testing.T, url string, userID uint) *Client {
	t.Helper()
	c := New(Options{URL: url, UserID: userID, MinBackoff: 20 * time.Millisecond, MaxBackoff: 100 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 10*time.Millisecond, msg)
}

func TestClient_SendRefusedWhileDisconnected(t *testing.T) {
	c := New(Options{URL: "ws://127.0.0.1:1/ws", UserID: 1})
	assert.ErrorIs(t, c.Send(42, "hello"), ErrDisconnected)
	assert.ErrorIs(t, c.SetTyping(42, true), ErrDisconnected)
	assert.ErrorIs(t, c.MarkRead(42, 1), ErrDisconnected)
	assert.NoError(t, c.Join(42), "joins are remembered for the next connection")
	assert.True(t, c.Snapshot().Joined[42])
}

func TestClient_ChatBetweenTwoClients(t *testing.T) {
	url, hub := newServer(t)
	alice := start(t, url, 1)
	bob := start(t, url, 2)
	require.NoError(t, alice.Join(42))
	require.NoError(t, bob.Join(42))

	eventually(t, func() bool {
		return alice.Snapshot().Status == StatusAuthenticated && bob.Snapshot().Status == StatusAuthenticated
	}, "both authenticated")
	eventually(t, func() bool { return hub.Online(42) == 2 }, "both joined")

	alice.SetDraft(42, "Can you start Monday?")
	require.NoError(t, alice.Send(42, "Can you start Monday?"))

	for _, c := range []*Client{alice, bob} {
		eventually(t, func() bool { return len(c.Snapshot().Messages[42]) == 1 }, "message delivered")
	}
	s := alice.Snapshot()
	assert.Equal(t, "Alice Homeowner", s.Messages[42][0].SenderName)
	assert.Empty(t, s.Drafts[42], "echo clears the draft")

	require.NoError(t, bob.SetTyping(42, true))
	eventually(t, func() bool { return len(alice.Snapshot().Typing[42]) == 1 }, "typing shown")
	eventually(t, func() bool { return len(alice.Snapshot().Typing[42]) == 0 }, "typing expires")

	id := s.Messages[42][0].ID
	require.NoError(t, bob.MarkRead(42, id))
	eventually(t, func() bool { return alice.Snapshot().Messages[42][0].Read }, "read flag")
}

func TestClient_ReconnectRejoins(t *testing.T) {
	url, hub := newServer(t)
	bob := start(t, url, 2)
	require.NoError(t, bob.Join(42))
	eventually(t, func() bool { return hub.Online(42) == 1 }, "joined")

	// 模拟网络中断
	conn := bob.current()
	require.NotNil(t, conn)
	require.NoError(t, conn.Close())

	eventually(t, func() bool { return bob.current() != conn && bob.current() != nil }, "redialed")
	eventually(t, func() bool {
		return hub.Connections() == 1 && hub.Online(42) == 1 && bob.Snapshot().Status == StatusAuthenticated
	}, "re-authenticated and re-joined")

	alice := start(t, url, 1)
	require.NoError(t, alice.Join(42))
	eventually(t, func() bool {
		return hub.Online(42) == 2 && alice.Snapshot().Status == StatusAuthenticated
	}, "alice joined")
	require.NoError(t, alice.Send(42, "still there?"))
	eventually(t, func() bool { return len(bob.Snapshot().Messages[42]) == 1 }, "bob receives after reconnect")
}

// stallingServer reads the authenticate and join_project frames, then holds back
// the authenticated ack until release is called. Inbound frame types go to frames.
func stallingServer(t *testing.T) (url string, frames <-chan protocol.FrameType, release func()) {
	t.Helper()
	ch := make(chan protocol.FrameType, 16)
	gate := make(chan struct{})
	var once sync.Once
	release = func() { once.Do(func() { close(gate) }) }
	t.Cleanup(release)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		readOne := func() bool {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return false
			}
			if f, err := protocol.DecodeInbound(data); err == nil {
				ch <- f.Type()
			}
			return true
		}
		for i := 0; i < 2; i++ {
			if !readOne() {
				return
			}
		}
		<-gate
		b, _ := protocol.Encode(protocol.Authenticated{UserID: 2})
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return
		}
		for readOne() {
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), ch, release
}

func nextFrame(t *testing.T, frames <-chan protocol.FrameType) protocol.FrameType {
	t.Helper()
	select {
	case ft := <-frames:
		return ft
	case <-time.After(3 * time.Second):
		t.Fatal("no frame received")
		return ""
	}
}

func TestClient_SendWaitsForAuthenticated(t *testing.T) {
	url, frames, release := stallingServer(t)
	bob := New(Options{URL: url, UserID: 2})
	require.NoError(t, bob.Join(42))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bob.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	assert.Equal(t, protocol.TypeAuthenticate, nextFrame(t, frames))
	assert.Equal(t, protocol.TypeJoinProject, nextFrame(t, frames))
	eventually(t, func() bool { return bob.current() != nil }, "connection published")

	// connected but not yet authenticated: nothing is written and no pending echo is recorded
	assert.Equal(t, StatusConnected, bob.Snapshot().Status)
	assert.ErrorIs(t, bob.Send(42, "too early"), ErrNotAuthenticated)
	assert.ErrorIs(t, bob.SetTyping(42, true), ErrNotAuthenticated)
	assert.ErrorIs(t, bob.MarkRead(42, 1), ErrNotAuthenticated)
	assert.Empty(t, bob.Snapshot().Pending)

	release()
	eventually(t, func() bool { return bob.Snapshot().Status == StatusAuthenticated }, "authenticated")
	require.NoError(t, bob.Send(42, "now"))
	assert.Equal(t, protocol.TypeSendMessage, nextFrame(t, frames), "send lands after the rejoin")
}
