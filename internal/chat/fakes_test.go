package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"homechat/internal/config"
	"homechat/internal/models"
	"homechat/internal/protocol"

	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	nextID  uint
	msgs    []models.Message
	failErr error
	reads   int
}

func (m *memStore) Create(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.nextID++
	msg.ID = m.nextID
	msg.CreatedAt = time.Now()
	m.msgs = append(m.msgs, *msg)
	return nil
}

func (m *memStore) ListByProject(_ context.Context, projectID uint, _ int, _ uint) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Message
	for _, msg := range m.msgs {
		if msg.ProjectID == projectID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *memStore) MarkRead(_ context.Context, projectID, messageID uint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.msgs {
		if m.msgs[i].ID == messageID && m.msgs[i].ProjectID == projectID {
			if m.msgs[i].Read {
				return false, nil
			}
			m.msgs[i].Read = true
			m.reads++
			return true, nil
		}
	}
	return false, ErrNotFound
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}

type memUsers map[uint]string

func (u memUsers) Get(_ context.Context, userID uint) (Profile, error) {
	name, ok := u[userID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return Profile{ID: userID, DisplayName: name}, nil
}

// memAccess allows every known user into every project listed in projects,
// except pairs marked in denied.
type memAccess struct {
	projects map[uint]bool
	denied   map[[2]uint]bool
}

func (a memAccess) CanAccess(_ context.Context, projectID, userID uint) error {
	if !a.projects[projectID] {
		return ErrNotFound
	}
	if a.denied[[2]uint{projectID, userID}] {
		return ErrForbidden
	}
	return nil
}

type fixture struct {
	hub   *Hub
	store *memStore
}

func newFixture(t *testing.T, typing time.Duration) *fixture {
	t.Helper()
	store := &memStore{}
	hub := NewHub(Deps{
		Messages: store,
		Users:    memUsers{1: "Alice Homeowner", 2: "Bob Contractor", 3: "Carol Contractor"},
		Projects: memAccess{projects: map[uint]bool{42: true, 7: true}, denied: map[[2]uint]bool{{7, 3}: true}},
	}, Options{
		TypingTimeout: typing,
		StoreTimeout:  time.Second,
		QueueSize:     64,
		Overflow:      config.OverflowDropOldest,
	})
	t.Cleanup(hub.Close)
	return &fixture{hub: hub, store: store}
}

func (f *fixture) open(t *testing.T) *Session {
	t.Helper()
	s, err := f.hub.Open(0)
	require.NoError(t, err)
	return s
}

func send(t *testing.T, s *Session, in protocol.Inbound) {
	t.Helper()
	b, err := protocol.EncodeInbound(in)
	require.NoError(t, err)
	s.Handle(context.Background(), b)
}

// joined opens a session, authenticates it as userID and joins projectID,
// draining the authenticated ack.
func (f *fixture) joined(t *testing.T, userID, projectID uint) *Session {
	t.Helper()
	s := f.open(t)
	send(t, s, protocol.Authenticate{UserID: userID, ProjectID: projectID})
	ack := recv(t, s)
	require.Equal(t, protocol.TypeAuthenticated, ack.Type())
	require.Equal(t, StateInRoom, s.State())
	return s
}

func recv(t *testing.T, s *Session) protocol.Outbound {
	t.Helper()
	select {
	case b, ok := <-s.Outbound():
		require.True(t, ok, "outbound closed")
		f, err := protocol.DecodeOutbound(b)
		require.NoError(t, err)
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func expectNone(t *testing.T, s *Session, wait time.Duration) {
	t.Helper()
	select {
	case b, ok := <-s.Outbound():
		if ok {
			t.Fatalf("unexpected frame: %s", b)
		}
	case <-time.After(wait):
	}
}

func boolPtr(b bool) *bool { return &b }

var errStoreDown = errors.New("store down")
