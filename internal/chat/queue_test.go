package chat

import (
	"testing"

	"homechat/internal/config"
)

func drain(q *Queue) []string {
	var out []string
	for {
		select {
		case b, ok := <-q.C():
			if !ok {
				return out
			}
			out = append(out, string(b))
		default:
			return out
		}
	}
}

func TestQueue_DropOldest(t *testing.T) {
	q := NewQueue(2, config.OverflowDropOldest)
	for _, s := range []string{"a", "b", "c", "d"} {
		if !q.Push([]byte(s)) {
			t.Fatalf("Push(%q) = false, want true", s)
		}
	}
	got := drain(q)
	if len(got) != 2 || got[0] != "c" || got[1] != "d" {
		t.Errorf("queue contents = %v, want [c d]", got)
	}
	if q.Dropped() != 2 {
		t.Errorf("Dropped() = %d, want 2", q.Dropped())
	}
}

func TestQueue_DisconnectOnOverflow(t *testing.T) {
	q := NewQueue(1, config.OverflowDisconnect)
	if !q.Push([]byte("a")) {
		t.Fatal("first Push() = false")
	}
	if q.Push([]byte("b")) {
		t.Fatal("Push() on full queue = true, want false")
	}
	if q.Push([]byte("c")) {
		t.Error("Push() after disconnect = true, want false")
	}
	got := drain(q)
	if len(got) != 1 || got[0] != "a" {
		t.Errorf("queue contents = %v, want [a]", got)
	}
	if _, ok := <-q.C(); ok {
		t.Error("channel still open after overflow disconnect")
	}
}

func TestQueue_CloseIdempotent(t *testing.T) {
	q := NewQueue(4, config.OverflowDropOldest)
	q.Close()
	q.Close()
	if q.Push([]byte("x")) {
		t.Error("Push() after Close() = true, want false")
	}
}
