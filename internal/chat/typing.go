package chat

import (
	"sort"
	"sync"
	"time"
)

type typingKey struct {
	projectID uint
	userID    uint
}

type typingTimer struct {
	gen   uint64
	timer *time.Timer
}

// TypingTracker 维护每个 (项目, 用户) 的输入状态。每对最多一个计时器，
// 新的 typing 信号会重置而不是叠加；计时器到期时调用 onExpire 恰好一次。
// onExpire 在追踪器的锁内执行，不能回调追踪器。
type TypingTracker struct {
	mu       sync.Mutex
	window   time.Duration
	active   map[typingKey]*typingTimer
	gen      uint64
	onExpire func(projectID, userID uint)
	closed   bool
}

func NewTypingTracker(window time.Duration, onExpire func(projectID, userID uint)) *TypingTracker {
	if window <= 0 {
		window = 2 * time.Second
	}
	return &TypingTracker{window: window, active: make(map[typingKey]*typingTimer), onExpire: onExpire}
}

// Signal 切换输入状态，并在同一把锁内调用 notify(changed)。
// 它与到期通知串行，房间里先后收到的 true/false 与追踪器状态一致。
// 追踪器关闭后不做任何事。notify 不能回调追踪器。
func (t *TypingTracker) Signal(projectID, userID uint, typing bool, notify func(changed bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	key := typingKey{projectID, userID}
	var changed bool
	if typing {
		changed = t.start(key)
	} else {
		changed = t.stop(key)
	}
	if notify != nil {
		notify(changed)
	}
}

// start 进入或保持 Typing 状态并重置计时器，返回调用前是否处于 Idle。
func (t *TypingTracker) start(key typingKey) bool {
	t.gen++
	gen := t.gen
	prev, wasTyping := t.active[key]
	if wasTyping {
		prev.timer.Stop()
	}
	t.active[key] = &typingTimer{
		gen:   gen,
		timer: time.AfterFunc(t.window, func() { t.expire(key, gen) }),
	}
	return !wasTyping
}

// stop 回到 Idle 并取消计时器，返回调用前是否处于 Typing。
func (t *TypingTracker) stop(key typingKey) bool {
	cur, ok := t.active[key]
	if !ok {
		return false
	}
	cur.timer.Stop()
	delete(t.active, key)
	return true
}

// expire 仅当计时器仍是该键的最新一代时生效，被重置过的旧计时器直接丢弃。
func (t *TypingTracker) expire(key typingKey, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.active[key]
	if !ok || cur.gen != gen || t.closed {
		return
	}
	delete(t.active, key)
	if t.onExpire != nil {
		t.onExpire(key.projectID, key.userID)
	}
}

// Typing 返回项目内正在输入的用户，按 id 升序。
func (t *TypingTracker) Typing(projectID uint) []uint {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []uint
	for k := range t.active {
		if k.projectID == projectID {
			out = append(out, k.userID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Close 停止所有计时器，之后不会再触发 onExpire。
func (t *TypingTracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for k, cur := range t.active {
		cur.timer.Stop()
		delete(t.active, k)
	}
}
