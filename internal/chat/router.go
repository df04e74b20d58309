package chat

import (
	"sync"

	"homechat/internal/protocol"

	"github.com/rs/zerolog/log"
)

// Router 把“广播到项目 X”翻译为“推送到 X 房间内每个在线连接”。
// 它只做扇出，不按 receiverId 过滤可见性。
type Router struct {
	reg *Registry

	mu    sync.RWMutex
	sinks map[ConnID]Outbox
}

func NewRouter(reg *Registry) *Router {
	return &Router{reg: reg, sinks: make(map[ConnID]Outbox)}
}

// Attach 关联连接与其发送队列。
func (rt *Router) Attach(id ConnID, out Outbox) {
	rt.mu.Lock()
	rt.sinks[id] = out
	rt.mu.Unlock()
}

func (rt *Router) Detach(id ConnID) {
	rt.mu.Lock()
	delete(rt.sinks, id)
	rt.mu.Unlock()
}

// Send 单播给一个连接，连接不存在时静默忽略。
func (rt *Router) Send(id ConnID, f protocol.Outbound) {
	b, err := protocol.Encode(f)
	if err != nil {
		log.Error().Err(err).Str("frame", string(f.Type())).Msg("encode frame")
		return
	}
	rt.mu.RLock()
	out := rt.sinks[id]
	rt.mu.RUnlock()
	if out != nil {
		out.Push(b)
	}
}

// Broadcast 帧只编码一次，然后推给房间内 skip 不匹配的每个连接；返回投递数。
func (rt *Router) Broadcast(projectID uint, f protocol.Outbound, skip func(ConnID) bool) int {
	b, err := protocol.Encode(f)
	if err != nil {
		log.Error().Err(err).Str("frame", string(f.Type())).Uint("project_id", projectID).Msg("encode frame")
		return 0
	}
	members := rt.reg.MembersOf(projectID)
	rt.mu.RLock()
	targets := make([]Outbox, 0, len(members))
	for _, id := range members {
		if skip != nil && skip(id) {
			continue
		}
		if out := rt.sinks[id]; out != nil {
			targets = append(targets, out)
		}
	}
	rt.mu.RUnlock()
	for _, out := range targets {
		out.Push(b)
	}
	return len(targets)
}

// Except 排除单个连接，用于 typing 等不回显给自己的事件。
func Except(id ConnID) func(ConnID) bool {
	return func(other ConnID) bool { return other == id }
}
