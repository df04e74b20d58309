package chat

import (
	"sort"
	"sync"
)

// ConnID 在单个 socket 生命周期内唯一。
type ConnID string

type connEntry struct {
	userID   uint
	projects map[uint]struct{}
}

// Registry 索引所有在线连接及其所在的项目房间。
// 所有修改都经过这里的方法，内部 map 不对外暴露。
type Registry struct {
	mu    sync.RWMutex
	conns map[ConnID]*connEntry
	rooms map[uint]map[ConnID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[ConnID]*connEntry),
		rooms: make(map[uint]map[ConnID]struct{}),
	}
}

// Register 创建一个尚未认证、不在任何房间的连接条目。重复注册不会清空已有状态。
func (r *Registry) Register(id ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; ok {
		return
	}
	r.conns[id] = &connEntry{projects: make(map[uint]struct{})}
}

// Authenticate 绑定用户；同一用户重复调用幂等，不同用户则覆盖（后写为准）。
func (r *Registry) Authenticate(id ConnID, userID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return ErrUnknownConnection
	}
	e.userID = userID
	return nil
}

// Join 要求连接已认证，幂等。
func (r *Registry) Join(id ConnID, projectID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return ErrUnknownConnection
	}
	if e.userID == 0 {
		return ErrUnauthenticated
	}
	e.projects[projectID] = struct{}{}
	room := r.rooms[projectID]
	if room == nil {
		room = make(map[ConnID]struct{})
		r.rooms[projectID] = room
	}
	room[id] = struct{}{}
	return nil
}

// Leave 移除单个房间成员关系，返回调用前是否在房间内。
func (r *Registry) Leave(id ConnID, projectID uint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return false
	}
	if _, in := e.projects[projectID]; !in {
		return false
	}
	delete(e.projects, projectID)
	r.removeFromRoomLocked(id, projectID)
	return true
}

// Unregister 把连接从所有房间移除并删除条目，返回它离开的项目。
// 每条 socket 关闭路径都必须调用。
func (r *Registry) Unregister(id ConnID) []uint {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return nil
	}
	left := make([]uint, 0, len(e.projects))
	for pid := range e.projects {
		r.removeFromRoomLocked(id, pid)
		left = append(left, pid)
	}
	delete(r.conns, id)
	sort.Slice(left, func(i, j int) bool { return left[i] < left[j] })
	return left
}

func (r *Registry) removeFromRoomLocked(id ConnID, projectID uint) {
	room, ok := r.rooms[projectID]
	if !ok {
		return
	}
	delete(room, id)
	// 空房间直接删除，避免 map 无限增长
	if len(room) == 0 {
		delete(r.rooms, projectID)
	}
}

// MembersOf 返回房间当前的连接；房间不存在时返回空切片。
func (r *Registry) MembersOf(projectID uint) []ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.rooms[projectID]
	out := make([]ConnID, 0, len(room))
	for id := range room {
		out = append(out, id)
	}
	return out
}

func (r *Registry) IsMember(id ConnID, projectID uint) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[projectID][id]
	return ok
}

// UserOf 返回连接绑定的用户，未认证时 ok 为 false。
func (r *Registry) UserOf(id ConnID) (uint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok || e.userID == 0 {
		return 0, false
	}
	return e.userID, true
}

func (r *Registry) ProjectsOf(id ConnID) []uint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok {
		return nil
	}
	out := make([]uint, 0, len(e.projects))
	for pid := range e.projects {
		out = append(out, pid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// UserInRoom 判断某个用户是否还有连接留在房间里，except 之外。
func (r *Registry) UserInRoom(projectID, userID uint, except ConnID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id := range r.rooms[projectID] {
		if id == except {
			continue
		}
		if e, ok := r.conns[id]; ok && e.userID == userID {
			return true
		}
	}
	return false
}

// Online 返回房间内的连接数，供 REST 接口展示。
func (r *Registry) Online(projectID uint) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[projectID])
}

// Connections 返回在线连接总数。
func (r *Registry) Connections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
