// Package client 是聊天协议的 Go 客户端：纯函数 reducer 维护界面状态，
// Client 负责拨号、认证、断线重连与重新加入项目房间。
package client

import (
	"slices"

	"homechat/internal/protocol"
)

// Status 是客户端连接状态。
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusAuthenticated
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusAuthenticated:
		return "authenticated"
	default:
		return "disconnected"
	}
}

// State 是 reducer 的输出，所有 map 与 slice 都按写时复制处理，可以安全地共享。
type State struct {
	Status    Status
	UserID    uint
	Joined    map[uint]bool
	Messages  map[uint][]protocol.MessageView
	Typing    map[uint][]uint
	Drafts    map[uint]string
	Pending   map[uint]string
	LastError *protocol.Error
}

// Event 是 reducer 的输入。
type Event interface {
	event()
}

type (
	// Connecting 表示开始拨号。
	Connecting struct{}
	// Connected 表示 socket 已建立，尚未收到 authenticated。
	Connected struct{}
	// Disconnected 表示 socket 断开，Err 为断开原因。
	Disconnected struct{ Err error }
	// Received 包装一条服务端帧。
	Received struct{ Frame protocol.Outbound }
	// Joined 表示本地请求加入项目。
	Joined struct{ ProjectID uint }
	// Left 表示本地请求离开项目。
	Left struct{ ProjectID uint }
	// DraftChanged 更新输入框内容。
	DraftChanged struct {
		ProjectID uint
		Text      string
	}
	// SendRequested 表示消息已写出，等待服务端回显。
	SendRequested struct {
		ProjectID uint
		Content   string
	}
)

func (Connecting) event()    {}
func (Connected) event()     {}
func (Disconnected) event()  {}
func (Received) event()      {}
func (Joined) event()        {}
func (Left) event()          {}
func (DraftChanged) event()  {}
func (SendRequested) event() {}

// Reduce 根据事件计算新状态，不修改传入的 State。
func Reduce(s State, ev Event) State {
	switch e := ev.(type) {
	case Connecting:
		s.Status = StatusConnecting
	case Connected:
		s.Status = StatusConnected
		s.LastError = nil
	case Disconnected:
		s.Status = StatusDisconnected
		// 断线后无法确认输入状态与待回显消息，草稿保留
		s.Typing = nil
		s.Pending = nil
	case Joined:
		s.Joined = withKey(s.Joined, e.ProjectID, true)
	case Left:
		s.Joined = without(s.Joined, e.ProjectID)
		s.Typing = without(s.Typing, e.ProjectID)
	case DraftChanged:
		s.Drafts = withKey(s.Drafts, e.ProjectID, e.Text)
	case SendRequested:
		s.Pending = withKey(s.Pending, e.ProjectID, e.Content)
	case Received:
		s = receive(s, e.Frame)
	}
	return s
}

func receive(s State, f protocol.Outbound) State {
	switch f := f.(type) {
	case protocol.Authenticated:
		s.Status = StatusAuthenticated
		s.UserID = f.UserID
		s.LastError = nil
	case protocol.NewMessage:
		m := f.Message
		list := s.Messages[m.ProjectID]
		if !slices.ContainsFunc(list, func(x protocol.MessageView) bool { return x.ID == m.ID }) {
			next := make([]protocol.MessageView, 0, len(list)+1)
			next = append(next, list...)
			next = append(next, m)
			slices.SortStableFunc(next, func(a, b protocol.MessageView) int {
				switch {
				case a.ID < b.ID:
					return -1
				case a.ID > b.ID:
					return 1
				}
				return 0
			})
			s.Messages = withKey(s.Messages, m.ProjectID, next)
		}
		s.Typing = withoutUser(s.Typing, m.ProjectID, m.SenderID)
		if m.SenderID == s.UserID && s.Pending[m.ProjectID] == m.Content {
			s.Pending = without(s.Pending, m.ProjectID)
			s.Drafts = without(s.Drafts, m.ProjectID)
		}
	case protocol.UserTyping:
		if f.UserID == s.UserID {
			break
		}
		if f.IsTyping {
			users := s.Typing[f.ProjectID]
			if !slices.Contains(users, f.UserID) {
				next := append(slices.Clone(users), f.UserID)
				slices.Sort(next)
				s.Typing = withKey(s.Typing, f.ProjectID, next)
			}
		} else {
			s.Typing = withoutUser(s.Typing, f.ProjectID, f.UserID)
		}
	case protocol.MessageRead:
		list := s.Messages[f.ProjectID]
		i := slices.IndexFunc(list, func(x protocol.MessageView) bool { return x.ID == f.MessageID })
		if i >= 0 && !list[i].Read {
			next := slices.Clone(list)
			next[i].Read = true
			s.Messages = withKey(s.Messages, f.ProjectID, next)
		}
	case protocol.Error:
		e := f
		s.LastError = &e
		// 发送失败时草稿保留，用户可以重试
		s.Pending = nil
	}
	return s
}

func withKey[V any](m map[uint]V, k uint, v V) map[uint]V {
	out := make(map[uint]V, len(m)+1)
	for key, val := range m {
		out[key] = val
	}
	out[k] = v
	return out
}

func without[V any](m map[uint]V, k uint) map[uint]V {
	if _, ok := m[k]; !ok {
		return m
	}
	out := make(map[uint]V, len(m))
	for key, val := range m {
		if key != k {
			out[key] = val
		}
	}
	return out
}

func withoutUser(m map[uint][]uint, projectID, userID uint) map[uint][]uint {
	users := m[projectID]
	i := slices.Index(users, userID)
	if i < 0 {
		return m
	}
	next := slices.Delete(slices.Clone(users), i, i+1)
	if len(next) == 0 {
		return without(m, projectID)
	}
	return withKey(m, projectID, next)
}
