package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"homechat/internal/metrics"
	"homechat/internal/models"
	"homechat/internal/protocol"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// State 是连接协议状态机的显式状态。
type State int

const (
	StateConnected State = iota
	StateAuthenticated
	StateInRoom
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateInRoom:
		return "in_room"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

const maxContentBytes = 8 << 10

// Session 是单个连接的协议处理器。Handle 必须由同一个读协程顺序调用，
// 从而保证同一发送者的消息顺序；Close 可以在任意协程调用且幂等。
type Session struct {
	hub     *Hub
	id      ConnID
	queue   *Queue
	limiter *rate.Limiter
	trusted uint

	mu     sync.Mutex
	state  State
	userID uint
}

func (s *Session) ID() ConnID { return s.id }

// Outbound 返回待写出的帧，会话关闭后通道关闭。
func (s *Session) Outbound() <-chan []byte { return s.queue.C() }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UserID 返回已绑定的用户，未认证时为 0。
func (s *Session) UserID() uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Handle 处理一帧入站数据。无法解析或未知类型的帧静默丢弃；
// 校验、权限与持久化错误只以 error 帧回给当前连接，连接本身不受影响。
func (s *Session) Handle(ctx context.Context, data []byte) {
	if s.State() == StateClosed {
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		metrics.WsFramesTotal.WithLabelValues("unknown", "rate_limited").Inc()
		return
	}
	f, err := protocol.DecodeInbound(data)
	if err != nil {
		metrics.WsFramesTotal.WithLabelValues("unknown", "dropped").Inc()
		log.Debug().Err(err).Str("conn_id", string(s.id)).Msg("drop inbound frame")
		return
	}
	if err := f.Validate(); err != nil {
		s.fail(f.Type(), fmt.Errorf("%w: %v", ErrValidation, err))
		return
	}
	if err := s.dispatch(ctx, f); err != nil {
		s.fail(f.Type(), err)
		return
	}
	metrics.WsFramesTotal.WithLabelValues(string(f.Type()), "ok").Inc()
}

func (s *Session) dispatch(ctx context.Context, f protocol.Inbound) error {
	switch v := f.(type) {
	case protocol.Authenticate:
		return s.authenticate(ctx, v)
	case protocol.JoinProject:
		return s.join(ctx, v.ProjectID)
	case protocol.LeaveProject:
		return s.leave(v.ProjectID)
	case protocol.SendMessage:
		return s.sendMessage(ctx, v)
	case protocol.Typing:
		return s.typing(v)
	case protocol.MarkRead:
		return s.markRead(ctx, v)
	default:
		return fmt.Errorf("%w: unsupported frame %s", ErrValidation, f.Type())
	}
}

func (s *Session) fail(t protocol.FrameType, err error) {
	code := codeFor(err)
	metrics.WsFramesTotal.WithLabelValues(string(t), string(code)).Inc()
	msg := err.Error()
	if code == protocol.CodePersistenceFailure {
		log.Error().Err(err).Str("conn_id", string(s.id)).Str("frame", string(t)).Msg("chat store")
		msg = "message could not be saved, please retry"
	} else {
		log.Debug().Err(err).Str("conn_id", string(s.id)).Str("frame", string(t)).Msg("reject frame")
	}
	s.hub.router.Send(s.id, protocol.Error{Code: code, Message: msg})
}

func (s *Session) authenticate(ctx context.Context, f protocol.Authenticate) error {
	s.mu.Lock()
	state, bound := s.state, s.userID
	s.mu.Unlock()

	switch state {
	case StateClosed:
		return ErrSessionClosed
	case StateAuthenticated, StateInRoom:
		if f.UserID != bound {
			return fmt.Errorf("%w: %w", ErrValidation, ErrAlreadyBoundToUser)
		}
		s.hub.router.Send(s.id, protocol.Authenticated{UserID: bound})
		if f.ProjectID != 0 {
			return s.join(ctx, f.ProjectID)
		}
		return nil
	}

	if s.trusted != 0 && f.UserID != s.trusted {
		return fmt.Errorf("%w: userId does not match access token", ErrUnauthenticated)
	}
	if s.hub.deps.Users != nil {
		if _, err := s.hub.deps.Users.Get(ctx, f.UserID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: unknown user %d", ErrUnauthenticated, f.UserID)
			}
			return fmt.Errorf("%w: resolve user: %v", ErrPersistence, err)
		}
	}
	if err := s.hub.reg.Authenticate(s.id, f.UserID); err != nil {
		return err
	}
	s.mu.Lock()
	if s.state == StateConnected {
		s.state = StateAuthenticated
		s.userID = f.UserID
	}
	s.mu.Unlock()

	log.Debug().Str("conn_id", string(s.id)).Uint("user_id", f.UserID).Msg("session authenticated")
	s.hub.router.Send(s.id, protocol.Authenticated{UserID: f.UserID})
	if f.ProjectID != 0 {
		return s.join(ctx, f.ProjectID)
	}
	return nil
}

func (s *Session) join(ctx context.Context, projectID uint) error {
	uid := s.UserID()
	if uid == 0 {
		return ErrUnauthenticated
	}
	if s.hub.deps.Projects != nil {
		if err := s.hub.deps.Projects.CanAccess(ctx, projectID, uid); err != nil {
			if errors.Is(err, ErrForbidden) || errors.Is(err, ErrNotFound) {
				return fmt.Errorf("project %d: %w", projectID, err)
			}
			return fmt.Errorf("%w: check project access: %v", ErrPersistence, err)
		}
	}
	if err := s.hub.reg.Join(s.id, projectID); err != nil {
		return err
	}
	s.mu.Lock()
	if s.state == StateAuthenticated {
		s.state = StateInRoom
	}
	s.mu.Unlock()
	log.Debug().Str("conn_id", string(s.id)).Uint("project_id", projectID).Msg("joined project")
	return nil
}

func (s *Session) leave(projectID uint) error {
	uid := s.UserID()
	if uid == 0 {
		return ErrUnauthenticated
	}
	if !s.hub.reg.Leave(s.id, projectID) {
		return nil
	}
	if !s.hub.reg.UserInRoom(projectID, uid, s.id) {
		s.hub.clearTyping(projectID, uid, s.id)
	}
	if len(s.hub.reg.ProjectsOf(s.id)) == 0 {
		s.mu.Lock()
		if s.state == StateInRoom {
			s.state = StateAuthenticated
		}
		s.mu.Unlock()
	}
	return nil
}

// member 要求连接已认证并且在项目房间内，返回绑定的用户。
func (s *Session) member(projectID uint) (uint, error) {
	uid := s.UserID()
	if uid == 0 {
		return 0, ErrUnauthenticated
	}
	if !s.hub.reg.IsMember(s.id, projectID) {
		return 0, fmt.Errorf("%w: project %d", ErrNotInRoom, projectID)
	}
	return uid, nil
}

func (s *Session) sendMessage(ctx context.Context, f protocol.SendMessage) error {
	uid, err := s.member(f.ProjectID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(f.Content) == "" {
		return fmt.Errorf("%w: content is empty", ErrValidation)
	}
	if len(f.Content) > maxContentBytes {
		return fmt.Errorf("%w: content exceeds %d bytes", ErrValidation, maxContentBytes)
	}
	if f.SenderID != 0 && f.SenderID != uid {
		return fmt.Errorf("%w: senderId does not match authenticated user", ErrValidation)
	}
	mt := models.MessageType(f.MessageType)
	if mt == "" {
		mt = models.MessageText
	}
	if !mt.Valid() {
		return fmt.Errorf("%w: unknown messageType %q", ErrValidation, f.MessageType)
	}
	// system 类型只能由服务端产生
	if mt == models.MessageSystem {
		return fmt.Errorf("%w: messageType %q not allowed", ErrValidation, f.MessageType)
	}

	msg := &models.Message{
		ProjectID:   f.ProjectID,
		SenderID:    uid,
		ReceiverID:  f.ReceiverID,
		Content:     f.Content,
		MessageType: mt,
		Attachments: f.Attachments,
	}
	sctx, cancel := context.WithTimeout(ctx, s.hub.opts.StoreTimeout)
	defer cancel()
	if err := s.hub.deps.Messages.Create(sctx, msg); err != nil {
		return fmt.Errorf("%w: create message: %v", ErrPersistence, err)
	}
	metrics.WsMessagesTotal.Inc()

	// 持久化成功后才广播，发送者自己也会收到
	s.hub.PublishMessage(ctx, msg)
	s.hub.clearTyping(f.ProjectID, uid, s.id)
	return nil
}

func (s *Session) typing(f protocol.Typing) error {
	uid, err := s.member(f.ProjectID)
	if err != nil {
		return err
	}
	if f.UserID != 0 && f.UserID != uid {
		return fmt.Errorf("%w: userId does not match authenticated user", ErrValidation)
	}
	isTyping := *f.IsTyping
	s.hub.typing.Signal(f.ProjectID, uid, isTyping, func(bool) {
		s.hub.router.Broadcast(f.ProjectID, protocol.UserTyping{ProjectID: f.ProjectID, UserID: uid, IsTyping: isTyping}, Except(s.id))
	})
	return nil
}

func (s *Session) markRead(ctx context.Context, f protocol.MarkRead) error {
	uid, err := s.member(f.ProjectID)
	if err != nil {
		return err
	}
	if f.UserID != 0 && f.UserID != uid {
		return fmt.Errorf("%w: userId does not match authenticated user", ErrValidation)
	}
	sctx, cancel := context.WithTimeout(ctx, s.hub.opts.StoreTimeout)
	defer cancel()
	changed, err := s.hub.deps.Messages.MarkRead(sctx, f.ProjectID, f.MessageID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("message %d: %w", f.MessageID, err)
		}
		return fmt.Errorf("%w: mark read: %v", ErrPersistence, err)
	}
	// 已读过的消息再次标记是空操作，不再广播
	if !changed {
		return nil
	}
	s.hub.router.Broadcast(f.ProjectID, protocol.MessageRead{ProjectID: f.ProjectID, MessageID: f.MessageID}, nil)
	return nil
}

// Close 进入终态：从所有房间移除，之后不再发出任何帧。每条断开路径都必须调用。
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	uid := s.userID
	s.mu.Unlock()

	left := s.hub.reg.Unregister(s.id)
	s.hub.router.Detach(s.id)
	s.queue.Close()
	if uid != 0 {
		for _, pid := range left {
			if !s.hub.reg.UserInRoom(pid, uid, s.id) {
				s.hub.clearTyping(pid, uid, s.id)
			}
		}
	}
	s.hub.forget(s.id)
	metrics.WsConnections.Dec()
	log.Debug().Str("conn_id", string(s.id)).Uint("user_id", uid).Int("rooms_left", len(left)).
		Int("frames_dropped", s.queue.Dropped()).Msg("session closed")
}
