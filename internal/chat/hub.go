package chat

import (
	"context"
	"sync"
	"time"

	"homechat/internal/config"
	"homechat/internal/metrics"
	"homechat/internal/models"
	"homechat/internal/protocol"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Profile 是展示用的最小用户身份。
type Profile struct {
	ID          uint
	DisplayName string
	Initials    string
}

// MessageStore 持久化项目消息。Create 负责填充 ID 与 CreatedAt；
// MarkRead 返回已读标记是否真的发生了变化，消息不存在时返回 ErrNotFound。
type MessageStore interface {
	Create(ctx context.Context, msg *models.Message) error
	ListByProject(ctx context.Context, projectID uint, limit int, beforeID uint) ([]models.Message, error)
	MarkRead(ctx context.Context, projectID, messageID uint) (bool, error)
}

// UserDirectory 把用户 id 解析为展示身份，不存在时返回 ErrNotFound。
type UserDirectory interface {
	Get(ctx context.Context, userID uint) (Profile, error)
}

// ProjectAccess 判断用户能否进入项目聊天：项目不存在返回 ErrNotFound，无权限返回 ErrForbidden。
type ProjectAccess interface {
	CanAccess(ctx context.Context, projectID, userID uint) error
}

type Deps struct {
	Messages MessageStore
	Users    UserDirectory
	Projects ProjectAccess
}

type Options struct {
	TypingTimeout   time.Duration
	StoreTimeout    time.Duration
	QueueSize       int
	Overflow        config.OverflowPolicy
	FramesPerSecond float64
	FrameBurst      int
}

// OptionsFrom 从全局配置提取聊天核心参数。
func OptionsFrom(cfg config.Config) Options {
	return Options{
		TypingTimeout:   cfg.TypingTimeout,
		StoreTimeout:    cfg.StoreTimeout,
		QueueSize:       cfg.SendQueueSize,
		Overflow:        cfg.OverflowPolicy,
		FramesPerSecond: cfg.FramesPerSecond,
		FrameBurst:      cfg.FrameBurst,
	}
}

// Hub 组合连接注册表、房间路由与输入状态跟踪器，通过构造函数注入而不是全局单例。
type Hub struct {
	reg    *Registry
	router *Router
	typing *TypingTracker
	deps   Deps
	opts   Options

	mu       sync.Mutex
	sessions map[ConnID]*Session
	closed   bool
}

func NewHub(deps Deps, opts Options) *Hub {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	reg := NewRegistry()
	h := &Hub{
		reg:      reg,
		router:   NewRouter(reg),
		deps:     deps,
		opts:     opts,
		sessions: make(map[ConnID]*Session),
	}
	h.typing = NewTypingTracker(opts.TypingTimeout, h.typingExpired)
	return h
}

// Online 返回项目房间内的在线连接数。
func (h *Hub) Online(projectID uint) int { return h.reg.Online(projectID) }

// Connections 返回全部在线连接数，供 /healthz 展示。
func (h *Hub) Connections() int { return h.reg.Connections() }

// Open 为新 socket 创建会话。trustedUserID 非零时表示握手阶段已用 token 验证过身份，
// 之后的 authenticate 帧必须与之一致。
func (h *Hub) Open(trustedUserID uint) (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrSessionClosed
	}
	s := &Session{
		hub:     h,
		id:      ConnID(uuid.NewString()),
		queue:   NewQueue(h.opts.QueueSize, h.opts.Overflow),
		trusted: trustedUserID,
		state:   StateConnected,
	}
	if h.opts.FramesPerSecond > 0 {
		burst := h.opts.FrameBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(h.opts.FramesPerSecond), burst)
	}
	h.reg.Register(s.id)
	h.router.Attach(s.id, s.queue)
	h.sessions[s.id] = s
	metrics.WsConnections.Inc()
	log.Debug().Str("conn_id", string(s.id)).Msg("session opened")
	return s, nil
}

func (h *Hub) forget(id ConnID) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
}

// PublishMessage 把已持久化的消息广播给项目房间内所有连接（包括发送者自己）。
func (h *Hub) PublishMessage(ctx context.Context, msg *models.Message) int {
	return h.router.Broadcast(msg.ProjectID, protocol.NewMessage{Message: h.view(ctx, msg)}, nil)
}

func (h *Hub) view(ctx context.Context, msg *models.Message) protocol.MessageView {
	name := ""
	if h.deps.Users != nil {
		if p, err := h.deps.Users.Get(ctx, msg.SenderID); err == nil {
			name = p.DisplayName
		}
	}
	return ToView(msg, name)
}

// ToView 把持久化消息转换为线上格式。
func ToView(msg *models.Message, senderName string) protocol.MessageView {
	return protocol.MessageView{
		ID:          msg.ID,
		ProjectID:   msg.ProjectID,
		SenderID:    msg.SenderID,
		SenderName:  senderName,
		ReceiverID:  msg.ReceiverID,
		Content:     msg.Content,
		MessageType: string(msg.MessageType),
		Attachments: msg.Attachments,
		Read:        msg.Read,
		CreatedAt:   msg.CreatedAt,
	}
}

// typingExpired 由计时器在追踪器锁内触发：服务端自己负责清除输入状态，不依赖客户端发送 isTyping=false。
func (h *Hub) typingExpired(projectID, userID uint) {
	metrics.TypingExpired.Inc()
	h.router.Broadcast(projectID, protocol.UserTyping{ProjectID: projectID, UserID: userID, IsTyping: false}, nil)
}

// clearTyping 若用户处于输入状态则取消并通知房间内其余连接。
func (h *Hub) clearTyping(projectID, userID uint, origin ConnID) {
	h.typing.Signal(projectID, userID, false, func(wasTyping bool) {
		if wasTyping {
			h.router.Broadcast(projectID, protocol.UserTyping{ProjectID: projectID, UserID: userID, IsTyping: false}, Except(origin))
		}
	})
}

// Typing 返回项目内当前正在输入的用户。
func (h *Hub) Typing(projectID uint) []uint { return h.typing.Typing(projectID) }

// Close 停止所有计时器并关闭全部会话，用于优雅停服。
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	h.typing.Close()
	for _, s := range sessions {
		s.Close()
	}
	log.Info().Int("sessions", len(sessions)).Msg("chat hub closed")
}
