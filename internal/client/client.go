package client

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"homechat/internal/protocol"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ErrDisconnected 表示当前没有可用连接，发送被拒绝而不是排队。
var ErrDisconnected = errors.New("client is disconnected")

// ErrNotAuthenticated 表示连接已建立但尚未收到 authenticated。
var ErrNotAuthenticated = errors.New("client is not authenticated yet")

// Options 配置 Client。
type Options struct {
	URL        string
	Token      string
	UserID     uint
	Dialer     *websocket.Dialer
	MinBackoff time.Duration
	MaxBackoff time.Duration
	EventBuf   int
}

// Client 维持一条到聊天服务的 socket，断线后按退避重连，重连时重新认证并加入之前的项目。
type Client struct {
	opts   Options
	events chan Event

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func New(opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 200 * time.Millisecond
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = 10 * time.Second
	}
	if opts.EventBuf <= 0 {
		opts.EventBuf = 64
	}
	return &Client{opts: opts, events: make(chan Event, opts.EventBuf)}
}

// Events 返回 reducer 处理过的事件流，消费过慢时旧事件会被丢弃。
func (c *Client) Events() <-chan Event { return c.events }

// Snapshot 返回当前状态。
func (c *Client) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) apply(ev Event) State {
	c.mu.Lock()
	c.state = Reduce(c.state, ev)
	s := c.state
	c.mu.Unlock()
	select {
	case c.events <- ev:
	default:
		log.Debug().Msg("client event dropped")
	}
	return s
}

// Run 连接并保持连接直到 ctx 结束。
func (c *Client) Run(ctx context.Context) error {
	backoff := c.opts.MinBackoff
	for {
		c.apply(Connecting{})
		connected, err := c.session(ctx)
		c.apply(Disconnected{Err: err})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = c.opts.MinBackoff
		}
		log.Debug().Err(err).Dur("backoff", backoff).Msg("client reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, c.opts.MaxBackoff)
	}
}

// session 完成一次拨号到断开的完整周期，返回是否曾成功建立连接。
func (c *Client) session(ctx context.Context) (bool, error) {
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	conn, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return false, err
	}

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()
	c.apply(Connected{})

	if err := c.handshake(conn); err != nil {
		return true, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return err
			}
			f, err := protocol.DecodeOutbound(data)
			if err != nil {
				log.Debug().Err(err).Msg("client drop frame")
				continue
			}
			c.apply(Received{Frame: f})
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		_ = conn.Close()
		return nil
	})
	return true, g.Wait()
}

func joined(s State) []uint {
	ids := make([]uint, 0, len(s.Joined))
	for pid := range s.Joined {
		ids = append(ids, pid)
	}
	slices.Sort(ids)
	return ids
}

// handshake 写出 authenticate 和之前加入过的项目。全程持有 writeMu，
// 连接公开后其他写入只能排在这些帧之后。
func (c *Client) handshake(conn *websocket.Conn) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := writeFrame(conn, protocol.Authenticate{UserID: c.opts.UserID}); err != nil {
		return err
	}
	// 在同一把锁内取项目列表并公开连接：之前的 Join 由这里补发，之后的 Join 自己发送
	c.mu.Lock()
	ids := joined(c.state)
	c.conn = conn
	c.mu.Unlock()
	for _, pid := range ids {
		if err := writeFrame(conn, protocol.JoinProject{ProjectID: pid}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) write(conn *websocket.Conn, f protocol.Inbound) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writeFrame(conn, f)
}

func writeFrame(conn *websocket.Conn, f protocol.Inbound) error {
	b, err := protocol.EncodeInbound(f)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (c *Client) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// ready 返回已认证的连接。认证完成前发送、输入状态和已读都被拒绝。
func (c *Client) ready() (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, ErrDisconnected
	}
	if c.state.Status != StatusAuthenticated {
		return nil, ErrNotAuthenticated
	}
	return c.conn, nil
}

func (c *Client) send(f protocol.Inbound) error {
	conn := c.current()
	if conn == nil {
		return ErrDisconnected
	}
	return c.write(conn, f)
}

func (c *Client) sendReady(f protocol.Inbound) error {
	conn, err := c.ready()
	if err != nil {
		return err
	}
	return c.write(conn, f)
}

// Join 记录项目并在已连接时立即加入；断线期间记录的项目会在重连后加入。
func (c *Client) Join(projectID uint) error {
	c.apply(Joined{ProjectID: projectID})
	if err := c.send(protocol.JoinProject{ProjectID: projectID}); err != nil && !errors.Is(err, ErrDisconnected) {
		return err
	}
	return nil
}

// Leave 离开项目，之后重连也不再加入。
func (c *Client) Leave(projectID uint) error {
	c.apply(Left{ProjectID: projectID})
	if err := c.send(protocol.LeaveProject{ProjectID: projectID}); err != nil && !errors.Is(err, ErrDisconnected) {
		return err
	}
	return nil
}

// SetDraft 更新输入框草稿。
func (c *Client) SetDraft(projectID uint, text string) {
	c.apply(DraftChanged{ProjectID: projectID, Text: text})
}

// Send 发送文本消息。草稿在收到自己消息的回显后才清空。
func (c *Client) Send(projectID uint, content string) error {
	content = strings.TrimSpace(content)
	conn, err := c.ready()
	if err != nil {
		return err
	}
	// 回显可能先于 send 返回到达，必须先记录
	c.apply(SendRequested{ProjectID: projectID, Content: content})
	return c.write(conn, protocol.SendMessage{ProjectID: projectID, SenderID: c.opts.UserID, Content: content})
}

// SetTyping 发送输入状态。
func (c *Client) SetTyping(projectID uint, typing bool) error {
	return c.sendReady(protocol.Typing{UserID: c.opts.UserID, ProjectID: projectID, IsTyping: &typing})
}

// MarkRead 把消息标记为已读。
func (c *Client) MarkRead(projectID, messageID uint) error {
	return c.sendReady(protocol.MarkRead{ProjectID: projectID, MessageID: messageID, UserID: c.opts.UserID})
}
