// Package ws 把 gorilla/websocket 连接接到 chat.Hub 的会话上。
package ws

import (
	"net/http"
	"time"

	"homechat/internal/auth"
	"homechat/internal/chat"
	"homechat/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	// 读上限远大于消息正文上限，超长正文由会话回 validation_error 而不是断开连接。
	// 只有超过该上限的帧才会触发断开。
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type conn struct {
	ws      *websocket.Conn
	session *chat.Session
}

// Serve 升级 HTTP 请求并为连接打开会话。token 可选，携带时必须有效，
// 之后 authenticate 帧中的 userId 必须与 token 一致；RequireWSToken 为 true 时 token 必填。
func Serve(h *chat.Hub, cfg config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var trusted uint
		token, err := auth.BearerToken(c, true)
		switch {
		case err == nil:
			claims, err := auth.ParseAccessToken(token, cfg.JWTSecret)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			trusted = claims.UserID
		case cfg.RequireWSToken:
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		session, err := h.Open(trusted)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
			return
		}
		wsConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			session.Close()
			return
		}
		cl := &conn{ws: wsConn, session: session}
		go cl.writePump()
		cl.readPump(c)
	}
}

// readPump 把收到的帧交给会话处理；任何读错误都会关闭会话，不留下房间成员关系。
func (c *conn) readPump(gc *gin.Context) {
	defer func() {
		c.session.Close()
		_ = c.ws.Close()
	}()
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	ctx := gc.Request.Context()
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("conn_id", string(c.session.ID())).Msg("ws read")
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		c.session.Handle(ctx, data)
	}
}

// writePump 串行地把会话出站队列写到 socket，并定时发送 ping。
func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	out := c.session.Outbound()
	for {
		select {
		case message, ok := <-out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
