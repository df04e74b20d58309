package server

import (
	"net/http"

	"homechat/internal/auth"
	"homechat/internal/chat"
	"homechat/internal/config"
	"homechat/internal/metrics"
	"homechat/internal/mw"
	"homechat/internal/service"
	"homechat/internal/store"
	"homechat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// NewHandlerFromDB 用同一个数据库连接装配全部 service。
func NewHandlerFromDB(cfg config.Config, db *gorm.DB, hub *chat.Hub) *Handler {
	msgs := store.NewMessages(db)
	access := store.NewAccess(db)
	return NewHandler(
		service.NewUserService(db, cfg),
		service.NewProjectService(db, hub),
		service.NewMessageService(msgs, store.NewDirectory(db), access),
		service.NewQuoteService(db, store.NewQuotes(db), access, hub),
	)
}

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
// limiter 控制单个 IP+路由的请求速率，由调用方负责 Stop。
func SetupRouter(cfg config.Config, db *gorm.DB, hub *chat.Hub, limiter *mw.RL) *gin.Engine {
	h := NewHandlerFromDB(cfg, db, hub)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	if limiter != nil {
		r.Use(limiter.Middleware())
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": hub.Connections()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.RefreshToken)

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(cfg, db))
	authed.GET("/projects", h.ListProjects)
	authed.POST("/projects", h.CreateProject)
	authed.POST("/projects/:id/participants", h.AddParticipant)
	authed.GET("/projects/:id/messages", h.ListMessages)
	authed.GET("/projects/:id/quotes", h.ListQuotes)
	authed.POST("/projects/:id/quotes", h.SubmitQuote)

	r.GET("/ws", ws.Serve(hub, cfg))
	return r
}
