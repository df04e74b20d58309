package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"homechat/internal/auth"
	"homechat/internal/models"
	"homechat/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	userSvc    *service.UserService
	projectSvc *service.ProjectService
	msgSvc     *service.MessageService
	quoteSvc   *service.QuoteService
}

func NewHandler(userSvc *service.UserService, projectSvc *service.ProjectService, msgSvc *service.MessageService, quoteSvc *service.QuoteService) *Handler {
	return &Handler{userSvc: userSvc, projectSvc: projectSvc, msgSvc: msgSvc, quoteSvc: quoteSvc}
}

// serviceError 把业务错误映射为 HTTP 状态码，未知错误记录日志后返回 500。
func serviceError(c *gin.Context, err error, op string) {
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrInvalidRole), errors.Is(err, service.ErrInvalidQuote):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrProjectNotFound), errors.Is(err, service.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Uint("user_id", auth.GetUserID(c)).Msg(op)
		c.JSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
	}
}

func projectID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return 0, false
	}
	return uint(id), true
}

// Register 处理用户注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Username    string `json:"username"`
		Password    string `json:"password"`
		DisplayName string `json:"display_name"`
		Role        string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if len(req.Username) < 2 || len(req.Username) > 64 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid username"})
		return
	}
	if len(req.Password) < 4 || len(req.Password) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid password"})
		return
	}
	if len(req.DisplayName) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid display name"})
		return
	}
	result, err := h.userSvc.Register(service.RegisterInput{
		Username:    req.Username,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		Role:        models.Role(req.Role),
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUsernameTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "username taken"})
		case errors.Is(err, service.ErrInvalidRole):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
		default:
			log.Error().Err(err).Str("username", req.Username).Msg("register")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		}
		return
	}
	c.JSON(http.StatusOK, result)
}

// Login 处理用户登录请求。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		log.Error().Err(err).Str("username", req.Username).Msg("login")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	u := result.User
	c.JSON(http.StatusOK, gin.H{
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
		"user":          gin.H{"id": u.ID, "username": u.Username, "display_name": u.DisplayName, "role": u.Role},
	})
}

// RefreshToken 处理 token 刷新请求。
func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.RefreshTokens(req.RefreshToken)
	if err != nil {
		log.Warn().Err(err).Msg("refresh token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// CreateProject 处理房主发布项目请求。
func (h *Handler) CreateProject(c *gin.Context) {
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	p, err := h.projectSvc.Create(c.Request.Context(), auth.GetUserID(c), req.Title, req.Description)
	if err != nil {
		serviceError(c, err, "create project")
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": p})
}

// ListProjects 返回当前用户可见的项目及在线人数。
func (h *Handler) ListProjects(c *gin.Context) {
	projects, err := h.projectSvc.List(c.Request.Context(), auth.GetUserID(c), 100)
	if err != nil {
		serviceError(c, err, "list projects")
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

// AddParticipant 由项目房主把承包商加入项目聊天。
func (h *Handler) AddParticipant(c *gin.Context) {
	pid, ok := projectID(c)
	if !ok {
		return
	}
	var req struct {
		UserID uint `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := h.projectSvc.AddParticipant(c.Request.Context(), auth.GetUserID(c), pid, req.UserID); err != nil {
		serviceError(c, err, "add participant")
		return
	}
	c.JSON(http.StatusOK, gin.H{"project_id": pid, "user_id": req.UserID})
}

// ListMessages 处理获取项目消息历史请求。
func (h *Handler) ListMessages(c *gin.Context) {
	pid, ok := projectID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	var beforeID uint
	if bid := c.Query("before_id"); bid != "" {
		if v, err := strconv.ParseUint(bid, 10, 64); err == nil {
			beforeID = uint(v)
		}
	}
	msgs, err := h.msgSvc.History(c.Request.Context(), auth.GetUserID(c), pid, limit, beforeID)
	if err != nil {
		serviceError(c, err, "list messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// SubmitQuote 处理承包商报价请求，报价会以 quote 消息推送到项目聊天。
func (h *Handler) SubmitQuote(c *gin.Context) {
	pid, ok := projectID(c)
	if !ok {
		return
	}
	var req struct {
		AmountCents int64  `json:"amount_cents"`
		Description string `json:"description"`
		Timeline    string `json:"timeline"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	q, err := h.quoteSvc.Submit(c.Request.Context(), auth.GetUserID(c), service.QuoteInput{
		ProjectID:   pid,
		AmountCents: req.AmountCents,
		Description: req.Description,
		Timeline:    req.Timeline,
	})
	if err != nil {
		serviceError(c, err, "submit quote")
		return
	}
	c.JSON(http.StatusOK, gin.H{"quote": q})
}

// ListQuotes 返回项目报价列表。
func (h *Handler) ListQuotes(c *gin.Context) {
	pid, ok := projectID(c)
	if !ok {
		return
	}
	quotes, err := h.quoteSvc.List(c.Request.Context(), auth.GetUserID(c), pid)
	if err != nil {
		serviceError(c, err, "list quotes")
		return
	}
	c.JSON(http.StatusOK, gin.H{"quotes": quotes})
}
