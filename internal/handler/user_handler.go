package handler

import (
	"github.com/gin-gonic/gin"

	"kbqa-go/internal/middleware"
	"kbqa-go/internal/service"
	"kbqa-go/pkg/log"
)

// UserHandler 负责处理所有与普通用户相关的 API 请求。
type UserHandler struct {
	userService service.UserService
}

// NewUserHandler 创建一个新的 UserHandler 实例。
func NewUserHandler(userService service.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// RegisterRequest 定义了用户注册 API 的请求体结构。
type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Register 处理用户注册请求。
func (h *UserHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Register: Invalid request payload, error: %v", err)
		badRequest(c, "无效的请求负载：用户名和密码不能为空")
		return
	}

	user, err := h.userService.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		log.Warnf("Register: User registration failed for '%s', error: %v", req.Username, err)
		fail(c, err)
		return
	}
	success(c, "User registered successfully", user)
}

// LoginRequest 定义了用户登录 API 的请求体结构。
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login 处理用户登录请求。
func (h *UserHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Login: Invalid request payload, error: %v", err)
		badRequest(c, "无效的请求负载：用户名和密码不能为空")
		return
	}

	accessToken, refreshToken, err := h.userService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		log.Warnf("Login: User authentication failed for '%s', error: %v", req.Username, err)
		fail(c, err)
		return
	}

	log.Infof("User '%s' logged in successfully", req.Username)
	success(c, "Login successful", gin.H{
		"token":        accessToken,
		"refreshToken": refreshToken,
	})
}

// GetProfile 返回当前登录用户的信息。
func (h *UserHandler) GetProfile(c *gin.Context) {
	success(c, "success", middleware.CurrentUser(c))
}
