package handler

import (
	"github.com/gin-gonic/gin"

	"kbqa-go/internal/middleware"
	"kbqa-go/internal/service"
)

// SessionHandler 负责对话会话的管理接口。
type SessionHandler struct {
	sessionService service.SessionService
}

func NewSessionHandler(sessionService service.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

// CreateSessionRequest 定义了创建会话的请求体，name 为空时使用默认名称。
type CreateSessionRequest struct {
	Name string `json:"name"`
}

func (h *SessionHandler) Create(c *gin.Context) {
	var req CreateSessionRequest
	_ = c.ShouldBindJSON(&req)
	session, err := h.sessionService.Create(c.Request.Context(), middleware.CurrentUser(c).ID, req.Name)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, "success", session)
}

func (h *SessionHandler) List(c *gin.Context) {
	sessions, err := h.sessionService.List(c.Request.Context(), middleware.CurrentUser(c).ID)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, "success", sessions)
}

func (h *SessionHandler) Delete(c *gin.Context) {
	sessionID, ok := uintParam(c, "sessionId")
	if !ok {
		return
	}
	if err := h.sessionService.Delete(c.Request.Context(), middleware.CurrentUser(c).ID, sessionID); err != nil {
		fail(c, err)
		return
	}
	success(c, "删除成功", nil)
}

// Messages 返回会话中的全部消息，按时间正序。
func (h *SessionHandler) Messages(c *gin.Context) {
	sessionID, ok := uintParam(c, "sessionId")
	if !ok {
		return
	}
	msgs, err := h.sessionService.Messages(c.Request.Context(), middleware.CurrentUser(c).ID, sessionID)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, "success", msgs)
}
