package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"kbqa-go/internal/middleware"
	"kbqa-go/internal/service"
	"kbqa-go/pkg/errs"
	"kbqa-go/pkg/log"
	"kbqa-go/pkg/token"
	"kbqa-go/pkg/vector"
)

// DoneSentinel 是 SSE 流的结束标记。
const DoneSentinel = "[DONE]"

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}

	errStopped = errors.New("stream stopped by client")
)

// ChatHandler 负责 SSE 与 WebSocket 两种流式问答入口。
type ChatHandler struct {
	chatService   service.ChatService
	userService   service.UserService
	jwtManager    *token.JWTManager
	stopToken     string
	stopTokenLock sync.Mutex
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, userService service.UserService, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		userService: userService,
		jwtManager:  jwtManager,
	}
}

// GetWebsocketStopToken 返回一个可用于停止流的令牌。
func (h *ChatHandler) GetWebsocketStopToken(c *gin.Context) {
	h.stopTokenLock.Lock()
	defer h.stopTokenLock.Unlock()
	// 单实例内使用一个轮换的令牌
	h.stopToken = "WSS_STOP_CMD_" + token.GenerateRandomString(16)
	success(c, "success", gin.H{"cmdToken": h.stopToken})
}

func (h *ChatHandler) isStopToken(tok string) bool {
	h.stopTokenLock.Lock()
	defer h.stopTokenLock.Unlock()
	return h.stopToken != "" && tok == h.stopToken
}

// Stream 以 SSE 形式返回回答：每个片段一条 data 事件，最后发送 data: [DONE]。
// 会话校验等错误发生在输出之前，此时按普通 JSON 错误返回。
func (h *ChatHandler) Stream(c *gin.Context) {
	var req service.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求负载")
		return
	}
	w := &sseWriter{c: c}
	err := h.chatService.Stream(c.Request.Context(), middleware.CurrentUser(c), req, w)
	if err == nil {
		return
	}
	if !w.started {
		fail(c, err)
		return
	}
	log.Errorf("[ChatHandler] SSE 流处理失败, session: %d, error: %v", req.SessionID, err)
}

// sseWriter 在第一次写入时才发送响应头，之前的错误仍可返回 JSON。
type sseWriter struct {
	c       *gin.Context
	started bool
}

func (w *sseWriter) start() {
	if w.started {
		return
	}
	w.started = true
	h := w.c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.c.Status(http.StatusOK)
}

func (w *sseWriter) event(name, data string) error {
	if err := w.c.Request.Context().Err(); err != nil {
		return err
	}
	w.start()
	var b strings.Builder
	if name != "" {
		b.WriteString("event: " + name + "\n")
	}
	// 多行片段拆成多条 data 行，客户端按换行拼回
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: " + line + "\n")
	}
	b.WriteString("\n")
	if _, err := w.c.Writer.WriteString(b.String()); err != nil {
		return err
	}
	w.c.Writer.Flush()
	return nil
}

func (w *sseWriter) WriteFragment(fragment string) error {
	return w.event("", fragment)
}

func (w *sseWriter) WriteSources(hits []vector.Hit) error {
	b, err := json.Marshal(hits)
	if err != nil {
		return err
	}
	return w.event("sources", string(b))
}

func (w *sseWriter) Done() error {
	return w.event("", DoneSentinel)
}

// Handle 处理一个传入的 WebSocket 连接。
// 读循环与问答处理分属两个 goroutine，流式输出期间仍能收到停止指令。
func (h *ChatHandler) Handle(c *gin.Context) {
	claims, err := h.jwtManager.VerifyToken(c.Param("token"))
	if err != nil {
		fail(c, err)
		return
	}
	user, err := h.userService.GetProfile(c.Request.Context(), claims.Username)
	if err != nil {
		fail(c, errs.ErrUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	log.Infof("WebSocket 连接已建立，用户: %s", claims.Username)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	ws := &wsWriter{conn: conn}
	requests := make(chan service.ChatRequest, 8)

	go func() {
		defer close(requests)
		defer cancel()
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				log.Warnf("从 WebSocket 读取消息失败: %v", err)
				return
			}
			if h.handleStop(ws, message) {
				continue
			}
			req, err := parseChatMessage(message)
			if err != nil {
				_ = ws.writeJSON(gin.H{"error": err.Error()})
				continue
			}
			select {
			case requests <- req:
			case <-ctx.Done():
				return
			default:
				_ = ws.writeJSON(gin.H{"error": "请求过多，请等待当前回答完成"})
			}
		}
	}()

	for req := range requests {
		ws.stopped.Store(false)
		err := h.chatService.Stream(ctx, user, req, ws)
		if err == nil || ctx.Err() != nil {
			continue
		}
		log.Errorf("处理流式响应失败: %v", err)
		msg := "AI服务暂时不可用，请稍后重试"
		if status := errs.HTTPStatus(err); status != http.StatusInternalServerError {
			msg = err.Error()
		}
		_ = ws.writeJSON(gin.H{"error": msg})
		_ = ws.Done()
	}
}

// handleStop 识别两种停止指令：JSON {"type":"stop","_internal_cmd_token":"..."} 或整条消息等于令牌。
func (h *ChatHandler) handleStop(ws *wsWriter, message []byte) bool {
	if len(message) > 0 && message[0] == '{' {
		var ctrl struct {
			Type  string `json:"type"`
			Token string `json:"_internal_cmd_token"`
		}
		if err := json.Unmarshal(message, &ctrl); err != nil || ctrl.Type != "stop" {
			return false
		}
		if !h.isStopToken(ctrl.Token) {
			_ = ws.writeJSON(gin.H{"error": "无效的停止令牌"})
			return true
		}
	} else if !h.isStopToken(string(message)) {
		return false
	}

	log.Info("收到停止指令，正在中断流式响应...")
	ws.stopped.Store(true)
	now := time.Now()
	_ = ws.writeJSON(gin.H{
		"type":      "stop",
		"message":   "响应已停止",
		"timestamp": now.UnixMilli(),
		"date":      now.Format("2006-01-02T15:04:05"),
	})
	return true
}

// parseChatMessage 解析 JSON 格式的 ChatRequest。
func parseChatMessage(message []byte) (service.ChatRequest, error) {
	var req service.ChatRequest
	if err := json.Unmarshal(message, &req); err != nil {
		return req, errors.New("消息格式错误，需要 JSON: {\"session_id\":1,\"question\":\"...\"}")
	}
	return req, nil
}

// wsWriter 把回答片段写入 WebSocket，所有写操作串行化。
type wsWriter struct {
	conn    *websocket.Conn
	mu      sync.Mutex
	stopped atomic.Bool
}

func (w *wsWriter) writeJSON(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}

func (w *wsWriter) WriteFragment(fragment string) error {
	if w.stopped.Load() {
		return errStopped
	}
	return w.writeJSON(gin.H{"chunk": fragment})
}

func (w *wsWriter) WriteSources(hits []vector.Hit) error {
	return w.writeJSON(gin.H{"type": "sources", "data": hits})
}

func (w *wsWriter) Done() error {
	now := time.Now()
	return w.writeJSON(gin.H{
		"type":      "completion",
		"status":    "finished",
		"message":   "响应已完成",
		"timestamp": now.UnixMilli(),
		"date":      now.Format("2006-01-02T15:04:05"),
	})
}
