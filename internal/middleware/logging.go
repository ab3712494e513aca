package middleware

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"kbqa-go/pkg/log"
)

const maxLoggedBody = 4 << 10

// bodyLogWriter 用于捕获响应体
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

// Write 将响应写入 gin.ResponseWriter，同时保留前 maxLoggedBody 字节用于日志。
func (w bodyLogWriter) Write(b []byte) (int, error) {
	if room := maxLoggedBody - w.body.Len(); room > 0 {
		if len(b) < room {
			room = len(b)
		}
		w.body.Write(b[:room])
	}
	return w.ResponseWriter.Write(b)
}

// RequestLogger 是一个 Gin 中间件，用于记录请求和响应日志。
// 流式响应（SSE、WebSocket）与 multipart 上传不记录请求体和响应体。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		streaming := isStreaming(c)

		var requestBody []byte
		if !streaming && c.Request.Body != nil {
			requestBody, _ = io.ReadAll(io.LimitReader(c.Request.Body, maxLoggedBody+1))
			// 读取的部分重新拼回请求体，后续处理函数可以正常读取
			c.Request.Body = readCloser{io.MultiReader(bytes.NewReader(requestBody), c.Request.Body), c.Request.Body}
			if len(requestBody) > maxLoggedBody {
				requestBody = requestBody[:maxLoggedBody]
			}
		}

		var blw *bodyLogWriter
		if !streaming {
			blw = &bodyLogWriter{body: &bytes.Buffer{}, ResponseWriter: c.Writer}
			c.Writer = blw
		}

		c.Next()

		responseBody := ""
		if blw != nil {
			responseBody = blw.body.String()
		}
		log.Infow("HTTP Request Log",
			"statusCode", c.Writer.Status(),
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"requestBody", string(requestBody),
			"responseBody", responseBody,
		)
	}
}

type readCloser struct {
	io.Reader
	io.Closer
}

func isStreaming(c *gin.Context) bool {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		return true
	}
	if strings.Contains(c.GetHeader("Accept"), "text/event-stream") || c.GetHeader("Upgrade") != "" {
		return true
	}
	return strings.HasSuffix(c.Request.URL.Path, "/chat/stream")
}
