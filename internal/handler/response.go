// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"kbqa-go/pkg/errs"
	"kbqa-go/pkg/log"
)

func success(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": message, "data": data})
}

// fail 按错误类型返回对应的状态码，未分类的错误不向客户端暴露细节。
func fail(c *gin.Context, err error) {
	status := errs.HTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Error("[Handler] 请求处理失败", err)
		message = "服务器内部错误"
	}
	c.JSON(status, gin.H{"code": status, "message": message, "data": nil})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": message, "data": nil})
}

// uintParam 解析路径参数中的正整数 ID。
func uintParam(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		badRequest(c, "无效的参数 "+name)
		return 0, false
	}
	return uint(v), true
}
