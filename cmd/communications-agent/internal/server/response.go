package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	kerrors "github.com/go-kratos/kratos/v2/errors"
)

// Response 统一响应格式
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Success 成功响应
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Accepted 已受理响应
func Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, Response{
		Code:    0,
		Message: "accepted",
		Data:    data,
	})
}

// Error 错误响应；kratos错误按其状态码透传，其余折叠为500
func Error(c *gin.Context, err error) {
	ke := kerrors.FromError(err)
	status := int(ke.Code)
	if status < 400 || status > 599 {
		status = http.StatusInternalServerError
	}

	message := ke.Message
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}

	c.JSON(status, Response{
		Code:    status,
		Message: message,
	})
}
