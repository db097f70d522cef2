package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tduarte/cs2server/internal/model"
)

// bindJSON 解析请求体，失败时直接写入400响应
func bindJSON(ctx *gin.Context, req interface{}) bool {
	if err := ctx.ShouldBindJSON(req); err != nil {
		ctx.JSON(http.StatusBadRequest, model.ErrorDetailResponse(http.StatusBadRequest, "无效的请求参数", err))
		return false
	}
	return true
}
