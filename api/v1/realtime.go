package v1

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tduarte/cs2server/internal/middleware"
	"github.com/tduarte/cs2server/internal/model"
	"github.com/tduarte/cs2server/internal/sse"
	"github.com/tduarte/cs2server/internal/websocket"
)

// RealtimeController 实时通信相关API控制器
type RealtimeController struct {
	Manager *websocket.Manager
	Broker  *sse.Broker
	Runner  websocket.CommandRunner
}

// NewRealtimeController 创建实时通信控制器
func NewRealtimeController(manager *websocket.Manager, broker *sse.Broker, runner websocket.CommandRunner) *RealtimeController {
	return &RealtimeController{
		Manager: manager,
		Broker:  broker,
		Runner:  runner,
	}
}

// HandleWebSocket 处理WebSocket连接
// @Summary WebSocket控制台
// @Description 建立WebSocket长连接，发送 command 消息执行命令，接收 response 和服务器事件
// @Tags 实时通信
// @Param token query string false "浏览器无法设置请求头时通过查询参数传递Token"
// @Security ApiKeyAuth
// @Success 101 {string} string "切换为WebSocket协议"
// @Failure 401 {object} model.Response "未授权"
// @Router /api/v1/ws [get]
func (c *RealtimeController) HandleWebSocket(ctx *gin.Context) {
	c.Manager.HandleWebSocket(ctx, c.Runner)
}

// HandleSSE 处理服务器发送事件(SSE)
// @Summary SSE事件流
// @Description 接收连接状态、服务器状态和命令记录事件，topic 可选 state、status、command
// @Tags 实时通信
// @Param topic query string false "逗号分隔的主题"
// @Security ApiKeyAuth
// @Success 200 {string} string "SSE数据流"
// @Failure 401 {object} model.Response "未授权"
// @Router /api/v1/sse [get]
func (c *RealtimeController) HandleSSE(ctx *gin.Context) {
	c.Broker.ServeHTTP(ctx)
}

// GetRealtimeStats 获取实时连接统计
// @Summary 获取实时连接统计
// @Description 获取WebSocket和SSE的连接数
// @Tags 实时通信
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} model.Response "获取成功"
// @Failure 401 {object} model.Response "未授权"
// @Router /api/v1/realtime/stats [get]
func (c *RealtimeController) GetRealtimeStats(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, model.SuccessResponse(map[string]interface{}{
		"websocket_total": c.Manager.GetClientCount(),
		"sse_total":       c.Broker.GetClientCount(),
		"timestamp":       time.Now().Format(time.RFC3339),
		"username":        middleware.GetCurrentUsername(ctx),
	}))
}
