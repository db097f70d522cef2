package v1

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tduarte/cs2server/internal/middleware"
	"github.com/tduarte/cs2server/internal/model"
	"github.com/tduarte/cs2server/internal/service"
)

// RconController 游戏服务器控制台API控制器
type RconController struct {
	RconService *service.RconService
}

// NewRconController 创建控制台控制器
func NewRconController(svc *service.RconService) *RconController {
	return &RconController{RconService: svc}
}

// EnsureConnected 需要RCON的路由先建立连接，失败时返回503
func (c *RconController) EnsureConnected() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if err := c.RconService.EnsureConnected(ctx.Request.Context()); err != nil {
			resp := model.ErrorDetailResponse(http.StatusServiceUnavailable, "无法连接到CS2服务器", err)
			resp.Hint = service.StartupHint
			ctx.AbortWithStatusJSON(http.StatusServiceUnavailable, resp)
			return
		}
		ctx.Next()
	}
}

// respondError 把服务层错误映射为HTTP响应
func respondError(ctx *gin.Context, message string, err error) {
	var validationErr *service.ValidationError
	var connectErr *service.ConnectError

	switch {
	case errors.As(err, &validationErr):
		ctx.JSON(http.StatusBadRequest, model.ErrorDetailResponse(http.StatusBadRequest, validationErr.Message, err))
	case errors.As(err, &connectErr):
		resp := model.ErrorDetailResponse(http.StatusServiceUnavailable, "无法连接到CS2服务器", err)
		resp.Hint = service.StartupHint
		ctx.JSON(http.StatusServiceUnavailable, resp)
	default:
		ctx.JSON(http.StatusInternalServerError, model.ErrorDetailResponse(http.StatusInternalServerError, message, err))
	}
}

// Status 获取服务器状态
// @Summary 获取服务器状态
// @Description 执行 status 命令，返回连接状态和截断到500个字符的原始输出
// @Tags 服务器控制
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} model.Response{data=model.ServerStatus} "获取成功"
// @Failure 503 {object} model.Response "无法连接到服务器"
// @Failure 500 {object} model.Response "命令执行失败"
// @Router /api/v1/status [get]
func (c *RconController) Status(ctx *gin.Context) {
	status, err := c.RconService.Status(ctx.Request.Context())
	if err != nil {
		respondError(ctx, "获取服务器状态失败", err)
		return
	}
	ctx.JSON(http.StatusOK, model.SuccessResponse(status))
}

// Execute 执行任意控制台命令
// @Summary 执行命令
// @Description 在游戏服务器上执行一条控制台命令
// @Tags 服务器控制
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param command body model.ExecuteRequest true "命令"
// @Success 200 {object} model.Response{data=model.CommandResult} "执行成功"
// @Failure 400 {object} model.Response "请求参数错误"
// @Failure 503 {object} model.Response "无法连接到服务器"
// @Failure 500 {object} model.Response "命令执行失败"
// @Router /api/v1/execute [post]
func (c *RconController) Execute(ctx *gin.Context) {
	var req model.ExecuteRequest
	if !bindJSON(ctx, &req) {
		return
	}

	response, err := c.RconService.Execute(ctx.Request.Context(), middleware.GetCurrentUsername(ctx), model.SourceAPI, req.Command)
	if err != nil {
		respondError(ctx, "命令执行失败", err)
		return
	}
	ctx.JSON(http.StatusOK, model.SuccessResponse(model.CommandResult{
		Command:  req.Command,
		Response: response,
	}))
}

// SwitchConfig 切换服务器配置
// @Summary 切换服务器配置
// @Description 执行 exec <config>，可选 warmup、competitive、competitive_workshop
// @Tags 服务器控制
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param config body model.ConfigSwitchRequest true "配置名"
// @Success 200 {object} model.Response{data=model.CommandResult} "切换成功"
// @Failure 400 {object} model.Response "无效的配置"
// @Failure 503 {object} model.Response "无法连接到服务器"
// @Router /api/v1/config/switch [post]
func (c *RconController) SwitchConfig(ctx *gin.Context) {
	var req model.ConfigSwitchRequest
	if !bindJSON(ctx, &req) {
		return
	}

	result, err := c.RconService.SwitchConfig(ctx.Request.Context(), middleware.GetCurrentUsername(ctx), req.Config)
	if err != nil {
		respondError(ctx, "切换配置失败", err)
		return
	}
	ctx.JSON(http.StatusOK, model.SuccessResponse(result))
}

// KickPlayer 踢出玩家
// @Summary 踢出玩家
// @Description 执行 kickid <userId> ["reason"]
// @Tags 服务器控制
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param kick body model.KickRequest true "玩家ID和原因"
// @Success 200 {object} model.Response{data=model.CommandResult} "踢出成功"
// @Failure 400 {object} model.Response "请求参数错误"
// @Failure 503 {object} model.Response "无法连接到服务器"
// @Router /api/v1/players/kick [post]
func (c *RconController) KickPlayer(ctx *gin.Context) {
	var req model.KickRequest
	if !bindJSON(ctx, &req) {
		return
	}

	result, err := c.RconService.KickPlayer(ctx.Request.Context(), middleware.GetCurrentUsername(ctx), req.UserID, req.Reason)
	if err != nil {
		respondError(ctx, "踢出玩家失败", err)
		return
	}
	ctx.JSON(http.StatusOK, model.SuccessResponse(result))
}

// ChangeMap 更换地图
// @Summary 更换地图
// @Description 执行 changelevel <map>
// @Tags 服务器控制
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param map body model.MapChangeRequest true "地图名"
// @Success 200 {object} model.Response{data=model.CommandResult} "更换成功"
// @Failure 400 {object} model.Response "请求参数错误"
// @Failure 503 {object} model.Response "无法连接到服务器"
// @Router /api/v1/maps/change [post]
func (c *RconController) ChangeMap(ctx *gin.Context) {
	var req model.MapChangeRequest
	if !bindJSON(ctx, &req) {
		return
	}

	result, err := c.RconService.ChangeMap(ctx.Request.Context(), middleware.GetCurrentUsername(ctx), req.Map)
	if err != nil {
		respondError(ctx, "更换地图失败", err)
		return
	}
	ctx.JSON(http.StatusOK, model.SuccessResponse(result))
}

// Disconnect 断开RCON连接
// @Summary 断开RCON连接
// @Description 主动断开与游戏服务器的连接，下一次请求会重新连接
// @Tags 服务器控制
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} model.Response "已断开"
// @Router /api/v1/rcon/disconnect [post]
func (c *RconController) Disconnect(ctx *gin.Context) {
	c.RconService.Disconnect(middleware.GetCurrentUsername(ctx))
	ctx.JSON(http.StatusOK, model.SuccessResponse(nil))
}

// ConnectionInfo 获取玩家连接信息
// @Summary 获取玩家连接信息
// @Description 返回服务器地址、端口、加入密码和可直接粘贴的 connect 命令
// @Tags 服务器控制
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} model.Response{data=model.ConnectionInfo} "获取成功"
// @Router /api/v1/server/connection [get]
func (c *RconController) ConnectionInfo(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, model.SuccessResponse(c.RconService.ConnectionInfo()))
}

// ListCommands 获取命令记录
// @Summary 获取命令记录
// @Description 分页查询已执行命令的审计记录
// @Tags 服务器控制
// @Produce json
// @Security ApiKeyAuth
// @Param page query int false "页码" default(1)
// @Param pageSize query int false "每页数量" default(20)
// @Param username query string false "只看某个用户"
// @Success 200 {object} model.PagedResponse{items=[]model.CommandLog} "获取成功"
// @Failure 400 {object} model.Response "分页参数错误"
// @Failure 500 {object} model.Response "服务器内部错误"
// @Router /api/v1/commands [get]
func (c *RconController) ListCommands(ctx *gin.Context) {
	query := model.CommandQuery{Page: 1, PageSize: model.DefaultPageSize}
	if err := ctx.ShouldBindQuery(&query); err != nil {
		ctx.JSON(http.StatusBadRequest, model.ErrorDetailResponse(http.StatusBadRequest, "无效的分页参数", err))
		return
	}

	logs, total, err := c.RconService.ListCommands(&query)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, model.ErrorResponse(http.StatusInternalServerError, "获取命令记录失败: "+err.Error()))
		return
	}
	ctx.JSON(http.StatusOK, model.NewPagedResponse(total, query.PageSize, query.Page, logs))
}
