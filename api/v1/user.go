package v1

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tduarte/cs2server/internal/config"
	"github.com/tduarte/cs2server/internal/middleware"
	"github.com/tduarte/cs2server/internal/model"
	"github.com/tduarte/cs2server/internal/service"
)

// UserController 账号相关API控制器
type UserController struct {
	UserService *service.UserService
	Config      *config.Config
}

// NewUserController 创建用户控制器
func NewUserController(cfg *config.Config) *UserController {
	return &UserController{
		UserService: service.NewUserService(cfg),
		Config:      cfg,
	}
}

// setTokenCookie 写入认证Cookie，maxAge 为负数时清除
func (c *UserController) setTokenCookie(ctx *gin.Context, token string, maxAge int) {
	ctx.SetCookie(
		middleware.TokenCookieName,
		token,
		maxAge,
		"/",
		"",
		c.Config.JWTCookieSecure,
		c.Config.JWTCookieHTTPOnly,
	)
}

// userStatusCode 把账号服务的错误映射为HTTP状态码
func userStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrUserNotFound), errors.Is(err, service.ErrRoleNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrUserDisabled):
		return http.StatusForbidden
	case errors.Is(err, service.ErrUserExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func parseUserID(ctx *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, model.ErrorResponse(http.StatusBadRequest, "无效的用户ID"))
		return 0, false
	}
	return uint(id), true
}

// Login 用户登录
// @Summary 用户登录
// @Description 用户登录并获取认证Token
// @Tags 用户管理
// @Accept json
// @Produce json
// @Param login body model.UserLogin true "登录信息"
// @Success 200 {object} model.Response{data=map[string]interface{}} "登录成功"
// @Failure 400 {object} model.Response "请求参数错误"
// @Failure 401 {object} model.Response "认证失败"
// @Failure 403 {object} model.Response "账号已禁用"
// @Router /api/v1/user/login [post]
func (c *UserController) Login(ctx *gin.Context) {
	var req model.UserLogin
	if !bindJSON(ctx, &req) {
		return
	}

	user, token, err := c.UserService.Login(req)
	if err != nil {
		code := userStatusCode(err)
		ctx.JSON(code, model.ErrorResponse(code, "登录失败: "+err.Error()))
		return
	}

	c.setTokenCookie(ctx, token, int(c.Config.JWTExpireTime.Seconds()))
	ctx.JSON(http.StatusOK, model.SuccessResponse(map[string]interface{}{
		"user":  user.ToUserResponse(),
		"token": token,
	}))
}

// Logout 用户登出
// @Summary 用户登出
// @Description 清除用户的认证Cookie
// @Tags 用户管理
// @Produce json
// @Success 200 {object} model.Response "登出成功"
// @Router /api/v1/user/logout [post]
func (c *UserController) Logout(ctx *gin.Context) {
	c.setTokenCookie(ctx, "", -1)
	ctx.JSON(http.StatusOK, model.SuccessResponse(nil))
}

// GetProfile 获取当前用户信息
// @Summary 获取当前用户信息
// @Description 获取当前登录用户的详细信息，认证关闭时返回匿名管理员
// @Tags 用户管理
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} model.Response{data=model.UserResponse} "获取成功"
// @Failure 401 {object} model.Response "未授权"
// @Failure 404 {object} model.Response "用户不存在"
// @Router /api/v1/user/profile [get]
func (c *UserController) GetProfile(ctx *gin.Context) {
	if !c.Config.AuthEnabled {
		ctx.JSON(http.StatusOK, model.SuccessResponse(model.UserResponse{
			Username: middleware.GetCurrentUsername(ctx),
			RoleName: middleware.GetCurrentRole(ctx),
			Status:   1,
		}))
		return
	}

	user, err := c.UserService.GetUserByID(middleware.GetCurrentUserID(ctx))
	if err != nil {
		code := userStatusCode(err)
		ctx.JSON(code, model.ErrorResponse(code, "获取用户信息失败: "+err.Error()))
		return
	}

	ctx.JSON(http.StatusOK, model.SuccessResponse(user.ToUserResponse()))
}

// ChangePassword 修改当前用户密码
// @Summary 修改密码
// @Description 校验旧密码后修改当前用户的密码
// @Tags 用户管理
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param password body model.PasswordChange true "旧密码和新密码"
// @Success 200 {object} model.Response "修改成功"
// @Failure 400 {object} model.Response "请求参数错误"
// @Failure 401 {object} model.Response "旧密码错误"
// @Router /api/v1/user/password [put]
func (c *UserController) ChangePassword(ctx *gin.Context) {
	var req model.PasswordChange
	if !bindJSON(ctx, &req) {
		return
	}

	if err := c.UserService.ChangePassword(middleware.GetCurrentUserID(ctx), req); err != nil {
		code := userStatusCode(err)
		ctx.JSON(code, model.ErrorResponse(code, "修改密码失败: "+err.Error()))
		return
	}

	ctx.JSON(http.StatusOK, model.SuccessResponse(nil))
}

// RefreshToken 刷新JWT令牌
// @Summary 刷新JWT令牌
// @Description 刷新当前用户的JWT认证令牌
// @Tags 用户管理
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} model.Response{data=map[string]string} "刷新成功"
// @Failure 401 {object} model.Response "未授权"
// @Failure 500 {object} model.Response "服务器内部错误"
// @Router /api/v1/user/refresh-token [get]
func (c *UserController) RefreshToken(ctx *gin.Context) {
	token, err := middleware.RefreshToken(ctx, c.Config)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, model.ErrorResponse(http.StatusInternalServerError, "刷新令牌失败: "+err.Error()))
		return
	}

	c.setTokenCookie(ctx, token, int(c.Config.JWTExpireTime.Seconds()))
	ctx.JSON(http.StatusOK, model.SuccessResponse(map[string]string{
		"token": token,
	}))
}

// ListUsers 获取用户列表
// @Summary 获取用户列表
// @Description 管理员获取系统中的账号列表
// @Tags 用户管理
// @Produce json
// @Security ApiKeyAuth
// @Param page query int false "页码" default(1)
// @Param pageSize query int false "每页数量" default(10)
// @Success 200 {object} model.PagedResponse{items=[]model.UserResponse} "获取成功"
// @Failure 401 {object} model.Response "未授权"
// @Failure 403 {object} model.Response "权限不足"
// @Failure 500 {object} model.Response "服务器内部错误"
// @Router /api/v1/users [get]
func (c *UserController) ListUsers(ctx *gin.Context) {
	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(ctx.DefaultQuery("pageSize", "10"))

	users, total, err := c.UserService.ListUsers(page, pageSize)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, model.ErrorResponse(http.StatusInternalServerError, "获取用户列表失败: "+err.Error()))
		return
	}

	userResponses := make([]model.UserResponse, 0, len(users))
	for i := range users {
		userResponses = append(userResponses, users[i].ToUserResponse())
	}

	ctx.JSON(http.StatusOK, model.NewPagedResponse(total, pageSize, page, userResponses))
}

// CreateUser 创建账号
// @Summary 创建账号
// @Description 管理员创建账号并指定角色
// @Tags 用户管理
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param user body model.UserCreate true "账号信息"
// @Success 200 {object} model.Response{data=model.UserResponse} "创建成功"
// @Failure 400 {object} model.Response "请求参数错误"
// @Failure 403 {object} model.Response "权限不足"
// @Failure 409 {object} model.Response "用户名已存在"
// @Router /api/v1/users [post]
func (c *UserController) CreateUser(ctx *gin.Context) {
	var req model.UserCreate
	if !bindJSON(ctx, &req) {
		return
	}

	user, err := c.UserService.CreateUser(req)
	if err != nil {
		code := userStatusCode(err)
		ctx.JSON(code, model.ErrorResponse(code, "创建账号失败: "+err.Error()))
		return
	}

	ctx.JSON(http.StatusOK, model.SuccessResponse(user.ToUserResponse()))
}

// ChangeUserRole 更改用户角色
// @Summary 更改用户角色
// @Description 管理员更改指定用户的角色
// @Tags 用户管理
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "用户ID"
// @Param role body model.RoleChange true "新的角色名"
// @Success 200 {object} model.Response "更改成功"
// @Failure 400 {object} model.Response "请求参数错误"
// @Failure 403 {object} model.Response "权限不足"
// @Failure 404 {object} model.Response "用户或角色不存在"
// @Router /api/v1/users/{id}/role [put]
func (c *UserController) ChangeUserRole(ctx *gin.Context) {
	id, ok := parseUserID(ctx)
	if !ok {
		return
	}

	var req model.RoleChange
	if !bindJSON(ctx, &req) {
		return
	}

	if err := c.UserService.ChangeUserRole(id, req.Role); err != nil {
		code := userStatusCode(err)
		ctx.JSON(code, model.ErrorResponse(code, "更改用户角色失败: "+err.Error()))
		return
	}

	ctx.JSON(http.StatusOK, model.SuccessResponse(nil))
}

// EnableUser 启用用户
// @Summary 启用用户
// @Description 管理员启用指定用户账号
// @Tags 用户管理
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "用户ID"
// @Success 200 {object} model.Response "启用成功"
// @Failure 400 {object} model.Response "请求参数错误"
// @Failure 404 {object} model.Response "用户不存在"
// @Router /api/v1/users/{id}/enable [put]
func (c *UserController) EnableUser(ctx *gin.Context) {
	c.setStatus(ctx, true)
}

// DisableUser 禁用用户
// @Summary 禁用用户
// @Description 管理员禁用指定用户账号，不能禁用自己
// @Tags 用户管理
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "用户ID"
// @Success 200 {object} model.Response "禁用成功"
// @Failure 400 {object} model.Response "请求参数错误"
// @Failure 404 {object} model.Response "用户不存在"
// @Router /api/v1/users/{id}/disable [put]
func (c *UserController) DisableUser(ctx *gin.Context) {
	c.setStatus(ctx, false)
}

func (c *UserController) setStatus(ctx *gin.Context, enabled bool) {
	id, ok := parseUserID(ctx)
	if !ok {
		return
	}

	// 确保不能禁用自己
	if !enabled && middleware.GetCurrentUserID(ctx) == id {
		ctx.JSON(http.StatusBadRequest, model.ErrorResponse(http.StatusBadRequest, "不能禁用自己的账号"))
		return
	}

	if err := c.UserService.SetUserStatus(id, enabled); err != nil {
		code := userStatusCode(err)
		ctx.JSON(code, model.ErrorResponse(code, "修改账号状态失败: "+err.Error()))
		return
	}

	ctx.JSON(http.StatusOK, model.SuccessResponse(nil))
}

// DeleteUser 删除用户
// @Summary 删除用户
// @Description 管理员删除指定账号，不能删除自己
// @Tags 用户管理
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "用户ID"
// @Success 200 {object} model.Response "删除成功"
// @Failure 400 {object} model.Response "请求参数错误"
// @Failure 403 {object} model.Response "权限不足"
// @Router /api/v1/users/{id} [delete]
func (c *UserController) DeleteUser(ctx *gin.Context) {
	id, ok := parseUserID(ctx)
	if !ok {
		return
	}

	if middleware.GetCurrentUserID(ctx) == id {
		ctx.JSON(http.StatusBadRequest, model.ErrorResponse(http.StatusBadRequest, "不能删除自己的账号"))
		return
	}

	if err := c.UserService.DeleteUser(id); err != nil {
		ctx.JSON(http.StatusInternalServerError, model.ErrorResponse(http.StatusInternalServerError, "删除用户失败: "+err.Error()))
		return
	}

	ctx.JSON(http.StatusOK, model.SuccessResponse(nil))
}
