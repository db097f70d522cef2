package v1

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tduarte/cs2server/internal/model"
	"github.com/tduarte/cs2server/internal/service"
)

// RoleController 角色相关API控制器，角色是固定的，只提供查询
type RoleController struct {
	RoleService *service.RoleService
}

// NewRoleController 创建角色控制器
func NewRoleController() *RoleController {
	return &RoleController{
		RoleService: service.NewRoleService(),
	}
}

// ListRoles 获取角色列表
// @Summary 获取角色列表
// @Description 获取系统中的角色列表
// @Tags 角色管理
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} model.Response{data=[]model.Role} "获取成功"
// @Failure 401 {object} model.Response "未授权"
// @Failure 403 {object} model.Response "权限不足"
// @Failure 500 {object} model.Response "服务器内部错误"
// @Router /api/v1/roles [get]
func (c *RoleController) ListRoles(ctx *gin.Context) {
	roles, err := c.RoleService.ListRoles()
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, model.ErrorResponse(http.StatusInternalServerError, "获取角色列表失败: "+err.Error()))
		return
	}

	ctx.JSON(http.StatusOK, model.SuccessResponse(roles))
}

// GetRolePermissions 获取角色权限
// @Summary 获取角色权限
// @Description 获取角色的所有权限，包括继承得到的权限
// @Tags 角色管理
// @Produce json
// @Security ApiKeyAuth
// @Param name path string true "角色名"
// @Success 200 {object} model.Response{data=[]map[string]string} "获取成功"
// @Failure 401 {object} model.Response "未授权"
// @Failure 403 {object} model.Response "权限不足"
// @Failure 404 {object} model.Response "角色不存在"
// @Router /api/v1/roles/{name}/permissions [get]
func (c *RoleController) GetRolePermissions(ctx *gin.Context) {
	name := ctx.Param("name")
	if _, err := c.RoleService.GetRoleByName(name); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, service.ErrRoleNotFound) {
			code = http.StatusNotFound
		}
		ctx.JSON(code, model.ErrorResponse(code, "获取角色失败: "+err.Error()))
		return
	}

	policies, err := c.RoleService.GetRolePermissions(name)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, model.ErrorResponse(http.StatusInternalServerError, "获取角色权限失败: "+err.Error()))
		return
	}

	permissions := make([]map[string]string, 0, len(policies))
	for _, p := range policies {
		if len(p) < 3 {
			continue
		}
		permissions = append(permissions, map[string]string{
			"role":   p[0],
			"path":   p[1],
			"method": p[2],
		})
	}

	ctx.JSON(http.StatusOK, model.SuccessResponse(permissions))
}
