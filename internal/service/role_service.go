package service

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/tduarte/cs2server/internal/db"
	"github.com/tduarte/cs2server/internal/middleware"
	"github.com/tduarte/cs2server/internal/model"
)

// ErrRoleNotFound 角色不存在
var ErrRoleNotFound = errors.New("角色不存在")

// rolePolicies 每个角色自己的权限，继承的权限不在这里重复
var rolePolicies = map[string][][2]string{
	model.RoleViewer: {
		{"/api/v1/status", "GET"},
		{"/api/v1/server/connection", "GET"},
		{"/api/v1/commands", "GET"},
	},
	model.RoleOperator: {
		{"/api/v1/execute", "POST"},
		{"/api/v1/config/switch", "POST"},
		{"/api/v1/players/kick", "POST"},
		{"/api/v1/maps/change", "POST"},
		{"/api/v1/rcon/disconnect", "POST"},
	},
	model.RoleAdmin: {
		{"/api/v1/*", "*"},
	},
}

// roleInheritance 子角色 -> 父角色
var roleInheritance = [][2]string{
	{model.RoleOperator, model.RoleViewer},
	{model.RoleAdmin, model.RoleOperator},
}

var roleDescriptions = map[string]string{
	model.RoleAdmin:    "管理员，可以管理账号",
	model.RoleOperator: "操作员，可以执行命令",
	model.RoleViewer:   "观察者，只能查看状态",
}

// RoleService 提供角色相关功能
type RoleService struct{}

// NewRoleService 创建角色服务实例
func NewRoleService() *RoleService {
	return &RoleService{}
}

// GetRoleByName 根据名称获取角色
func (s *RoleService) GetRoleByName(name string) (*model.Role, error) {
	var role model.Role
	if err := db.DB.Where("name = ?", name).First(&role).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoleNotFound
		}
		return nil, err
	}
	return &role, nil
}

// ListRoles 获取所有角色
func (s *RoleService) ListRoles() ([]model.Role, error) {
	var roles []model.Role
	if err := db.DB.Order("id").Find(&roles).Error; err != nil {
		return nil, err
	}
	return roles, nil
}

// GetRolePermissions 获取角色的全部权限，包括继承的权限
func (s *RoleService) GetRolePermissions(roleName string) ([][]string, error) {
	enforcer := middleware.GetEnforcer()
	if enforcer == nil {
		return nil, errors.New("权限系统未初始化")
	}
	return enforcer.GetImplicitPermissionsForUser(roleName)
}

// SetupInitialRoles 创建内置角色并重建权限策略
func (s *RoleService) SetupInitialRoles() error {
	for _, name := range []string{model.RoleViewer, model.RoleOperator, model.RoleAdmin} {
		if _, err := s.GetRoleByName(name); err == nil {
			continue
		} else if !errors.Is(err, ErrRoleNotFound) {
			return fmt.Errorf("检查角色 %s 失败: %w", name, err)
		}

		role := model.Role{Name: name, Description: roleDescriptions[name]}
		if err := db.DB.Create(&role).Error; err != nil {
			return fmt.Errorf("创建角色 %s 失败: %w", name, err)
		}
	}

	enforcer := middleware.GetEnforcer()
	if enforcer == nil {
		return errors.New("权限系统未初始化")
	}

	// 内置策略每次启动都会重建，最后由 SavePolicy 整体写回数据库
	enforcer.EnableAutoSave(false)
	defer enforcer.EnableAutoSave(true)
	enforcer.ClearPolicy()
	for role, policies := range rolePolicies {
		for _, p := range policies {
			if _, err := enforcer.AddPolicy(role, p[0], p[1]); err != nil {
				return fmt.Errorf("添加策略失败: %w", err)
			}
		}
	}
	for _, g := range roleInheritance {
		if _, err := enforcer.AddGroupingPolicy(g[0], g[1]); err != nil {
			return fmt.Errorf("添加角色继承失败: %w", err)
		}
	}

	return enforcer.SavePolicy()
}
