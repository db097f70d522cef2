package model

import (
	"time"

	"gorm.io/gorm"
)

// 内置角色
const (
	RoleAdmin    = "admin"    // 全部权限，包括账号管理
	RoleOperator = "operator" // 可以执行命令、换图、踢人
	RoleViewer   = "viewer"   // 只能查看状态和命令记录
)

// User 控制台账号
type User struct {
	gorm.Model
	Username  string    `gorm:"size:50;not null;uniqueIndex" json:"username"`
	Password  string    `gorm:"size:100;not null" json:"-"`
	RoleID    uint      `json:"role_id"`
	Role      Role      `gorm:"foreignKey:RoleID" json:"role"`
	LastLogin time.Time `json:"last_login"`
	Status    int       `gorm:"default:1" json:"status"` // 1: 活跃, 0: 禁用
}

// Role 角色模型
type Role struct {
	gorm.Model
	Name        string `gorm:"size:50;not null;uniqueIndex" json:"name"`
	Description string `gorm:"size:200" json:"description"`
	Users       []User `gorm:"foreignKey:RoleID" json:"-"`
}

// UserLogin 登录请求
type UserLogin struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// UserCreate 管理员创建账号的请求
type UserCreate struct {
	Username string `json:"username" binding:"required,min=3,max=30"`
	Password string `json:"password" binding:"required,min=6"`
	Role     string `json:"role" binding:"required,oneof=admin operator viewer"`
}

// PasswordChange 修改密码请求
type PasswordChange struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=6"`
}

// RoleChange 修改账号角色请求
type RoleChange struct {
	Role string `json:"role" binding:"required,oneof=admin operator viewer"`
}

// UserResponse 用户响应数据（不包含敏感信息）
type UserResponse struct {
	ID        uint      `json:"id"`
	Username  string    `json:"username"`
	RoleName  string    `json:"role_name"`
	CreatedAt time.Time `json:"created_at"`
	LastLogin time.Time `json:"last_login"`
	Status    int       `json:"status"`
}

// ToUserResponse 将User转换为UserResponse
func (u *User) ToUserResponse() UserResponse {
	return UserResponse{
		ID:        u.ID,
		Username:  u.Username,
		RoleName:  u.Role.Name,
		CreatedAt: u.CreatedAt,
		LastLogin: u.LastLogin,
		Status:    u.Status,
	}
}
