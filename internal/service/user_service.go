package service

import (
	"errors"
	"log"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/tduarte/cs2server/internal/config"
	"github.com/tduarte/cs2server/internal/db"
	"github.com/tduarte/cs2server/internal/middleware"
	"github.com/tduarte/cs2server/internal/model"
)

var (
	// ErrUserNotFound 用户不存在
	ErrUserNotFound = errors.New("用户不存在")
	// ErrInvalidCredentials 用户名或密码错误
	ErrInvalidCredentials = errors.New("用户名或密码错误")
	// ErrUserDisabled 账号已禁用
	ErrUserDisabled = errors.New("账号已禁用")
	// ErrUserExists 用户名已存在
	ErrUserExists = errors.New("用户名已存在")
)

// UserService 提供账号相关功能
type UserService struct {
	Config *config.Config
	Roles  *RoleService
}

// NewUserService 创建用户服务实例
func NewUserService(cfg *config.Config) *UserService {
	return &UserService{
		Config: cfg,
		Roles:  NewRoleService(),
	}
}

// Login 用户登录，成功时返回用户和Token
func (s *UserService) Login(login model.UserLogin) (*model.User, string, error) {
	var user model.User
	if err := db.DB.Preload("Role").Where("username = ?", login.Username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(login.Password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}
	if user.Status != 1 {
		return nil, "", ErrUserDisabled
	}

	user.LastLogin = time.Now()
	if err := db.DB.Model(&user).Update("last_login", user.LastLogin).Error; err != nil {
		return nil, "", err
	}

	token, err := middleware.GenerateToken(user, s.Config)
	if err != nil {
		return nil, "", err
	}
	return &user, token, nil
}

// GetUserByID 根据ID获取用户
func (s *UserService) GetUserByID(id uint) (*model.User, error) {
	var user model.User
	if err := db.DB.Preload("Role").First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// CreateUser 创建账号
func (s *UserService) CreateUser(req model.UserCreate) (*model.User, error) {
	var count int64
	if err := db.DB.Model(&model.User{}).Where("username = ?", req.Username).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrUserExists
	}

	role, err := s.Roles.GetRoleByName(req.Role)
	if err != nil {
		return nil, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := model.User{
		Username: req.Username,
		Password: string(hashed),
		RoleID:   role.ID,
		Role:     *role,
		Status:   1,
	}
	if err := db.DB.Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// ChangePassword 校验旧密码后修改密码
func (s *UserService) ChangePassword(id uint, req model.PasswordChange) error {
	user, err := s.GetUserByID(id)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.OldPassword)); err != nil {
		return ErrInvalidCredentials
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return db.DB.Model(user).Update("password", string(hashed)).Error
}

// ChangeUserRole 更改用户角色
func (s *UserService) ChangeUserRole(userID uint, roleName string) error {
	if _, err := s.GetUserByID(userID); err != nil {
		return err
	}
	role, err := s.Roles.GetRoleByName(roleName)
	if err != nil {
		return err
	}
	return db.DB.Model(&model.User{}).Where("id = ?", userID).Update("role_id", role.ID).Error
}

// SetUserStatus 启用或禁用账号
func (s *UserService) SetUserStatus(id uint, enabled bool) error {
	status := 0
	if enabled {
		status = 1
	}
	result := db.DB.Model(&model.User{}).Where("id = ?", id).Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ListUsers 获取用户列表（分页）
func (s *UserService) ListUsers(page, pageSize int) ([]model.User, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}

	var users []model.User
	var total int64
	query := db.DB.Model(&model.User{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Preload("Role").Order("id").Offset((page - 1) * pageSize).Limit(pageSize).Find(&users).Error; err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// DeleteUser 删除用户
func (s *UserService) DeleteUser(id uint) error {
	return db.DB.Delete(&model.User{}, id).Error
}

// EnsureAdmin 没有任何账号时创建初始管理员
func (s *UserService) EnsureAdmin() error {
	var count int64
	if err := db.DB.Model(&model.User{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if s.Config.AdminPassword == "changeme" {
		log.Printf("警告: 管理员 %s 正在使用默认密码，请通过 ADMIN_PASSWORD 修改", s.Config.AdminUsername)
	}
	_, err := s.CreateUser(model.UserCreate{
		Username: s.Config.AdminUsername,
		Password: s.Config.AdminPassword,
		Role:     model.RoleAdmin,
	})
	if err == nil {
		log.Printf("已创建初始管理员: %s", s.Config.AdminUsername)
	}
	return err
}
