package middleware

import (
	"fmt"
	"net/http"

	"github.com/casbin/casbin/v2"
	casbinmodel "github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tduarte/cs2server/internal/model"
)

// rbacModel 角色可以继承其他角色的权限，路径支持 keyMatch2 通配
const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch2(r.obj, p.obj) && (r.act == p.act || p.act == "*")
`

var (
	enforcer *casbin.Enforcer
)

// InitCasbin 使用数据库保存策略初始化Casbin，modelPath 为空时使用内置模型
func InitCasbin(conn *gorm.DB, modelPath string) error {
	adapter, err := gormadapter.NewAdapterByDB(conn)
	if err != nil {
		return fmt.Errorf("创建Casbin适配器失败: %w", err)
	}

	var m casbinmodel.Model
	if modelPath != "" {
		m, err = casbinmodel.NewModelFromFile(modelPath)
	} else {
		m, err = casbinmodel.NewModelFromString(rbacModel)
	}
	if err != nil {
		return fmt.Errorf("加载Casbin模型失败: %w", err)
	}

	e, err := casbin.NewEnforcer(m, adapter)
	if err != nil {
		return err
	}
	if err := e.LoadPolicy(); err != nil {
		return err
	}

	enforcer = e
	return nil
}

// GetEnforcer 获取Casbin执行器
func GetEnforcer() *casbin.Enforcer {
	return enforcer
}

// Can 检查角色是否可以对路径执行操作
func Can(role, path, method string) bool {
	if enforcer == nil {
		return false
	}
	ok, err := enforcer.Enforce(role, path, method)
	return err == nil && ok
}

// Authorize 授权中间件
func Authorize() gin.HandlerFunc {
	return func(c *gin.Context) {
		if enforcer == nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, model.ErrorResponse(http.StatusInternalServerError, "权限系统未初始化"))
			return
		}

		role := GetCurrentRole(c)
		if role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, model.ErrorResponse(http.StatusUnauthorized, "未授权: 无法获取用户角色"))
			return
		}

		ok, err := enforcer.Enforce(role, c.Request.URL.Path, c.Request.Method)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, model.ErrorResponse(http.StatusInternalServerError, "权限检查失败: "+err.Error()))
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, model.ErrorResponse(http.StatusForbidden, "权限不足: 无权访问此资源"))
			return
		}

		c.Next()
	}
}
