package router

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	v1 "github.com/tduarte/cs2server/api/v1"
	"github.com/tduarte/cs2server/internal/config"
	"github.com/tduarte/cs2server/internal/middleware"
	"github.com/tduarte/cs2server/internal/service"
	"github.com/tduarte/cs2server/internal/sse"
	"github.com/tduarte/cs2server/internal/websocket"
)

// SetupRouter 设置路由
func SetupRouter(cfg *config.Config, rconService *service.RconService) *gin.Engine {
	// 设置Gin模式
	gin.SetMode(cfg.Mode)

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// 配置跨域
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.AllowedOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	r.Use(cors.New(corsConfig))

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "欢迎使用CS2服务器控制台API",
		})
	})

	// 健康检查，不访问游戏服务器
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":         "ok",
			"rcon_connected": rconService.Client.IsConnected(),
			"rcon_state":     rconService.Client.State().String(),
		})
	})

	// API文档
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	userController := v1.NewUserController(cfg)
	roleController := v1.NewRoleController()
	rconController := v1.NewRconController(rconService)
	realtimeController := v1.NewRealtimeController(websocket.GlobalManager, sse.GlobalBroker, rconService)

	api := r.Group("/api/v1")
	{
		// 公开路由
		api.POST("/user/login", userController.Login)
		api.POST("/user/logout", userController.Logout)

		// 需要认证的路由
		auth := api.Group("")
		auth.Use(middleware.JWTAuth(cfg))
		{
			auth.GET("/user/profile", userController.GetProfile)
			auth.PUT("/user/password", userController.ChangePassword)
			auth.GET("/user/refresh-token", userController.RefreshToken)

			// 实时通信，WebSocket 内的命令单独检查权限
			auth.GET("/ws", realtimeController.HandleWebSocket)
			auth.GET("/sse", realtimeController.HandleSSE)
			auth.GET("/realtime/stats", realtimeController.GetRealtimeStats)

			// 需要权限验证的路由
			authorized := auth.Group("")
			authorized.Use(middleware.Authorize())
			{
				authorized.GET("/server/connection", rconController.ConnectionInfo)
				authorized.GET("/commands", rconController.ListCommands)
				authorized.POST("/rcon/disconnect", rconController.Disconnect)

				// 需要RCON连接的路由
				rcon := authorized.Group("")
				rcon.Use(rconController.EnsureConnected())
				{
					rcon.GET("/status", rconController.Status)
					rcon.POST("/execute", rconController.Execute)
					rcon.POST("/config/switch", rconController.SwitchConfig)
					rcon.POST("/players/kick", rconController.KickPlayer)
					rcon.POST("/maps/change", rconController.ChangeMap)
				}

				// 账号管理
				authorized.GET("/users", userController.ListUsers)
				authorized.POST("/users", userController.CreateUser)
				authorized.DELETE("/users/:id", userController.DeleteUser)
				authorized.PUT("/users/:id/disable", userController.DisableUser)
				authorized.PUT("/users/:id/enable", userController.EnableUser)
				authorized.PUT("/users/:id/role", userController.ChangeUserRole)

				// 角色查询
				authorized.GET("/roles", roleController.ListRoles)
				authorized.GET("/roles/:name/permissions", roleController.GetRolePermissions)
			}
		}
	}

	return r
}
