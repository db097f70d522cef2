package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tduarte/cs2server/internal/config"
	"github.com/tduarte/cs2server/internal/db"
	"github.com/tduarte/cs2server/internal/middleware"
	"github.com/tduarte/cs2server/internal/router"
	"github.com/tduarte/cs2server/internal/service"
	"github.com/tduarte/cs2server/internal/sse"
	"github.com/tduarte/cs2server/internal/websocket"
	"github.com/tduarte/cs2server/pkg/rcon"
)

// @title           CS2 Server Console API
// @version         1.0
// @description     CS2 游戏服务器 RCON 管理控制台 API
// @termsOfService  http://swagger.io/terms/

// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT

// @host      localhost:3000
// @BasePath  /

// @securityDefinitions.apikey  ApiKeyAuth
// @in                          header
// @name                        Authorization
// @description                 Bearer 认证, 例如: "Bearer {token}"

func main() {
	// 加载配置
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 初始化数据库，表结构在 InitDB 中迁移
	if err := db.InitDB(cfg); err != nil {
		log.Fatalf("初始化数据库失败: %v", err)
	}
	defer db.CloseDB()

	// 初始化Casbin
	if err := middleware.InitCasbin(db.DB, cfg.CasbinModelPath); err != nil {
		log.Fatalf("初始化Casbin失败: %v", err)
	}

	// 设置初始角色和权限
	if err := service.NewRoleService().SetupInitialRoles(); err != nil {
		log.Printf("设置初始角色和权限失败: %v", err)
	}
	if cfg.AuthEnabled {
		if err := service.NewUserService(cfg).EnsureAdmin(); err != nil {
			log.Fatalf("创建初始管理员失败: %v", err)
		}
	} else {
		log.Println("警告: 认证已关闭，所有请求都以管理员身份执行")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 启动WebSocket管理器和SSE代理
	websocket.GlobalManager.SetAllowedOrigins(cfg.AllowedOrigins)
	websocket.GlobalManager.Start(ctx)
	sse.GlobalBroker.Start(ctx)

	// 创建RCON客户端，连接在第一次需要时建立
	var rconService *service.RconService
	client := rcon.NewClient(cfg.RconHost, cfg.RconPort, cfg.RconPassword, rcon.ClientConfig{
		ConnectTimeout:   cfg.RconTimeout,
		AuthTimeout:      cfg.RconTimeout,
		CommandTimeout:   cfg.RconTimeout,
		DoubleTerminator: cfg.RconDoubleTerminator,
		Logger:           newLogger(cfg.LogLevel),
		OnStateChange: func(from, to rcon.State) {
			rconService.StateChanged(from, to)
		},
	})
	rconService = service.NewRconService(client, cfg, service.Notifiers{sse.GlobalBroker, websocket.GlobalManager})
	rconService.StartStatusMonitoring(ctx, cfg.StatusInterval)

	// 初始化路由
	r := router.SetupRouter(cfg, rconService)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort),
		Handler: r,
	}

	// 启动服务器（非阻塞）
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("监听失败: %v", err)
		}
	}()

	log.Printf("服务器开始运行，监听: %s:%d，RCON目标: %s", cfg.ServerHost, cfg.ServerPort, cfg.RconAddr())

	// 等待中断信号以优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("正在关闭服务器...")

	// 先停止推送，长连接在 Shutdown 之前关闭
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务器被强制关闭: %v", err)
	}
	client.Disconnect()

	log.Println("服务器优雅退出")
}

// newLogger 创建RCON客户端使用的日志，级别无法解析时使用info
func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
