package model

import "time"

// 命令来源
const (
	SourceAPI       = "api"
	SourceWebSocket = "websocket"
)

// 命令记录分页
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// CommandQuery 命令记录查询参数
type CommandQuery struct {
	Page     int    `form:"page"`
	PageSize int    `form:"pageSize"`
	Username string `form:"username"`
}

// CommandLog 一条已执行命令的审计记录
type CommandLog struct {
	ID         string    `gorm:"size:36;primaryKey" json:"id"`
	Username   string    `gorm:"size:50;index" json:"username"`
	Source     string    `gorm:"size:20" json:"source"`
	Command    string    `gorm:"size:512;not null" json:"command"`
	Response   string    `gorm:"type:text" json:"response"`
	Success    bool      `json:"success"`
	Error      string    `gorm:"size:512" json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

// ExecuteRequest 执行任意命令
type ExecuteRequest struct {
	Command string `json:"command" binding:"required"`
}

// ConfigSwitchRequest 切换服务器配置
type ConfigSwitchRequest struct {
	Config string `json:"config" binding:"required"`
}

// KickRequest 踢出玩家
type KickRequest struct {
	UserID string `json:"userId" binding:"required"`
	Reason string `json:"reason"`
}

// MapChangeRequest 更换地图
type MapChangeRequest struct {
	Map string `json:"map" binding:"required"`
}

// CommandResult 命令执行结果
type CommandResult struct {
	Command  string `json:"command"`
	Response string `json:"response"`
}

// ServerStatus 服务器状态，Raw 是 status 命令的原始输出
type ServerStatus struct {
	Connected bool      `json:"connected"`
	State     string    `json:"state"`
	Raw       string    `json:"raw"`
	CheckedAt time.Time `json:"checked_at"`
}

// ConnectionInfo 玩家连接服务器所需的信息
type ConnectionInfo struct {
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	Password string `json:"password,omitempty"`
	Connect  string `json:"connect"` // 可直接粘贴到游戏控制台的命令
}
