package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tduarte/cs2server/internal/config"
	"github.com/tduarte/cs2server/internal/db"
	"github.com/tduarte/cs2server/internal/model"
	"github.com/tduarte/cs2server/pkg/rcon"
)

const (
	// StatusRawLimit 是状态接口返回的 status 原始输出的最大字符数
	StatusRawLimit = 500

	// StartupHint 在无法连接游戏服务器时返回给操作员
	StartupHint = "CS2 服务器可能仍在启动中，请稍后重试"
)

// 通知事件名
const (
	EventCommand = "command"
	EventState   = "state"
	EventStatus  = "status"
)

// ValidConfigs 是可以通过 exec 切换的服务器配置
var ValidConfigs = []string{"warmup", "competitive", "competitive_workshop"}

var (
	mapNamePattern  = regexp.MustCompile(`^[A-Za-z0-9_\-./]+$`)
	playerIDPattern = regexp.MustCompile(`^[A-Za-z0-9_:\[\]#]+$`)
)

// CommandExecutor 命令执行器接口，*rcon.Client 实现了该接口
type CommandExecutor interface {
	// Connect 连接到服务器，最多尝试 retries 次
	Connect(ctx context.Context, retries int, delay time.Duration) error

	// Execute 执行命令并返回结果
	Execute(ctx context.Context, command string) (string, error)

	// Disconnect 断开与服务器的连接
	Disconnect()

	// IsConnected 检查是否已连接
	IsConnected() bool

	// State 返回连接状态
	State() rcon.State
}

// Notifier 接收控制台事件，用于实时推送
type Notifier interface {
	Notify(event string, data interface{})
}

// Notifiers 把事件分发给多个 Notifier
type Notifiers []Notifier

// Notify 实现 Notifier
func (n Notifiers) Notify(event string, data interface{}) {
	for _, notifier := range n {
		if notifier != nil {
			notifier.Notify(event, data)
		}
	}
}

// ValidationError 表示请求参数不合法
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ConnectError 表示无法连接或认证到游戏服务器
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string {
	return "连接CS2服务器失败: " + e.Err.Error()
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// RconService 封装对游戏服务器的所有操作
type RconService struct {
	Client   CommandExecutor
	Config   *config.Config
	notifier Notifier
}

// NewRconService 创建RCON服务，notifier 可以为nil
func NewRconService(client CommandExecutor, cfg *config.Config, notifier Notifier) *RconService {
	return &RconService{
		Client:   client,
		Config:   cfg,
		notifier: notifier,
	}
}

// EnsureConnected 未连接时按配置的重试策略连接
func (s *RconService) EnsureConnected(ctx context.Context) error {
	if s.Client.IsConnected() {
		return nil
	}
	if err := s.Client.Connect(ctx, s.Config.RconRetries, s.Config.RconRetryDelay); err != nil {
		log.Printf("RCON连接失败: %v", err)
		return &ConnectError{Err: err}
	}
	return nil
}

// Execute 执行命令并记录审计日志
func (s *RconService) Execute(ctx context.Context, username, source, command string) (string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return "", &ValidationError{Field: "command", Message: "命令不能为空"}
	}

	start := time.Now()
	response, err := s.Client.Execute(ctx, command)

	entry := model.CommandLog{
		ID:         uuid.NewString(),
		Username:   username,
		Source:     source,
		Command:    command,
		Response:   response,
		Success:    err == nil,
		DurationMS: time.Since(start).Milliseconds(),
		CreatedAt:  start,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	s.audit(entry)

	if err != nil {
		var attemptErr *rcon.AttemptError
		if errors.As(err, &attemptErr) {
			return "", &ConnectError{Err: err}
		}
		return "", err
	}
	return response, nil
}

// audit 保存审计记录并推送事件，数据库不可用时只推送
func (s *RconService) audit(entry model.CommandLog) {
	if db.DB != nil {
		if err := db.DB.Create(&entry).Error; err != nil {
			log.Printf("保存命令记录失败: %v", err)
		}
	}
	s.notify(EventCommand, entry)
}

func (s *RconService) notify(event string, data interface{}) {
	if s.notifier != nil {
		s.notifier.Notify(event, data)
	}
}

// Status 执行 status 命令，返回截断后的原始输出
func (s *RconService) Status(ctx context.Context) (model.ServerStatus, error) {
	raw, err := s.Client.Execute(ctx, "status")
	status := model.ServerStatus{
		Connected: s.Client.IsConnected(),
		State:     s.Client.State().String(),
		CheckedAt: time.Now(),
	}
	if err != nil {
		return status, err
	}
	status.Raw = truncate(raw, StatusRawLimit)
	return status, nil
}

// SwitchConfig 执行 exec <config> 切换服务器配置
func (s *RconService) SwitchConfig(ctx context.Context, username, name string) (model.CommandResult, error) {
	valid := false
	for _, c := range ValidConfigs {
		if c == name {
			valid = true
			break
		}
	}
	if !valid {
		return model.CommandResult{}, &ValidationError{
			Field:   "config",
			Message: fmt.Sprintf("无效的配置 %q，可选: %s", name, strings.Join(ValidConfigs, ", ")),
		}
	}
	return s.run(ctx, username, "exec "+name)
}

// KickPlayer 执行 kickid <userid> ["reason"]
func (s *RconService) KickPlayer(ctx context.Context, username, userID, reason string) (model.CommandResult, error) {
	userID = strings.TrimSpace(userID)
	if !playerIDPattern.MatchString(userID) {
		return model.CommandResult{}, &ValidationError{Field: "userId", Message: "无效的玩家ID"}
	}

	command := "kickid " + userID
	// 原因放在引号内，去掉会破坏引号或拼接命令的字符
	reason = strings.TrimSpace(strings.NewReplacer(`"`, "", ";", "", "\n", " ", "\r", " ").Replace(reason))
	if reason != "" {
		command += ` "` + reason + `"`
	}
	return s.run(ctx, username, command)
}

// ChangeMap 执行 changelevel <map>
func (s *RconService) ChangeMap(ctx context.Context, username, mapName string) (model.CommandResult, error) {
	mapName = strings.TrimSpace(mapName)
	if !mapNamePattern.MatchString(mapName) {
		return model.CommandResult{}, &ValidationError{Field: "map", Message: "无效的地图名"}
	}
	return s.run(ctx, username, "changelevel "+mapName)
}

func (s *RconService) run(ctx context.Context, username, command string) (model.CommandResult, error) {
	response, err := s.Execute(ctx, username, model.SourceAPI, command)
	if err != nil {
		return model.CommandResult{}, err
	}
	return model.CommandResult{Command: command, Response: response}, nil
}

// Disconnect 断开RCON连接
func (s *RconService) Disconnect(username string) {
	s.Client.Disconnect()
	log.Printf("RCON连接已由 %s 断开", username)
}

// ConnectionInfo 返回玩家连接服务器所需的信息
func (s *RconService) ConnectionInfo() model.ConnectionInfo {
	ip := s.Config.PublicIP
	if ip == "" {
		ip = s.Config.RconHost
	}

	info := model.ConnectionInfo{
		IP:       ip,
		Port:     s.Config.GamePort,
		Password: s.Config.JoinPassword,
		Connect:  fmt.Sprintf("connect %s:%d", ip, s.Config.GamePort),
	}
	if info.Password != "" {
		info.Connect += "; password " + info.Password
	}
	return info
}

// ListCommands 分页查询命令记录，Username 为空时返回全部
// 非法的分页参数会被改写为实际使用的值
func (s *RconService) ListCommands(q *model.CommandQuery) ([]model.CommandLog, int64, error) {
	if db.DB == nil {
		return nil, 0, errors.New("数据库未初始化")
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 || q.PageSize > model.MaxPageSize {
		q.PageSize = model.DefaultPageSize
	}

	query := db.DB.Model(&model.CommandLog{})
	if q.Username != "" {
		query = query.Where("username = ?", q.Username)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var logs []model.CommandLog
	if err := query.Order("created_at DESC").Offset((q.Page - 1) * q.PageSize).Limit(q.PageSize).Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// StartStatusMonitoring 定期推送服务器状态，只在已连接时查询，不会主动建立连接
func (s *RconService) StartStatusMonitoring(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !s.Client.IsConnected() {
					continue
				}
				status, err := s.Status(ctx)
				if err != nil {
					log.Printf("查询服务器状态失败: %v", err)
					continue
				}
				s.notify(EventStatus, status)
			}
		}
	}()
}

// StateChanged 作为 rcon.ClientConfig.OnStateChange 回调推送连接状态
func (s *RconService) StateChanged(from, to rcon.State) {
	log.Printf("RCON连接状态: %s -> %s", from, to)
	s.notify(EventState, map[string]string{
		"from": from.String(),
		"to":   to.String(),
	})
}

// truncate 截断到最多 n 个字符
func truncate(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
