package rcon

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"
)

const (
	// DefaultTimeout 是连接、认证和命令各阶段的默认超时时间
	DefaultTimeout = 10 * time.Second

	// DefaultRetries 是 Execute 在未连接时自动连接的尝试次数
	DefaultRetries = 5

	// DefaultRetryDelay 是 Execute 在未连接时自动连接的重试间隔
	DefaultRetryDelay = 2 * time.Second

	// EmptyResponsePlaceholder 在服务器返回空响应时代替响应内容
	EmptyResponsePlaceholder = "Command executed successfully"
)

// State 表示客户端的连接状态
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAuthenticating
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// ClientConfig 包含控制 Client 行为的设置
type ClientConfig struct {
	// ConnectTimeout 限制建立TCP连接的时间，为0时使用 DefaultTimeout
	ConnectTimeout time.Duration

	// AuthTimeout 限制等待认证应答的时间，为0时使用 DefaultTimeout
	AuthTimeout time.Duration

	// CommandTimeout 限制等待命令响应的时间，为0时使用 DefaultTimeout
	CommandTimeout time.Duration

	// DoubleTerminator 为true时每个出站帧以两个NUL结尾，用于要求传统 Source 格式的严格服务器
	DoubleTerminator bool

	// Logger 接收客户端的日志，为nil时不输出日志
	Logger *slog.Logger

	// LogOutboundAuthPackets 为true时调试日志会包含明文的认证密码
	//
	// 警告：只有在清楚风险的情况下才启用！
	LogOutboundAuthPackets bool

	// OnStateChange 在状态变化时被调用，调用时不持有客户端的锁
	OnStateChange func(from, to State)
}

// Client 是RCON客户端，同一时刻最多拥有一条到服务器的TCP连接
//
// Client 可以被多个协程并发使用：并发的 Execute 调用共享同一条连接，按请求id关联各自的响应。
// 连接阶段是串行的，后到的调用者会直接看到已就绪的连接。
type Client struct {
	addr     string
	password string
	config   ClientConfig
	dialer   net.Dialer

	connectMu sync.Mutex // 串行化连接过程

	mu       sync.Mutex // 保护以下字段
	state    State
	sess     *session
	inflight *session // 正在认证、尚未就绪的会话
	gen      uint64   // 每次 Disconnect 递增，进行中的连接发现变化后放弃
}

// NewClient 创建一个RCON客户端，不会立即建立连接
func NewClient(host string, port int, password string, config ClientConfig) *Client {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultTimeout
	}
	if config.AuthTimeout <= 0 {
		config.AuthTimeout = DefaultTimeout
	}
	if config.CommandTimeout <= 0 {
		config.CommandTimeout = DefaultTimeout
	}

	return &Client{
		addr:     net.JoinHostPort(host, strconv.Itoa(port)),
		password: password,
		config:   config,
		state:    StateIdle,
	}
}

// Addr 返回服务器地址
func (c *Client) Addr() string {
	return c.addr
}

// State 返回当前连接状态
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// IsConnected 当且仅当状态为 StateReady 时返回true
func (c *Client) IsConnected() bool {
	return c.State() == StateReady
}

// Connect 连接服务器并认证，最多尝试 retries 次，每次失败后等待 delay
//
// 已就绪时立即返回。认证失败和网络错误一样会被重试。
// 全部失败时返回 *AttemptError，其中包含最后一次尝试的序号和错误。
func (c *Client) Connect(ctx context.Context, retries int, delay time.Duration) error {
	if retries < 1 {
		retries = 1
	}

	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	ready := c.state == StateReady
	gen := c.gen
	c.mu.Unlock()
	if ready {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		lastErr = c.attempt(ctx, gen)
		if lastErr == nil {
			return nil
		}

		// 连接过程中被 Disconnect 取消时不再重试
		if ctx.Err() != nil || c.disconnectedSince(gen) {
			return &AttemptError{Attempt: attempt, Attempts: retries, Addr: c.addr, Err: lastErr}
		}

		if attempt < retries {
			c.logInfo("rcon connection attempt failed, retrying",
				slog.Int("attempt", attempt),
				slog.Int("attempts", retries),
				slog.Duration("delay", delay),
				slog.String("error", lastErr.Error()),
			)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return &AttemptError{Attempt: attempt, Attempts: retries, Addr: c.addr, Err: ctx.Err()}
			case <-timer.C:
			}
		} else {
			return &AttemptError{Attempt: attempt, Attempts: retries, Addr: c.addr, Err: lastErr}
		}
	}

	return lastErr
}

// attempt 执行一次完整的连接尝试：丢弃旧会话、拨号、认证
// 成功时新会话移交给客户端，失败或期间发生 Disconnect 时会话被整体关闭
func (c *Client) attempt(ctx context.Context, gen uint64) error {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	old := c.sess
	c.sess = nil
	from := c.swapState(StateConnecting)
	c.mu.Unlock()
	if old != nil {
		old.close(ErrConnectionClosed)
	}
	c.notifyState(from, StateConnecting)

	sess, err := dialSession(ctx, &c.dialer, c.addr, c.config.ConnectTimeout, c.config, c.sessionClosed)
	if err != nil {
		return c.abandon(gen, nil, err)
	}
	c.logInfo("rcon tcp connected", slog.String("addr", c.addr))

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		sess.close(ErrConnectionClosed)
		return ErrConnectionClosed
	}
	c.inflight = sess
	from = c.swapState(StateAuthenticating)
	c.mu.Unlock()
	c.notifyState(from, StateAuthenticating)

	if err := sess.authenticate(ctx, c.password, c.config.AuthTimeout); err != nil {
		return c.abandon(gen, sess, err)
	}

	c.mu.Lock()
	if c.inflight == sess {
		c.inflight = nil
	}
	if c.gen != gen {
		c.mu.Unlock()
		sess.close(ErrConnectionClosed)
		return ErrConnectionClosed
	}
	select {
	case <-sess.closed:
		// 认证成功后连接立刻被服务器关闭
		from = c.swapState(StateIdle)
		c.mu.Unlock()
		c.notifyState(from, StateIdle)
		return sess.closeErr()
	default:
	}
	c.sess = sess
	from = c.swapState(StateReady)
	c.mu.Unlock()

	c.notifyState(from, StateReady)
	c.logInfo("rcon authenticated", slog.String("addr", c.addr))
	return nil
}

// abandon 关闭失败的会话，状态只在没有发生 Disconnect 时回到 StateIdle
func (c *Client) abandon(gen uint64, sess *session, err error) error {
	c.mu.Lock()
	if sess != nil && c.inflight == sess {
		c.inflight = nil
	}
	if c.gen != gen {
		c.mu.Unlock()
		if sess != nil {
			sess.close(ErrConnectionClosed)
		}
		return ErrConnectionClosed
	}
	from := c.swapState(StateIdle)
	c.mu.Unlock()

	if sess != nil {
		sess.close(err)
	}
	c.notifyState(from, StateIdle)
	return err
}

// disconnectedSince 报告在 gen 之后是否调用过 Disconnect
func (c *Client) disconnectedSince(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen != gen
}

// Execute 执行一条命令并返回服务器响应
//
// 未就绪时先以 DefaultRetries、DefaultRetryDelay 连接。服务器返回空响应时返回 EmptyResponsePlaceholder。
// 命令阶段的失败不会触发重连或重试，连接保持原样留给下一个调用者。
func (c *Client) Execute(ctx context.Context, command string) (string, error) {
	if !c.IsConnected() {
		if err := c.Connect(ctx, DefaultRetries, DefaultRetryDelay); err != nil {
			return "", err
		}
	}

	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return "", ErrConnectionClosed
	}

	body, err := sess.request(ctx, kindCommand, PacketTypeExecCommand, command, c.config.CommandTimeout, ErrCommandTimeout)
	if err != nil {
		return "", err
	}
	if body == "" {
		return EmptyResponsePlaceholder, nil
	}
	return body, nil
}

// Disconnect 关闭连接并把状态重置为 StateIdle
// 未完成的请求以 ErrConnectionClosed 失败，进行中的 Connect 也会以 ErrConnectionClosed 结束
func (c *Client) Disconnect() {
	c.mu.Lock()
	sess, inflight := c.sess, c.inflight
	c.sess, c.inflight = nil, nil
	c.gen++
	from := c.swapState(StateIdle)
	c.mu.Unlock()

	for _, s := range []*session{sess, inflight} {
		if s != nil {
			s.close(ErrConnectionClosed)
		}
	}
	c.notifyState(from, StateIdle)
}

// sessionClosed 在会话关闭时由会话回调，只有当前会话的关闭会改变状态
func (c *Client) sessionClosed(s *session) {
	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	from := c.swapState(StateClosed)
	c.mu.Unlock()

	c.logInfo("rcon connection closed", slog.String("addr", c.addr), slog.String("reason", s.err.Error()))
	c.notifyState(from, StateClosed)
}

// swapState 更新状态并返回旧状态，调用方必须持有 c.mu
func (c *Client) swapState(to State) State {
	from := c.state
	c.state = to
	return from
}

func (c *Client) notifyState(from, to State) {
	if from != to && c.config.OnStateChange != nil {
		c.config.OnStateChange(from, to)
	}
}

func (c *Client) logInfo(msg string, attrs ...slog.Attr) {
	if c.config.Logger == nil {
		return
	}
	c.config.Logger.LogAttrs(context.Background(), slog.LevelInfo, msg, attrs...)
}
