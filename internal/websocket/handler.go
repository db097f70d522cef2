package websocket

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tduarte/cs2server/internal/middleware"
	"github.com/tduarte/cs2server/internal/model"
)

// MessageType 消息类型
const (
	MessageTypePing     = "ping"     // 心跳消息
	MessageTypePong     = "pong"     // 心跳响应
	MessageTypeWelcome  = "welcome"  // 连接建立
	MessageTypeError    = "error"    // 错误
	MessageTypeCommand  = "command"  // 客户端发来的控制台命令
	MessageTypeResponse = "response" // 命令的响应
	MessageTypeEvent    = "event"    // 服务器推送的事件
)

// commandTimeout 限制通过 WebSocket 执行的单条命令，包括可能的重连
const commandTimeout = 60 * time.Second

// executePath 是执行命令所需的权限，与 HTTP 接口一致
const executePath = "/api/v1/execute"

// Message WebSocket消息结构，ID 由客户端生成，用于匹配命令和响应
type Message struct {
	Type    string      `json:"type"`
	ID      string      `json:"id,omitempty"`
	Content interface{} `json:"content"`
}

// CommandRunner 执行控制台命令
type CommandRunner interface {
	EnsureConnected(ctx context.Context) error
	Execute(ctx context.Context, username, source, command string) (string, error)
}

// Client 表示 WebSocket 客户端
type Client struct {
	ID       string
	Conn     *websocket.Conn
	Username string
	RoleName string
	Manager  *Manager
	runner   CommandRunner

	sendCh chan []byte

	mu       sync.Mutex // 保护 closed 和 lastPing
	closed   bool
	lastPing time.Time
}

// HandleWebSocket 升级连接并启动读写协程
func (m *Manager) HandleWebSocket(c *gin.Context, runner CommandRunner) {
	conn, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("升级WebSocket连接失败: %v", err)
		return
	}

	client := &Client{
		ID:       uuid.NewString(),
		Conn:     conn,
		Username: middleware.GetCurrentUsername(c),
		RoleName: middleware.GetCurrentRole(c),
		Manager:  m,
		runner:   runner,
		sendCh:   make(chan []byte, sendBuffer),
		lastPing: time.Now(),
	}

	select {
	case m.register <- client:
	case <-m.done:
		_ = conn.Close()
		return
	}

	client.send(MarshalMessage(MessageTypeWelcome, "", map[string]interface{}{
		"client_id":   client.ID,
		"username":    client.Username,
		"can_execute": middleware.Can(client.RoleName, executePath, "POST"),
	}))

	go client.writePump()
	go client.readPump()
}

// send 非阻塞地放入发送队列，客户端已关闭或队列已满时返回false
func (c *Client) send(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.sendCh <- message:
		return true
	default:
		return false
	}
}

// close 关闭发送队列，writePump 随后关闭连接，可重复调用
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.sendCh)
	}
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastPing = time.Now()
	c.mu.Unlock()
}

func (c *Client) lastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPing
}

// readPump 从WebSocket连接读取消息
func (c *Client) readPump() {
	defer func() {
		select {
		case c.Manager.unregister <- c:
		case <-c.Manager.done:
		}
		_ = c.Conn.Close()
	}()

	_ = c.Conn.SetReadDeadline(time.Now().Add(heartbeatTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.touch()
		return c.Conn.SetReadDeadline(time.Now().Add(heartbeatTimeout))
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("读取WebSocket消息错误: %v", err)
			}
			return
		}
		c.touch()
		_ = c.Conn.SetReadDeadline(time.Now().Add(heartbeatTimeout))
		c.handleMessage(data)
	}
}

// writePump 向WebSocket连接写入消息
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.sendCh:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 处理接收到的消息
func (c *Client) handleMessage(data []byte) {
	var message Message
	if err := sonic.Unmarshal(data, &message); err != nil {
		c.send(MarshalMessage(MessageTypeError, "", "无效的消息格式"))
		return
	}

	switch message.Type {
	case MessageTypePing:
		c.send(MarshalMessage(MessageTypePong, message.ID, nil))

	case MessageTypeCommand:
		command, _ := message.Content.(string)
		if command == "" {
			c.send(MarshalMessage(MessageTypeError, message.ID, "命令不能为空"))
			return
		}
		if !middleware.Can(c.RoleName, executePath, "POST") {
			c.send(MarshalMessage(MessageTypeError, message.ID, "权限不足: 无权执行命令"))
			return
		}
		// 命令并发执行，响应按 ID 匹配
		go c.runCommand(message.ID, command)

	default:
		c.send(MarshalMessage(MessageTypeError, message.ID, "不支持的消息类型"))
	}
}

// runCommand 执行命令并把结果发回客户端
func (c *Client) runCommand(id, command string) {
	if c.runner == nil {
		c.send(MarshalMessage(MessageTypeError, id, "命令执行不可用"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := c.runner.EnsureConnected(ctx); err != nil {
		c.send(MarshalMessage(MessageTypeError, id, err.Error()))
		return
	}

	response, err := c.runner.Execute(ctx, c.Username, model.SourceWebSocket, command)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "命令执行超时"
		}
		c.send(MarshalMessage(MessageTypeError, id, msg))
		return
	}

	c.send(MarshalMessage(MessageTypeResponse, id, model.CommandResult{
		Command:  command,
		Response: response,
	}))
}

// MarshalMessage 将消息编码为JSON
func MarshalMessage(msgType, id string, content interface{}) []byte {
	data, err := sonic.Marshal(Message{
		Type:    msgType,
		ID:      id,
		Content: content,
	})
	if err != nil {
		log.Printf("编码消息失败: %v", err)
		return []byte(`{"type":"error","content":"消息编码失败"}`)
	}
	return data
}
