package websocket

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tduarte/cs2server/internal/middleware"
)

const (
	// heartbeatTimeout 内没有收到任何消息的客户端会被断开
	heartbeatTimeout = 60 * time.Second
	pingInterval     = 30 * time.Second
	writeTimeout     = 10 * time.Second
	sendBuffer       = 256
)

// Manager 管理 WebSocket 连接
type Manager struct {
	clients    map[string]*Client
	mutex      sync.RWMutex
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{} // run 退出后关闭

	upgrader       websocket.Upgrader
	allowedOrigins []string
}

// GlobalManager 全局 WebSocket 管理器
var GlobalManager = NewManager()

// NewManager 创建新的管理器
func NewManager() *Manager {
	m := &Manager{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
	}
	m.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     m.checkOrigin,
	}
	return m
}

// SetAllowedOrigins 设置允许跨域建立连接的来源
func (m *Manager) SetAllowedOrigins(origins []string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.allowedOrigins = origins
}

// checkOrigin 同源请求和列出的来源总是允许
// "*" 只放行不带登录Cookie的请求，这类请求必须自己携带Token
func (m *Manager) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}

	m.mutex.RLock()
	allowedOrigins := m.allowedOrigins
	m.mutex.RUnlock()

	for _, allowed := range allowedOrigins {
		if allowed == "*" {
			if _, err := r.Cookie(middleware.TokenCookieName); err != nil {
				return true
			}
			continue
		}
		if strings.EqualFold(strings.TrimSuffix(allowed, "/"), origin) {
			return true
		}
	}
	log.Printf("拒绝来自 %s 的WebSocket连接", origin)
	return false
}

// Start 启动 WebSocket 管理器，ctx 结束时断开所有客户端
func (m *Manager) Start(ctx context.Context) {
	go m.run(ctx)
}

// run 运行 WebSocket 管理器的主循环
func (m *Manager) run(ctx context.Context) {
	heartbeatTicker := time.NewTicker(heartbeatTimeout / 6)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(m.done)
			m.mutex.Lock()
			for id, client := range m.clients {
				client.close()
				delete(m.clients, id)
			}
			m.mutex.Unlock()
			return

		case <-heartbeatTicker.C:
			m.checkHeartbeats()

		case client := <-m.register:
			m.mutex.Lock()
			m.clients[client.ID] = client
			m.mutex.Unlock()
			log.Printf("WebSocket客户端注册: %s, 用户: %s", client.ID, client.Username)

		case client := <-m.unregister:
			m.mutex.Lock()
			if _, ok := m.clients[client.ID]; ok {
				delete(m.clients, client.ID)
				client.close()
				log.Printf("WebSocket客户端注销: %s, 用户: %s", client.ID, client.Username)
			}
			m.mutex.Unlock()

		case message := <-m.broadcast:
			m.mutex.RLock()
			for _, client := range m.clients {
				if !client.send(message) {
					log.Printf("WebSocket客户端 %s 缓冲区已满，丢弃消息", client.ID)
				}
			}
			m.mutex.RUnlock()
		}
	}
}

// checkHeartbeats 断开心跳超时的客户端
func (m *Manager) checkHeartbeats() {
	deadline := time.Now().Add(-heartbeatTimeout)

	m.mutex.Lock()
	defer m.mutex.Unlock()

	for id, client := range m.clients {
		if client.lastSeen().Before(deadline) {
			log.Printf("WebSocket客户端 %s 心跳超时，正在断开连接", id)
			client.close()
			_ = client.Conn.Close()
			delete(m.clients, id)
		}
	}
}

// Notify 把控制台事件广播给所有客户端
func (m *Manager) Notify(event string, data interface{}) {
	select {
	case m.broadcast <- MarshalMessage(MessageTypeEvent, "", map[string]interface{}{
		"event": event,
		"data":  data,
	}):
	default:
		log.Printf("WebSocket广播队列已满，丢弃事件: %s", event)
	}
}

// GetClientCount 获取连接的客户端总数
func (m *Manager) GetClientCount() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients)
}
