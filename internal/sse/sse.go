package sse

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tduarte/cs2server/internal/middleware"
)

// clientBuffer 是每个客户端待发送消息的缓冲大小，满了之后新消息被丢弃
const clientBuffer = 64

// Client SSE客户端
type Client struct {
	ID        string
	Channel   chan []byte
	Username  string
	Topics    map[string]bool // 为空时接收所有主题
	CreatedAt time.Time
}

// wants 判断客户端是否订阅了主题
func (c *Client) wants(topic string) bool {
	return len(c.Topics) == 0 || topic == "" || c.Topics[topic]
}

// Message SSE消息结构
type Message struct {
	Topic string      `json:"topic"`
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
	ID    string      `json:"id,omitempty"`
	Retry int         `json:"retry,omitempty"`
}

// Broker 管理所有SSE连接
type Broker struct {
	clients        map[string]*Client
	newClients     chan *Client
	closingClients chan string
	messages       chan *Message
	done           chan struct{} // listen 退出后关闭
	mutex          sync.RWMutex
}

// GlobalBroker 全局SSE代理
var GlobalBroker = NewBroker()

// NewBroker 创建新的SSE代理
func NewBroker() *Broker {
	return &Broker{
		clients:        make(map[string]*Client),
		newClients:     make(chan *Client),
		closingClients: make(chan string),
		messages:       make(chan *Message, 256),
		done:           make(chan struct{}),
	}
}

// Start 启动SSE代理，ctx 结束时关闭所有客户端
func (b *Broker) Start(ctx context.Context) {
	go b.listen(ctx)
}

// listen 串行处理客户端注册、注销和消息分发
func (b *Broker) listen(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(b.done)
			b.mutex.Lock()
			for id, client := range b.clients {
				close(client.Channel)
				delete(b.clients, id)
			}
			b.mutex.Unlock()
			return

		case client := <-b.newClients:
			b.mutex.Lock()
			b.clients[client.ID] = client
			b.mutex.Unlock()
			log.Printf("SSE客户端已连接: ID=%s, 用户=%s", client.ID, client.Username)

		case clientID := <-b.closingClients:
			b.mutex.Lock()
			if client, ok := b.clients[clientID]; ok {
				close(client.Channel)
				delete(b.clients, clientID)
				log.Printf("SSE客户端已断开连接: ID=%s, 用户=%s", client.ID, client.Username)
			}
			b.mutex.Unlock()

		case message := <-b.messages:
			payload, err := Format(message)
			if err != nil {
				log.Printf("编码SSE消息失败: %v", err)
				continue
			}

			b.mutex.RLock()
			for _, client := range b.clients {
				if !client.wants(message.Topic) {
					continue
				}
				select {
				case client.Channel <- payload:
				default:
					log.Printf("SSE客户端 %s 缓冲区已满，丢弃消息", client.ID)
				}
			}
			b.mutex.RUnlock()
		}
	}
}

// Format 按 text/event-stream 格式编码消息
func Format(message *Message) ([]byte, error) {
	var sb strings.Builder
	if message.Event != "" {
		fmt.Fprintf(&sb, "event: %s\n", message.Event)
	}
	if message.ID != "" {
		fmt.Fprintf(&sb, "id: %s\n", message.ID)
	}
	if message.Retry > 0 {
		fmt.Fprintf(&sb, "retry: %d\n", message.Retry)
	}

	data, err := sonic.Marshal(message.Data)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(&sb, "data: %s\n\n", data)
	return []byte(sb.String()), nil
}

// ServeHTTP 处理SSE HTTP连接，topic 查询参数可以用逗号分隔多个主题
func (b *Broker) ServeHTTP(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no") // 禁用Nginx代理缓冲

	client := &Client{
		ID:        uuid.NewString(),
		Channel:   make(chan []byte, clientBuffer),
		Username:  middleware.GetCurrentUsername(c),
		Topics:    parseTopics(c.Query("topic")),
		CreatedAt: time.Now(),
	}

	// 先放入欢迎消息，注册后才会收到广播
	if hello, err := Format(&Message{
		Event: "connected",
		Data: map[string]interface{}{
			"client_id": client.ID,
			"time":      client.CreatedAt.Format(time.RFC3339),
		},
	}); err == nil {
		client.Channel <- hello
	}

	select {
	case b.newClients <- client:
	case <-b.done:
		return
	}

	go func() {
		<-c.Request.Context().Done()
		select {
		case b.closingClients <- client.ID:
		case <-b.done:
		}
	}()

	c.Stream(func(w io.Writer) bool {
		msg, ok := <-client.Channel
		if !ok {
			return false
		}
		if _, err := w.Write(msg); err != nil {
			return false
		}
		return true
	})
}

func parseTopics(raw string) map[string]bool {
	topics := make(map[string]bool)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics[t] = true
		}
	}
	return topics
}

// Publish 发布消息，消息队列满时丢弃
func (b *Broker) Publish(message *Message) {
	select {
	case b.messages <- message:
	default:
		log.Printf("SSE消息队列已满，丢弃事件: %s", message.Event)
	}
}

// Notify 把控制台事件发布到同名主题
func (b *Broker) Notify(event string, data interface{}) {
	b.Publish(&Message{
		Topic: event,
		Event: event,
		Data:  data,
		ID:    uuid.NewString(),
	})
}

// GetClientCount 获取连接的客户端总数
func (b *Broker) GetClientCount() int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.clients)
}
