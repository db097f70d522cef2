package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/tduarte/cs2server/internal/config"
	"github.com/tduarte/cs2server/internal/db"
	"github.com/tduarte/cs2server/internal/middleware"
	"github.com/tduarte/cs2server/internal/model"
)

// fakeRunner 记录执行的命令
type fakeRunner struct {
	mu         sync.Mutex
	commands   []string
	sources    []string
	connectErr error
}

func (f *fakeRunner) EnsureConnected(ctx context.Context) error {
	return f.connectErr
}

func (f *fakeRunner) Execute(ctx context.Context, username, source, command string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	f.sources = append(f.sources, source)
	return "done: " + command, nil
}

// setupCasbin 准备一个只有 operator 可以执行命令的策略
func setupCasbin(t *testing.T) {
	t.Helper()
	cfg := &config.Config{
		DBType: "sqlite",
		DBPath: filepath.Join(t.TempDir(), "ws.db"),
		Mode:   "test",
	}
	if err := db.InitDB(cfg); err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	t.Cleanup(func() {
		db.CloseDB()
		db.DB = nil
	})
	if err := middleware.InitCasbin(db.DB, ""); err != nil {
		t.Fatalf("InitCasbin failed: %v", err)
	}
	if _, err := middleware.GetEnforcer().AddPolicy(model.RoleOperator, executePath, "POST"); err != nil {
		t.Fatalf("AddPolicy failed: %v", err)
	}
}

// startServer 启动带有 JWT 认证的 WebSocket 服务
func startServer(t *testing.T, runner CommandRunner) (*httptest.Server, *config.Config, *Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	manager := NewManager()
	manager.Start(ctx)

	cfg := &config.Config{
		AuthEnabled:   true,
		JWTSecret:     "ws-secret",
		JWTIssuer:     "test",
		JWTExpireTime: time.Hour,
	}

	r := gin.New()
	r.GET("/ws", middleware.JWTAuth(cfg), func(c *gin.Context) {
		manager.HandleWebSocket(c, runner)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, cfg, manager
}

func dial(t *testing.T, srv *httptest.Server, cfg *config.Config, role string) *websocket.Conn {
	t.Helper()
	user := model.User{Username: "tester", Role: model.Role{Name: role}}
	token, err := middleware.GenerateToken(user, cfg)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// wireMessage 用于解析服务端发来的消息
type wireMessage struct {
	Type    string                 `json:"type"`
	ID      string                 `json:"id"`
	Content map[string]interface{} `json:"content"`
	Text    string                 `json:"-"`
}

func readMessage(t *testing.T, conn *websocket.Conn) wireMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}

	var raw Message
	if err := sonic.Unmarshal(data, &raw); err != nil {
		t.Fatalf("invalid message %s: %v", data, err)
	}
	msg := wireMessage{Type: raw.Type, ID: raw.ID}
	switch content := raw.Content.(type) {
	case map[string]interface{}:
		msg.Content = content
	case string:
		msg.Text = content
	}
	return msg
}

func send(t *testing.T, conn *websocket.Conn, msgType, id string, content interface{}) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, MarshalMessage(msgType, id, content)); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
}

func TestWebSocketCommand(t *testing.T) {
	setupCasbin(t)
	runner := &fakeRunner{}
	srv, cfg, manager := startServer(t, runner)
	conn := dial(t, srv, cfg, model.RoleOperator)

	welcome := readMessage(t, conn)
	if welcome.Type != MessageTypeWelcome {
		t.Fatalf("first message = %+v, want welcome", welcome)
	}
	if welcome.Content["username"] != "tester" || welcome.Content["can_execute"] != true {
		t.Fatalf("welcome content = %v", welcome.Content)
	}
	if n := manager.GetClientCount(); n != 1 {
		t.Fatalf("GetClientCount = %d, want 1", n)
	}

	send(t, conn, MessageTypePing, "p1", nil)
	if pong := readMessage(t, conn); pong.Type != MessageTypePong || pong.ID != "p1" {
		t.Fatalf("ping answered with %+v", pong)
	}

	send(t, conn, MessageTypeCommand, "c1", "mp_restartgame 1")
	resp := readMessage(t, conn)
	if resp.Type != MessageTypeResponse || resp.ID != "c1" {
		t.Fatalf("command answered with %+v", resp)
	}
	if resp.Content["response"] != "done: mp_restartgame 1" {
		t.Fatalf("response content = %v", resp.Content)
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.sources) != 1 || runner.sources[0] != model.SourceWebSocket {
		t.Fatalf("sources = %v", runner.sources)
	}
}

func TestWebSocketViewerCannotExecute(t *testing.T) {
	setupCasbin(t)
	runner := &fakeRunner{}
	srv, cfg, _ := startServer(t, runner)
	conn := dial(t, srv, cfg, model.RoleViewer)

	if welcome := readMessage(t, conn); welcome.Content["can_execute"] != false {
		t.Fatalf("viewer welcome = %v", welcome.Content)
	}

	send(t, conn, MessageTypeCommand, "c1", "quit")
	msg := readMessage(t, conn)
	if msg.Type != MessageTypeError || msg.ID != "c1" {
		t.Fatalf("viewer command answered with %+v", msg)
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.commands) != 0 {
		t.Fatalf("viewer executed %v", runner.commands)
	}
}

func TestWebSocketErrors(t *testing.T) {
	setupCasbin(t)
	runner := &fakeRunner{connectErr: errors.New("server starting")}
	srv, cfg, _ := startServer(t, runner)
	conn := dial(t, srv, cfg, model.RoleOperator)
	readMessage(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != MessageTypeError {
		t.Fatalf("invalid json answered with %+v", msg)
	}

	send(t, conn, "subscribe", "s1", nil)
	if msg := readMessage(t, conn); msg.Type != MessageTypeError || msg.ID != "s1" {
		t.Fatalf("unknown type answered with %+v", msg)
	}

	send(t, conn, MessageTypeCommand, "c1", "status")
	msg := readMessage(t, conn)
	if msg.Type != MessageTypeError || msg.Text != "server starting" {
		t.Fatalf("connect failure answered with %+v", msg)
	}
}

func TestManagerBroadcast(t *testing.T) {
	setupCasbin(t)
	srv, cfg, manager := startServer(t, &fakeRunner{})
	conn := dial(t, srv, cfg, model.RoleViewer)
	readMessage(t, conn)

	manager.Notify("state", map[string]string{"from": "ready", "to": "closed"})

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeEvent || msg.Content["event"] != "state" {
		t.Fatalf("broadcast = %+v", msg)
	}
}

func TestWebSocketRequiresToken(t *testing.T) {
	srv, _, _ := startServer(t, &fakeRunner{})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Dial without token succeeded")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Fatalf("response = %v, want 401", resp)
	}
}

func TestWebSocketOriginCheck(t *testing.T) {
	srv, cfg, manager := startServer(t, &fakeRunner{})
	user := model.User{Username: "tester", Role: model.Role{Name: model.RoleOperator}}
	token, err := middleware.GenerateToken(user, cfg)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	tests := []struct {
		name    string
		allowed []string
		origin  string
		cookie  bool
		want    int
	}{
		{"foreign origin with cookie", []string{"*"}, "https://evil.example.com", true, http.StatusForbidden},
		{"foreign origin not listed", []string{"https://console.example.com"}, "https://evil.example.com", false, http.StatusForbidden},
		{"wildcard with explicit token", []string{"*"}, "https://tools.example.com", false, http.StatusSwitchingProtocols},
		{"listed origin with cookie", []string{"https://console.example.com"}, "https://console.example.com", true, http.StatusSwitchingProtocols},
		{"same host with cookie", nil, srv.URL, true, http.StatusSwitchingProtocols},
		{"no origin header", nil, "", false, http.StatusSwitchingProtocols},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager.SetAllowedOrigins(tt.allowed)

			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			url := base
			if tt.cookie {
				header.Set("Cookie", middleware.TokenCookieName+"="+token)
			} else {
				url += "?token=" + token
			}

			conn, resp, err := websocket.DefaultDialer.Dial(url, header)
			if conn != nil {
				conn.Close()
			}
			if resp == nil {
				t.Fatalf("Dial failed without response: %v", err)
			}
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d (err %v)", resp.StatusCode, tt.want, err)
			}
		})
	}
}
