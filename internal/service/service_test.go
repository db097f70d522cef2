package service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/tduarte/cs2server/internal/config"
	"github.com/tduarte/cs2server/internal/db"
	"github.com/tduarte/cs2server/internal/middleware"
	"github.com/tduarte/cs2server/internal/model"
	"github.com/tduarte/cs2server/pkg/rcon"
)

// fakeExecutor 记录收到的命令，按 reply 返回结果
type fakeExecutor struct {
	mu         sync.Mutex
	connected  bool
	connectErr error
	connects   int
	commands   []string
	reply      func(command string) (string, error)
}

func (f *fakeExecutor) Connect(ctx context.Context, retries int, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeExecutor) Execute(ctx context.Context, command string) (string, error) {
	f.mu.Lock()
	f.commands = append(f.commands, command)
	reply := f.reply
	f.mu.Unlock()

	if reply != nil {
		return reply(command)
	}
	return "ok: " + command, nil
}

func (f *fakeExecutor) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeExecutor) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeExecutor) State() rcon.State {
	if f.IsConnected() {
		return rcon.StateReady
	}
	return rcon.StateIdle
}

func (f *fakeExecutor) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

// recordingNotifier 记录推送的事件
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingNotifier) Notify(event string, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DBType:         "sqlite",
		DBPath:         filepath.Join(t.TempDir(), "test.db"),
		Mode:           "test",
		RconHost:       "cs2-server",
		RconPort:       27015,
		RconRetries:    3,
		RconRetryDelay: time.Millisecond,
		GamePort:       27015,
		JWTSecret:      "test-secret",
		JWTIssuer:      "test",
		JWTExpireTime:  time.Hour,
		AuthEnabled:    true,
		AdminUsername:  "admin",
		AdminPassword:  "admin-password",
	}
}

func setupDB(t *testing.T, cfg *config.Config) {
	t.Helper()
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
	if err := NewRoleService().SetupInitialRoles(); err != nil {
		t.Fatalf("SetupInitialRoles failed: %v", err)
	}
}

func TestEnsureConnected(t *testing.T) {
	cfg := testConfig(t)
	exec := &fakeExecutor{}
	svc := NewRconService(exec, cfg, nil)

	if err := svc.EnsureConnected(context.Background()); err != nil {
		t.Fatalf("EnsureConnected failed: %v", err)
	}
	if err := svc.EnsureConnected(context.Background()); err != nil {
		t.Fatalf("second EnsureConnected failed: %v", err)
	}
	if exec.connects != 1 {
		t.Fatalf("Connect called %d times, want 1", exec.connects)
	}

	exec.Disconnect()
	exec.connectErr = errors.New("connection refused")
	err := svc.EnsureConnected(context.Background())
	var connErr *ConnectError
	if !errors.As(err, &connErr) {
		t.Fatalf("error = %v, want *ConnectError", err)
	}
}

func TestExecuteAudit(t *testing.T) {
	cfg := testConfig(t)
	setupDB(t, cfg)

	exec := &fakeExecutor{connected: true}
	notifier := &recordingNotifier{}
	svc := NewRconService(exec, cfg, notifier)

	got, err := svc.Execute(context.Background(), "alice", model.SourceAPI, "  mp_warmup_end ")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got != "ok: mp_warmup_end" {
		t.Fatalf("Execute = %q", got)
	}

	exec.reply = func(string) (string, error) { return "", rcon.ErrCommandTimeout }
	if _, err := svc.Execute(context.Background(), "alice", model.SourceWebSocket, "status"); !errors.Is(err, rcon.ErrCommandTimeout) {
		t.Fatalf("Execute error = %v, want ErrCommandTimeout", err)
	}

	if _, err := svc.Execute(context.Background(), "alice", model.SourceAPI, "   "); err == nil {
		t.Fatal("Execute accepted an empty command")
	}

	logs, total, err := svc.ListCommands(&model.CommandQuery{Page: 1, PageSize: 10, Username: "alice"})
	if err != nil {
		t.Fatalf("ListCommands failed: %v", err)
	}
	if total != 2 || len(logs) != 2 {
		t.Fatalf("ListCommands = %d items, total %d; want 2", len(logs), total)
	}

	var failed model.CommandLog
	for _, l := range logs {
		if !l.Success {
			failed = l
		}
	}
	if failed.Command != "status" || failed.Source != model.SourceWebSocket || failed.Error == "" {
		t.Fatalf("failed entry = %+v", failed)
	}

	if len(notifier.events) != 2 || notifier.events[0] != EventCommand {
		t.Fatalf("events = %v, want two command events", notifier.events)
	}
}

func TestExecuteConnectFailure(t *testing.T) {
	cfg := testConfig(t)
	exec := &fakeExecutor{
		reply: func(string) (string, error) {
			return "", &rcon.AttemptError{Attempt: 5, Attempts: 5, Addr: "cs2-server:27015", Err: rcon.ErrConnectTimeout}
		},
	}
	svc := NewRconService(exec, cfg, nil)

	_, err := svc.Execute(context.Background(), "bob", model.SourceAPI, "status")
	var connErr *ConnectError
	if !errors.As(err, &connErr) {
		t.Fatalf("error = %v, want *ConnectError", err)
	}
	if !errors.Is(err, rcon.ErrConnectTimeout) {
		t.Fatalf("error %v does not unwrap to ErrConnectTimeout", err)
	}
}

func TestSwitchConfig(t *testing.T) {
	exec := &fakeExecutor{connected: true}
	svc := NewRconService(exec, testConfig(t), nil)

	res, err := svc.SwitchConfig(context.Background(), "op", "competitive")
	if err != nil {
		t.Fatalf("SwitchConfig failed: %v", err)
	}
	if res.Command != "exec competitive" {
		t.Fatalf("command = %q", res.Command)
	}

	_, err = svc.SwitchConfig(context.Background(), "op", "casual; quit")
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "config" {
		t.Fatalf("error = %v, want config ValidationError", err)
	}
	if len(exec.sent()) != 1 {
		t.Fatalf("sent %v, invalid config must not reach the server", exec.sent())
	}
}

func TestKickPlayer(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		reason string
		want   string
	}{
		{"no reason", "7", "", "kickid 7"},
		{"reason", "7", "afk too long", `kickid 7 "afk too long"`},
		{"quotes stripped", "12", `say "hi"; quit`, `kickid 12 "say hi quit"`},
		{"steam id", "[U:1:12345]", "cheating", `kickid [U:1:12345] "cheating"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &fakeExecutor{connected: true}
			svc := NewRconService(exec, testConfig(t), nil)

			res, err := svc.KickPlayer(context.Background(), "op", tt.userID, tt.reason)
			if err != nil {
				t.Fatalf("KickPlayer failed: %v", err)
			}
			if res.Command != tt.want {
				t.Fatalf("command = %q, want %q", res.Command, tt.want)
			}
		})
	}

	svc := NewRconService(&fakeExecutor{connected: true}, testConfig(t), nil)
	for _, bad := range []string{"", "7; quit", "7 8"} {
		if _, err := svc.KickPlayer(context.Background(), "op", bad, ""); err == nil {
			t.Errorf("KickPlayer accepted user id %q", bad)
		}
	}
}

func TestChangeMap(t *testing.T) {
	exec := &fakeExecutor{connected: true}
	svc := NewRconService(exec, testConfig(t), nil)

	res, err := svc.ChangeMap(context.Background(), "op", "de_mirage")
	if err != nil {
		t.Fatalf("ChangeMap failed: %v", err)
	}
	if res.Command != "changelevel de_mirage" || res.Response != "ok: changelevel de_mirage" {
		t.Fatalf("result = %+v", res)
	}

	if _, err := svc.ChangeMap(context.Background(), "op", "de_dust2;quit"); err == nil {
		t.Fatal("ChangeMap accepted a map name with a command separator")
	}
}

func TestStatusTruncation(t *testing.T) {
	long := strings.Repeat("a", 499) + "é" + strings.Repeat("b", 100)
	want := strings.Repeat("a", 499) + "é"
	exec := &fakeExecutor{
		connected: true,
		reply:     func(string) (string, error) { return long, nil },
	}
	svc := NewRconService(exec, testConfig(t), nil)

	status, err := svc.Status(context.Background())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !status.Connected || status.State != "ready" {
		t.Fatalf("status = %+v", status)
	}
	// 按字符计数，"é" 是第500个字符
	if status.Raw != want {
		t.Fatalf("raw has %d runes, want 500", utf8.RuneCountInString(status.Raw))
	}
	if got := truncate(strings.Repeat("中", 600), StatusRawLimit); utf8.RuneCountInString(got) != StatusRawLimit {
		t.Fatalf("truncate kept %d runes", utf8.RuneCountInString(got))
	}

	if got := truncate("short", StatusRawLimit); got != "short" {
		t.Fatalf("truncate changed a short string: %q", got)
	}
}

func TestConnectionInfo(t *testing.T) {
	cfg := testConfig(t)
	cfg.PublicIP = "203.0.113.10"
	cfg.GamePort = 27015
	cfg.JoinPassword = "scrim"
	svc := NewRconService(&fakeExecutor{}, cfg, nil)

	info := svc.ConnectionInfo()
	if info.Connect != "connect 203.0.113.10:27015; password scrim" {
		t.Fatalf("connect = %q", info.Connect)
	}

	cfg.PublicIP = ""
	cfg.JoinPassword = ""
	info = svc.ConnectionInfo()
	if info.IP != "cs2-server" || info.Connect != "connect cs2-server:27015" {
		t.Fatalf("info = %+v", info)
	}
}

func TestStatusMonitoring(t *testing.T) {
	exec := &fakeExecutor{connected: true}
	notifier := &recordingNotifier{}
	svc := NewRconService(exec, testConfig(t), notifier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.StartStatusMonitoring(ctx, 10*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		notifier.mu.Lock()
		n := len(notifier.events)
		notifier.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.events) == 0 || notifier.events[0] != EventStatus {
		t.Fatalf("events = %v, want a status event", notifier.events)
	}
}

func TestStateChangedNotifies(t *testing.T) {
	notifier := &recordingNotifier{}
	svc := NewRconService(&fakeExecutor{}, testConfig(t), Notifiers{notifier, nil})

	svc.StateChanged(rcon.StateReady, rcon.StateClosed)
	if len(notifier.events) != 1 || notifier.events[0] != EventState {
		t.Fatalf("events = %v", notifier.events)
	}
}

func TestRolePermissions(t *testing.T) {
	setupDB(t, testConfig(t))

	tests := []struct {
		role, path, method string
		want               bool
	}{
		{model.RoleViewer, "/api/v1/status", "GET", true},
		{model.RoleViewer, "/api/v1/execute", "POST", false},
		{model.RoleOperator, "/api/v1/execute", "POST", true},
		{model.RoleOperator, "/api/v1/status", "GET", true},
		{model.RoleOperator, "/api/v1/users", "GET", false},
		{model.RoleAdmin, "/api/v1/users", "POST", true},
		{model.RoleAdmin, "/api/v1/maps/change", "POST", true},
		{"nobody", "/api/v1/status", "GET", false},
	}
	for _, tt := range tests {
		if got := middleware.Can(tt.role, tt.path, tt.method); got != tt.want {
			t.Errorf("Can(%s, %s, %s) = %v, want %v", tt.role, tt.path, tt.method, got, tt.want)
		}
	}

	roles, err := NewRoleService().ListRoles()
	if err != nil {
		t.Fatalf("ListRoles failed: %v", err)
	}
	if len(roles) != 3 {
		t.Fatalf("roles = %d, want 3", len(roles))
	}

	// 再次初始化不会重复创建角色
	if err := NewRoleService().SetupInitialRoles(); err != nil {
		t.Fatalf("second SetupInitialRoles failed: %v", err)
	}
}

func TestUserLifecycle(t *testing.T) {
	cfg := testConfig(t)
	setupDB(t, cfg)
	users := NewUserService(cfg)

	if err := users.EnsureAdmin(); err != nil {
		t.Fatalf("EnsureAdmin failed: %v", err)
	}
	if err := users.EnsureAdmin(); err != nil {
		t.Fatalf("second EnsureAdmin failed: %v", err)
	}

	admin, token, err := users.Login(model.UserLogin{Username: "admin", Password: "admin-password"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if admin.Role.Name != model.RoleAdmin || token == "" {
		t.Fatalf("login = %+v, token %q", admin.ToUserResponse(), token)
	}

	claims, err := middleware.ParseToken(token, cfg)
	if err != nil {
		t.Fatalf("ParseToken failed: %v", err)
	}
	if claims.Username != "admin" || claims.RoleName != model.RoleAdmin {
		t.Fatalf("claims = %+v", claims)
	}

	if _, _, err := users.Login(model.UserLogin{Username: "admin", Password: "wrong"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Login with wrong password error = %v", err)
	}

	op, err := users.CreateUser(model.UserCreate{Username: "operator1", Password: "secret1", Role: model.RoleOperator})
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if _, err := users.CreateUser(model.UserCreate{Username: "operator1", Password: "secret1", Role: model.RoleOperator}); !errors.Is(err, ErrUserExists) {
		t.Fatalf("duplicate CreateUser error = %v", err)
	}

	if err := users.ChangeUserRole(op.ID, model.RoleViewer); err != nil {
		t.Fatalf("ChangeUserRole failed: %v", err)
	}
	got, err := users.GetUserByID(op.ID)
	if err != nil {
		t.Fatalf("GetUserByID failed: %v", err)
	}
	if got.Role.Name != model.RoleViewer {
		t.Fatalf("role = %s, want viewer", got.Role.Name)
	}

	if err := users.ChangePassword(op.ID, model.PasswordChange{OldPassword: "secret1", NewPassword: "secret2"}); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}
	if _, _, err := users.Login(model.UserLogin{Username: "operator1", Password: "secret2"}); err != nil {
		t.Fatalf("Login with new password failed: %v", err)
	}

	if err := users.SetUserStatus(op.ID, false); err != nil {
		t.Fatalf("SetUserStatus failed: %v", err)
	}
	if _, _, err := users.Login(model.UserLogin{Username: "operator1", Password: "secret2"}); !errors.Is(err, ErrUserDisabled) {
		t.Fatalf("Login of disabled user error = %v", err)
	}

	list, total, err := users.ListUsers(1, 10)
	if err != nil {
		t.Fatalf("ListUsers failed: %v", err)
	}
	if total != 2 || len(list) != 2 {
		t.Fatalf("ListUsers = %d/%d, want 2", len(list), total)
	}

	if err := users.DeleteUser(op.ID); err != nil {
		t.Fatalf("DeleteUser failed: %v", err)
	}
	if _, err := users.GetUserByID(op.ID); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("GetUserByID after delete error = %v", err)
	}
}

func TestListCommandsPaging(t *testing.T) {
	cfg := testConfig(t)
	setupDB(t, cfg)
	svc := NewRconService(&fakeExecutor{}, cfg, nil)

	base := time.Now()
	for i := 0; i < 5; i++ {
		entry := model.CommandLog{
			ID:        "log-" + string(rune('a'+i)),
			Username:  "bob",
			Source:    model.SourceAPI,
			Command:   "echo " + string(rune('a'+i)),
			Success:   true,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := db.DB.Create(&entry).Error; err != nil {
			t.Fatalf("create log: %v", err)
		}
	}

	logs, total, err := svc.ListCommands(&model.CommandQuery{Page: 2, PageSize: 2})
	if err != nil {
		t.Fatalf("ListCommands failed: %v", err)
	}
	if total != 5 || len(logs) != 2 {
		t.Fatalf("got %d items, total %d", len(logs), total)
	}
	if logs[0].Command != "echo c" || logs[1].Command != "echo b" {
		t.Fatalf("page 2 = %q, %q; want newest first", logs[0].Command, logs[1].Command)
	}

	// 非法分页参数回落到默认值，并写回查询参数
	query := model.CommandQuery{Page: 0, PageSize: 1000, Username: "bob"}
	logs, _, err = svc.ListCommands(&query)
	if err != nil {
		t.Fatalf("ListCommands failed: %v", err)
	}
	if len(logs) != 5 {
		t.Fatalf("got %d items, want 5", len(logs))
	}
	if query.Page != 1 || query.PageSize != model.DefaultPageSize {
		t.Fatalf("normalized query = %+v", query)
	}

	if logs, total, _ = svc.ListCommands(&model.CommandQuery{Page: 1, PageSize: 10, Username: "nobody"}); total != 0 || len(logs) != 0 {
		t.Fatalf("unknown user returned %d items", len(logs))
	}
}
