package rcon_test

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"

	gorcon "github.com/gorcon/rcon"
	"github.com/gorcon/rcon/rcontest"

	"github.com/tduarte/cs2server/pkg/rcon"
)

func newGorconServer(t *testing.T, handler func(c *rcontest.Context)) (string, int) {
	t.Helper()

	server := rcontest.NewUnstartedServer(
		rcontest.SetSettings(rcontest.Settings{Password: testPassword}),
		rcontest.SetCommandHandler(handler),
	)
	// rcontest 默认的认证应答使用固定id 0，真实服务器回显请求id
	server.SetAuthHandler(echoAuthHandler)
	server.Start()
	t.Cleanup(server.Close)

	host, portStr, err := net.SplitHostPort(server.Addr())
	if err != nil {
		t.Fatalf("invalid server address %q: %v", server.Addr(), err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("invalid server port %q: %v", portStr, err)
	}
	return host, port
}

// echoAuthHandler 与 Source 服务器一样，先发空的 RESPONSE_VALUE，再用请求id回复认证结果
func echoAuthHandler(c *rcontest.Context) {
	id := c.Request().ID
	_, _ = gorcon.NewPacket(gorcon.SERVERDATA_RESPONSE_VALUE, id, "").WriteTo(c.Conn())
	if c.Request().Body() != c.Server().Settings.Password {
		id = -1
	}
	_, _ = gorcon.NewPacket(gorcon.SERVERDATA_AUTH_RESPONSE, id, "").WriteTo(c.Conn())
}

func TestInteropGorconServer(t *testing.T) {
	host, port := newGorconServer(t, func(c *rcontest.Context) {
		var body string
		switch c.Request().Body() {
		case "status":
			body = "hostname: cs2 test\nmap     : de_inferno"
		case "exec warmup.cfg":
			body = ""
		default:
			body = "Unknown command \"" + c.Request().Body() + "\""
		}
		_, _ = gorcon.NewPacket(gorcon.SERVERDATA_RESPONSE_VALUE, c.Request().ID, body).WriteTo(c.Conn())
	})

	c := rcon.NewClient(host, port, testPassword, rcon.ClientConfig{DoubleTerminator: true})
	t.Cleanup(c.Disconnect)

	ctx := context.Background()
	if err := c.Connect(ctx, 1, 0); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	tests := []struct {
		command string
		want    string
	}{
		{"status", "hostname: cs2 test\nmap     : de_inferno"},
		{"exec warmup.cfg", rcon.EmptyResponsePlaceholder},
		{"bogus", "Unknown command \"bogus\""},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			got, err := c.Execute(ctx, tt.command)
			if err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Execute = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInteropGorconServerWrongPassword(t *testing.T) {
	host, port := newGorconServer(t, func(c *rcontest.Context) {})

	c := rcon.NewClient(host, port, "not-the-password", rcon.ClientConfig{DoubleTerminator: true})
	t.Cleanup(c.Disconnect)

	err := c.Connect(context.Background(), 1, 0)
	if !errors.Is(err, rcon.ErrAuthFailed) {
		t.Fatalf("Connect error = %v, want ErrAuthFailed", err)
	}
}
