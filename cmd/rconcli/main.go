package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"github.com/tduarte/cs2server/internal/config"
	"github.com/tduarte/cs2server/pkg/rcon"
)

// CLI选项，默认值来自与服务端相同的环境变量
type cliOptions struct {
	host             string
	port             int
	password         string
	retries          int
	retryDelay       time.Duration
	timeout          time.Duration
	doubleTerminator bool

	enableColor bool
	debug       bool
}

// CLI颜色设置
var (
	infoColor    = color.New(color.FgBlue)
	errorColor   = color.New(color.FgRed)
	successColor = color.New(color.FgGreen)
	promptColor  = color.New(color.FgCyan, color.Bold)
)

// localPrefix 开头的输入由CLI自己处理，不发送到服务器
const localPrefix = "/local "

const historyMaxSize = 100

func main() {
	options := parseFlags()
	color.NoColor = !options.enableColor

	// 创建用于监听终止信号的上下文
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	client := createClient(options)
	defer client.Disconnect()

	infoColor.Fprintf(os.Stderr, "正在连接 %s ...\n", client.Addr())
	if err := client.Connect(ctx, options.retries, options.retryDelay); err != nil {
		errorColor.Fprintf(os.Stderr, "连接CS2服务器失败: %v\n", err)
		os.Exit(1)
	}
	successColor.Fprintf(os.Stderr, "已连接到 %s\n", client.Addr())

	// 参数直接作为一条命令执行
	if flag.NArg() > 0 {
		response, err := client.Execute(ctx, strings.Join(flag.Args(), " "))
		if err != nil {
			errorColor.Fprintf(os.Stderr, "执行命令失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(response)
		return
	}

	console := newConsole(ctx, client)
	if isatty.IsTerminal(os.Stdin.Fd()) {
		// 设置终端参数
		fd := int(os.Stdin.Fd())
		oldState, err := term.MakeRaw(fd)
		if err != nil {
			errorColor.Fprintf(os.Stderr, "设置终端模式失败: %v\n", err)
			console.runLines(os.Stdin, os.Stdout)
			return
		}
		defer term.Restore(fd, oldState)
		console.runTerminal(os.Stdin, os.Stdout)
		return
	}
	console.runLines(os.Stdin, os.Stdout)
}

// parseFlags 解析命令行参数
func parseFlags() cliOptions {
	options := cliOptions{}

	flag.StringVar(&options.host, "host", config.GetEnv("RCON_HOST", "127.0.0.1"), "RCON 主机")
	flag.IntVar(&options.port, "port", config.GetEnvInt("RCON_PORT", 27015), "RCON 端口")
	flag.StringVar(&options.password, "password", config.GetEnv("RCON_PASSWORD", ""), "RCON 密码")
	flag.IntVar(&options.retries, "retries", config.GetEnvInt("RCON_RETRIES", rcon.DefaultRetries), "连接重试次数")
	flag.DurationVar(&options.retryDelay, "retry-delay", config.GetEnvDuration("RCON_RETRY_DELAY", rcon.DefaultRetryDelay), "重试间隔")
	flag.DurationVar(&options.timeout, "timeout", config.GetEnvDuration("RCON_TIMEOUT", rcon.DefaultTimeout), "连接、认证和命令的超时时间")
	flag.BoolVar(&options.doubleTerminator, "double-terminator", config.GetEnvBool("RCON_DOUBLE_TERMINATOR", false), "每个数据包以两个NUL结尾")
	flag.BoolVar(&options.enableColor, "color", isatty.IsTerminal(os.Stdout.Fd()), "启用彩色输出")
	flag.BoolVar(&options.debug, "debug", false, "输出数据包调试日志")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "用法: %s [选项] [命令...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	// 验证必需的参数
	if options.password == "" {
		fmt.Fprintln(os.Stderr, "错误: 必须提供 RCON 密码 (-password 或 RCON_PASSWORD)")
		flag.Usage()
		os.Exit(1)
	}

	return options
}

// createClient 根据选项创建RCON客户端
func createClient(options cliOptions) *rcon.Client {
	level := slog.LevelWarn
	if options.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	return rcon.NewClient(options.host, options.port, options.password, rcon.ClientConfig{
		ConnectTimeout:   options.timeout,
		AuthTimeout:      options.timeout,
		CommandTimeout:   options.timeout,
		DoubleTerminator: options.doubleTerminator,
		Logger:           logger,
		OnStateChange: func(from, to rcon.State) {
			if to == rcon.StateClosed {
				errorColor.Fprintf(os.Stderr, "连接已断开 (%s -> %s)，下一条命令会自动重连\n", from, to)
			}
		},
	})
}

// console 交互式控制台
type console struct {
	ctx     context.Context
	client  *rcon.Client
	out     io.Writer
	history []string
}

func newConsole(ctx context.Context, client *rcon.Client) *console {
	return &console{ctx: ctx, client: client}
}

// runTerminal 在原始模式的终端上运行，行编辑和上下键历史由 term.Terminal 提供
func (c *console) runTerminal(in io.Reader, out io.Writer) {
	screen := struct {
		io.Reader
		io.Writer
	}{in, out}
	terminal := term.NewTerminal(screen, promptColor.Sprint("cs2> "))
	if width, height, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		_ = terminal.SetSize(width, height)
	}
	c.out = terminal

	c.printInfo("输入 '/local help' 获取可用命令列表，Ctrl+D 退出")
	for c.ctx.Err() == nil {
		line, err := terminal.ReadLine()
		if err != nil {
			return
		}
		if !c.handleLine(line) {
			return
		}
	}
}

// runLines 从管道或文件逐行读取命令
func (c *console) runLines(in io.Reader, out io.Writer) {
	c.out = out
	scanner := bufio.NewScanner(in)
	for c.ctx.Err() == nil && scanner.Scan() {
		if !c.handleLine(scanner.Text()) {
			return
		}
	}
}

// handleLine 处理一行输入，返回false时退出
func (c *console) handleLine(line string) bool {
	command := strings.TrimSpace(line)
	if command == "" {
		return true
	}
	c.addToHistory(command)

	if strings.HasPrefix(command, localPrefix) || command == strings.TrimSpace(localPrefix) {
		return c.handleLocalCommand(strings.TrimSpace(strings.TrimPrefix(command, strings.TrimSpace(localPrefix))))
	}
	c.executeCommand(command)
	return true
}

// executeCommand 执行控制台命令
func (c *console) executeCommand(command string) {
	response, err := c.client.Execute(c.ctx, command)
	if err != nil {
		var attemptErr *rcon.AttemptError
		switch {
		case errors.As(err, &attemptErr):
			c.printError(fmt.Sprintf("重连失败: %v", err))
		case errors.Is(err, rcon.ErrCommandTimeout):
			c.printError("命令超时，服务器没有响应")
		default:
			c.printError(fmt.Sprintf("执行命令失败: %v", err))
		}
		return
	}
	fmt.Fprintln(c.out, strings.TrimRight(response, "\n"))
}

// handleLocalCommand 处理本地CLI命令
func (c *console) handleLocalCommand(command string) bool {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		parts = []string{"help"}
	}

	switch parts[0] {
	case "status":
		state := c.client.State()
		if c.client.IsConnected() {
			successColor.Fprintf(c.out, "%s: %s\n", c.client.Addr(), state)
		} else {
			errorColor.Fprintf(c.out, "%s: %s\n", c.client.Addr(), state)
		}

	case "reconnect":
		c.client.Disconnect()
		if err := c.client.Connect(c.ctx, rcon.DefaultRetries, rcon.DefaultRetryDelay); err != nil {
			c.printError(fmt.Sprintf("重连失败: %v", err))
		} else {
			successColor.Fprintln(c.out, "已重新连接")
		}

	case "history":
		for i, cmd := range c.history {
			fmt.Fprintf(c.out, "%4d  %s\n", i+1, cmd)
		}

	case "help":
		c.printInfo("可用的本地命令:")
		fmt.Fprintln(c.out, "  /local status     - 显示连接状态")
		fmt.Fprintln(c.out, "  /local reconnect  - 断开并重新连接")
		fmt.Fprintln(c.out, "  /local history    - 显示命令历史")
		fmt.Fprintln(c.out, "  /local help       - 显示此帮助信息")
		fmt.Fprintln(c.out, "  /local exit       - 退出程序")
		fmt.Fprintln(c.out, "所有其他输入将作为RCON命令发送到CS2服务器")

	case "exit", "quit":
		return false

	default:
		c.printError(fmt.Sprintf("未知的本地命令: %s", parts[0]))
		c.printInfo("输入 '/local help' 获取可用命令列表")
	}
	return true
}

func (c *console) addToHistory(command string) {
	if n := len(c.history); n > 0 && c.history[n-1] == command {
		return
	}
	c.history = append(c.history, command)
	if len(c.history) > historyMaxSize {
		c.history = c.history[len(c.history)-historyMaxSize:]
	}
}

func (c *console) printInfo(message string) {
	infoColor.Fprintln(c.out, message)
}

func (c *console) printError(message string) {
	errorColor.Fprintln(c.out, message)
}
