package rcon

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectTimeout TCP连接在超时时间内没有建立
	ErrConnectTimeout = errors.New("rcon: 连接超时")

	// ErrAuthTimeout 在超时时间内没有收到认证应答
	ErrAuthTimeout = errors.New("rcon: 认证超时")

	// ErrAuthFailed 服务器以 id -1 拒绝了认证
	ErrAuthFailed = errors.New("rcon: 认证失败")

	// ErrCommandTimeout 在超时时间内没有收到命令响应
	ErrCommandTimeout = errors.New("rcon: 命令超时")

	// ErrConnectionClosed 连接在请求完成前被关闭
	ErrConnectionClosed = errors.New("rcon: 连接已关闭")

	// ErrMalformedFrame 收到的帧 size 字段不合法
	ErrMalformedFrame = errors.New("rcon: 帧格式错误")
)

// AttemptError 表示连接重试耗尽后最后一次尝试的失败
type AttemptError struct {
	Attempt  int    // 失败时达到的尝试序号，从1开始
	Attempts int    // 总尝试次数
	Addr     string // 服务器地址
	Err      error  // 最后一次尝试的错误
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("rcon: 连接 %s 失败 (attempt %d/%d): %v", e.Addr, e.Attempt, e.Attempts, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}
