package rcon

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	// PacketTypeAuth 客户端认证请求，包体为RCON密码
	PacketTypeAuth int32 = 3

	// PacketTypeAuthResponse 服务器认证应答，认证失败时id为 AuthFailedID
	PacketTypeAuthResponse int32 = 2

	// PacketTypeExecCommand 客户端命令请求，与 PacketTypeAuthResponse 数值相同，只能根据上下文区分
	PacketTypeExecCommand int32 = 2

	// PacketTypeResponseValue 服务器命令响应，包体为命令输出
	PacketTypeResponseValue int32 = 0
)

const (
	// AuthFailedID 服务器在认证失败时使用的保留id，客户端永远不会分配该id
	AuthFailedID int32 = -1

	// headerSize 是 size、id、type 三个字段的总长度
	headerSize = 12

	// minFrameSize 是 size 字段允许的最小值：id(4) + type(4) + 终止符(1)
	minFrameSize = 4 + 4 + 1

	// MaxFrameSize 是 size 字段允许的最大值，超过即视为损坏的帧
	MaxFrameSize = 1 << 20
)

// Frame 是一个RCON协议帧
type Frame struct {
	ID   int32  // 请求id，用于关联请求和响应
	Type int32  // 帧类型
	Body string // 包体（UTF-8文本）
}

// String 返回便于日志输出的帧描述
func (f Frame) String() string {
	return fmt.Sprintf("rcon.Frame{ID:%d, Type:%d, Body:%q}", f.ID, f.Type, f.Body)
}

// Encode 将帧编码为线上格式，包体后跟一个NUL终止符
//
// size 字段 = 4(id) + 4(type) + len(body) + 1(终止符)
func Encode(id, typ int32, body string) []byte {
	return EncodeWithPadding(id, typ, body, 1)
}

// EncodeWithPadding 与 Encode 相同，但可以指定终止符数量
// 传统的 Source 服务器要求两个NUL（包体一个、数据包一个），padding 小于1时按1处理
func EncodeWithPadding(id, typ int32, body string, padding int) []byte {
	if padding < 1 {
		padding = 1
	}
	size := 4 + 4 + len(body) + padding

	b := make([]byte, 4+size)
	binary.LittleEndian.PutUint32(b[0:], uint32(size))
	binary.LittleEndian.PutUint32(b[4:], uint32(id))
	binary.LittleEndian.PutUint32(b[8:], uint32(typ))
	copy(b[headerSize:], body)
	// 剩余的终止符字节已经是0

	return b
}

// Decode 从 b 的开头解析一个帧
//
// 如果 b 还不足以构成一个完整的帧（少于12字节，或 4+size 大于 len(b)），返回 n == 0 且 err == nil，
// 调用方应等待更多字节后再试。否则返回帧和消耗的字节数 4+size，调用方据此切出剩余部分。
// 包体在第一个NUL处截断，包体中内嵌NUL是协议本身的限制。
// 只有 size 字段本身不合法时才返回 ErrMalformedFrame。
func Decode(b []byte) (f Frame, n int, err error) {
	if len(b) < headerSize {
		return Frame{}, 0, nil
	}

	size := int32(binary.LittleEndian.Uint32(b[0:]))
	if size < minFrameSize || size > MaxFrameSize {
		return Frame{}, 0, fmt.Errorf("%w: size=%d", ErrMalformedFrame, size)
	}

	total := 4 + int(size)
	if total > len(b) {
		return Frame{}, 0, nil
	}

	body := b[headerSize:total]
	if i := bytes.IndexByte(body, 0); i >= 0 {
		body = body[:i]
	}

	f = Frame{
		ID:   int32(binary.LittleEndian.Uint32(b[4:])),
		Type: int32(binary.LittleEndian.Uint32(b[8:])),
		Body: string(body),
	}
	return f, total, nil
}
