package rcon

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"
)

// readChunkSize 是读协程每次从连接读取的最大字节数
const readChunkSize = 4096

// session 是一次连接尝试拥有的全部资源：socket、接收缓冲区、读协程和待处理请求表
// 尝试失败时整体关闭丢弃；认证成功后整体移交给 Client，旧会话的任何回调都不会影响新会话
type session struct {
	conn    net.Conn
	pending *correlator
	padding int

	logger      *slog.Logger
	logAuthBody bool

	writeMu sync.Mutex // 串行化写入，保证帧不交错

	closeOnce sync.Once
	closed    chan struct{}
	err       error // 关闭原因，closed 关闭后只读

	// onClose 在会话关闭时调用一次（读协程退出或显式关闭）
	onClose func(*session)
}

// dialSession 建立TCP连接并启动读协程
// onClose 在会话关闭时调用一次
func dialSession(ctx context.Context, dialer *net.Dialer, addr string, timeout time.Duration, cfg ClientConfig, onClose func(*session)) (*session, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		// 区分连接超时和调用方取消
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, ErrConnectTimeout
		}
		return nil, err
	}

	padding := 1
	if cfg.DoubleTerminator {
		padding = 2
	}

	s := &session{
		conn:        conn,
		pending:     newCorrelator(),
		padding:     padding,
		logger:      cfg.Logger,
		logAuthBody: cfg.LogOutboundAuthPackets,
		closed:      make(chan struct{}),
		onClose:     onClose,
	}

	go s.readLoop()
	return s, nil
}

// readLoop 持续读取连接数据，切分帧并分发给待处理请求
func (s *session) readLoop() {
	var buf frameBuffer
	chunk := make([]byte, readChunkSize)

	for {
		n, err := s.conn.Read(chunk)
		if n > 0 {
			frames, ferr := buf.feed(chunk[:n])
			for _, f := range frames {
				s.dispatch(f)
			}
			if ferr != nil {
				s.close(ferr)
				return
			}
		}
		if err != nil {
			s.close(err)
			return
		}
	}
}

// dispatch 根据帧类型和上下文把响应交给对应的待处理请求
func (s *session) dispatch(f Frame) {
	s.logFrame("received frame", f, false)

	switch f.Type {
	case PacketTypeAuthResponse:
		if f.ID == AuthFailedID {
			s.pending.failAuth(ErrAuthFailed)
			return
		}
		s.pending.resolve(f.ID, kindAuth, f.Body)
	case PacketTypeResponseValue:
		// Source 服务器在认证应答前会先发送一个空的 RESPONSE_VALUE，它只匹配命令请求，这里会被丢弃
		s.pending.resolve(f.ID, kindCommand, f.Body)
	default:
		if s.logger != nil {
			s.logger.Debug("dropping frame with unknown type", slog.Int("id", int(f.ID)), slog.Int("type", int(f.Type)))
		}
	}
}

// request 发送一个帧并等待对应的响应
func (s *session) request(ctx context.Context, kind requestKind, typ int32, body string, timeout time.Duration, timeoutErr error) (string, error) {
	id := s.pending.nextID()
	done := s.pending.register(id, kind, timeout, timeoutErr)

	if err := s.write(Frame{ID: id, Type: typ, Body: body}); err != nil {
		s.pending.forget(id)
		return "", err
	}

	select {
	case res := <-done:
		return res.body, res.err
	case <-ctx.Done():
		s.pending.forget(id)
		return "", ctx.Err()
	}
}

// authenticate 发送认证请求并等待匹配的 AUTH_RESPONSE
func (s *session) authenticate(ctx context.Context, password string, timeout time.Duration) error {
	_, err := s.request(ctx, kindAuth, PacketTypeAuth, password, timeout, ErrAuthTimeout)
	return err
}

// write 编码并写出一个帧
func (s *session) write(f Frame) error {
	select {
	case <-s.closed:
		return s.closeErr()
	default:
	}

	s.logFrame("sending frame", f, true)
	b := EncodeWithPadding(f.ID, f.Type, f.Body, s.padding)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.conn.Write(b); err != nil {
		s.close(err)
		return err
	}
	return nil
}

// close 关闭连接并让所有待处理请求失败，可重复调用
func (s *session) close(reason error) {
	s.closeOnce.Do(func() {
		if reason == nil {
			reason = ErrConnectionClosed
		}
		s.err = reason
		close(s.closed)
		_ = s.conn.Close()
		s.pending.failAll(ErrConnectionClosed)

		if s.onClose != nil {
			s.onClose(s)
		}
	})
}

// closeErr 返回会话关闭的原因
func (s *session) closeErr() error {
	<-s.closed
	if s.err == nil {
		return ErrConnectionClosed
	}
	return s.err
}

// logFrame 在调试级别输出帧的十六进制内容，出站认证帧的密码会被替换
func (s *session) logFrame(msg string, f Frame, outbound bool) {
	if s.logger == nil || !s.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	if f.Type == PacketTypeAuth && !s.logAuthBody && outbound {
		f.Body = "xxxxx"
	}
	b := EncodeWithPadding(f.ID, f.Type, f.Body, s.padding)
	s.logger.LogAttrs(context.Background(), slog.LevelDebug, msg,
		slog.Int("id", int(f.ID)),
		slog.Int("type", int(f.Type)),
		slog.String("frame", hex.EncodeToString(b)),
	)
}
