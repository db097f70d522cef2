package rcon

// frameBuffer 累积从连接读到的原始字节，并切分出完整的帧
// 不完整的尾部字节保留到下一次 feed，缓冲区只属于一个会话，重连时整体丢弃
type frameBuffer struct {
	buf []byte
}

// feed 追加字节并返回其中所有完整的帧
// 返回错误时缓冲区内容已不可信，调用方应关闭连接
func (b *frameBuffer) feed(p []byte) ([]Frame, error) {
	b.buf = append(b.buf, p...)

	var frames []Frame
	for {
		f, n, err := Decode(b.buf)
		if err != nil {
			return frames, err
		}
		if n == 0 {
			break
		}
		frames = append(frames, f)
		b.buf = b.buf[n:]
	}

	// 全部消耗后释放底层数组，避免长期持有大块内存
	if len(b.buf) == 0 {
		b.buf = nil
	}
	return frames, nil
}

// buffered 返回尚未组成完整帧的字节数
func (b *frameBuffer) buffered() int {
	return len(b.buf)
}
