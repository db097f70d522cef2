package rcon

import (
	"math"
	"sync"
	"time"
)

// requestKind 区分认证请求和命令请求，二者共享id空间但响应帧类型不同
type requestKind int

const (
	kindAuth requestKind = iota
	kindCommand
)

// result 是一个待处理请求的最终结果
type result struct {
	body string
	err  error
}

// pendingRequest 表示一个已发出、尚未收到响应的请求
type pendingRequest struct {
	id    int32
	kind  requestKind
	done  chan result // 容量为1，只写入一次
	timer *time.Timer
}

// correlator 按请求id关联响应与请求
// 所有状态由 mu 保护，读协程和调用方协程都会访问
type correlator struct {
	mu      sync.Mutex
	seq     int32
	pending map[int32]*pendingRequest
}

func newCorrelator() *correlator {
	return &correlator{
		pending: make(map[int32]*pendingRequest),
	}
}

// nextID 返回一个新的请求id，从1开始严格递增，永远不会是 AuthFailedID
func (c *correlator) nextID() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.seq == math.MaxInt32 {
		c.seq = 0
	}
	c.seq++
	return c.seq
}

// register 登记一个待处理请求并返回其结果通道
// 超时后条目被移除，通道收到 timeoutErr
func (c *correlator) register(id int32, kind requestKind, timeout time.Duration, timeoutErr error) <-chan result {
	req := &pendingRequest{
		id:   id,
		kind: kind,
		done: make(chan result, 1),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending[id] = req
	req.timer = time.AfterFunc(timeout, func() {
		c.complete(id, nil, result{err: timeoutErr})
	})

	return req.done
}

// resolve 用响应包体完成id对应的请求
// 未知id或类型不匹配的响应被静默丢弃（可能属于已超时的请求），返回值表示是否命中
func (c *correlator) resolve(id int32, kind requestKind, body string) bool {
	return c.complete(id, &kind, result{body: body})
}

// failAuth 让当前唯一未完成的认证请求失败，不影响任何命令请求
func (c *correlator) failAuth(err error) bool {
	c.mu.Lock()
	var target *pendingRequest
	for _, req := range c.pending {
		if req.kind == kindAuth {
			target = req
			break
		}
	}
	c.mu.Unlock()

	if target == nil {
		return false
	}
	kind := kindAuth
	return c.complete(target.id, &kind, result{err: err})
}

// forget 移除调用方已放弃的请求，不投递结果
func (c *correlator) forget(id int32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if req, ok := c.pending[id]; ok {
		req.timer.Stop()
		delete(c.pending, id)
	}
}

// reset 清空所有待处理请求而不投递结果，并把id计数器归零
// 返回被放弃的请求，由调用方决定是否通知它们
func (c *correlator) reset() []*pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	reqs := make([]*pendingRequest, 0, len(c.pending))
	for id, req := range c.pending {
		req.timer.Stop()
		delete(c.pending, id)
		reqs = append(reqs, req)
	}
	c.seq = 0
	return reqs
}

// failAll 让所有待处理请求以 err 失败
func (c *correlator) failAll(err error) {
	for _, req := range c.reset() {
		req.done <- result{err: err}
	}
}

// len 返回待处理请求数
func (c *correlator) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pending)
}

// complete 移除id对应的条目并投递结果；kind 非nil时要求类型匹配
func (c *correlator) complete(id int32, kind *requestKind, res result) bool {
	c.mu.Lock()
	req, ok := c.pending[id]
	if !ok || (kind != nil && req.kind != *kind) {
		c.mu.Unlock()
		return false
	}
	req.timer.Stop()
	delete(c.pending, id)
	c.mu.Unlock()

	// done 容量为1且条目已移除，这里不会阻塞
	req.done <- res
	return true
}
