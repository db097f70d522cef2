/*
Package rcon 实现了 Source RCON 远程控制台协议的客户端，用于向运行中的游戏服务器（例如 CS2）发送管理命令。

主要特性:

  - 二进制帧编解码：小端序长度前缀帧，兼容 TCP 分段投递
  - 认证握手：AUTH 请求与 AUTH_RESPONSE 应答，id 为 -1 表示认证失败
  - 并发请求：多个命令共享同一条 TCP 连接，按请求 id 关联响应，不依赖到达顺序
  - 重试与超时：连接和认证阶段按固定间隔重试，每个阶段固定超时

每次连接尝试都拥有独立的会话（socket、接收缓冲区、读协程和待处理请求表），
失败时整体丢弃，成功后整体移交给 Client。

基本用法:

	client := rcon.NewClient("127.0.0.1", 27015, "rcon-password", rcon.ClientConfig{})
	defer client.Disconnect()

	// 连接并认证，最多尝试5次，每次间隔2秒
	if err := client.Connect(ctx, 5, 2*time.Second); err != nil {
		// 处理错误
	}

	// 执行命令
	response, err := client.Execute(ctx, "status")
*/
package rcon
