package rcon_test

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/tduarte/cs2server/pkg/rcon"
)

func ExampleClient() {
	client := rcon.NewClient("cs2-server", 27015, "changeme", rcon.ClientConfig{
		Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})),
	})
	defer client.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := client.Connect(ctx, 5, 2*time.Second); err != nil {
		log.Fatalf("连接失败: %v", err)
	}

	status, err := client.Execute(ctx, "status")
	if err != nil {
		log.Fatalf("执行命令失败: %v", err)
	}
	fmt.Println(status)
}

func ExampleEncode() {
	b := rcon.Encode(1, rcon.PacketTypeExecCommand, "status")
	fmt.Printf("%x\n", b)

	f, n, err := rcon.Decode(b)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(n, f.ID, f.Type, f.Body)
	// Output:
	// 0f000000010000000200000073746174757300
	// 19 1 2 status
}
