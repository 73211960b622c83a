package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/z-tasks/backend/internal/model/chat"
	"github.com/zhouzirui/z-tasks/backend/pkg/client"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	baseURL := flag.String("url", envOr("CHATTESTER_URL", "http://localhost:8080"), "后端地址")
	user := flag.String("user", envOr("CHATTESTER_USER", "manual-tester"), "X-User-ID 身份")
	text := flag.String("text", "", "要发送的消息")
	chatID := flag.String("chat", "", "会话 ID，留空则新建")
	model := flag.String("model", "chat-model", "模型变体 ID")
	dropAfter := flag.Int("drop", 0, "读取 N 个事件后断开并续传 (0 表示不断开)")
	timeout := flag.Duration("timeout", 2*time.Minute, "请求超时时间")

	flag.Parse()

	if strings.TrimSpace(*text) == "" {
		flag.Usage()
		log.Fatal("请通过 -text 提供要发送的消息")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c := client.New(*baseURL, *user)
	cache := client.NewTaskCache(c)

	live, err := c.Submit(ctx, client.SubmitRequest{ChatID: *chatID, Text: *text, Model: *model})
	if err != nil {
		log.Fatalf("提交消息失败: %v", err)
	}
	log.Printf("开始接收: chat=%s stream=%s", live.ChatID, live.StreamID)

	refresh, done := drain(live, *dropAfter, cache)
	live.Close()

	if !done {
		log.Printf("已断开，从 seq=%d 续传", live.LastSeq())
		resumed, err := c.Resume(ctx, live.ChatID, live.StreamID, live.LastSeq())
		if errors.Is(err, client.ErrNoStream) {
			log.Fatal("服务端未开启事件日志，无法续传")
		}
		if err != nil {
			log.Fatalf("续传失败: %v", err)
		}
		more, _ := drain(resumed, 0, cache)
		refresh = refresh || more
		resumed.Close()
	}
	fmt.Println()

	if refresh {
		if err := cache.Refresh(ctx); err != nil {
			log.Fatalf("刷新任务列表失败: %v", err)
		}
	}
	for _, t := range cache.Tasks() {
		mark := " "
		if t.Completed {
			mark = "x"
		}
		fmt.Printf("[%s] %s  %s\n", mark, t.Time.Local().Format("2006-01-02 15:04"), t.Text)
	}
}

// drain prints events until the stream ends or limit events were read. It
// reports whether any event changed the task list and whether the stream
// reached its end.
func drain(s *client.Stream, limit int, cache *client.TaskCache) (refresh, done bool) {
	for n := 0; limit == 0 || n < limit; n++ {
		ev, err := s.Next()
		if errors.Is(err, io.EOF) {
			return refresh, true
		}
		if err != nil {
			log.Printf("[WARN] 流中断: %v", err)
			return refresh, false
		}
		refresh = refresh || client.AffectsTasks(ev)

		switch ev.Type {
		case chat.EventTextDelta:
			fmt.Print(ev.Content)
		case chat.EventReasoningDelta:
			fmt.Fprintf(os.Stderr, "\x1b[2m%s\x1b[0m", ev.Content)
		case chat.EventToolCall:
			log.Printf("调用工具 %s %s", ev.Name, ev.Arguments)
		case chat.EventToolResult:
			log.Printf("工具结果 %s: %s", ev.Name, ev.Message)
		case chat.EventError:
			log.Printf("[ERROR] %s", ev.Message)
		}
	}
	return refresh, false
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
