package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"github.com/zhouzirui/z-social/backend/internal/auth"
	"github.com/zhouzirui/z-social/backend/internal/config"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	server := flag.String("server", "ws://localhost:8080", "服务地址")
	path := flag.String("path", "", "websocket 路径，例如 /ws/chat/bob_alice")
	token := flag.String("token", "", "访问令牌，留空且指定 -user 时使用 JWT_SECRET 签发")
	userID := flag.Int64("user", 0, "签发令牌使用的用户 ID")
	ttl := flag.Duration("ttl", time.Hour, "签发令牌的有效期")
	flag.Parse()

	if *path == "" {
		flag.Usage()
		log.Fatal("请通过 -path 指定 websocket 路径")
	}

	if *token == "" && *userID != 0 {
		cfg, err := config.Load()
		if err != nil {
			log.Fatalf("配置加载失败: %v", err)
		}
		*token, err = auth.IssueToken(cfg.Auth.Secret, cfg.Auth.Algorithm, *userID, *ttl)
		if err != nil {
			log.Fatalf("签发令牌失败: %v", err)
		}
	}

	target, err := url.Parse(strings.TrimRight(*server, "/") + *path)
	if err != nil {
		log.Fatalf("无效地址: %v", err)
	}
	if *token != "" {
		q := target.Query()
		q.Set("token", *token)
		target.RawQuery = q.Encode()
	}

	conn, resp, err := websocket.DefaultDialer.Dial(target.String(), nil)
	if err != nil {
		if resp != nil {
			log.Fatalf("连接失败: %v (HTTP %d)", err, resp.StatusCode)
		}
		log.Fatalf("连接失败: %v", err)
	}
	defer conn.Close()
	log.Printf("已连接 %s", target.Redacted())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				var ce *websocket.CloseError
				if errors.As(err, &ce) {
					log.Printf("连接关闭: code=%d reason=%q", ce.Code, ce.Text)
				} else {
					log.Printf("读取失败: %v", err)
				}
				return
			}
			fmt.Printf("<< %s\n", data)
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	for {
		select {
		case <-done:
			return
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				log.Printf("发送失败: %v", err)
				return
			}
		case <-interrupt:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}
