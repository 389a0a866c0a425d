package chatbot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/markovalexander/dynamic-batching-tg/internal/server"
)

// ErrUnknownChat 会话不存在或已断开
var ErrUnknownChat = errors.New("unknown chat")

// WebSocketPath 聊天端点
const WebSocketPath = "/ws"

// WebSocketTransport 每个 WebSocket 连接是一个会话，文本帧即消息
type WebSocketTransport struct {
	addr   string
	logger *zap.Logger

	mu    sync.RWMutex
	conns map[string]*websocket.Conn
}

var _ Transport = (*WebSocketTransport)(nil)

// NewWebSocketTransport 创建传输，addr 为监听地址
func NewWebSocketTransport(addr string, logger *zap.Logger) *WebSocketTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketTransport{
		addr:   addr,
		logger: logger.With(zap.String("component", "websocket")),
		conns:  make(map[string]*websocket.Conn),
	}
}

func (t *WebSocketTransport) Name() string { return "websocket" }

// Handler 返回挂载聊天端点的 http.Handler，测试中可直接交给 httptest
func (t *WebSocketTransport) Handler(ctx context.Context, handler Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(WebSocketPath, func(w http.ResponseWriter, r *http.Request) {
		t.serveConn(ctx, w, r, handler)
	})
	return mux
}

// Run 启动 HTTP 服务并阻塞直到 ctx 结束，退出前关闭所有会话
func (t *WebSocketTransport) Run(ctx context.Context, handler Handler) error {
	cfg := server.DefaultConfig()
	cfg.Addr = t.addr
	// 长连接不设读写超时
	cfg.ReadTimeout = 0
	cfg.WriteTimeout = 0

	mgr := server.NewManager(t.Handler(ctx, handler), cfg, t.logger)
	err := mgr.Run(ctx)
	t.closeAll()
	return err
}

func (t *WebSocketTransport) serveConn(ctx context.Context, w http.ResponseWriter, r *http.Request, handler Handler) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		t.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}

	chatID := uuid.NewString()
	t.mu.Lock()
	t.conns[chatID] = conn
	t.mu.Unlock()
	t.logger.Info("chat connected", zap.String("chat_id", chatID), zap.String("remote_addr", r.RemoteAddr))

	defer func() {
		t.mu.Lock()
		delete(t.conns, chatID)
		t.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
		t.logger.Info("chat disconnected", zap.String("chat_id", chatID))
	}()

	// 连接断开或服务关闭时都要结束读循环
	connCtx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var seq int64
	for {
		typ, data, err := conn.Read(connCtx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		seq++
		handler(connCtx, Message{
			ChatID: chatID,
			ID:     "ws:" + chatID + ":" + strconv.FormatInt(seq, 10),
			User:   chatID,
			Text:   string(data),
		})
	}
}

// Send 向会话写一个文本帧
func (t *WebSocketTransport) Send(ctx context.Context, chatID, text string) error {
	t.mu.RLock()
	conn, ok := t.conns[chatID]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChat, chatID)
	}

	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, []byte(text)); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Chats 当前在线会话数
func (t *WebSocketTransport) Chats() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}

func (t *WebSocketTransport) closeAll() {
	t.mu.Lock()
	conns := t.conns
	t.conns = make(map[string]*websocket.Conn)
	t.mu.Unlock()

	for _, c := range conns {
		_ = c.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
