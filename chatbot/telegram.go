package chatbot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/markovalexander/dynamic-batching-tg/internal/retry"
	"github.com/markovalexander/dynamic-batching-tg/internal/tlsutil"
)

// ErrUnauthorized Bot API 拒绝了 token
var ErrUnauthorized = errors.New("telegram token rejected")

// TelegramConfig Telegram 长轮询配置
type TelegramConfig struct {
	Token       string
	APIURL      string
	PollTimeout time.Duration
	// Retry getUpdates 失败时的退避策略
	Retry *retry.Policy
}

// TelegramTransport 通过 Bot API 长轮询收消息
type TelegramTransport struct {
	cfg     TelegramConfig
	base    string
	http    *http.Client
	retryer retry.Retryer
	logger  *zap.Logger
	offset  int64
}

var _ Transport = (*TelegramTransport)(nil)

// NewTelegramTransport 创建传输
func NewTelegramTransport(cfg TelegramConfig, logger *zap.Logger) *TelegramTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.telegram.org"
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	policy := cfg.Retry
	if policy == nil {
		policy = &retry.Policy{
			MaxRetries:   5,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     30 * time.Second,
			Multiplier:   2,
			Jitter:       true,
		}
	}
	cp := *policy
	cp.Retryable = func(err error) bool { return !errors.Is(err, ErrUnauthorized) }

	logger = logger.With(zap.String("component", "telegram"))
	return &TelegramTransport{
		cfg:     cfg,
		base:    strings.TrimRight(cfg.APIURL, "/") + "/bot" + cfg.Token + "/",
		http:    tlsutil.SecureHTTPClient(cfg.PollTimeout + 10*time.Second),
		retryer: retry.NewBackoffRetryer(&cp, logger),
		logger:  logger,
	}
}

func (t *TelegramTransport) Name() string { return "telegram" }

// =============================================================================
// 📡 Bot API 结构
// =============================================================================

type tgResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

type tgUpdate struct {
	UpdateID int64      `json:"update_id"`
	Message  *tgMessage `json:"message"`
}

type tgMessage struct {
	MessageID int64   `json:"message_id"`
	From      *tgUser `json:"from"`
	Chat      tgChat  `json:"chat"`
	Text      string  `json:"text"`
}

type tgUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type tgChat struct {
	ID int64 `json:"id"`
}

// =============================================================================
// 🔄 长轮询
// =============================================================================

// Run 先 getMe 校验 token，然后循环 getUpdates
func (t *TelegramTransport) Run(ctx context.Context, handler Handler) error {
	var me tgUser
	if err := t.call(ctx, "getMe", nil, &me); err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}
	t.logger.Info("telegram bot started", zap.String("username", me.Username))

	for {
		if ctx.Err() != nil {
			return nil
		}

		var updates []tgUpdate
		err := t.retryer.Do(ctx, func(ctx context.Context) error {
			return t.call(ctx, "getUpdates", map[string]any{
				"offset":          t.offset,
				"timeout":         int(t.cfg.PollTimeout / time.Second),
				"allowed_updates": []string{"message"},
			}, &updates)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrUnauthorized) {
				return err
			}
			t.logger.Error("getUpdates failed, continuing", zap.Error(err))
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= t.offset {
				t.offset = u.UpdateID + 1
			}
			if u.Message == nil || u.Message.Text == "" {
				continue
			}
			handler(ctx, toMessage(u.Message))
		}
	}
}

func toMessage(m *tgMessage) Message {
	chatID := strconv.FormatInt(m.Chat.ID, 10)
	msg := Message{
		ChatID: chatID,
		ID:     "tg:" + chatID + ":" + strconv.FormatInt(m.MessageID, 10),
		Text:   m.Text,
	}
	if m.From != nil {
		msg.User = m.From.Username
	}
	return msg
}

// Send 调用 sendMessage
func (t *TelegramTransport) Send(ctx context.Context, chatID, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}
	return t.call(ctx, "sendMessage", map[string]any{
		"chat_id": id,
		"text":    text,
	}, nil)
}

// call 以 JSON POST 调用 Bot API 方法，错误中的 token 会被替换掉
func (t *TelegramTransport) call(ctx context.Context, method string, params any, out any) error {
	var body bytes.Buffer
	if params != nil {
		if err := json.NewEncoder(&body).Encode(params); err != nil {
			return retry.Permanent(fmt.Errorf("encode %s params: %w", method, err))
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.base+method, &body)
	if err != nil {
		return retry.Permanent(t.redact(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return t.redact(err)
	}
	defer resp.Body.Close()

	var envelope tgResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode %s response (status %d): %w", method, resp.StatusCode, err)
	}
	if !envelope.OK {
		if envelope.ErrorCode == http.StatusUnauthorized || resp.StatusCode == http.StatusUnauthorized {
			return ErrUnauthorized
		}
		return fmt.Errorf("%s failed: %d %s", method, envelope.ErrorCode, envelope.Description)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

func (t *TelegramTransport) redact(err error) error {
	if t.cfg.Token == "" {
		return err
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return &url.Error{
			Op:  uerr.Op,
			URL: strings.ReplaceAll(uerr.URL, t.cfg.Token, "<token>"),
			Err: uerr.Err,
		}
	}
	return err
}
