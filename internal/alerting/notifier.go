package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"riskmonitor/internal/storage"
)

// Notification 封装告警上下文。
type Notification struct {
	AlertType storage.AlertType
	Message   string
	Value     float64
	Threshold float64
	Timestamp time.Time
	Symbol    string
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("alert_type", string(note.AlertType)).
		Float64("value", note.Value).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	symbol := note.Symbol
	if symbol == "" {
		symbol = "SOL/USDT"
	}
	builder.WriteString(fmt.Sprintf("[%s Risk Alert] %s\n", symbol, note.AlertType))
	builder.WriteString(fmt.Sprintf("Time: %s UTC\n", note.Timestamp.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Message: %s\n", note.Message))
	builder.WriteString(fmt.Sprintf("Value: %s\n", formatValue(note.Value)))
	builder.WriteString(fmt.Sprintf("Threshold: %s\n", formatValue(note.Threshold)))
	builder.WriteString("Actions: ")
	builder.WriteString(strings.Join(recommendedActions, "; "))
	return builder.String()
}

var recommendedActions = []string{
	"Reduce leverage to below 10x",
	"Use limit orders instead of market orders",
	"Monitor liquidation levels closely",
}

// MultiNotifier 将告警扇出到所有渠道，任一渠道成功即视为已投递。
type MultiNotifier struct {
	notifiers []Notifier
	logger    zerolog.Logger
}

// NewMultiNotifier drops nil entries; an empty fan-out always fails.
func NewMultiNotifier(logger zerolog.Logger, notifiers ...Notifier) *MultiNotifier {
	filtered := make([]Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			filtered = append(filtered, n)
		}
	}
	return &MultiNotifier{
		notifiers: filtered,
		logger:    logger.With().Str("component", "alert_fanout").Logger(),
	}
}

// Len reports the configured channel count.
func (m *MultiNotifier) Len() int {
	return len(m.notifiers)
}

// Notify delivers to every channel and fails only when none delivered.
func (m *MultiNotifier) Notify(ctx context.Context, note Notification) error {
	if len(m.notifiers) == 0 {
		return ErrNoChannels
	}

	var failures []error
	delivered := 0
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, note); err != nil {
			m.logger.Warn().Err(err).Str("alert_type", string(note.AlertType)).Msg("告警渠道投递失败")
			failures = append(failures, err)
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return errors.Join(failures...)
	}
	return nil
}

// ErrNoChannels is returned when no notification channel is configured.
var ErrNoChannels = errors.New("alerting: no notification channel configured")

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*MultiNotifier)(nil)
)
