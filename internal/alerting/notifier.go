package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"btcgold-correlation/internal/pipeline"
)

// Notification 封装一次运行的结果。
type Notification struct {
	RunID       string
	Owner       string
	State       string
	Stage       string
	Correlation float64
	Samples     int
	HasResult   bool
	Error       string
	Attempts    map[string]int
	Started     time.Time
	Finished    time.Time
}

// Notifier 定义通知输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// RunNotifier adapts a Notifier to pipeline run reports.
type RunNotifier struct {
	notifier Notifier
}

// NewRunNotifier wraps n.
func NewRunNotifier(n Notifier) *RunNotifier {
	return &RunNotifier{notifier: n}
}

// NotifyRun implements pipeline.Notifier.
func (r *RunNotifier) NotifyRun(ctx context.Context, report pipeline.RunReport) error {
	return r.notifier.Notify(ctx, FromReport(report))
}

// FromReport flattens a run report into a notification.
func FromReport(report pipeline.RunReport) Notification {
	note := Notification{
		RunID:    report.RunID,
		Owner:    report.Owner,
		State:    string(report.State),
		Stage:    string(report.Stage),
		Attempts: make(map[string]int, len(report.Attempts)),
		Started:  report.Started,
		Finished: report.Finished,
	}
	for task, n := range report.Attempts {
		note.Attempts[string(task)] = n
	}
	if report.Result != nil {
		note.HasResult = true
		note.Correlation = report.Result.Value
		note.Samples = report.Result.SampleSize
	}
	if report.Err != nil {
		note.Error = report.Err.Error()
	}
	return note
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 通知器。
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

	n.logger.Info().Str("run_id", note.RunID).
		Str("state", note.State).
		Msg("运行通知已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[BTC/Gold %s]\n", note.State))
	builder.WriteString(fmt.Sprintf("Run: %s\n", note.RunID))
	if note.Owner != "" {
		builder.WriteString(fmt.Sprintf("Owner: %s\n", note.Owner))
	}
	builder.WriteString(fmt.Sprintf("Started: %s UTC\n", note.Started.UTC().Format(time.RFC3339)))
	if !note.Finished.IsZero() {
		builder.WriteString(fmt.Sprintf("Took: %s\n", note.Finished.Sub(note.Started).Round(time.Millisecond)))
	}
	if note.HasResult {
		value := "NaN"
		if !math.IsNaN(note.Correlation) {
			value = fmt.Sprintf("%.4f", note.Correlation)
		}
		builder.WriteString(fmt.Sprintf("Correlation: %s (%d samples)\n", value, note.Samples))
	}
	if note.Error != "" {
		builder.WriteString(fmt.Sprintf("Failed in: %s\n", note.Stage))
		builder.WriteString(fmt.Sprintf("Error: %s\n", note.Error))
	}
	return builder.String()
}

var (
	_ Notifier          = (*TelegramNotifier)(nil)
	_ pipeline.Notifier = (*RunNotifier)(nil)
)
