package notifications

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"aura/internal/config"
)

const userAgent = "Aura-Go/0.1.0"

// RunSummary carries the counters reported by a worker summary.
type RunSummary struct {
	Processed       int
	Failed          int
	DurationSeconds float64
}

// Service defines the notification surface used by the launcher.
type Service interface {
	NotifyRunCompleted(ctx context.Context, summary *RunSummary, outputDir string) error
	NotifyRunFailed(ctx context.Context, exitCode int, fatal string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:   topic,
		client:     &http.Client{Timeout: timeout},
		onComplete: cfg.Notifications.OnComplete,
		onError:    cfg.Notifications.OnError,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint   string
	client     *http.Client
	onComplete bool
	onError    bool
}

// CompletedMessage renders the title and body announcing a finished batch.
func CompletedMessage(summary *RunSummary, outputDir string) (string, string) {
	title := "Transcription Complete"
	body := "Batch finished successfully."
	if summary != nil {
		duration := FormatDuration(summary.DurationSeconds)
		if summary.Failed > 0 {
			title = "Transcription Complete (with failures)"
			body = fmt.Sprintf("%d succeeded, %d failed in %s.", summary.Processed, summary.Failed, duration)
		} else {
			body = fmt.Sprintf("%d file(s) transcribed in %s.", summary.Processed, duration)
		}
	}
	if dir := strings.TrimSpace(outputDir); dir != "" {
		body += " Output: " + dir
	}
	return title, body
}

// FailedMessage renders the title and body announcing a failed batch.
func FailedMessage(exitCode int, fatal string) (string, string) {
	if fatal = strings.TrimSpace(fatal); fatal != "" {
		return "Transcription Failed", fatal
	}
	return "Transcription Failed", fmt.Sprintf("Worker exited with code %d.", exitCode)
}

// FormatDuration renders seconds as "45s" or "3m 7s".
func FormatDuration(seconds float64) string {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds <= 0 {
		return "0s"
	}
	total := int64(math.Round(seconds))
	if total < 60 {
		return fmt.Sprintf("%ds", total)
	}
	return fmt.Sprintf("%dm %ds", total/60, total%60)
}

func (n *ntfyService) NotifyRunCompleted(ctx context.Context, summary *RunSummary, outputDir string) error {
	if !n.onComplete {
		return nil
	}
	title, message := CompletedMessage(summary, outputDir)
	tags := []string{"aura", "transcription", "completed"}
	if summary != nil && summary.Failed > 0 {
		tags = append(tags, "warning")
	}
	return n.send(ctx, payload{title: title, message: message, tags: tags})
}

func (n *ntfyService) NotifyRunFailed(ctx context.Context, exitCode int, fatal string) error {
	if !n.onError {
		return nil
	}
	title, message := FailedMessage(exitCode, fatal)
	return n.send(ctx, payload{
		title:    title,
		message:  message,
		tags:     []string{"aura", "error", "alert"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "Aura - Test",
		message:  "Notification system test",
		tags:     []string{"aura", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyRunCompleted(context.Context, *RunSummary, string) error { return nil }
func (noopService) NotifyRunFailed(context.Context, int, string) error            { return nil }
func (noopService) TestNotification(context.Context) error                       { return nil }
