package notifications

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SlackConfig configures a Slack incoming-webhook sink.
type SlackConfig struct {
	WebhookURL  string
	Channel     string
	Username    string
	MinSeverity string
}

// SlackSink posts incident notifications to a Slack webhook.
type SlackSink struct {
	cfg    SlackConfig
	client *http.Client
}

// NewSlackSink constructs a SlackSink.
func NewSlackSink(cfg SlackConfig) *SlackSink {
	return &SlackSink{cfg: cfg, client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *SlackSink) Name() string { return "slack" }

func (s *SlackSink) ShouldNotify(e Event) bool {
	return meetsFloor(e.Severity, severityRank[s.cfg.MinSeverity])
}

type slackAttachment struct {
	Color string `json:"color"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

type slackPayload struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	Attachments []slackAttachment `json:"attachments"`
}

func (s *SlackSink) Send(e Event) error {
	if s.cfg.WebhookURL == "" {
		return fmt.Errorf("slack webhook URL not configured")
	}
	color := "good"
	switch e.Severity {
	case "critical":
		color = "danger"
	case "high":
		color = "warning"
	}
	body := slackPayload{
		Channel:  s.cfg.Channel,
		Username: s.cfg.Username,
		Attachments: []slackAttachment{{
			Color: color,
			Title: fmt.Sprintf("[%s] %s on run %s", e.Severity, e.Type, e.RunID),
			Text:  e.Description,
		}},
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("slack: marshal payload: %w", err)
	}
	resp, err := s.client.Post(s.cfg.WebhookURL, "application/json", bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("slack: post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("slack: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
