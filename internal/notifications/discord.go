package notifications

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DiscordConfig configures a Discord incoming-webhook sink.
type DiscordConfig struct {
	WebhookURL  string
	Username    string
	MinSeverity string
}

// DiscordSink posts incident notifications to a Discord webhook.
type DiscordSink struct {
	cfg    DiscordConfig
	client *http.Client
}

// NewDiscordSink constructs a DiscordSink.
func NewDiscordSink(cfg DiscordConfig) *DiscordSink {
	return &DiscordSink{cfg: cfg, client: &http.Client{Timeout: 10 * time.Second}}
}

func (d *DiscordSink) Name() string { return "discord" }

func (d *DiscordSink) ShouldNotify(e Event) bool {
	return meetsFloor(e.Severity, severityRank[d.cfg.MinSeverity])
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

type discordPayload struct {
	Username string         `json:"username,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

func (d *DiscordSink) Send(e Event) error {
	if d.cfg.WebhookURL == "" {
		return fmt.Errorf("discord webhook URL not configured")
	}
	color := 0x2ECC71
	switch e.Severity {
	case "critical":
		color = 0xE74C3C
	case "high":
		color = 0xE67E22
	}
	body := discordPayload{
		Username: d.cfg.Username,
		Embeds: []discordEmbed{{
			Title:       fmt.Sprintf("[%s] %s on run %s", e.Severity, e.Type, e.RunID),
			Description: e.Description,
			Color:       color,
		}},
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}
	resp, err := d.client.Post(d.cfg.WebhookURL, "application/json", bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("discord: post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("discord: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
