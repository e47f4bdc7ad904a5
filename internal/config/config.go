// Package config loads the control plane's startup configuration from a
// YAML file with gopkg.in/yaml.v3, then layers environment variable
// overrides on top for the handful of values operators tend to override
// per-deployment (ports, DB path, webhook URLs) without touching the
// checked-in file: defaults, then env override, folded into a single
// typed loader.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the control plane's full startup configuration.
type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	DBPath   string `yaml:"db_path"`
	NATSURL  string `yaml:"nats_url"`
	BlobDir  string `yaml:"blob_dir"`
	IPSalt   string `yaml:"ip_salt"`

	AllowedOrigins []string `yaml:"allowed_origins"`

	Notifications NotificationsConfig `yaml:"notifications"`
	Meta          MetaConfig          `yaml:"meta"`
}

// MetaConfig configures the Graph API OAuth client used to connect ad
// accounts (C15).
type MetaConfig struct {
	AppID       string `yaml:"app_id"`
	AppSecret   string `yaml:"app_secret"`
	RedirectURI string `yaml:"redirect_uri"`
}

// NotificationsConfig configures the JobNotify fan-out sinks.
type NotificationsConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
	Email   EmailConfig   `yaml:"email"`
}

// SlackConfig is the YAML shape for a Slack webhook sink.
type SlackConfig struct {
	WebhookURL  string `yaml:"webhook_url"`
	Channel     string `yaml:"channel"`
	Username    string `yaml:"username"`
	MinSeverity string `yaml:"min_severity"`
}

// DiscordConfig is the YAML shape for a Discord webhook sink.
type DiscordConfig struct {
	WebhookURL  string `yaml:"webhook_url"`
	Username    string `yaml:"username"`
	MinSeverity string `yaml:"min_severity"`
}

// EmailConfig is the YAML shape for an SMTP sink.
type EmailConfig struct {
	SMTPHost    string   `yaml:"smtp_host"`
	SMTPPort    int      `yaml:"smtp_port"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	From        string   `yaml:"from"`
	To          []string `yaml:"to"`
	MinSeverity string   `yaml:"min_severity"`
}

func defaults() Config {
	return Config{
		HTTPAddr: ":8080",
		DBPath:   "controlplane.db",
		NATSURL:  "nats://127.0.0.1:4222",
		BlobDir:  "data/blobs",
		IPSalt:   "dev-ip-salt-change-me",
		AllowedOrigins: []string{
			"http://localhost:3000",
			"http://127.0.0.1:3000",
		},
	}
}

// Load reads path (if non-empty and present) over the built-in defaults,
// then applies environment variable overrides. A missing path is not an
// error — the defaults plus env are a valid configuration on their own.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CONTROLPLANE_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("CONTROLPLANE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CONTROLPLANE_NATS_URL"); v != "" {
		cfg.NATSURL = v
	}
	if v := os.Getenv("CONTROLPLANE_ALLOWED_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				origins = append(origins, o)
			}
		}
		if len(origins) > 0 {
			cfg.AllowedOrigins = origins
		}
	}
	if v := os.Getenv("CONTROLPLANE_SLACK_WEBHOOK_URL"); v != "" {
		cfg.Notifications.Slack.WebhookURL = v
	}
	if v := os.Getenv("CONTROLPLANE_DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Notifications.Discord.WebhookURL = v
	}
	if v := os.Getenv("CONTROLPLANE_SMTP_HOST"); v != "" {
		cfg.Notifications.Email.SMTPHost = v
	}
	if v := os.Getenv("CONTROLPLANE_SMTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Notifications.Email.SMTPPort = p
		}
	}
	if v := os.Getenv("CONTROLPLANE_BLOB_DIR"); v != "" {
		cfg.BlobDir = v
	}
	if v := os.Getenv("CONTROLPLANE_IP_SALT"); v != "" {
		cfg.IPSalt = v
	}
	if v := os.Getenv("CONTROLPLANE_META_APP_ID"); v != "" {
		cfg.Meta.AppID = v
	}
	if v := os.Getenv("CONTROLPLANE_META_APP_SECRET"); v != "" {
		cfg.Meta.AppSecret = v
	}
	if v := os.Getenv("CONTROLPLANE_META_REDIRECT_URI"); v != "" {
		cfg.Meta.RedirectURI = v
	}
}
