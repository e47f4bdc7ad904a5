package notifications

import (
	"fmt"
	"net/smtp"
	"strings"
)

// EmailConfig configures an SMTP sink.
type EmailConfig struct {
	SMTPHost    string
	SMTPPort    int
	Username    string
	Password    string
	From        string
	To          []string
	MinSeverity string
}

// EmailSink delivers incident notifications over SMTP.
type EmailSink struct {
	cfg EmailConfig
}

// NewEmailSink constructs an EmailSink.
func NewEmailSink(cfg EmailConfig) *EmailSink {
	return &EmailSink{cfg: cfg}
}

func (e *EmailSink) Name() string { return "email" }

func (e *EmailSink) ShouldNotify(ev Event) bool {
	return meetsFloor(ev.Severity, severityRank[e.cfg.MinSeverity])
}

func (e *EmailSink) Send(ev Event) error {
	if e.cfg.SMTPHost == "" {
		return fmt.Errorf("smtp host not configured")
	}
	if e.cfg.From == "" {
		return fmt.Errorf("from address not configured")
	}
	if len(e.cfg.To) == 0 {
		return fmt.Errorf("no recipient addresses configured")
	}

	subject := fmt.Sprintf("[%s] %s on run %s", strings.ToUpper(ev.Severity), ev.Type, ev.RunID)
	body := fmt.Sprintf("To: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		strings.Join(e.cfg.To, ", "), subject, ev.Description)

	addr := fmt.Sprintf("%s:%d", e.cfg.SMTPHost, e.cfg.SMTPPort)
	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.SMTPHost)
	}
	if err := smtp.SendMail(addr, auth, e.cfg.From, e.cfg.To, []byte(body)); err != nil {
		return fmt.Errorf("email: send: %w", err)
	}
	return nil
}
