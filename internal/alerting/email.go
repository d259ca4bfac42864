package alerting

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"math"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// EmailConfig describes SMTP delivery.
type EmailConfig struct {
	SMTPHost   string
	SMTPPort   int
	Username   string
	Password   string
	From       string
	Recipients []string
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier sends HTML alert mails. smtp.SendMail upgrades with STARTTLS when offered.
type EmailNotifier struct {
	cfg      EmailConfig
	sendMail sendMailFunc
	logger   zerolog.Logger
}

// NewEmailNotifier 构造邮件告警器。
func NewEmailNotifier(cfg EmailConfig, logger zerolog.Logger) *EmailNotifier {
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = 587
	}
	if cfg.Username == "" {
		cfg.Username = cfg.From
	}
	return &EmailNotifier{
		cfg:      cfg,
		sendMail: smtp.SendMail,
		logger:   logger.With().Str("component", "alert_email").Logger(),
	}
}

// Notify renders and sends one alert mail to every recipient.
func (n *EmailNotifier) Notify(ctx context.Context, note Notification) error {
	if len(n.cfg.Recipients) == 0 {
		return fmt.Errorf("email: no recipients configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := buildEmail(n.cfg, note)
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if n.cfg.Password != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.SMTPHost)
	}
	addr := net.JoinHostPort(n.cfg.SMTPHost, strconv.Itoa(n.cfg.SMTPPort))
	if err := n.sendMail(addr, auth, n.cfg.From, n.cfg.Recipients, msg); err != nil {
		return fmt.Errorf("send alert email: %w", err)
	}

	n.logger.Info().Str("alert_type", string(note.AlertType)).
		Int("recipients", len(n.cfg.Recipients)).
		Msg("告警已发送 (Email)")
	return nil
}

var emailTemplate = template.Must(template.New("alert").Parse(`<html>
<body style="font-family: Arial; padding: 20px;">
    <h2 style="color: #e74c3c;">{{.Symbol}} Risk Alert</h2>
    <div style="background: #f8f9fa; padding: 15px; border-radius: 5px;">
        <p><strong>Type:</strong> {{.Type}}</p>
        <p><strong>Message:</strong> {{.Message}}</p>
        <p><strong>Current Value:</strong> {{.Value}}</p>
        <p><strong>Threshold:</strong> {{.Threshold}}</p>
        <p><strong>Time:</strong> {{.Time}} UTC</p>
    </div>
    <div style="margin-top: 20px;">
        <h3>Recommended Actions:</h3>
        <ul>
        {{- range .Actions}}
            <li>{{.}}</li>
        {{- end}}
        </ul>
    </div>
</body>
</html>`))

func buildEmail(cfg EmailConfig, note Notification) ([]byte, error) {
	symbol := note.Symbol
	if symbol == "" {
		symbol = "SOL/USDT"
	}

	var body bytes.Buffer
	err := emailTemplate.Execute(&body, map[string]any{
		"Symbol":    symbol,
		"Type":      strings.ReplaceAll(string(note.AlertType), "_", " "),
		"Message":   note.Message,
		"Value":     formatValue(note.Value),
		"Threshold": formatValue(note.Threshold),
		"Time":      note.Timestamp.UTC().Format("2006-01-02 15:04:05"),
		"Actions":   recommendedActions,
	})
	if err != nil {
		return nil, fmt.Errorf("render alert email: %w", err)
	}

	var msg bytes.Buffer
	msg.WriteString(fmt.Sprintf("From: %s\r\n", cfg.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(cfg.Recipients, ", ")))
	msg.WriteString(fmt.Sprintf("Subject: %s Alert: %s\r\n", symbol, note.AlertType))
	msg.WriteString(fmt.Sprintf("Date: %s\r\n", note.Timestamp.UTC().Format(time.RFC1123Z)))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	msg.Write(body.Bytes())
	msg.WriteString("\r\n")
	return msg.Bytes(), nil
}

// formatValue renders v with two decimals and thousands separators.
func formatValue(v float64) string {
	return formatNumber(v, 2)
}

func formatNumber(v float64, places int32) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	fixed := decimal.NewFromFloat(v).StringFixed(places)
	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign, fixed = "-", fixed[1:]
	}
	intPart, frac, hasFrac := strings.Cut(fixed, ".")

	var grouped strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteRune(r)
	}
	if !hasFrac {
		return sign + grouped.String()
	}
	return sign + grouped.String() + "." + frac
}

var _ Notifier = (*EmailNotifier)(nil)
