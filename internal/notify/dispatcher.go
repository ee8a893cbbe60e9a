// Package notify delivers alert e-mails over SMTP.
package notify

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/JakeFAU/web-monitor/internal/metrics"
	"github.com/JakeFAU/web-monitor/internal/monitor"
)

// DefaultPort is the SMTP submission port used with STARTTLS.
const DefaultPort = 587

// Config holds SMTP settings. From defaults to Username.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Enabled reports whether credentials are present.
func (c Config) Enabled() bool {
	return c.Host != "" && c.Username != "" && c.Password != ""
}

// Sender is the subset of *mail.Client used by the dispatcher.
type Sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// Dispatcher implements monitor.Notifier. Without credentials every send is
// a logged no-op.
type Dispatcher struct {
	sender Sender
	from   string
	logger *zap.Logger
}

var _ monitor.Notifier = (*Dispatcher)(nil)

// New builds a dispatcher from cfg.
func New(cfg Config, logger *zap.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("notify")
	if !cfg.Enabled() {
		logger.Warn("smtp not configured, notifications disabled")
		return &Dispatcher{logger: logger}, nil
	}
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	client, err := mail.NewClient(cfg.Host,
		mail.WithPort(port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	return NewWithSender(client, from, logger), nil
}

// NewWithSender wires an explicit transport.
func NewWithSender(sender Sender, from string, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{sender: sender, from: from, logger: logger}
}

// Send delivers one HTML message to one recipient.
func (d *Dispatcher) Send(ctx context.Context, recipient, subject, htmlBody string) error {
	if d.sender == nil {
		d.logger.Info("smtp not configured, skipping email", zap.String("recipient", recipient))
		metrics.ObserveNotification("skipped")
		return nil
	}

	msg := mail.NewMsg()
	if err := msg.From(d.from); err != nil {
		metrics.ObserveNotification("failed")
		return &monitor.DeliveryError{Recipient: recipient, Err: fmt.Errorf("set sender: %w", err)}
	}
	if err := msg.To(recipient); err != nil {
		metrics.ObserveNotification("failed")
		return &monitor.DeliveryError{Recipient: recipient, Err: fmt.Errorf("set recipient: %w", err)}
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, htmlBody)

	if err := d.sender.DialAndSendWithContext(ctx, msg); err != nil {
		metrics.ObserveNotification("failed")
		return &monitor.DeliveryError{Recipient: recipient, Err: err}
	}
	metrics.ObserveNotification("sent")
	d.logger.Info("email sent", zap.String("recipient", recipient))
	return nil
}
