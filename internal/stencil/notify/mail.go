package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"
)

// DefaultSMTPPort is the plain SMTP relay port.
const DefaultSMTPPort = 25

// MailConfig describes the SMTP relay.
type MailConfig struct {
	Host       string
	Port       int
	Sender     string
	SenderName string
	Username   string
	Password   string
	StartTLS   bool
	Timeout    time.Duration
}

// MailChannel sends HTML messages through an SMTP relay.
type MailChannel struct {
	cfg MailConfig
}

// NewMailChannel constructs a mail channel.
func NewMailChannel(cfg MailConfig) (*MailChannel, error) {
	if cfg.Host == "" {
		return nil, errors.New("mail channel: empty smtp host")
	}
	if cfg.Sender == "" {
		return nil, errors.New("mail channel: empty sender")
	}
	if cfg.Port <= 0 {
		cfg.Port = DefaultSMTPPort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &MailChannel{cfg: cfg}, nil
}

// Send implements Channel.
func (c *MailChannel) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return errors.New("mail channel: no recipients")
	}
	m, err := c.build(msg)
	if err != nil {
		return err
	}

	policy := mail.NoTLS
	if c.cfg.StartTLS {
		policy = mail.TLSMandatory
	}
	opts := []mail.Option{
		mail.WithPort(c.cfg.Port),
		mail.WithTimeout(c.cfg.Timeout),
		mail.WithTLSPolicy(policy),
	}
	if c.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(c.cfg.Username),
			mail.WithPassword(c.cfg.Password),
		)
	}
	client, err := mail.NewClient(c.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("mail channel: client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("mail channel: send: %w", err)
	}
	return nil
}

func (c *MailChannel) build(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.FromFormat(c.cfg.SenderName, c.cfg.Sender); err != nil {
		return nil, fmt.Errorf("mail channel: sender: %w", err)
	}
	if err := m.To(msg.To...); err != nil {
		return nil, fmt.Errorf("mail channel: recipients: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextHTML, msg.HTML)
	if msg.Text != "" {
		m.AddAlternativeString(mail.TypeTextPlain, msg.Text)
	}
	return m, nil
}
