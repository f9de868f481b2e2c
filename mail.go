package tmrequest

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"
)

// SMTPConfig configures MailSender.
type SMTPConfig struct {
	Host     string `yaml:"host" env:"TM_SMTP_HOST"`
	Port     int    `yaml:"port" env:"TM_SMTP_PORT" env-default:"25"`
	TLS      bool   `yaml:"tls" env:"TM_SMTP_TLS" env-default:"false"`
	Username string `yaml:"username" env:"TM_SMTP_USERNAME"`
	Password string `yaml:"password" env:"TM_SMTP_PASSWORD"`
	// From is used when a message has no sender address.
	From string `yaml:"from" env:"TM_SMTP_FROM"`
}

// MailSender is a Sender that delivers HTML mail over SMTP.
type MailSender struct {
	config SMTPConfig
	client *mail.Client
}

// NewMailSender creates a MailSender. No connection is made until Send.
func NewMailSender(config SMTPConfig) (*MailSender, error) {
	opts := []mail.Option{
		mail.WithPort(config.Port),
		mail.WithTimeout(30 * time.Second),
	}

	if config.Username != "" && config.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthLogin),
			mail.WithUsername(config.Username),
			mail.WithPassword(config.Password),
		)
	}

	if config.TLS {
		opts = append(opts,
			mail.WithTLSConfig(&tls.Config{ServerName: config.Host, MinVersion: tls.VersionTLS12}),
			mail.WithTLSPolicy(mail.TLSMandatory),
		)
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	client, err := mail.NewClient(config.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating mail client: %w", err)
	}
	return &MailSender{config: config, client: client}, nil
}

// Send implements Sender.
func (m *MailSender) Send(ctx context.Context, msg Message) error {
	mm, err := m.buildMessage(msg)
	if err != nil {
		return err
	}
	if err := m.client.DialAndSendWithContext(ctx, mm); err != nil {
		return fmt.Errorf("sending mail to %s: %w", msg.To, err)
	}
	return nil
}

func (m *MailSender) buildMessage(msg Message) (*mail.Msg, error) {
	if msg.To == "" {
		return nil, fmt.Errorf("mail requires a recipient address")
	}
	from := msg.From
	if from == "" {
		from = m.config.From
	}

	mm := mail.NewMsg()
	if msg.FromName != "" {
		if err := mm.FromFormat(msg.FromName, from); err != nil {
			return nil, fmt.Errorf("setting from address: %w", err)
		}
	} else if err := mm.From(from); err != nil {
		return nil, fmt.Errorf("setting from address: %w", err)
	}
	if err := mm.To(msg.To); err != nil {
		return nil, fmt.Errorf("setting to address: %w", err)
	}
	mm.Subject(msg.Subject)
	mm.SetBodyString(mail.TypeTextHTML, msg.HTMLBody)
	return mm, nil
}
