package channels

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/textproto"

	"gopkg.in/gomail.v2"
)

type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
}

// SMTPSender sends email through an SMTP relay. The Message-ID is derived
// from the idempotency key so a retried send carries the same id.
type SMTPSender struct {
	cfg    SMTPConfig
	dialer *gomail.Dialer
}

func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" || cfg.Port == 0 || cfg.FromEmail == "" {
		return nil, fmt.Errorf("%w: smtp host, port and sender address are required", ErrChannelUnavailable)
	}
	return &SMTPSender{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}, nil
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) (Result, error) {
	messageID := messageIDFor(msg.IdempotencyKey, s.cfg.FromEmail)

	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.cfg.FromEmail, s.cfg.FromName)
	if msg.Name != "" {
		m.SetAddressHeader("To", msg.To, msg.Name)
	} else {
		m.SetHeader("To", msg.To)
	}
	if msg.ReplyTo != "" {
		m.SetHeader("Reply-To", msg.ReplyTo)
	}
	m.SetHeader("Message-ID", messageID)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.Body)

	done := make(chan error, 1)
	go func() { done <- s.dialer.DialAndSend(m) }()

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case err := <-done:
		if err != nil {
			var tpErr *textproto.Error
			if errors.As(err, &tpErr) && tpErr.Code >= 500 {
				return Result{}, Permanent(fmt.Errorf("smtp rejected message: %w", err))
			}
			return Result{}, fmt.Errorf("error sending email: %w", err)
		}
		return Result{ProviderID: messageID}, nil
	}
}

func messageIDFor(key, from string) string {
	sum := sha256.Sum256([]byte(key))
	domain := "afroboost.local"
	for i := len(from) - 1; i >= 0; i-- {
		if from[i] == '@' {
			domain = from[i+1:]
			break
		}
	}
	return fmt.Sprintf("<%s@%s>", hex.EncodeToString(sum[:16]), domain)
}
