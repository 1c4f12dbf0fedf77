package channels

import (
	"context"
	"net/mail"

	"afroboost/models"

	"github.com/sirupsen/logrus"
)

// Settings select and configure the provider of each channel.
type Settings struct {
	EmailProvider    string // smtp | ses
	SMTP             SMTPConfig
	WhatsAppProvider string // cloud | sns
	WhatsApp         WhatsAppConfig
	AWSRegion        string
}

// Build registers a sender for every channel whose provider is configured.
// A channel left out makes its campaigns fail with ErrChannelUnavailable.
func Build(ctx context.Context, s Settings) *Registry {
	registry := NewRegistry()
	log := logrus.WithField("component", "channels")

	switch s.EmailProvider {
	case "ses":
		cfg, err := LoadAWSConfig(ctx, s.AWSRegion)
		if err != nil {
			log.WithError(err).Warn("Email channel disabled")
			break
		}
		if s.SMTP.FromEmail == "" {
			log.Warn("Email channel disabled: FROM_EMAIL is required for SES")
			break
		}
		from := (&mail.Address{Name: s.SMTP.FromName, Address: s.SMTP.FromEmail}).String()
		registry.Register(models.ChannelEmail, NewSESSenderFromConfig(cfg, from))
		log.Info("Email channel uses SES")
	default:
		sender, err := NewSMTPSender(s.SMTP)
		if err != nil {
			log.WithError(err).Warn("Email channel disabled")
			break
		}
		registry.Register(models.ChannelEmail, sender)
		log.WithField("host", s.SMTP.Host).Info("Email channel uses SMTP")
	}

	switch s.WhatsAppProvider {
	case "sns":
		cfg, err := LoadAWSConfig(ctx, s.AWSRegion)
		if err != nil {
			log.WithError(err).Warn("WhatsApp channel disabled")
			break
		}
		registry.Register(models.ChannelWhatsApp, NewSNSSenderFromConfig(cfg))
		log.Info("WhatsApp channel falls back to SNS SMS")
	default:
		sender, err := NewWhatsAppCloudSender(s.WhatsApp)
		if err != nil {
			log.WithError(err).Warn("WhatsApp channel disabled")
			break
		}
		registry.Register(models.ChannelWhatsApp, sender)
		log.Info("WhatsApp channel uses the Cloud API")
	}

	return registry
}
