package channels

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/smithy-go"
)

type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// LoadAWSConfig resolves credentials from the default chain for region.
func LoadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	if region == "" {
		return aws.Config{}, fmt.Errorf("%w: AWS_REGION is required", ErrChannelUnavailable)
	}
	return config.LoadDefaultConfig(ctx, config.WithRegion(region))
}

// SESSender sends email through Amazon SES.
type SESSender struct {
	client SESAPI
	from   string
}

func NewSESSender(client SESAPI, from string) *SESSender {
	return &SESSender{client: client, from: from}
}

func NewSESSenderFromConfig(cfg aws.Config, from string) *SESSender {
	return NewSESSender(ses.NewFromConfig(cfg), from)
}

func (s *SESSender) Send(ctx context.Context, msg Message) (Result, error) {
	input := &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &sestypes.Destination{
			ToAddresses: []string{msg.To},
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body: &sestypes.Body{
				Html: &sestypes.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")},
			},
		},
		Tags: []sestypes.MessageTag{
			{Name: aws.String("idempotency_key"), Value: aws.String(tagValue(msg.IdempotencyKey))},
		},
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return Result{}, classifyAWS("ses send email", err)
	}
	return Result{ProviderID: aws.ToString(out.MessageId)}, nil
}

// SNSSender sends SMS through Amazon SNS. It serves the whatsapp channel
// when no WhatsApp Cloud credentials are configured.
type SNSSender struct {
	client SNSAPI
}

func NewSNSSender(client SNSAPI) *SNSSender {
	return &SNSSender{client: client}
}

func NewSNSSenderFromConfig(cfg aws.Config) *SNSSender {
	return NewSNSSender(sns.NewFromConfig(cfg))
}

func (s *SNSSender) Send(ctx context.Context, msg Message) (Result, error) {
	out, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(msg.To),
		Message:     aws.String(msg.Body),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"AWS.SNS.SMS.SMSType": {DataType: aws.String("String"), StringValue: aws.String("Promotional")},
		},
	})
	if err != nil {
		return Result{}, classifyAWS("sns publish", err)
	}
	return Result{ProviderID: aws.ToString(out.MessageId)}, nil
}

var permanentAWSCodes = map[string]bool{
	"MessageRejected":              true,
	"MailFromDomainNotVerified":    true,
	"InvalidParameterValue":        true,
	"InvalidParameter":             true,
	"ConfigurationSetDoesNotExist": true,
	"OptedOut":                     true,
}

func classifyAWS(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && permanentAWSCodes[apiErr.ErrorCode()] {
		return Permanent(fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}

// tagValue keeps the characters SES accepts in message tags.
func tagValue(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s) && len(out) < 256; i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
