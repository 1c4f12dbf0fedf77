package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

const defaultGraphURL = "https://graph.facebook.com/v19.0"

type WhatsAppConfig struct {
	APIURL        string
	Token         string
	PhoneNumberID string
	Timeout       time.Duration
}

// WhatsAppCloudSender posts text messages to the WhatsApp Cloud API.
type WhatsAppCloudSender struct {
	cfg    WhatsAppConfig
	client *fasthttp.Client
}

func NewWhatsAppCloudSender(cfg WhatsAppConfig) (*WhatsAppCloudSender, error) {
	if cfg.Token == "" || cfg.PhoneNumberID == "" {
		return nil, fmt.Errorf("%w: whatsapp token and phone number id are required", ErrChannelUnavailable)
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultGraphURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &WhatsAppCloudSender{
		cfg: cfg,
		client: &fasthttp.Client{
			Name:         "afroboost",
			ReadTimeout:  cfg.Timeout,
			WriteTimeout: cfg.Timeout,
		},
	}, nil
}

type whatsAppText struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
	CallbackData string `json:"biz_opaque_callback_data,omitempty"`
}

type whatsAppResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (s *WhatsAppCloudSender) Send(ctx context.Context, msg Message) (Result, error) {
	to := strings.TrimPrefix(msg.To, "+")
	if to == "" {
		return Result{}, Permanent(fmt.Errorf("whatsapp recipient has no phone number"))
	}

	payload := whatsAppText{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		CallbackData:     msg.IdempotencyKey,
	}
	payload.Text.Body = msg.Body
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, Permanent(err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(strings.TrimRight(s.cfg.APIURL, "/") + "/" + s.cfg.PhoneNumberID + "/messages")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	req.SetBody(body)

	deadline := time.Now().Add(s.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.client.DoDeadline(req, resp, deadline); err != nil {
		return Result{}, fmt.Errorf("whatsapp request: %w", err)
	}

	var decoded whatsAppResponse
	decodeErr := json.Unmarshal(resp.Body(), &decoded)

	status := resp.StatusCode()
	switch {
	case status >= 200 && status < 300:
		if decodeErr != nil {
			return Result{}, fmt.Errorf("whatsapp response carried no message id: %w", decodeErr)
		}
		if len(decoded.Messages) == 0 || decoded.Messages[0].ID == "" {
			return Result{}, fmt.Errorf("whatsapp response carried no message id")
		}
		return Result{ProviderID: decoded.Messages[0].ID}, nil
	case status == fasthttp.StatusTooManyRequests || status >= 500:
		return Result{}, fmt.Errorf("whatsapp status %d: %s", status, errorText(decoded, resp.Body()))
	default:
		return Result{}, Permanent(fmt.Errorf("whatsapp status %d: %s", status, errorText(decoded, resp.Body())))
	}
}

func errorText(decoded whatsAppResponse, raw []byte) string {
	if decoded.Error != nil && decoded.Error.Message != "" {
		return decoded.Error.Message
	}
	if len(raw) > 200 {
		raw = raw[:200]
	}
	return string(raw)
}
