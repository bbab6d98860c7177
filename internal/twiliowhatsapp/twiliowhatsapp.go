// Package twiliowhatsapp wraps the Twilio API for WhatsApp: outbound REST
// messages, inbound webhook parsing and request signature validation.
package twiliowhatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/BTreeMap/StudyPipe/internal/models"
	"github.com/BTreeMap/StudyPipe/internal/phone"
	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// ChannelPrefix marks WhatsApp addresses in Twilio.
const ChannelPrefix = "whatsapp:"

// SignatureHeader carries the Twilio request signature.
const SignatureHeader = "X-Twilio-Signature"

// ErrMissingSender is returned for webhooks without a From field.
var ErrMissingSender = errors.New("twilio webhook missing From")

// Sender sends WhatsApp text messages.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts holds configuration options for the Twilio WhatsApp client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// Option defines a configuration option for the Twilio WhatsApp client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sending number, with or without the whatsapp: prefix.
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// Client wraps the Twilio REST API for WhatsApp.
type Client struct {
	client    *twilio.RestClient
	fromWhats string
}

// NewClient creates a REST client. Unset options fall back to TWILIO_* environment variables.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("fromWhats number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Client{client: client, fromWhats: Address(cfg.FromWhats)}, nil
}

// Address returns number as a Twilio WhatsApp address.
func Address(number string) string {
	number = strings.TrimSpace(number)
	if strings.HasPrefix(number, ChannelPrefix) {
		return number
	}
	return ChannelPrefix + number
}

// SendMessage sends a WhatsApp message through the Twilio API.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(Address(to))
	params.SetFrom(c.fromWhats)
	params.SetBody(body)

	tail, _ := phone.Tail(to)
	resp, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("TwilioClient.SendMessage: failed", "tail", tail, "error", err)
		return fmt.Errorf("failed to send twilio message: %w", err)
	}
	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Debug("TwilioClient.SendMessage: sent", "tail", tail, "sid", sid)
	return nil
}

// ParseWebhook maps a Twilio WhatsApp webhook form to an inbound message.
// Only the first media item is used, and only when it is an image.
func ParseWebhook(form url.Values) (models.InboundMessage, error) {
	from := strings.TrimSpace(form.Get("From"))
	if from == "" {
		return models.InboundMessage{}, ErrMissingSender
	}

	msg := models.InboundMessage{
		MessageID:      form.Get("MessageSid"),
		RawPhone:       strings.TrimPrefix(from, ChannelPrefix),
		SubscriberName: strings.TrimSpace(form.Get("ProfileName")),
		MessageText:    form.Get("Body"),
	}

	numMedia, _ := strconv.Atoi(form.Get("NumMedia"))
	mediaURL := form.Get("MediaUrl0")
	if mediaURL != "" && (numMedia > 0 || form.Get("NumMedia") == "") {
		ct := form.Get("MediaContentType0")
		if ct == "" || strings.HasPrefix(strings.ToLower(ct), "image/") {
			msg.ImageURL = mediaURL
		} else {
			slog.Debug("ParseWebhook: ignoring non-image media", "contentType", ct)
		}
	}
	return msg, nil
}

// Validator checks X-Twilio-Signature headers.
type Validator struct {
	validator twilioclient.RequestValidator
}

// NewValidator creates a validator for authToken.
func NewValidator(authToken string) *Validator {
	return &Validator{validator: twilioclient.NewRequestValidator(authToken)}
}

// Validate reports whether signature matches the public URL and form parameters.
func (v *Validator) Validate(publicURL string, form url.Values, signature string) bool {
	params := make(map[string]string, len(form))
	for k := range form {
		params[k] = form.Get(k)
	}
	return v.validator.Validate(publicURL, params, signature)
}

// MockClient records sent messages.
type MockClient struct {
	SentMessages []SentMessage
	Err          error
}

// SentMessage is one recorded send.
type SentMessage struct {
	To   string
	Body string
}

// NewMockClient creates an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{SentMessages: []SentMessage{}}
}

// SendMessage records the message or returns Err.
func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	if m.Err != nil {
		return m.Err
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}
