package mail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"cfprogress/internal/config"

	"github.com/rs/zerolog"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

var (
	host     = "https://api.sendgrid.com"
	endpoint = "/v3/mail/send"
)

// ErrNoRecipient is returned for messages without an address
var ErrNoRecipient = errors.New("message has no recipient")

// Sender delivers a rendered message
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

// NewSender picks the transport named by cfg.Provider
func NewSender(cfg config.MailConfig, logger zerolog.Logger) Sender {
	if cfg.Provider == config.MailProviderSendgrid {
		return NewSendgridSender(cfg.SendgridAPIKey, cfg.FromName, cfg.FromAddress, cfg.Timeout, logger)
	}
	return NewLogSender(cfg.FromName, cfg.FromAddress, logger)
}

// SendgridSender delivers through the SendGrid v3 API
type SendgridSender struct {
	key    string
	host   string
	from   *sgmail.Email
	client *rest.Client
	logger zerolog.Logger
}

var _ Sender = (*SendgridSender)(nil)

// NewSendgridSender creates a sender authenticated with key
func NewSendgridSender(key, fromName, fromAddress string, timeout time.Duration, logger zerolog.Logger) *SendgridSender {
	return &SendgridSender{
		key:    key,
		host:   host,
		from:   sgmail.NewEmail(fromName, fromAddress),
		client: &rest.Client{HTTPClient: &http.Client{Timeout: timeout}},
		logger: logger.With().Str("component", "sendgrid").Logger(),
	}
}

func (svc *SendgridSender) prepare(msg *Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = msg.Subject
	p.AddTos(sgmail.NewEmail(msg.To.Name, msg.To.Address))

	m := sgmail.NewV3Mail()
	m.SetFrom(svc.from)
	m.AddPersonalizations(p)
	m.AddContent(
		sgmail.NewContent("text/plain", msg.TextContent),
		sgmail.NewContent("text/html", msg.HTMLContent),
	)
	return m
}

// Send renders msg when needed and posts it to SendGrid
func (svc *SendgridSender) Send(ctx context.Context, msg *Message) error {
	if !msg.HasContent() {
		if err := msg.Render(); err != nil {
			return err
		}
	}
	if !msg.HasRecipients() {
		return ErrNoRecipient
	}

	req := sendgrid.GetRequest(svc.key, endpoint, svc.host)
	req.Method = rest.Post
	req.Body = sgmail.GetRequestBody(svc.prepare(msg))

	res, err := svc.client.SendWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sending email: status %d: %s", res.StatusCode, res.Body)
	}

	svc.logger.Debug().Str("to", msg.To.Address).Int("status", res.StatusCode).Msg("email accepted")
	return nil
}

// LogSender writes messages to the log instead of delivering them. It keeps
// every message it was given so tests and local runs can inspect them.
type LogSender struct {
	from   string
	logger zerolog.Logger

	mu   sync.Mutex
	sent []Message
}

var _ Sender = (*LogSender)(nil)

// NewLogSender creates a console sender
func NewLogSender(fromName, fromAddress string, logger zerolog.Logger) *LogSender {
	return &LogSender{
		from:   fmt.Sprintf("%s <%s>", fromName, fromAddress),
		logger: logger.With().Str("component", "mail").Logger(),
	}
}

func (svc *LogSender) Send(_ context.Context, msg *Message) error {
	if !msg.HasContent() {
		if err := msg.Render(); err != nil {
			return err
		}
	}
	if !msg.HasRecipients() {
		return ErrNoRecipient
	}

	svc.logger.Info().
		Str("from", svc.from).
		Str("to", msg.To.String()).
		Str("subject", msg.Subject).
		Msg(msg.TextContent)

	svc.mu.Lock()
	svc.sent = append(svc.sent, *msg)
	svc.mu.Unlock()
	return nil
}

// Sent returns a copy of the messages logged so far
func (svc *LogSender) Sent() []Message {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	out := make([]Message, len(svc.sent))
	copy(out, svc.sent)
	return out
}
