package action

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/outreach-dispatcher/pkg/candidate"
	"github.com/Sternrassler/outreach-dispatcher/pkg/client"
)

// idempotencyNamespace scopes name-based UUIDs for send requests.
var idempotencyNamespace = uuid.MustParse("6f1c3c55-0c1e-4f55-9c8e-2f4f5b8d7a10")

// IdempotencyKey derives the stable provider idempotency key for one
// campaign and candidate. salt is empty for real sends; test sends pass a
// per-run value so repeated rehearsals are not collapsed by the provider.
func IdempotencyKey(campaign string, key candidate.Key, salt string) string {
	name := campaign + "\x00" + string(candidate.NormalizeKey(key.String())) + "\x00" + salt
	return uuid.NewSHA1(idempotencyNamespace, []byte(name)).String()
}

// Sender delivers a rendered message and returns the provider message ID.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// ProviderSender sends through the transactional email HTTP API.
type ProviderSender struct {
	Client *client.Client
}

// Send implements Sender.
func (p ProviderSender) Send(ctx context.Context, msg Message) (string, error) {
	resp, err := p.Client.SendEmail(ctx, client.Email{
		From:           msg.From,
		To:             []string{msg.To},
		Subject:        msg.Subject,
		HTML:           msg.HTML,
		Text:           msg.Text,
		IdempotencyKey: msg.IdempotencyKey,
	})
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Email renders and sends one message per candidate.
type Email struct {
	campaign   string
	field      string
	overrideTo string
	salt       string
	renderer   *Renderer
	sender     Sender
	logger     zerolog.Logger
}

// EmailOption customizes an Email action.
type EmailOption func(*Email)

// WithRecipientField reads the address from field instead of the candidate key.
func WithRecipientField(field string) EmailOption {
	return func(e *Email) { e.field = field }
}

// WithOverrideRecipient sends every message to addr (single-recipient test mode).
func WithOverrideRecipient(addr string) EmailOption {
	return func(e *Email) { e.overrideTo = addr }
}

// WithIdempotencySalt mixes salt into every idempotency key.
func WithIdempotencySalt(salt string) EmailOption {
	return func(e *Email) { e.salt = salt }
}

// NewEmail creates the email action of a campaign.
func NewEmail(campaign string, renderer *Renderer, sender Sender, opts ...EmailOption) *Email {
	e := &Email{
		campaign: campaign,
		renderer: renderer,
		sender:   sender,
		logger:   log.With().Str("component", "email-action").Str("campaign", campaign).Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Perform implements Action.
func (e *Email) Perform(ctx context.Context, c candidate.Candidate) Result {
	to, err := e.recipient(c)
	if err != nil {
		return FromError(err)
	}

	msg, err := e.renderer.Render(c)
	if err != nil {
		return FromError(err)
	}
	msg.To = to
	msg.IdempotencyKey = IdempotencyKey(e.campaign, c.Key, e.salt)

	id, err := e.sender.Send(ctx, msg)
	if err != nil {
		return FromError(fmt.Errorf("send to %s: %w", to, err))
	}

	e.logger.Debug().Str("key", c.Key.String()).Str("message_id", id).Msg("Email accepted")
	return Succeeded(id)
}

func (e *Email) recipient(c candidate.Candidate) (string, error) {
	if e.overrideTo != "" {
		return e.overrideTo, nil
	}
	if e.field == "" {
		if c.Key == "" {
			return "", fmt.Errorf("candidate has no key")
		}
		return c.Key.String(), nil
	}
	v, ok := c.Field(e.field)
	if !ok {
		return "", fmt.Errorf("candidate %s has no %q field", c.Key, e.field)
	}
	return v, nil
}
