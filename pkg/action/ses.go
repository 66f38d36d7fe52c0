package action

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// SESAPI is the subset of the sesv2 client used for delivery.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender delivers through Amazon SES.
type SESSender struct {
	client SESAPI
}

// NewSESSender wraps an SES client.
func NewSESSender(client SESAPI) *SESSender {
	return &SESSender{client: client}
}

// LoadSESSender builds an SES sender from the default AWS credential chain.
// Unless retry is set, the SDK's retryer is disabled so each send is one call.
func LoadSESSender(ctx context.Context, region string, retry bool) (*SESSender, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSESSender(sesv2.NewFromConfig(cfg, func(o *sesv2.Options) {
		if !retry {
			o.Retryer = aws.NopRetryer{}
		}
	})), nil
}

// Send implements Sender. SES has no idempotency header; the key travels as a
// message tag so duplicates can be traced in event destinations.
func (s *SESSender) Send(ctx context.Context, msg Message) (string, error) {
	body := &types.Body{}
	if msg.Text != "" {
		body.Text = &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}
	}
	if msg.HTML != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
	}
	if msg.IdempotencyKey != "" {
		input.EmailTags = []types.MessageTag{
			{Name: aws.String("idempotency_key"), Value: aws.String(msg.IdempotencyKey)},
		}
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("ses send: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}
