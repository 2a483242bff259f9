package sender

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	logx "remindd/pkg/logx"
)

// SESSender sends email through Amazon SES v2.
type SESSender struct {
	client *sesv2.Client
	cfg    Config
	log    logx.Logger
}

func NewSESSender(awsCfg aws.Config, cfg Config, log logx.Logger) *SESSender {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &SESSender{
		client: sesv2.NewFromConfig(awsCfg),
		cfg:    cfg,
		log:    log,
	}
}

func (s *SESSender) SendEmail(ctx context.Context, to, from, subject, body string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.timeout())
	defer cancel()

	charset := s.cfg.charset()
	out, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String(charset)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(body), Charset: aws.String(charset)},
				},
			},
		},
	})
	if err != nil {
		return "", err
	}
	id := aws.ToString(out.MessageId)
	s.log.Debug("email sent", logx.String("to", to), logx.String("message_id", id))
	return id, nil
}
