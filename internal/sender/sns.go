package sender

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	logx "remindd/pkg/logx"
)

// SNSSender sends SMS through Amazon SNS direct publish.
type SNSSender struct {
	client *sns.Client
	cfg    Config
	log    logx.Logger
}

func NewSNSSender(awsCfg aws.Config, cfg Config, log logx.Logger) *SNSSender {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &SNSSender{
		client: sns.NewFromConfig(awsCfg),
		cfg:    cfg,
		log:    log,
	}
}

func (s *SNSSender) SendSMS(ctx context.Context, phone, body string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.timeout())
	defer cancel()

	out, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(phone),
		Message:     aws.String(body),
	})
	if err != nil {
		return "", err
	}
	id := aws.ToString(out.MessageId)
	s.log.Debug("sms sent", logx.String("phone", phone), logx.String("message_id", id))
	return id, nil
}
