package sns

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/go-reminders/internal/infrastructure/notify"
)

type publisher interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Sender sends SMS messages via AWS SNS.
type Sender struct {
	client publisher
}

func NewSender(awsCfg aws.Config) *Sender {
	return &Sender{client: sns.NewFromConfig(awsCfg)}
}

var _ notify.Sender = (*Sender)(nil)

// Send publishes a transactional SMS to an E.164 number.
func (s *Sender) Send(ctx context.Context, to string, msg notify.Message) (string, error) {
	if !strings.HasPrefix(to, "+") {
		return "", fmt.Errorf("%q is not E.164: %w", to, notify.ErrInvalidAddress)
	}
	out, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(to),
		Message:     aws.String(msg.Body),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"AWS.SNS.SMS.SMSType": {DataType: aws.String("String"), StringValue: aws.String("Transactional")},
		},
	})
	if err != nil {
		return "", fmt.Errorf("sns publish: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}
