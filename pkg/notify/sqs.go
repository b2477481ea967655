package notify

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/pkg/errors"
)

// SQSAPI is the subset of the SQS client the sink uses; satisfied by
// *sqs.Client and by test fakes.
type SQSAPI interface {
	SendMessage(ctx context.Context, input *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSSink publishes notifications to an SQS queue for downstream delivery
// workers (email relay, in-app inbox).
type SQSSink struct {
	client   SQSAPI
	queueURL string
}

// NewSQSSink creates a sink from the ambient AWS configuration.
func NewSQSSink(ctx context.Context, queueURL string) (*SQSSink, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load aws config")
	}
	return &SQSSink{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
	}, nil
}

// NewSQSSinkWithClient allows injecting a custom SQSAPI (for testing).
func NewSQSSinkWithClient(client SQSAPI, queueURL string) *SQSSink {
	return &SQSSink{client: client, queueURL: queueURL}
}

// Send implements Sink.
func (s *SQSSink) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "failed to marshal notification")
	}
	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
	})
	return errors.Wrap(err, "failed to send notification to sqs")
}
