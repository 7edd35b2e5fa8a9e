package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"slackstream/internal/domain"
)

// SQSAPI is the subset of the SQS client used by SQS.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQS sends envelopes to an Amazon SQS queue. FIFO queues are detected from
// the ".fifo" URL suffix.
type SQS struct {
	client SQSAPI
	url    string
	fifo   bool
	logger *slog.Logger
}

func NewSQS(client SQSAPI, url string, logger *slog.Logger) *SQS {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQS{
		client: client,
		url:    url,
		fifo:   strings.HasSuffix(url, ".fifo"),
		logger: logger.With("component", "sqs"),
	}
}

// NewSQSFromConfig loads the default AWS credential chain.
func NewSQSFromConfig(ctx context.Context, url, region string, logger *slog.Logger) (*SQS, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSQS(sqs.NewFromConfig(awsCfg), url, logger), nil
}

func (q *SQS) Ordered() bool { return q.fifo }

func (q *SQS) Enqueue(ctx context.Context, msg domain.QueuedMessage) error {
	in := &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.url),
		MessageBody: aws.String(string(msg.Body)),
	}
	if q.fifo {
		if msg.GroupID == "" {
			return fmt.Errorf("fifo queue %s requires a message group id", q.url)
		}
		in.MessageGroupId = aws.String(msg.GroupID)
		in.MessageDeduplicationId = aws.String(msg.GroupID)
	}

	out, err := q.client.SendMessage(ctx, in)
	if err != nil {
		return fmt.Errorf("sqs send message: %w", err)
	}
	q.logger.Debug("message sent", "message_id", aws.ToString(out.MessageId), "group_id", msg.GroupID)
	return nil
}
