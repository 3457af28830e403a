// Package notify publishes payment events for downstream delivery (email, chat, analytics).
package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"
)

// Publisher publishes one message with string attributes.
type Publisher interface {
	Publish(ctx context.Context, subject string, message []byte, attributes map[string]string) error
}

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNS publishes to a single topic.
type SNS struct {
	client   snsAPI
	topicArn string
	logger   *zap.Logger
}

// NewSNS creates a topic publisher from an AWS config.
func NewSNS(cfg aws.Config, topicArn string, logger *zap.Logger) *SNS {
	return newSNS(sns.NewFromConfig(cfg), topicArn, logger)
}

func newSNS(client snsAPI, topicArn string, logger *zap.Logger) *SNS {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SNS{client: client, topicArn: topicArn, logger: logger}
}

// Publish sends message to the topic. Attributes become SNS message attributes usable in subscription filters.
func (s *SNS) Publish(ctx context.Context, subject string, message []byte, attributes map[string]string) error {
	if s.topicArn == "" {
		return fmt.Errorf("sns publish: empty topic arn")
	}
	input := &sns.PublishInput{
		TopicArn: aws.String(s.topicArn),
		Message:  aws.String(string(message)),
	}
	if subject != "" {
		input.Subject = aws.String(subject)
	}
	if len(attributes) > 0 {
		input.MessageAttributes = make(map[string]types.MessageAttributeValue, len(attributes))
		for k, v := range attributes {
			input.MessageAttributes[k] = types.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(v),
			}
		}
	}
	out, err := s.client.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("sns publish failed for topic %s: %w", s.topicArn, err)
	}
	s.logger.Debug("sns message published", zap.String("topic", s.topicArn), zap.String("message_id", aws.ToString(out.MessageId)))
	return nil
}

// Log is a Publisher that only logs, used when no topic is configured.
type Log struct {
	logger *zap.Logger
}

// NewLog creates a logging publisher.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

// Publish logs the message.
func (l *Log) Publish(_ context.Context, subject string, message []byte, attributes map[string]string) error {
	l.logger.Info("payment notification", zap.String("subject", subject), zap.ByteString("message", message), zap.Any("attributes", attributes))
	return nil
}
