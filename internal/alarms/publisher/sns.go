package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SNSClient is the slice of the SNS API the publisher uses.
type SNSClient interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

var _ SNSClient = (*sns.Client)(nil)

// SNSPublisher publishes alarm notifications to SNS topics. The topic suffix
// is appended to a configured ARN prefix, so topic "d1" with prefix
// arn:aws:sns:eu-west-1:1:device-alarms becomes
// arn:aws:sns:eu-west-1:1:device-alarms_d1.
type SNSPublisher struct {
	client    SNSClient
	arnPrefix string
}

// NewSNSPublisher returns a publisher addressing topics under arnPrefix.
func NewSNSPublisher(client SNSClient, arnPrefix string) *SNSPublisher {
	return &SNSPublisher{client: client, arnPrefix: arnPrefix}
}

// Publish implements Publisher. The dedup key travels as a message attribute;
// on FIFO topics it also becomes the MessageDeduplicationId so SNS itself
// collapses redeliveries.
func (p *SNSPublisher) Publish(ctx context.Context, topic string, msg Message) error {
	arn := fmt.Sprintf("%s_%s", p.arnPrefix, topic)
	input := &sns.PublishInput{
		TopicArn: aws.String(arn),
		Subject:  aws.String(msg.Subject),
		Message:  aws.String(msg.Body),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"dedupKey": {DataType: aws.String("String"), StringValue: aws.String(msg.DedupKey)},
		},
	}
	if strings.HasSuffix(arn, ".fifo") {
		input.MessageDeduplicationId = aws.String(msg.DedupKey)
		input.MessageGroupId = aws.String(topic)
	}

	_, err := p.client.Publish(ctx, input)
	if err != nil {
		var notFound *types.NotFoundException
		if errors.As(err, &notFound) {
			return fmt.Errorf("%w: %s", ErrTopicNotFound, arn)
		}
		return fmt.Errorf("publish to %s: %w", arn, err)
	}
	return nil
}

// Close implements Publisher. The SNS client holds no resources to release.
func (p *SNSPublisher) Close() error { return nil }
