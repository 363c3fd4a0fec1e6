package subscription

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	devicedomain "streaming-status/backend/internal/device/domain"
)

// TopicClient is the slice of the SNS API the notifier uses.
type TopicClient interface {
	CreateTopic(ctx context.Context, params *sns.CreateTopicInput, optFns ...func(*sns.Options)) (*sns.CreateTopicOutput, error)
	Subscribe(ctx context.Context, params *sns.SubscribeInput, optFns ...func(*sns.Options)) (*sns.SubscribeOutput, error)
	Unsubscribe(ctx context.Context, params *sns.UnsubscribeInput, optFns ...func(*sns.Options)) (*sns.UnsubscribeOutput, error)
	GetSubscriptionAttributes(ctx context.Context, params *sns.GetSubscriptionAttributesInput, optFns ...func(*sns.Options)) (*sns.GetSubscriptionAttributesOutput, error)
}

var _ TopicClient = (*sns.Client)(nil)

// SNSNotifier implements Notifier against SNS email subscriptions.
type SNSNotifier struct {
	client TopicClient
}

// NewSNSNotifier returns a notifier using the given SNS client.
func NewSNSNotifier(client TopicClient) *SNSNotifier {
	return &SNSNotifier{client: client}
}

// EnsureTopic implements Notifier. CreateTopic returns the existing ARN when
// the topic already exists.
func (n *SNSNotifier) EnsureTopic(ctx context.Context, name string) (string, error) {
	out, err := n.client.CreateTopic(ctx, &sns.CreateTopicInput{Name: aws.String(name)})
	if err != nil {
		return "", fmt.Errorf("create topic %s: %w", name, err)
	}
	return aws.ToString(out.TopicArn), nil
}

// SubscribeEmail implements Notifier.
func (n *SNSNotifier) SubscribeEmail(ctx context.Context, topicARN, endpoint string) (string, error) {
	out, err := n.client.Subscribe(ctx, &sns.SubscribeInput{
		TopicArn:              aws.String(topicARN),
		Protocol:              aws.String("email"),
		Endpoint:              aws.String(endpoint),
		ReturnSubscriptionArn: true,
	})
	if err != nil {
		return "", fmt.Errorf("subscribe to %s: %w", topicARN, err)
	}
	return aws.ToString(out.SubscriptionArn), nil
}

// Unsubscribe implements Notifier. SNS refuses to cancel unconfirmed
// subscriptions; that surfaces as an invalid-argument error.
func (n *SNSNotifier) Unsubscribe(ctx context.Context, subscriptionARN string) error {
	_, err := n.client.Unsubscribe(ctx, &sns.UnsubscribeInput{
		SubscriptionArn: aws.String(subscriptionARN),
	})
	if err != nil {
		var invalid *types.InvalidParameterException
		if errors.As(err, &invalid) {
			return fmt.Errorf("%w: pending subscriptions cannot be cancelled", devicedomain.ErrInvalidArgument)
		}
		return fmt.Errorf("unsubscribe %s: %w", subscriptionARN, err)
	}
	return nil
}

// SubscriptionPending implements Notifier.
func (n *SNSNotifier) SubscriptionPending(ctx context.Context, subscriptionARN string) (bool, bool, error) {
	out, err := n.client.GetSubscriptionAttributes(ctx, &sns.GetSubscriptionAttributesInput{
		SubscriptionArn: aws.String(subscriptionARN),
	})
	if err != nil {
		var notFound *types.NotFoundException
		if errors.As(err, &notFound) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("subscription attributes %s: %w", subscriptionARN, err)
	}
	return out.Attributes["PendingConfirmation"] == "true", true, nil
}
