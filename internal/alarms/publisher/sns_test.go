package publisher

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

type fakeSNS struct {
	input *sns.PublishInput
	err   error
}

func (f *fakeSNS) Publish(ctx context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: aws.String("m-1")}, nil
}

func TestSNSPublish_AddressesTopicUnderPrefix(t *testing.T) {
	client := &fakeSNS{}
	pub := NewSNSPublisher(client, "arn:aws:sns:eu-west-1:1:device-alarms")

	msg := Message{Subject: "ALARM: d1", Body: "d1 went offline", DedupKey: "d1:offline:1"}
	if err := pub.Publish(context.Background(), "d1", msg); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if got, want := aws.ToString(client.input.TopicArn), "arn:aws:sns:eu-west-1:1:device-alarms_d1"; got != want {
		t.Errorf("TopicArn = %q, want %q", got, want)
	}
	if aws.ToString(client.input.Subject) != "ALARM: d1" {
		t.Errorf("Subject = %q", aws.ToString(client.input.Subject))
	}
	if aws.ToString(client.input.Message) != "d1 went offline" {
		t.Errorf("Message = %q", aws.ToString(client.input.Message))
	}
	attr, ok := client.input.MessageAttributes["dedupKey"]
	if !ok || aws.ToString(attr.StringValue) != "d1:offline:1" {
		t.Errorf("dedupKey attribute = %+v", attr)
	}
	if client.input.MessageDeduplicationId != nil {
		t.Errorf("MessageDeduplicationId set on a standard topic")
	}
}

func TestSNSPublish_FIFODeduplication(t *testing.T) {
	client := &fakeSNS{}
	pub := NewSNSPublisher(client, "arn:aws:sns:eu-west-1:1:device-alarms")

	msg := Message{DedupKey: "d1.fifo:offline:1"}
	if err := pub.Publish(context.Background(), "d1.fifo", msg); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if got := aws.ToString(client.input.MessageDeduplicationId); got != "d1.fifo:offline:1" {
		t.Errorf("MessageDeduplicationId = %q", got)
	}
	if got := aws.ToString(client.input.MessageGroupId); got != "d1.fifo" {
		t.Errorf("MessageGroupId = %q", got)
	}
}

func TestSNSPublish_MissingTopic(t *testing.T) {
	client := &fakeSNS{err: &types.NotFoundException{Message: aws.String("no such topic")}}
	pub := NewSNSPublisher(client, "arn:aws:sns:eu-west-1:1:device-alarms")

	err := pub.Publish(context.Background(), "ghost", Message{})
	if !errors.Is(err, ErrTopicNotFound) {
		t.Errorf("Publish() error = %v, want ErrTopicNotFound", err)
	}
}

func TestSNSPublish_FailureSurfaces(t *testing.T) {
	client := &fakeSNS{err: errors.New("throttled")}
	pub := NewSNSPublisher(client, "arn:aws:sns:eu-west-1:1:device-alarms")

	err := pub.Publish(context.Background(), "d1", Message{})
	if err == nil || !strings.Contains(err.Error(), "throttled") {
		t.Errorf("Publish() error = %v, want wrapped failure", err)
	}
	if errors.Is(err, ErrTopicNotFound) {
		t.Errorf("generic failure mapped to ErrTopicNotFound")
	}
}
