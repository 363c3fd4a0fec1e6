package subscription

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// TableClient is the slice of the DynamoDB API the store uses.
type TableClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

var _ TableClient = (*dynamodb.Client)(nil)

// subscriptionItem is the raw DynamoDB row. The table is keyed by device
// name and endpoint, so one device can notify several addresses.
type subscriptionItem struct {
	DeviceName      string `dynamodbav:"device_name"`
	Endpoint        string `dynamodbav:"subscription_endpoint"`
	SubscriptionARN string `dynamodbav:"subscription_arn"`
}

// DynamoStore persists subscription records in DynamoDB.
type DynamoStore struct {
	client TableClient
	table  string
}

// NewDynamoStore wires a store against the given table.
func NewDynamoStore(client TableClient, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

// Find implements Store.
func (s *DynamoStore) Find(ctx context.Context, deviceName, endpoint string) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       subscriptionKey(deviceName, endpoint),
	})
	if err != nil {
		return nil, fmt.Errorf("subscriptions: get %s/%s: %w", deviceName, endpoint, err)
	}
	if out.Item == nil {
		return nil, nil
	}
	var item subscriptionItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("subscriptions: decode item: %w", err)
	}
	return &Record{
		DeviceName:      item.DeviceName,
		Endpoint:        item.Endpoint,
		SubscriptionARN: item.SubscriptionARN,
	}, nil
}

// Put implements Store.
func (s *DynamoStore) Put(ctx context.Context, record Record) error {
	item, err := attributevalue.MarshalMap(subscriptionItem{
		DeviceName:      record.DeviceName,
		Endpoint:        record.Endpoint,
		SubscriptionARN: record.SubscriptionARN,
	})
	if err != nil {
		return fmt.Errorf("subscriptions: encode item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("subscriptions: put %s/%s: %w", record.DeviceName, record.Endpoint, err)
	}
	return nil
}

func subscriptionKey(deviceName, endpoint string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"device_name":           &types.AttributeValueMemberS{Value: deviceName},
		"subscription_endpoint": &types.AttributeValueMemberS{Value: endpoint},
	}
}
