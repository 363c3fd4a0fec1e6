package repository

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"streaming-status/backend/internal/schema/domain"
)

type fakeRegistryClient struct {
	scanOutput  *dynamodb.ScanOutput
	scanInputs  []*dynamodb.ScanInput
	getOutput   *dynamodb.GetItemOutput
	queryOutput *dynamodb.QueryOutput
	queryInputs []*dynamodb.QueryInput
}

func (f *fakeRegistryClient) Scan(ctx context.Context, params *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.scanInputs = append(f.scanInputs, params)
	if f.scanOutput != nil {
		return f.scanOutput, nil
	}
	return &dynamodb.ScanOutput{}, nil
}

func (f *fakeRegistryClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.getOutput != nil {
		return f.getOutput, nil
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (f *fakeRegistryClient) Query(ctx context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryInputs = append(f.queryInputs, params)
	if f.queryOutput != nil {
		return f.queryOutput, nil
	}
	return &dynamodb.QueryOutput{}, nil
}

func schemaItemFor(id, group, title string, version int) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id":         &types.AttributeValueMemberS{Value: id},
		"jwtGroup":   &types.AttributeValueMemberS{Value: group},
		"title":      &types.AttributeValueMemberS{Value: title},
		"version":    &types.AttributeValueMemberN{Value: strconv.Itoa(version)},
		"jsonSchema": &types.AttributeValueMemberS{Value: `{"type":"object"}`},
		"schemaHash": &types.AttributeValueMemberS{Value: domain.HashOf(`{"type":"object"}`, group)},
	}
}

func TestList_SortsWithinPage(t *testing.T) {
	client := &fakeRegistryClient{scanOutput: &dynamodb.ScanOutput{
		Items: []map[string]types.AttributeValue{
			schemaItemFor("s3", "big-co", "humidity", 1),
			schemaItemFor("s1", "acme", "temperature", 1),
			schemaItemFor("s2", "acme", "temperature", 2),
		},
		LastEvaluatedKey: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: "s3"},
		},
	}}
	store := NewDynamoStore(client, "schemas")

	page, err := store.List(context.Background(), "", 20, "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(page.Schemas) != 3 {
		t.Fatalf("len(Schemas) = %d, want 3", len(page.Schemas))
	}
	// (provider, title, version descending)
	if page.Schemas[0].ID != "s2" || page.Schemas[1].ID != "s1" || page.Schemas[2].ID != "s3" {
		t.Errorf("order = %s, %s, %s, want s2, s1, s3",
			page.Schemas[0].ID, page.Schemas[1].ID, page.Schemas[2].ID)
	}
	if page.NextKey == "" {
		t.Error("NextKey empty, want resumption key")
	}

	id, err := idFromPageKey(page.NextKey)
	if err != nil {
		t.Fatalf("decode NextKey: %v", err)
	}
	if id != "s3" {
		t.Errorf("NextKey id = %q, want s3", id)
	}
}

func TestList_ProviderFilter(t *testing.T) {
	client := &fakeRegistryClient{}
	store := NewDynamoStore(client, "schemas")

	if _, err := store.List(context.Background(), "acme", 20, ""); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	input := client.scanInputs[0]
	if got := aws.ToString(input.FilterExpression); got != "#group = :group" {
		t.Errorf("filter = %q, want jwtGroup restriction", got)
	}
	value := input.ExpressionAttributeValues[":group"].(*types.AttributeValueMemberS).Value
	if value != "acme" {
		t.Errorf("group value = %q, want acme", value)
	}
}

func TestList_UnscopedHasNoFilter(t *testing.T) {
	client := &fakeRegistryClient{}
	store := NewDynamoStore(client, "schemas")

	if _, err := store.List(context.Background(), "", 20, ""); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if client.scanInputs[0].FilterExpression != nil {
		t.Errorf("filter = %q, want none", aws.ToString(client.scanInputs[0].FilterExpression))
	}
}

func TestList_MalformedStartKey(t *testing.T) {
	store := NewDynamoStore(&fakeRegistryClient{}, "schemas")
	_, err := store.List(context.Background(), "", 20, "not base64!")
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("error = %v, want invalid argument", err)
	}
}

func TestFind_MapsItem(t *testing.T) {
	client := &fakeRegistryClient{getOutput: &dynamodb.GetItemOutput{
		Item: schemaItemFor("s1", "acme", "temperature", 2),
	}}
	store := NewDynamoStore(client, "schemas")

	schema, err := store.Find(context.Background(), "acme", "s1")
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if schema == nil {
		t.Fatal("Find() = nil, want schema")
	}
	if schema.Provider != "acme" || schema.Title != "temperature" || schema.Version != 2 {
		t.Errorf("unexpected mapping: %+v", schema)
	}
	if schema.Body != `{"type":"object"}` {
		t.Errorf("Body = %q", schema.Body)
	}
}

func TestFind_OtherProviderIsAbsent(t *testing.T) {
	client := &fakeRegistryClient{getOutput: &dynamodb.GetItemOutput{
		Item: schemaItemFor("s1", "other-co", "temperature", 1),
	}}
	store := NewDynamoStore(client, "schemas")

	schema, err := store.Find(context.Background(), "acme", "s1")
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if schema != nil {
		t.Errorf("Find() = %+v, want nil for another provider's schema", schema)
	}
}

func TestFind_UnscopedSeesEverything(t *testing.T) {
	client := &fakeRegistryClient{getOutput: &dynamodb.GetItemOutput{
		Item: schemaItemFor("s1", "other-co", "temperature", 1),
	}}
	store := NewDynamoStore(client, "schemas")

	schema, err := store.Find(context.Background(), "", "s1")
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if schema == nil {
		t.Error("Find() = nil, want schema for unscoped lookup")
	}
}

func TestFindByHash_QueriesIndex(t *testing.T) {
	client := &fakeRegistryClient{queryOutput: &dynamodb.QueryOutput{
		Items: []map[string]types.AttributeValue{schemaItemFor("s1", "acme", "temperature", 1)},
	}}
	store := NewDynamoStore(client, "schemas")

	schema, err := store.FindByHash(context.Background(), "acme", `{"type":"object"}`)
	if err != nil {
		t.Fatalf("FindByHash() error = %v", err)
	}
	if schema == nil || schema.ID != "s1" {
		t.Fatalf("FindByHash() = %+v, want s1", schema)
	}

	input := client.queryInputs[0]
	if aws.ToString(input.IndexName) != "schemaHash-index" {
		t.Errorf("index = %q, want schemaHash-index", aws.ToString(input.IndexName))
	}
	wantHash := domain.HashOf(`{"type":"object"}`, "acme")
	value := input.ExpressionAttributeValues[":hash"].(*types.AttributeValueMemberS).Value
	if value != wantHash {
		t.Errorf("hash value = %q, want %q", value, wantHash)
	}
}

func TestFindByHash_OtherProviderIsAbsent(t *testing.T) {
	client := &fakeRegistryClient{queryOutput: &dynamodb.QueryOutput{
		Items: []map[string]types.AttributeValue{schemaItemFor("s1", "other-co", "temperature", 1)},
	}}
	store := NewDynamoStore(client, "schemas")

	schema, err := store.FindByHash(context.Background(), "acme", `{"type":"object"}`)
	if err != nil {
		t.Fatalf("FindByHash() error = %v", err)
	}
	if schema != nil {
		t.Errorf("FindByHash() = %+v, want nil", schema)
	}
}
