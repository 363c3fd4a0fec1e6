package repository

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"streaming-status/backend/internal/schema/domain"
)

// hashIndex is the GSI keyed by schemaHash.
const hashIndex = "schemaHash-index"

// RegistryClient is the slice of the DynamoDB API the registry uses.
type RegistryClient interface {
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

var _ RegistryClient = (*dynamodb.Client)(nil)

// schemaItem is the raw registry row. jwtGroup names the owning provider
// group verbatim.
type schemaItem struct {
	ID         string `dynamodbav:"id"`
	JWTGroup   string `dynamodbav:"jwtGroup"`
	Title      string `dynamodbav:"title"`
	Version    int    `dynamodbav:"version"`
	JSONSchema string `dynamodbav:"jsonSchema"`
	SchemaHash string `dynamodbav:"schemaHash"`
}

// DynamoStore reads the schema registry table.
type DynamoStore struct {
	client RegistryClient
	table  string
}

// NewDynamoStore wires a registry store against the given table.
func NewDynamoStore(client RegistryClient, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

// List implements Store. One scan round per page; the caller resumes with the
// returned key.
func (s *DynamoStore) List(ctx context.Context, provider string, limit int, startKey string) (*Page, error) {
	exclusiveStart, err := decodePageKey(startKey)
	if err != nil {
		return nil, err
	}

	input := &dynamodb.ScanInput{
		TableName:         aws.String(s.table),
		ExclusiveStartKey: exclusiveStart,
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}
	if provider != "" {
		input.FilterExpression = aws.String("#group = :group")
		input.ExpressionAttributeNames = map[string]string{"#group": "jwtGroup"}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":group": &types.AttributeValueMemberS{Value: provider},
		}
	}

	out, err := s.client.Scan(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("schema registry: scan: %w", err)
	}

	page := &Page{}
	for _, item := range out.Items {
		schema, err := schemaFromItem(item)
		if err != nil {
			return nil, err
		}
		page.Schemas = append(page.Schemas, schema)
	}
	sortSchemas(page.Schemas)
	if out.LastEvaluatedKey != nil {
		page.NextKey, err = encodePageKey(out.LastEvaluatedKey)
		if err != nil {
			return nil, err
		}
	}
	return page, nil
}

// Find implements Store. Rows owned by another provider read as absent.
func (s *DynamoStore) Find(ctx context.Context, provider, id string) (*domain.Schema, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       idKey(id),
	})
	if err != nil {
		return nil, fmt.Errorf("schema registry: get %s: %w", id, err)
	}
	if out.Item == nil {
		return nil, nil
	}
	schema, err := schemaFromItem(out.Item)
	if err != nil {
		return nil, err
	}
	if provider != "" && schema.Provider != provider {
		return nil, nil
	}
	return schema, nil
}

// FindByHash implements Store using the hash GSI.
func (s *DynamoStore) FindByHash(ctx context.Context, provider, body string) (*domain.Schema, error) {
	hash := domain.HashOf(body, provider)
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(hashIndex),
		KeyConditionExpression: aws.String("#hash = :hash"),
		ExpressionAttributeNames: map[string]string{
			"#hash": "schemaHash",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":hash": &types.AttributeValueMemberS{Value: hash},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("schema registry: query hash: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, nil
	}
	schema, err := schemaFromItem(out.Items[0])
	if err != nil {
		return nil, err
	}
	if schema.Provider != provider {
		return nil, nil
	}
	// The GSI projects the keys; hand back the body the caller supplied.
	schema.Body = body
	return schema, nil
}

func idKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	}
}

func schemaFromItem(item map[string]types.AttributeValue) (*domain.Schema, error) {
	var raw schemaItem
	if err := attributevalue.UnmarshalMap(item, &raw); err != nil {
		return nil, fmt.Errorf("schema registry: decode item: %w", err)
	}
	return &domain.Schema{
		ID:       raw.ID,
		Provider: raw.JWTGroup,
		Title:    raw.Title,
		Version:  raw.Version,
		Body:     raw.JSONSchema,
		Hash:     raw.SchemaHash,
	}, nil
}

// sortSchemas orders by provider, then title, then newest version first.
func sortSchemas(schemas []*domain.Schema) {
	sort.SliceStable(schemas, func(i, j int) bool {
		a, b := schemas[i], schemas[j]
		if a.Provider != b.Provider {
			return a.Provider < b.Provider
		}
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		return a.Version > b.Version
	})
}

// Page keys are the base64 of the JSON-encoded DynamoDB key, the shape
// LastEvaluatedKey comes back in.
func encodePageKey(key map[string]types.AttributeValue) (string, error) {
	fields := make(map[string]string, len(key))
	for name, value := range key {
		s, ok := value.(*types.AttributeValueMemberS)
		if !ok {
			return "", fmt.Errorf("schema registry: unsupported page key attribute %s", name)
		}
		fields[name] = s.Value
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("schema registry: encode page key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func decodePageKey(s string) (map[string]types.AttributeValue, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed page key", domain.ErrInvalidArgument)
	}
	var fields map[string]string
	if err := json.Unmarshal(raw, &fields); err != nil || len(fields) == 0 {
		return nil, fmt.Errorf("%w: malformed page key", domain.ErrInvalidArgument)
	}
	key := make(map[string]types.AttributeValue, len(fields))
	for name, value := range fields {
		key[name] = &types.AttributeValueMemberS{Value: value}
	}
	return key, nil
}
