package repository

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"streaming-status/backend/internal/device/domain"
)

// LedgerClient is the slice of the DynamoDB API the ledger uses.
type LedgerClient interface {
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

var _ LedgerClient = (*dynamodb.Client)(nil)

// batchGetChunk is the BatchGetItem key limit imposed by DynamoDB.
const batchGetChunk = 100

// ledgerItem is the raw DynamoDB row written by the registration and
// provisioning flows. Timestamps are ISO-8601 strings.
type ledgerItem struct {
	SerialNumber          string  `dynamodbav:"serialNumber"`
	JWTGroup              string  `dynamodbav:"jwtGroup"`
	Organization          string  `dynamodbav:"organization"`
	Project               string  `dynamodbav:"project"`
	ProvisioningStatus    *string `dynamodbav:"provisioningStatus"`
	ProvisioningTimestamp string  `dynamodbav:"provisioningTimestamp"`
	RegistrationStatus    *string `dynamodbav:"registrationStatus"`
	RegistrationTimestamp string  `dynamodbav:"registrationTimestamp"`
	CustomLabel           string  `dynamodbav:"customLabel"`
	SchemaID              string  `dynamodbav:"schemaId"`
	PolicyDoc             string  `dynamodbav:"policyDoc"`
}

// DynamoLedger reads and updates device records in the DynamoDB ledger table.
type DynamoLedger struct {
	client LedgerClient
	table  string
}

// NewDynamoLedger wires a ledger against the given table.
func NewDynamoLedger(client LedgerClient, table string) *DynamoLedger {
	return &DynamoLedger{client: client, table: table}
}

// ListUnprovisioned implements Ledger. DynamoDB applies filters after the
// page limit, so a single scan round may come back short; the loop keeps
// scanning until the page fills or the table ends.
func (l *DynamoLedger) ListUnprovisioned(ctx context.Context, q LedgerQuery, limit int, startKey string) (*LedgerPage, error) {
	exclusiveStart, err := decodePageKey(startKey)
	if err != nil {
		return nil, err
	}

	filter := []string{"attribute_not_exists(#prov)"}
	names := map[string]string{"#prov": "provisioningStatus"}
	values := map[string]types.AttributeValue{}
	if q.Scope.Provider != "" {
		filter = append(filter, "#group = :group")
		names["#group"] = "jwtGroup"
		values[":group"] = &types.AttributeValueMemberS{Value: q.Scope.Provider}
	}
	if q.Scope.Organization != "" {
		filter = append(filter, "#org = :org")
		names["#org"] = "organization"
		values[":org"] = &types.AttributeValueMemberS{Value: q.Scope.Organization}
	}
	if q.SerialPrefix != "" {
		filter = append(filter, "begins_with(#serial, :prefix)")
		names["#serial"] = "serialNumber"
		values[":prefix"] = &types.AttributeValueMemberS{Value: q.SerialPrefix}
	}
	if q.Label != "" {
		filter = append(filter, "#label = :label")
		names["#label"] = "customLabel"
		values[":label"] = &types.AttributeValueMemberS{Value: string(q.Label)}
	}
	if q.Project != "" {
		filter = append(filter, "#project = :project")
		names["#project"] = "project"
		values[":project"] = &types.AttributeValueMemberS{Value: q.Project}
	}
	if q.SchemaID != "" {
		filter = append(filter, "#schema = :schema")
		names["#schema"] = "schemaId"
		values[":schema"] = &types.AttributeValueMemberS{Value: q.SchemaID}
	}

	page := &LedgerPage{}
	for {
		out, err := l.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(l.table),
			Limit:                     aws.Int32(int32(limit)),
			FilterExpression:          aws.String(strings.Join(filter, " AND ")),
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
			ExclusiveStartKey:         exclusiveStart,
		})
		if err != nil {
			return nil, fmt.Errorf("ledger: scan: %w", err)
		}
		for _, item := range out.Items {
			record, err := recordFromItem(item)
			if err != nil {
				return nil, err
			}
			page.Records = append(page.Records, *record)
			if len(page.Records) >= limit {
				// Resume after the last record handed out, not after
				// wherever the scan round happened to stop.
				page.NextKey = encodePageKey(record.Serial)
				return page, nil
			}
		}
		if out.LastEvaluatedKey == nil {
			return page, nil
		}
		exclusiveStart = out.LastEvaluatedKey
	}
}

// Find implements Ledger. Out-of-scope records are reported as absent.
func (l *DynamoLedger) Find(ctx context.Context, scope Scope, serial string) (*domain.LedgerRecord, error) {
	out, err := l.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(l.table),
		Key:       serialKey(serial),
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: get %s: %w", serial, err)
	}
	if out.Item == nil {
		return nil, nil
	}
	record, err := recordFromItem(out.Item)
	if err != nil {
		return nil, err
	}
	if !inScope(record, scope) {
		return nil, nil
	}
	return record, nil
}

// BatchGet implements Ledger.
func (l *DynamoLedger) BatchGet(ctx context.Context, scope Scope, serials []string) (map[string]*domain.LedgerRecord, error) {
	records := make(map[string]*domain.LedgerRecord, len(serials))
	for start := 0; start < len(serials); start += batchGetChunk {
		end := min(start+batchGetChunk, len(serials))
		keys := make([]map[string]types.AttributeValue, 0, end-start)
		for _, serial := range serials[start:end] {
			keys = append(keys, serialKey(serial))
		}
		for len(keys) > 0 {
			out, err := l.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
				RequestItems: map[string]types.KeysAndAttributes{
					l.table: {Keys: keys},
				},
			})
			if err != nil {
				return nil, fmt.Errorf("ledger: batch get: %w", err)
			}
			for _, item := range out.Responses[l.table] {
				record, err := recordFromItem(item)
				if err != nil {
					return nil, err
				}
				if inScope(record, scope) {
					records[record.Serial] = record
				}
			}
			keys = out.UnprocessedKeys[l.table].Keys
		}
	}
	return records, nil
}

// UpdateLabel implements Ledger.
func (l *DynamoLedger) UpdateLabel(ctx context.Context, serial string, label domain.CustomLabel) error {
	_, err := l.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(l.table),
		Key:                 serialKey(serial),
		UpdateExpression:    aws.String("SET #label = :label"),
		ConditionExpression: aws.String("attribute_exists(#serial)"),
		ExpressionAttributeNames: map[string]string{
			"#label":  "customLabel",
			"#serial": "serialNumber",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":label": &types.AttributeValueMemberS{Value: string(label)},
		},
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return fmt.Errorf("%w: device %s", domain.ErrNotFound, serial)
		}
		return fmt.Errorf("ledger: update label %s: %w", serial, err)
	}
	return nil
}

// ListOrganizations implements Ledger.
func (l *DynamoLedger) ListOrganizations(ctx context.Context, provider string) ([]string, error) {
	input := &dynamodb.ScanInput{
		TableName:                aws.String(l.table),
		ProjectionExpression:     aws.String("#org"),
		ExpressionAttributeNames: map[string]string{"#org": "organization"},
	}
	if provider != "" {
		input.FilterExpression = aws.String("#group = :group")
		input.ExpressionAttributeNames["#group"] = "jwtGroup"
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":group": &types.AttributeValueMemberS{Value: provider},
		}
	}
	return l.scanDistinct(ctx, input, "organization")
}

// ListProjects implements Ledger.
func (l *DynamoLedger) ListProjects(ctx context.Context, scope Scope) ([]string, error) {
	input := &dynamodb.ScanInput{
		TableName:                aws.String(l.table),
		ProjectionExpression:     aws.String("#project"),
		ExpressionAttributeNames: map[string]string{"#project": "project"},
	}
	var filter []string
	values := map[string]types.AttributeValue{}
	if scope.Provider != "" {
		filter = append(filter, "#group = :group")
		input.ExpressionAttributeNames["#group"] = "jwtGroup"
		values[":group"] = &types.AttributeValueMemberS{Value: scope.Provider}
	}
	if scope.Organization != "" {
		filter = append(filter, "#org = :org")
		input.ExpressionAttributeNames["#org"] = "organization"
		values[":org"] = &types.AttributeValueMemberS{Value: scope.Organization}
	}
	if len(filter) > 0 {
		input.FilterExpression = aws.String(strings.Join(filter, " AND "))
		input.ExpressionAttributeValues = values
	}
	return l.scanDistinct(ctx, input, "project")
}

// scanDistinct walks the whole table collecting the distinct values of one
// string attribute.
func (l *DynamoLedger) scanDistinct(ctx context.Context, input *dynamodb.ScanInput, attribute string) ([]string, error) {
	seen := map[string]struct{}{}
	for {
		out, err := l.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan %s: %w", attribute, err)
		}
		for _, item := range out.Items {
			if s, ok := item[attribute].(*types.AttributeValueMemberS); ok && s.Value != "" {
				seen[s.Value] = struct{}{}
			}
		}
		if out.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	values := make([]string, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	sort.Strings(values)
	return values, nil
}

func serialKey(serial string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"serialNumber": &types.AttributeValueMemberS{Value: serial},
	}
}

func inScope(record *domain.LedgerRecord, scope Scope) bool {
	if scope.Provider != "" && record.Provider != scope.Provider {
		return false
	}
	if scope.Organization != "" && record.Organization != scope.Organization {
		return false
	}
	return true
}

func recordFromItem(item map[string]types.AttributeValue) (*domain.LedgerRecord, error) {
	var raw ledgerItem
	if err := attributevalue.UnmarshalMap(item, &raw); err != nil {
		return nil, fmt.Errorf("ledger: decode item: %w", err)
	}
	record := &domain.LedgerRecord{
		Serial:             raw.SerialNumber,
		Provider:           raw.JWTGroup,
		Organization:       raw.Organization,
		Project:            raw.Project,
		ProvisioningStatus: raw.ProvisioningStatus,
		ProvisioningTime:   parseISOTime(raw.ProvisioningTimestamp),
		RegistrationStatus: raw.RegistrationStatus,
		RegistrationTime:   parseISOTime(raw.RegistrationTimestamp),
		Label:              domain.CustomLabel(raw.CustomLabel),
		SchemaID:           raw.SchemaID,
	}
	if raw.PolicyDoc != "" {
		// A malformed policy document costs the stream topic, nothing else.
		var doc domain.PolicyDocument
		if err := json.Unmarshal([]byte(raw.PolicyDoc), &doc); err == nil {
			record.PolicyDocument = &doc
		}
	}
	return record, nil
}

func parseISOTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// Page keys are the base64 of the JSON-encoded DynamoDB key, matching the
// shape DynamoDB hands back in LastEvaluatedKey.
func encodePageKey(serial string) string {
	raw, _ := json.Marshal(map[string]string{"serialNumber": serial})
	return base64.StdEncoding.EncodeToString(raw)
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
