// Seed inserts development sample data for local testing against localstack.
// Idempotent for table writes: skips them when the first device already
// exists. With KAFKA_BROKERS set it also publishes one sample violation event
// per live device so the alarms pipeline has traffic; each run injects fresh
// events. OIDC settings are required by config but unused here; set
// OFFLINE_AUTH_OVERRIDE=true for a seed-only environment.
package main

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	alarmdomain "streaming-status/backend/internal/alarms/domain"
	"streaming-status/backend/internal/alarms/producer"
	"streaming-status/backend/internal/config"
	"streaming-status/backend/internal/platform/awsclient"
	schemadomain "streaming-status/backend/internal/schema/domain"
)

const (
	devProvider     = "big-co"
	devOrganization = "acme"
	devProject      = "roof"
	devSchemaID     = "dev-schema-001"
	devSchemaTitle  = "Panel telemetry"
	devSchemaBody   = `{"type":"object","properties":{"voltage":{"type":"number"},"temperature":{"type":"number"}}}`
)

// ledgerRow mirrors the device ledger item shape. Timestamps are ISO-8601.
type ledgerRow struct {
	SerialNumber          string  `dynamodbav:"serialNumber"`
	JWTGroup              string  `dynamodbav:"jwtGroup"`
	Organization          string  `dynamodbav:"organization"`
	Project               string  `dynamodbav:"project"`
	ProvisioningStatus    *string `dynamodbav:"provisioningStatus,omitempty"`
	ProvisioningTimestamp string  `dynamodbav:"provisioningTimestamp,omitempty"`
	RegistrationStatus    *string `dynamodbav:"registrationStatus,omitempty"`
	RegistrationTimestamp string  `dynamodbav:"registrationTimestamp,omitempty"`
	CustomLabel           string  `dynamodbav:"customLabel,omitempty"`
	SchemaID              string  `dynamodbav:"schemaId,omitempty"`
	PolicyDoc             string  `dynamodbav:"policyDoc,omitempty"`
}

// schemaRow mirrors the schema registry item shape.
type schemaRow struct {
	ID         string `dynamodbav:"id"`
	JWTGroup   string `dynamodbav:"jwtGroup"`
	Title      string `dynamodbav:"title"`
	Version    int    `dynamodbav:"version"`
	JSONSchema string `dynamodbav:"jsonSchema"`
	SchemaHash string `dynamodbav:"schemaHash"`
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DeviceLedgerTableName == "" {
		log.Fatal("seed: DEVICE_LEDGER_TABLE_NAME is required")
	}

	ctx := context.Background()

	factory, err := awsclient.NewFactory(ctx, awsclient.Options{EndpointURL: cfg.AWSEndpointURL})
	if err != nil {
		log.Fatalf("aws: %v", err)
	}
	ledger := factory.DynamoDB(cfg.DeviceLedgerRegion)

	devices := sampleDevices(time.Now().UTC())

	seeded, err := rowExists(ctx, ledger, cfg.DeviceLedgerTableName, devices[0].SerialNumber)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if seeded {
		log.Printf("Seed already applied (%s exists). Skipping table writes.", devices[0].SerialNumber)
	} else {
		for _, row := range devices {
			if err := putRow(ctx, ledger, cfg.DeviceLedgerTableName, row); err != nil {
				log.Fatalf("seed device %s: %v", row.SerialNumber, err)
			}
		}
		log.Printf("Seeded %d devices into %s", len(devices), cfg.DeviceLedgerTableName)

		if cfg.SchemaRegistryTableName != "" {
			registry := factory.DynamoDB(cfg.SchemaRegistryRegion)
			row := schemaRow{
				ID:         devSchemaID,
				JWTGroup:   devProvider,
				Title:      devSchemaTitle,
				Version:    1,
				JSONSchema: devSchemaBody,
				SchemaHash: schemadomain.HashOf(devSchemaBody, devProvider),
			}
			if err := putRow(ctx, registry, cfg.SchemaRegistryTableName, row); err != nil {
				log.Fatalf("seed schema: %v", err)
			}
			log.Printf("Seeded schema %s into %s", devSchemaID, cfg.SchemaRegistryTableName)
		}
	}

	emitted, err := emitSampleViolations(ctx, cfg, devices)
	if err != nil {
		log.Fatalf("seed events: %v", err)
	}
	if emitted > 0 {
		log.Printf("Published %d sample violation events to %s", emitted, cfg.AlarmsKafkaTopic)
	}

	log.Println("Seed completed successfully.")
}

// sampleDevices returns the dev fixture set: two provisioned devices and one
// still waiting, so listings exercise the ledger-then-fleet merge.
func sampleDevices(now time.Time) []ledgerRow {
	provisioned := "provisioned"
	registered := "registered"
	ts := now.Format(time.RFC3339)

	policy, _ := json.Marshal(map[string]any{
		"Statement": []map[string]string{
			{
				"Action":   "iot:Publish",
				"Effect":   "Allow",
				"Resource": "arn:aws:iot:eu-west-1:000000000000:topic/streams/" + devProvider + "/smdh-0001",
			},
		},
	})

	return []ledgerRow{
		{
			SerialNumber:          "smdh-0001",
			JWTGroup:              devProvider,
			Organization:          devOrganization,
			Project:               devProject,
			ProvisioningStatus:    &provisioned,
			ProvisioningTimestamp: ts,
			RegistrationStatus:    &registered,
			RegistrationTimestamp: ts,
			CustomLabel:           "DEPLOYED",
			SchemaID:              devSchemaID,
			PolicyDoc:             string(policy),
		},
		{
			SerialNumber:          "smdh-0002",
			JWTGroup:              devProvider,
			Organization:          devOrganization,
			Project:               devProject,
			ProvisioningStatus:    &provisioned,
			ProvisioningTimestamp: ts,
			RegistrationStatus:    &registered,
			RegistrationTimestamp: ts,
			CustomLabel:           "PERIODIC_BATCH",
			SchemaID:              devSchemaID,
		},
		{
			SerialNumber:          "smdh-0003",
			JWTGroup:              devProvider,
			Organization:          devOrganization,
			Project:               devProject,
			RegistrationStatus:    &registered,
			RegistrationTimestamp: ts,
		},
	}
}

func rowExists(ctx context.Context, client *dynamodb.Client, table, serial string) (bool, error) {
	out, err := client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(table),
		Key: map[string]types.AttributeValue{
			"serialNumber": &types.AttributeValueMemberS{Value: serial},
		},
	})
	if err != nil {
		return false, err
	}
	return out.Item != nil, nil
}

func putRow(ctx context.Context, client *dynamodb.Client, table string, row any) error {
	item, err := attributevalue.MarshalMap(row)
	if err != nil {
		return err
	}
	_, err = client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      item,
	})
	return err
}

// emitSampleViolations publishes one violation per provisioned device: an
// alarm for the first, a clear for the second. Returns the emit count; zero
// when Kafka is not configured.
func emitSampleViolations(ctx context.Context, cfg *config.Config, devices []ledgerRow) (int, error) {
	p := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.AlarmsKafkaTopic)
	if p == nil {
		return 0, nil
	}
	defer p.Close()

	now := time.Now().UTC().UnixMilli()
	envelopes := []alarmdomain.Envelope{
		{
			ThingName:           devices[0].SerialNumber,
			Organization:        devOrganization,
			ViolationEventType:  "in-alarm",
			ViolationEventTime:  now,
			SecurityProfileName: "device-connectivity",
		},
		{
			ThingName:           devices[1].SerialNumber,
			Organization:        devOrganization,
			ViolationEventType:  "alarm-cleared",
			ViolationEventTime:  now,
			SecurityProfileName: "device-connectivity",
		},
	}
	for _, envelope := range envelopes {
		if err := p.Emit(ctx, envelope); err != nil {
			return 0, err
		}
	}
	return len(envelopes), nil
}
