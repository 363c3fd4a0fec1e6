// Alarms-router consumes device alarm violation events from Kafka, resolves
// destination topics against the routing rules, and dispatches notifications
// via SNS. Malformed events are acknowledged and dropped; any other failure
// blocks the partition with backoff so no event is lost.
// Set KAFKA_BROKERS, DEVICE_ALARMS_KAFKA_TOPIC, KAFKA_GROUP_ID, and
// DEVICE_ALARMS_SNS_TOPIC_ARN_PREFIX. DATABASE_URL enables dispatch history.
// OIDC settings are required by config but unused here; a router-only
// deployment can set OFFLINE_AUTH_OVERRIDE=true instead.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"streaming-status/backend/internal/alarms/domain"
	"streaming-status/backend/internal/alarms/history"
	"streaming-status/backend/internal/alarms/publisher"
	"streaming-status/backend/internal/alarms/router"
	"streaming-status/backend/internal/config"
	"streaming-status/backend/internal/db"
	devicerepo "streaming-status/backend/internal/device/repository"
	"streaming-status/backend/internal/platform/awsclient"
)

const (
	retryBackoffMin = 1 * time.Second
	retryBackoffMax = 30 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		log.Fatal("alarms-router: KAFKA_BROKERS is required")
	}
	if cfg.AlarmsTopicARNPrefix == "" {
		log.Fatal("alarms-router: DEVICE_ALARMS_SNS_TOPIC_ARN_PREFIX is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("alarms-router: shutting down...")
		cancel()
	}()

	policyText := cfg.AlarmsRoutingPolicy
	if policyText != "" {
		// The value is either inline rules or the path of a rules file.
		if b, err := os.ReadFile(policyText); err == nil {
			policyText = string(b)
		}
	}
	engine, err := router.NewPolicyEngine(policyText, cfg.AlarmsDefaultSink)
	if err != nil {
		log.Fatalf("routing policy: %v", err)
	}
	if err := engine.HealthCheck(ctx); err != nil {
		log.Fatalf("routing policy: %v", err)
	}

	aws, err := awsclient.NewFactory(ctx, awsclient.Options{EndpointURL: cfg.AWSEndpointURL})
	if err != nil {
		log.Fatalf("aws: %v", err)
	}

	var ledger router.LedgerLookup
	if cfg.DeviceLedgerTableName != "" {
		ledger = devicerepo.NewDynamoLedger(aws.DynamoDB(cfg.DeviceLedgerRegion), cfg.DeviceLedgerTableName)
	}

	pub := publisher.NewSNSPublisher(aws.SNS(cfg.AlarmsRegion), cfg.AlarmsTopicARNPrefix)
	defer pub.Close()

	var recorder router.Recorder
	if cfg.DatabaseURL != "" {
		conn, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db: %v", err)
		}
		defer conn.Close()
		recorder = history.NewPostgresStore(conn)
	}

	r := router.New(engine, ledger, pub, recorder, cfg.RequestTimeout())

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    cfg.AlarmsKafkaTopic,
		GroupID:  cfg.KafkaGroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  1 * time.Second,
	})
	defer reader.Close()

	log.Printf("alarms-router: consuming from %s (group %s)", cfg.AlarmsKafkaTopic, cfg.KafkaGroupID)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("alarms-router: stopped")
				return
			}
			log.Printf("alarms-router: kafka fetch error: %v", err)
			continue
		}

		if !route(ctx, r, msg.Value) {
			// Shutdown mid-retry; the uncommitted offset is redelivered.
			return
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("alarms-router: commit error: %v", err)
		}
	}
}

// route processes one envelope until it reaches a terminal state. Malformed
// events terminate immediately; retryable failures back off and try again,
// blocking the partition so ordering and at-least-once delivery hold.
// Returns false when the context was cancelled before a terminal state.
func route(ctx context.Context, r *router.Router, raw []byte) bool {
	backoff := retryBackoffMin
	for {
		_, err := r.Route(ctx, raw)
		if err == nil {
			return true
		}
		var malformed *domain.MalformedEventError
		if errors.As(err, &malformed) {
			log.Printf("alarms-router: dropping malformed event: %v", err)
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		log.Printf("alarms-router: routing failed, retrying in %s: %v", backoff, err)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, retryBackoffMax)
	}
}
