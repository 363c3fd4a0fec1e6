// Server runs the device status HTTP API: scoped device listings, exports,
// directory and schema reads, and alarm email subscriptions.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"streaming-status/backend/internal/alarms/subscription"
	"streaming-status/backend/internal/auth"
	"streaming-status/backend/internal/config"
	devicerepo "streaming-status/backend/internal/device/repository"
	deviceservice "streaming-status/backend/internal/device/service"
	"streaming-status/backend/internal/directory"
	"streaming-status/backend/internal/platform/awsclient"
	schemarepo "streaming-status/backend/internal/schema/repository"
	"streaming-status/backend/internal/security"
	"streaming-status/backend/internal/server"
	"streaming-status/backend/internal/streamdata"
	"streaming-status/backend/internal/telemetry"
	"streaming-status/backend/internal/telemetry/otel"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()

	providers, err := otel.NewProviders(ctx, cfg.OTELEndpoint, cfg.OTELServiceName,
		os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true")
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	providers.SetGlobal()

	var emitter telemetry.EventEmitter
	if cfg.OTELEndpoint != "" {
		emitter = otel.NewEventEmitter(providers.LoggerProvider)
	}

	var verifier *security.Verifier
	if !cfg.OfflineAuthOverride {
		key, err := security.ParsePublicKey(cfg.OIDCPublicKey)
		if err != nil {
			log.Fatalf("oidc public key: %v", err)
		}
		verifier = security.NewVerifier(key, cfg.OIDCIssuerURL, cfg.OIDCClientID)
	} else {
		log.Println("offline auth override enabled; requests are scoped by query parameters")
	}
	resolver := auth.NewResolver(verifier, cfg.OIDCClientID, cfg.AdminRole, cfg.OfflineAuthOverride)

	aws, err := awsclient.NewFactory(ctx, awsclient.Options{EndpointURL: cfg.AWSEndpointURL})
	if err != nil {
		log.Fatalf("aws: %v", err)
	}

	fleet := devicerepo.NewIoTFleetIndex(aws.IoT(cfg.FleetIndexRegion), cfg.DeactivatedThingGroup)
	ledger := devicerepo.NewDynamoLedger(aws.DynamoDB(cfg.DeviceLedgerRegion), cfg.DeviceLedgerTableName)
	schemas := schemarepo.NewDynamoStore(aws.DynamoDB(cfg.SchemaRegistryRegion), cfg.SchemaRegistryTableName)

	var streams deviceservice.StreamReader
	if cfg.StreamDataBucketName != "" {
		streams = streamdata.NewReader(aws.S3(cfg.StreamDataRegion), cfg.StreamDataBucketName)
	}

	devices := deviceservice.NewDeviceService(
		fleet,
		ledger,
		schemarepo.SpecSource{Store: schemas},
		streams,
		cfg.DevicePageSize,
		cfg.JoinTimeout(),
	)

	var groups directory.GroupsAPI
	if cfg.DirectoryAPIBaseURL != "" {
		groups = directory.NewGroupsClient(
			&http.Client{Timeout: cfg.RequestTimeout()},
			cfg.OIDCIssuerURL,
			cfg.DirectoryAPIBaseURL,
			cfg.OIDCClientID,
			cfg.OIDCClientSecret,
		)
	}
	dir := directory.NewService(ledger, groups, cfg.DevicePageSize)

	var subs *subscription.Service
	if cfg.AlarmsTableName != "" && cfg.AlarmsTopicARNPrefix != "" {
		store := subscription.NewDynamoStore(aws.DynamoDB(cfg.AlarmsRegion), cfg.AlarmsTableName)
		notifier := subscription.NewSNSNotifier(aws.SNS(cfg.AlarmsRegion))
		subs = subscription.NewService(store, notifier, cfg.AlarmsTopicARNPrefix)
	} else {
		log.Println("alarm subscriptions disabled; set DEVICE_ALARMS_TABLE_NAME and DEVICE_ALARMS_SNS_TOPIC_ARN_PREFIX to enable")
	}

	handler := server.New(server.Deps{
		Resolver:      resolver,
		Devices:       devices,
		Directory:     dir,
		Schemas:       schemas,
		Subscriptions: subs,
		Emitter:       emitter,
		AllowedOrigin: cfg.CORSAllowedOrigin,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("http server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down http server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}

	// Give in-flight event emits a chance to land before the exporters close.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), telemetry.ShutdownDrainDuration)
	defer cancelDrain()
	if err := providers.Shutdown(drainCtx); err != nil {
		log.Printf("telemetry: shutdown: %v", err)
	}
	log.Println("http server stopped")
}
