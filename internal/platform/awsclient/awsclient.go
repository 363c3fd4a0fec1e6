// Package awsclient builds the AWS service clients the app depends on.
//
// Every client is derived from a single shared aws.Config so credentials and
// retry settings are resolved once. An endpoint override points all clients at
// a local emulator (localstack) and switches to static credentials, since the
// emulator accepts any key pair.
package awsclient

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/iot"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// Options configures the factory.
type Options struct {
	// EndpointURL overrides the endpoint of every constructed client.
	// Empty means the SDK default (real AWS).
	EndpointURL string
}

// Factory constructs AWS service clients on top of a shared base config.
// Tables, indexes and topics may live in different regions, so each
// constructor takes the region for that resource.
type Factory struct {
	base     aws.Config
	endpoint string
}

// NewFactory resolves the shared AWS configuration from the environment.
func NewFactory(ctx context.Context, opts Options) (*Factory, error) {
	loadOpts := []func(*config.LoadOptions) error{}
	if opts.EndpointURL != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("test", "test", ""),
		))
	}

	base, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("awsclient: load default config: %w", err)
	}

	return &Factory{base: base, endpoint: opts.EndpointURL}, nil
}

// DynamoDB returns a DynamoDB client bound to region.
func (f *Factory) DynamoDB(region string) *dynamodb.Client {
	return dynamodb.NewFromConfig(f.configFor(region), func(o *dynamodb.Options) {
		if f.endpoint != "" {
			o.BaseEndpoint = aws.String(f.endpoint)
		}
	})
}

// IoT returns an IoT client bound to region.
func (f *Factory) IoT(region string) *iot.Client {
	return iot.NewFromConfig(f.configFor(region), func(o *iot.Options) {
		if f.endpoint != "" {
			o.BaseEndpoint = aws.String(f.endpoint)
		}
	})
}

// SNS returns an SNS client bound to region.
func (f *Factory) SNS(region string) *sns.Client {
	return sns.NewFromConfig(f.configFor(region), func(o *sns.Options) {
		if f.endpoint != "" {
			o.BaseEndpoint = aws.String(f.endpoint)
		}
	})
}

// S3 returns an S3 client bound to region. With an endpoint override the
// client uses path-style addressing, which is what localstack serves.
func (f *Factory) S3(region string) *s3.Client {
	return s3.NewFromConfig(f.configFor(region), func(o *s3.Options) {
		if f.endpoint != "" {
			o.BaseEndpoint = aws.String(f.endpoint)
			o.UsePathStyle = true
		}
	})
}

func (f *Factory) configFor(region string) aws.Config {
	cfg := f.base.Copy()
	if region != "" {
		cfg.Region = region
	}
	return cfg
}
