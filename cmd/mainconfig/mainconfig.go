package mainconfig

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/rescue-triage/internal/config"
)

// overridableServices are the AWS services the binaries talk to. Only these
// are redirected when AWS_ENDPOINT_OVERRIDE points at LocalStack.
var overridableServices = map[string]bool{
	sqs.ServiceID:      true,
	dynamodb.ServiceID: true,
	s3.ServiceID:       true,
	sesv2.ServiceID:    true,
}

// LoadAWSConfig loads the SDK config shared by the API and the triage worker.
// It returns nil without error when needed is false so callers can pass the
// result straight to the bootstrap builders.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config, needed bool) (*aws.Config, error) {
	if !needed {
		return nil, nil
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.AWSRegion)}
	keyID := strings.TrimSpace(cfg.AWSAccessKeyID)
	secret := strings.TrimSpace(cfg.AWSSecretAccessKey)
	if keyID != "" && secret != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(keyID, secret, "")))
	}

	loaded, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("mainconfig: load aws config: %w", err)
	}
	if cfg.AWSEndpointOverride != "" {
		loaded.EndpointResolverWithOptions = localEndpoint(cfg.AWSEndpointOverride, cfg.AWSRegion)
	}
	return &loaded, nil
}

func localEndpoint(url, region string) aws.EndpointResolverWithOptions {
	return aws.EndpointResolverWithOptionsFunc(func(service, _ string, _ ...interface{}) (aws.Endpoint, error) {
		if !overridableServices[service] {
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		}
		return aws.Endpoint{URL: url, PartitionID: "aws", SigningRegion: region}, nil
	})
}

// Value dereferences an optional config; a nil config yields the zero value.
func Value(cfg *aws.Config) aws.Config {
	if cfg == nil {
		return aws.Config{}
	}
	return *cfg
}
