package aws

import (
	"context"
	"fmt"
	"os"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
)

const defaultRegion = "us-east-1"

// Settings overrides the environment. Empty fields fall back to AWS_REGION and
// AWS_ENDPOINT_OVERRIDE.
type Settings struct {
	Region           string
	EndpointOverride string
}

// LoadAWSConfig resolves the shared SDK config. An endpoint override points
// every client at a local emulator (localstack, dynamodb-local).
func LoadAWSConfig(ctx context.Context, s Settings) (sdkaws.Config, error) {
	region := s.Region
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = defaultRegion
	}
	endpoint := s.EndpointOverride
	if endpoint == "" {
		endpoint = os.Getenv("AWS_ENDPOINT_OVERRIDE")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(endpoint))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return cfg, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}
