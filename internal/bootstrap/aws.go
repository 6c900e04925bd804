// Package bootstrap turns a validated config into the worker's wired
// services. Both entry points (the long-running CLI and the SQS-triggered
// Lambda) start through it, so the choice of backends lives in one place.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/video-summary-worker/internal/config"
)

// LoadAWS loads the default credential chain with the configured region.
// A non-empty endpoint points every client at it (LocalStack, MinIO's S3
// gateway).
func LoadAWS(ctx context.Context, c config.AWSConfig) (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(c.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	if c.Endpoint != "" {
		cfg.BaseEndpoint = aws.String(c.Endpoint)
	}
	log.Debug().Str("region", cfg.Region).Str("endpoint", c.Endpoint).Msg("AWS config loaded")
	return cfg, nil
}

// SSMAPI is the subset of *ssm.Client used by ResolveSecret.
type SSMAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ResolveSecret returns value when set, otherwise the decrypted SSM
// parameter named param. Both empty yields "".
func ResolveSecret(ctx context.Context, client SSMAPI, value, param string) (string, error) {
	if value != "" || param == "" {
		return value, nil
	}
	if client == nil {
		return "", fmt.Errorf("read %s: no SSM client", param)
	}
	start := time.Now()
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(param),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("read %s from SSM: %w", param, err)
	}
	if out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
		return "", fmt.Errorf("SSM parameter %s is empty", param)
	}
	log.Debug().Str("param", param).Dur("elapsed", time.Since(start)).Msg("Secret loaded from SSM")
	return aws.ToString(out.Parameter.Value), nil
}
