package secrets

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// AWSStore resolves secrets from AWS Secrets Manager.
type AWSStore struct {
	client *secretsmanager.Client
}

// NewAWSStore constructs a Secrets Manager backed store in the given region.
func NewAWSStore(ctx context.Context, region string) (*AWSStore, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("secrets: load aws config: %w", err)
	}
	return &AWSStore{client: secretsmanager.NewFromConfig(awsCfg)}, nil
}

// GetSecret fetches the secret string stored under the given identifier.
func (s *AWSStore) GetSecret(ctx context.Context, name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", ErrEmptySecretName
	}

	output, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(trimmed),
	})
	if err != nil {
		return "", fmt.Errorf("secrets: get %s: %w", trimmed, err)
	}
	if output.SecretString == nil {
		return "", fmt.Errorf("%w: %s has no string value", ErrSecretNotFound, trimmed)
	}
	return aws.ToString(output.SecretString), nil
}
