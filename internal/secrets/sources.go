package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// EnvSource reads secrets from environment variables. The secret name is
// upper-cased and dashes/slashes/dots become underscores.
type EnvSource struct {
	lookup func(string) (string, bool)
}

func NewEnvSource() *EnvSource {
	return &EnvSource{lookup: os.LookupEnv}
}

func (s *EnvSource) Fetch(_ context.Context, name string) (string, error) {
	key := strings.NewReplacer("-", "_", "/", "_", ".", "_").Replace(strings.ToUpper(name))
	if v, ok := s.lookup(key); ok && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
}

// secretsManagerAPI is the subset of the Secrets Manager client we use.
type secretsManagerAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerSource reads secrets from AWS Secrets Manager.
type SecretsManagerSource struct {
	client secretsManagerAPI
}

// swapped in tests
var loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

func NewSecretsManagerSource(ctx context.Context, region string) (*SecretsManagerSource, error) {
	cfg, err := loadDefaultAWSConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SecretsManagerSource{client: secretsmanager.NewFromConfig(cfg)}, nil
}

func (s *SecretsManagerSource) Fetch(ctx context.Context, name string) (string, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		var nf *smtypes.ResourceNotFoundException
		if errors.As(err, &nf) {
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
		}
		return "", err
	}
	if out.SecretString != nil {
		return aws.ToString(out.SecretString), nil
	}
	if len(out.SecretBinary) > 0 {
		return string(out.SecretBinary), nil
	}
	return "", fmt.Errorf("%w: %s has no value", ErrSecretNotFound, name)
}

// ChainSource tries each source in order and returns the first hit.
type ChainSource []Source

func (c ChainSource) Fetch(ctx context.Context, name string) (string, error) {
	var errs []error
	for _, s := range c {
		v, err := s.Fetch(ctx, name)
		if err == nil {
			return v, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return "", errors.Join(errs...)
}
