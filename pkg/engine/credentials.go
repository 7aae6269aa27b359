package engine

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/ajitpratap0/tabula/pkg/config"
)

// StaticCredentials are resolved object storage keys.
type StaticCredentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string
}

// CredentialsResolver resolves object storage credentials when no static keys
// are configured.
type CredentialsResolver interface {
	Resolve(ctx context.Context, o *config.ObjectStorageConfig) (StaticCredentials, error)
}

// AWSCredentials resolves credentials through the AWS SDK default chain:
// environment, shared config and credentials files, then container and
// instance roles.
type AWSCredentials struct{}

// Resolve implements CredentialsResolver.
func (AWSCredentials) Resolve(ctx context.Context, o *config.ObjectStorageConfig) (StaticCredentials, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if o.Region != "" {
		opts = append(opts, awsconfig.WithRegion(o.Region))
	}
	if o.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(o.Profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return StaticCredentials{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if cfg.Credentials == nil {
		return StaticCredentials{}, fmt.Errorf("no AWS credentials provider configured")
	}

	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return StaticCredentials{}, fmt.Errorf("failed to retrieve AWS credentials: %w", err)
	}
	if !creds.HasKeys() {
		return StaticCredentials{}, fmt.Errorf("AWS credential chain returned no keys")
	}

	return StaticCredentials{
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		SessionToken:    creds.SessionToken,
		Region:          cfg.Region,
	}, nil
}
