// Package ssm provides a secret backend over the AWS SSM parameter
// store. Parameters are fetched with decryption enabled.
package ssm

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/hashicorp-forge/grove/pkg/errors"
	"github.com/hashicorp-forge/grove/pkg/secrets"
	"github.com/hashicorp-forge/grove/pkg/settings"
)

// Name is the handler name this backend registers under.
const Name = "aws_ssm"

func init() {
	secrets.Register(Name, func() (secrets.Secret, error) {
		region := settings.Backend("secret", Name, "region")

		opts := []func(*awsconfig.LoadOptions) error{}
		if region != "" {
			opts = append(opts, awsconfig.WithRegion(region))
		}

		cfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeBackend, "unable to load AWS configuration")
		}
		return New(ssm.NewFromConfig(cfg)), nil
	})
}

// Backend reads secrets from the SSM parameter store.
type Backend struct {
	client *ssm.Client
}

// New constructs an SSM secret backend over the given client.
func New(client *ssm.Client) *Backend {
	return &Backend{client: client}
}

// Fetch reads the parameter at the given path.
func (b *Backend) Fetch(ctx context.Context, path string) (string, error) {
	result, err := b.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(path),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeSecret, "unable to get parameter from AWS SSM")
	}
	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", errors.Newf(errors.ErrorTypeNotFound, "parameter %q has no value", path)
	}
	return aws.ToString(result.Parameter.Value), nil
}
