// Package s3 provides a config backend which reads connector
// configuration documents from an S3 bucket prefix.
package s3

import (
	"context"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/hashicorp-forge/grove/pkg/configs"
	"github.com/hashicorp-forge/grove/pkg/errors"
	"github.com/hashicorp-forge/grove/pkg/settings"
)

// Name is the handler name this backend registers under.
const Name = "aws_s3"

func init() {
	configs.Register(Name, func() (configs.Config, error) {
		bucket := settings.Backend("config", Name, "bucket")
		if bucket == "" {
			return nil, errors.New(errors.ErrorTypeConfiguration, "GROVE_CONFIG_AWS_S3_BUCKET must be set")
		}
		prefix := settings.Backend("config", Name, "prefix")
		region := settings.Backend("config", Name, "region")

		opts := []func(*awsconfig.LoadOptions) error{}
		if region != "" {
			opts = append(opts, awsconfig.WithRegion(region))
		}

		cfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeBackend, "unable to load AWS configuration")
		}
		return New(s3.NewFromConfig(cfg), bucket, prefix), nil
	})
}

// Backend reads configuration documents from an S3 bucket.
type Backend struct {
	client *s3.Client
	bucket string
	prefix string
}

// New constructs an S3 config backend over the given client.
func New(client *s3.Client, bucket, prefix string) *Backend {
	return &Backend{client: client, bucket: bucket, prefix: prefix}
}

// List returns the keys of all documents under the configured prefix.
func (b *Backend) List(ctx context.Context) ([]string, error) {
	var ids []string

	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeBackend, "unable to list configuration documents in S3")
		}
		for _, object := range page.Contents {
			key := aws.ToString(object.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			ids = append(ids, key)
		}
	}
	return ids, nil
}

// Get returns the raw bytes of a configuration document.
func (b *Backend) Get(ctx context.Context, id string) ([]byte, error) {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(id),
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeBackend, "unable to read configuration document from S3")
	}
	defer result.Body.Close()

	content, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeBackend, "unable to read configuration document body")
	}
	return content, nil
}
