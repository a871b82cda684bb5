// Package s3 provides an output backend which persists artifacts to an
// S3 compatible object store.
package s3

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/hashicorp-forge/grove/pkg/errors"
	"github.com/hashicorp-forge/grove/pkg/outputs"
	"github.com/hashicorp-forge/grove/pkg/settings"
)

// Name is the handler name this backend registers under.
const Name = "aws_s3"

func init() {
	outputs.Register(Name, func() (outputs.Output, error) {
		bucket := settings.Backend("output", Name, "bucket")
		if bucket == "" {
			return nil, errors.New(errors.ErrorTypeConfiguration, "GROVE_OUTPUT_AWS_S3_BUCKET must be set")
		}
		prefix := settings.Backend("output", Name, "prefix")
		region := settings.Backend("output", Name, "region")

		opts := []func(*awsconfig.LoadOptions) error{}
		if region != "" {
			opts = append(opts, awsconfig.WithRegion(region))
		}

		cfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeBackend, "unable to load AWS configuration")
		}

		client := s3.NewFromConfig(cfg)
		return New(client, bucket, prefix), nil
	})
}

// Output persists artifacts to an S3 bucket using multipart uploads for
// large artifacts.
type Output struct {
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// New constructs an S3 output over the given client.
func New(client *s3.Client, bucket, prefix string) *Output {
	return &Output{
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
	}
}

// Submit uploads the artifact to S3 under the supplied key. The
// provenance metadata is attached as object tags, best-effort.
func (o *Output) Submit(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	if o.prefix != "" {
		key = o.prefix + "/" + key
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}

	if len(metadata) > 0 {
		tags := url.Values{}
		for field, value := range metadata {
			tags.Set(field, value)
		}
		input.Tagging = aws.String(tags.Encode())
	}

	if _, err := o.uploader.Upload(ctx, input); err != nil {
		return errors.Wrap(err, errors.ErrorTypeBackend, "unable to write object to AWS S3")
	}
	return nil
}
