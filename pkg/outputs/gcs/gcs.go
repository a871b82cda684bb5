// Package gcs provides an output backend which persists artifacts to a
// Google Cloud Storage bucket.
package gcs

import (
	"context"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/hashicorp-forge/grove/pkg/errors"
	"github.com/hashicorp-forge/grove/pkg/outputs"
	"github.com/hashicorp-forge/grove/pkg/settings"
)

// Name is the handler name this backend registers under.
const Name = "gcp_gcs"

func init() {
	outputs.Register(Name, func() (outputs.Output, error) {
		bucket := settings.Backend("output", Name, "bucket")
		if bucket == "" {
			return nil, errors.New(errors.ErrorTypeConfiguration, "GROVE_OUTPUT_GCP_GCS_BUCKET must be set")
		}
		prefix := settings.Backend("output", Name, "prefix")

		opts := []option.ClientOption{}
		if credentials := settings.Backend("output", Name, "credentials"); credentials != "" {
			opts = append(opts, option.WithCredentialsFile(credentials))
		}

		client, err := storage.NewClient(context.Background(), opts...)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeBackend, "unable to construct GCS client")
		}
		return New(client, bucket, prefix), nil
	})
}

// Output persists artifacts to a GCS bucket.
type Output struct {
	client *storage.Client
	bucket string
	prefix string
}

// New constructs a GCS output over the given client.
func New(client *storage.Client, bucket, prefix string) *Output {
	return &Output{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

// Submit uploads the artifact to GCS under the supplied key. The
// provenance metadata is attached as object metadata.
func (o *Output) Submit(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	if o.prefix != "" {
		key = o.prefix + "/" + key
	}

	writer := o.client.Bucket(o.bucket).Object(key).NewWriter(ctx)
	writer.Metadata = metadata

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return errors.Wrap(err, errors.ErrorTypeBackend, "unable to write object to GCS")
	}
	if err := writer.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeBackend, "unable to finalize object in GCS")
	}
	return nil
}
