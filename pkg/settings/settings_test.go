package settings

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	assert.Equal(t, "local_file", ConfigHandler())
	assert.Equal(t, "local_memory", CacheHandler())
	assert.Equal(t, "local_stdout", OutputHandler())
	assert.Empty(t, SecretHandler())
	assert.Equal(t, 300*time.Second, ConfigRefresh())
	assert.Equal(t, 50, WorkerCount())
	assert.Equal(t, 300*time.Second, LockDuration())
	assert.Equal(t, 30*time.Second, ShutdownGrace())
	assert.Equal(t, "info", LogLevel())
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("GROVE_CACHE_HANDLER", "aws_dynamodb")
	t.Setenv("GROVE_CONFIG_REFRESH", "60")
	t.Setenv("GROVE_SECRET_HANDLER", "hashicorp_vault")

	assert.Equal(t, "aws_dynamodb", CacheHandler())
	assert.Equal(t, 60*time.Second, ConfigRefresh())
	assert.Equal(t, "hashicorp_vault", SecretHandler())
}

func TestBackendParameterConvention(t *testing.T) {
	t.Setenv("GROVE_OUTPUT_AWS_S3_BUCKET", "grove-logs")

	assert.Equal(t, "grove-logs", Backend("output", "aws_s3", "bucket"))
	assert.Empty(t, Backend("output", "aws_s3", "prefix"))
	assert.Equal(t, "fallback", BackendDefault("output", "aws_s3", "prefix", "fallback"))
	assert.Equal(t, "grove-logs", BackendDefault("output", "aws_s3", "bucket", "fallback"))
}
