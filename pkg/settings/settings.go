// Package settings binds process-level Grove configuration from the
// environment. All runtime tuning is environmental; there are no flags.
package settings

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Environment variable names, used to override runtime settings.
const (
	KeyConfigHandler = "config_handler"
	KeyCacheHandler  = "cache_handler"
	KeyOutputHandler = "output_handler"
	KeySecretHandler = "secret_handler"
	KeyConfigRefresh = "config_refresh"
	KeyWorkerCount   = "worker_count"
	KeyLockDuration  = "lock_duration"
	KeyShutdownGrace = "shutdown_grace"
	KeyLogLevel      = "log_level"
)

// Defaults for unset environment variables.
const (
	DefaultConfigHandler = "local_file"
	DefaultCacheHandler  = "local_memory"
	DefaultOutputHandler = "local_stdout"
	DefaultConfigRefresh = 300
	DefaultWorkerCount   = 50
	DefaultLockDuration  = 300
	DefaultShutdownGrace = 30
	DefaultLogLevel      = "info"
)

var v = newViper()

func newViper() *viper.Viper {
	vp := viper.New()
	vp.SetEnvPrefix("GROVE")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	vp.SetDefault(KeyConfigHandler, DefaultConfigHandler)
	vp.SetDefault(KeyCacheHandler, DefaultCacheHandler)
	vp.SetDefault(KeyOutputHandler, DefaultOutputHandler)
	vp.SetDefault(KeySecretHandler, "")
	vp.SetDefault(KeyConfigRefresh, DefaultConfigRefresh)
	vp.SetDefault(KeyWorkerCount, DefaultWorkerCount)
	vp.SetDefault(KeyLockDuration, DefaultLockDuration)
	vp.SetDefault(KeyShutdownGrace, DefaultShutdownGrace)
	vp.SetDefault(KeyLogLevel, DefaultLogLevel)

	return vp
}

// ConfigHandler returns the name of the configured config backend.
func ConfigHandler() string { return v.GetString(KeyConfigHandler) }

// CacheHandler returns the name of the configured cache backend.
func CacheHandler() string { return v.GetString(KeyCacheHandler) }

// OutputHandler returns the name of the configured output backend.
func OutputHandler() string { return v.GetString(KeyOutputHandler) }

// SecretHandler returns the name of the configured secret backend, or an
// empty string when no secret backend is in use.
func SecretHandler() string { return v.GetString(KeySecretHandler) }

// ConfigRefresh returns the interval between configuration refreshes in
// daemon mode.
func ConfigRefresh() time.Duration {
	return time.Duration(v.GetInt(KeyConfigRefresh)) * time.Second
}

// WorkerCount returns the maximum number of connectors to execute
// concurrently.
func WorkerCount() int { return v.GetInt(KeyWorkerCount) }

// LockDuration returns the lifetime of the per-instance running marker.
func LockDuration() time.Duration {
	return time.Duration(v.GetInt(KeyLockDuration)) * time.Second
}

// ShutdownGrace returns how long in-flight runs are given to reach a batch
// boundary after a termination signal.
func ShutdownGrace() time.Duration {
	return time.Duration(v.GetInt(KeyShutdownGrace)) * time.Second
}

// LogLevel returns the configured log level.
func LogLevel() string { return v.GetString(KeyLogLevel) }

// Backend returns a backend-specific parameter following the
// GROVE_<ROLE>_<BACKEND>_<PARAM> convention, for example
// Backend("output", "aws_s3", "bucket") reads GROVE_OUTPUT_AWS_S3_BUCKET.
func Backend(role, backend, param string) string {
	return v.GetString(strings.ToLower(role + "_" + backend + "_" + param))
}

// BackendDefault returns a backend-specific parameter, falling back to the
// provided default when unset.
func BackendDefault(role, backend, param, fallback string) string {
	if value := Backend(role, backend, param); value != "" {
		return value
	}
	return fallback
}
