// Package entrypoint provides the shared startup path for the Grove
// binaries: backend wiring from environment settings, runtime
// identification, and exit code mapping.
package entrypoint

import (
	"os"
	"strconv"

	"github.com/hashicorp-forge/grove/internal/pipeline"
	"github.com/hashicorp-forge/grove/internal/scheduler"
	"github.com/hashicorp-forge/grove/pkg/caches"
	"github.com/hashicorp-forge/grove/pkg/configs"
	"github.com/hashicorp-forge/grove/pkg/errors"
	"github.com/hashicorp-forge/grove/pkg/outputs"
	"github.com/hashicorp-forge/grove/pkg/secrets"
	"github.com/hashicorp-forge/grove/pkg/settings"
)

// Exit codes.
const (
	ExitSuccess = 0
	// ExitRunFailed indicates at least one instance fatally failed.
	ExitRunFailed = 1
	// ExitConfigInvalid indicates configuration was invalid at startup
	// and no instances were loaded.
	ExitConfigInvalid = 2
	// ExitBackendFailed indicates a backend handler was not found or
	// failed to initialize.
	ExitBackendFailed = 3
)

// Backends holds the four initialized backend handlers.
type Backends struct {
	Config configs.Config
	Cache  caches.Cache
	Output outputs.Output
	Secret secrets.Secret // nil when no secret backend is configured
}

// Setup opens every configured backend. Any failure here is fatal; the
// caller exits with ExitBackendFailed.
func Setup() (*Backends, error) {
	backends := &Backends{}

	var err error
	if backends.Config, err = configs.Open(settings.ConfigHandler()); err != nil {
		return nil, err
	}
	if backends.Cache, err = caches.Open(settings.CacheHandler()); err != nil {
		return nil, err
	}
	if backends.Output, err = outputs.Open(settings.OutputHandler()); err != nil {
		return nil, err
	}

	// Secret backends are optional; without one all credentials must be
	// inline in configuration documents.
	if handler := settings.SecretHandler(); handler != "" {
		if backends.Secret, err = secrets.Open(handler); err != nil {
			return nil, err
		}
	}
	return backends, nil
}

// NewScheduler assembles the pipeline runner and scheduler over the
// given backends.
func NewScheduler(backends *Backends, runtime map[string]string) *scheduler.Scheduler {
	runner := pipeline.New(
		backends.Cache,
		backends.Output,
		backends.Secret,
		runtime,
		settings.LockDuration(),
	)

	return scheduler.New(backends.Config, runner, scheduler.Options{
		Refresh:       settings.ConfigRefresh(),
		Workers:       settings.WorkerCount(),
		ShutdownGrace: settings.ShutdownGrace(),
	})
}

// RuntimeInformation determines identifying information about the
// current runtime, stamped onto collected records for provenance.
func RuntimeInformation() map[string]string {
	// Under Nomad, prefer allocation identifiers.
	if alloc := os.Getenv("NOMAD_ALLOC_ID"); alloc != "" {
		return map[string]string{
			"runtime_id":       alloc,
			"runtime_region":   os.Getenv("NOMAD_REGION"),
			"runtime_job_name": os.Getenv("NOMAD_JOB_NAME"),
		}
	}

	hostname, _ := os.Hostname()
	return map[string]string{
		"runtime_id":   strconv.Itoa(os.Getpid()),
		"runtime_host": hostname,
	}
}

// ExitCode maps a scheduler outcome to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.IsType(err, errors.ErrorTypeConfiguration):
		return ExitConfigInvalid
	case errors.IsType(err, errors.ErrorTypeFatal):
		return ExitBackendFailed
	default:
		return ExitRunFailed
	}
}
