package endpoints

import (
	"github.com/jackzampolin/docpipe/internal/api"
)

// Config holds dependencies needed by some endpoints.
type Config struct {
	SwaggerSpecPath string
}

// All returns all endpoint instances.
func All(cfg Config) []api.Endpoint {
	return []api.Endpoint{
		// Health
		&HealthEndpoint{},

		// Processing
		&SubmitEndpoint{},
		&GetJobEndpoint{},
		&ListJobsEndpoint{},
		&RetryEndpoint{},
		&CancelEndpoint{},
		&CleanupEndpoint{},
		&MetricsEndpoint{},
		&WatchEndpoint{},

		// OpenAPI spec
		&SwaggerEndpoint{SpecPath: cfg.SwaggerSpecPath},
	}
}
