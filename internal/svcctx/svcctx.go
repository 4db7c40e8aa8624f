// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jackzampolin/docpipe/internal/config"
	"github.com/jackzampolin/docpipe/internal/home"
	"github.com/jackzampolin/docpipe/internal/pipeline"
	"github.com/jackzampolin/docpipe/internal/server/ws"
	"github.com/jackzampolin/docpipe/internal/store"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	Store          *store.Store
	Orchestrator   *pipeline.Orchestrator
	Hub            *ws.Hub
	ConfigManager  *config.Manager
	MetadataSchema *jsonschema.Schema
	Logger         *slog.Logger
	Home           *home.Dir
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// StoreFrom extracts the job store from context.
func StoreFrom(ctx context.Context) *store.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.Store
	}
	return nil
}

// OrchestratorFrom extracts the pipeline orchestrator from context.
func OrchestratorFrom(ctx context.Context) *pipeline.Orchestrator {
	if s := ServicesFrom(ctx); s != nil {
		return s.Orchestrator
	}
	return nil
}

// HubFrom extracts the websocket hub from context.
func HubFrom(ctx context.Context) *ws.Hub {
	if s := ServicesFrom(ctx); s != nil {
		return s.Hub
	}
	return nil
}

// ConfigManagerFrom extracts the config manager from context.
func ConfigManagerFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.ConfigManager
	}
	return nil
}

// MetadataSchemaFrom extracts the metadata validation schema from context.
// Returns nil when no schema is configured.
func MetadataSchemaFrom(ctx context.Context) *jsonschema.Schema {
	if s := ServicesFrom(ctx); s != nil {
		return s.MetadataSchema
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil {
		return s.Logger
	}
	return nil
}

// HomeFrom extracts the home directory from context.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}
