package cli

import (
	"context"
	"fmt"

	"github.com/straja-ai/postscore/internal/config"
	"github.com/straja-ai/postscore/internal/events"
	"github.com/straja-ai/postscore/internal/provider"
	"github.com/straja-ai/postscore/internal/redact"
	"github.com/straja-ai/postscore/internal/telemetry"
)

// services bundles the long-lived collaborators built from config.
type services struct {
	factory   *provider.Factory
	telemetry *telemetry.Provider
	emitter   *events.Emitter
	observer  *events.Observer
}

func newServices(ctx context.Context, cfg *config.Config) (*services, error) {
	creds := provider.NewCredentials(cfg.DefaultAPIKey())
	if !creds.HasDefault() {
		redact.Logf("no default api key in $%s; only requests carrying their own key will be served", cfg.Model.APIKeyEnv)
	}
	factory, err := provider.NewFactory(provider.Options{
		BaseURL:          cfg.Model.BaseURL,
		Model:            cfg.Model.Name,
		Temperature:      cfg.ModelTemperature(),
		Timeout:          cfg.Model.Timeout,
		MaxResponseBytes: cfg.Model.MaxResponseBytes,
	}, creds)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:  cfg.Telemetry.Enabled,
		Endpoint: cfg.Telemetry.Endpoint,
		Protocol: cfg.Telemetry.Protocol,
		Service:  cfg.Telemetry.Service,
		Version:  version,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	sinks, err := events.NewSinks(cfg.Events.Sinks)
	if err != nil {
		tel.Shutdown(ctx)
		return nil, fmt.Errorf("event sinks: %w", err)
	}
	em := events.NewEmitter(events.EmitterConfig{
		QueueSize:       cfg.Events.QueueSize,
		Workers:         cfg.Events.Workers,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, sinks)

	return &services{
		factory:   factory,
		telemetry: tel,
		emitter:   em,
		observer:  events.NewObserver(em, cfg.Logging.EventLevel),
	}, nil
}

// Close flushes pending events and telemetry.
func (sv *services) Close(ctx context.Context) {
	sv.emitter.Close(ctx)
	sv.telemetry.Shutdown(ctx)
}
