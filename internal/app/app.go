package app

import (
	"context"
	"fmt"
	"net/http"

	"dialogd/pkg/config"
	"dialogd/pkg/llm"
	"dialogd/pkg/prompt"
	"dialogd/pkg/store"
)

// App encapsulates the server components and lifecycle.
type App struct {
	cfg       *config.Config
	addr      string
	version   string
	commit    string
	buildDate string

	store *store.Store
	gen   *llm.Client
	tmpl  prompt.Template

	srv *http.Server
}

// New opens the store and builds the prompt template and generation
// client. It does not start the HTTP server; call Run to start it and
// block until shutdown.
func New(cfg *config.Config, addr string, version, commit, buildDate string) (*App, error) {
	if cfg.Generation.BackendURL == "" {
		return nil, fmt.Errorf("generation backend URL is required")
	}

	st, err := store.Open(cfg.Storage.DBPath, cfg.SystemPrompt())
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", cfg.Storage.DBPath, err)
	}

	tmpl, err := buildTemplate(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	a := &App{
		cfg:       cfg,
		addr:      addr,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		store:     st,
		gen:       llm.NewClient(cfg.Generation.BackendURL, cfg.Generation.Timeout.Duration()),
		tmpl:      tmpl,
	}
	return a, nil
}

// Store exposes the opened store for the retention scheduler.
func (a *App) Store() *store.Store { return a.store }

// Run starts the HTTP server and blocks until ctx is canceled or a
// fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	a.printBanner()

	errCh := a.startHTTP()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = a.srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Close releases the store. Call after Run returns.
func (a *App) Close() error {
	return a.store.Close()
}

// buildTemplate loads the template file when configured and otherwise
// assembles one from the inline prompt settings.
func buildTemplate(cfg *config.Config) (prompt.Template, error) {
	if p := cfg.Prompt.TemplatePath; p != "" {
		t, err := prompt.LoadTemplate(p)
		if err != nil {
			return prompt.Template{}, fmt.Errorf("failed to load prompt template %s: %w", p, err)
		}
		return t, nil
	}
	t := prompt.Default()
	if cfg.Prompt.MessageFormat != "" {
		t.MessageFormat = cfg.Prompt.MessageFormat
	}
	if cfg.Prompt.GenerationSuffix != "" {
		t.GenerationSuffix = cfg.Prompt.GenerationSuffix
	}
	if len(cfg.Prompt.RoleMapping) > 0 {
		t.RoleMapping = cfg.Prompt.RoleMapping
	}
	return t, nil
}
