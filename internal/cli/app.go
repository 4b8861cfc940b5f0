package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	calendar "google.golang.org/api/calendar/v3"

	"calsyncd/internal/config"
	"calsyncd/internal/outbox"
	"calsyncd/internal/remote"
	"calsyncd/internal/store"
	"calsyncd/internal/syncer"
)

// app wires the store, remote client, outbox, and sync engine for a command
// invocation.
type app struct {
	cfg    *config.Config
	store  *store.Store
	remote remote.Service
	queue  *outbox.Queue
	worker *outbox.Worker
	engine *syncer.Engine
}

// openApp loads the config and composes the service graph. The remote client
// is nil when no OAuth material is configured; sync runs then report
// SKIPPED instead of failing.
func openApp(ctx context.Context, opts *RootOptions) (*app, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, err
	}

	var svc remote.Service
	if cfg.OAuth != nil {
		g, err := googleRemote(ctx, cfg.OAuth)
		if err != nil {
			st.Close()
			return nil, err
		}
		svc = g
	}

	clock := outbox.SystemClock{}
	logger := slog.Default()
	queue := outbox.NewQueue(st, clock)
	worker := outbox.NewWorker(st, svc, clock, logger)
	engine := syncer.New(st, svc, queue, worker, clock, logger)

	return &app{
		cfg:    cfg,
		store:  st,
		remote: svc,
		queue:  queue,
		worker: worker,
		engine: engine,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

// googleRemote builds the Google Calendar client from the configured OAuth
// client material and stored token.
func googleRemote(ctx context.Context, oc *config.OAuthConfig) (*remote.Google, error) {
	data, err := os.ReadFile(oc.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}

	ocfg := &oauth2.Config{
		ClientID:     oc.ClientID,
		ClientSecret: oc.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{calendar.CalendarScope},
	}
	return remote.NewGoogle(ctx, ocfg.TokenSource(ctx, &tok))
}
