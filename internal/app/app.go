// Package app wires configuration, logging and AWS clients for the Lambda
// entry points.
package app

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/siftbeam/upload-pipeline/internal/awsclient"
	"github.com/siftbeam/upload-pipeline/internal/config"
	"github.com/siftbeam/upload-pipeline/internal/invoke"
	"github.com/siftbeam/upload-pipeline/internal/kvstore"
	"github.com/siftbeam/upload-pipeline/internal/logging"
	"github.com/siftbeam/upload-pipeline/internal/objectstore"
	"github.com/siftbeam/upload-pipeline/internal/warmup"
)

// App holds what every entry point builds once per cold start.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Clients *awsclient.Clients
	Invoker *invoke.Client
	Warmer  *warmup.Warmer
}

// New loads configuration, checks the required variables and creates the
// logger and AWS clients.
func New(ctx context.Context, required ...string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Require(required...); err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	clients, err := awsclient.New(ctx)
	if err != nil {
		return nil, err
	}

	logger = logger.With(zap.String("environment", cfg.Environment))
	logger.Debug("aws clients created", zap.String("region", clients.Config.Region))

	invoker := invoke.New(clients.Lambda)
	return &App{
		Config:  cfg,
		Logger:  logger,
		Clients: clients,
		Invoker: invoker,
		Warmer:  warmup.New(invoker, cfg.FunctionName, logger),
	}, nil
}

// Histories returns the processing history store.
func (a *App) Histories() *kvstore.HistoryStore {
	return kvstore.NewHistoryStore(a.Clients.DynamoDB, a.Config.HistoryTable)
}

// Objects returns the object store for the configured bucket.
func (a *App) Objects() *objectstore.Store {
	return objectstore.New(a.Clients.S3, a.Clients.Presigner, a.Config.BucketName)
}

// Handler adapts a typed handler to the raw events Lambda delivers. Warmup
// events are answered before anything else.
func Handler[T, R any](warmer *warmup.Warmer, fn func(context.Context, T) (R, error)) func(context.Context, json.RawMessage) (any, error) {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		if event, ok := warmup.Parse(raw); ok {
			return warmer.Handle(ctx, event)
		}

		var in T
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, fmt.Errorf("failed to parse event: %w", err)
		}
		return fn(ctx, in)
	}
}
