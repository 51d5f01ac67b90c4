//go:build wireinject

package main

import (
	"context"

	"github.com/google/wire"

	"stock_ingest/internal/app/config"
	"stock_ingest/internal/app/di"
)

func initializeApp(ctx context.Context, cfg *config.Config) (*di.App, func(), error) {
	wire.Build(di.ProviderSet)
	return &di.App{}, nil, nil
}
