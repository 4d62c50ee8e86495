//go:build wireinject

package main

import (
	"context"
	"log/slog"

	"github.com/google/wire"
	"github.com/onkernel/kimd/cmd/api/api"
	"github.com/onkernel/kimd/cmd/api/config"
	"github.com/onkernel/kimd/lib/images"
	"github.com/onkernel/kimd/lib/otel"
	"github.com/onkernel/kimd/lib/providers"
)

// application struct to hold initialized components
type application struct {
	Ctx          context.Context
	Logger       *slog.Logger
	Config       *config.Config
	Otel         *otel.Provider
	ImageManager images.Manager
	ApiService   *api.ApiService
}

// initializeApp is the injector function
func initializeApp() (*application, func(), error) {
	panic(wire.Build(
		providers.ProvideContext,
		providers.ProvideConfig,
		providers.ProvideOtel,
		providers.ProvideLogger,
		providers.ProvideKimTopic,
		providers.ProvideKimLogger,
		providers.ProvideRunner,
		providers.ProvideImageManager,
		api.New,
		wire.Struct(new(application), "*"),
	))
}
