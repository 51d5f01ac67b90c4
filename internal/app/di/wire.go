package di

import "github.com/google/wire"

// ProviderSet builds an *App from a context and a *config.Config.
var ProviderSet = wire.NewSet(
	ProvideGormDB,
	ProvideRedis,
	ProvideClickHouse,
	ProvideBarRepository,
	ProvideSymbolRepository,
	ProvideSymbolUsecase,
	ProvideMarketRegistry,
	ProvideColumnMappings,
	ProvideNormalizer,
	ProvideMarketGuard,
	ProvidePacer,
	ProvideRecorder,
	ProvidePublisher,
	ProvideArchiver,
	ProvideIngestUsecase,
	ProvideIngestJob,
	ProvideTrigger,
	ProvideHealthHandler,
	ProvideCycleHandler,
	ProvideSymbolHandler,
	ProvideRouter,
	NewApp,
)
