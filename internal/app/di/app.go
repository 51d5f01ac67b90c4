package di

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"stock_ingest/internal/app/config"
	"stock_ingest/internal/app/router"
	baradapters "stock_ingest/internal/feature/bars/adapters"
	"stock_ingest/internal/feature/bars/domain/entity"
	barhandler "stock_ingest/internal/feature/bars/transport/handler"
	barusecase "stock_ingest/internal/feature/bars/usecase"
	symbolhandler "stock_ingest/internal/feature/symbollist/transport/handler"
	symbolusecase "stock_ingest/internal/feature/symbollist/usecase"
	"stock_ingest/internal/platform/archive"
	"stock_ingest/internal/platform/events"
	platformhandler "stock_ingest/internal/platform/http/handler"
	"stock_ingest/internal/platform/metrics"
	"stock_ingest/internal/platform/scheduler"
)

const shutdownTimeout = 10 * time.Second

// ProvideSymbolUsecase wraps the universe source.
func ProvideSymbolUsecase(repo symbolusecase.SymbolRepository) *symbolusecase.SymbolUsecase {
	return symbolusecase.NewSymbolUsecase(repo)
}

// ProvideRecorder creates the Prometheus recorder.
func ProvideRecorder() *metrics.Recorder {
	return metrics.New()
}

// ProvidePublisher creates the Kafka publisher when KAFKA_BROKERS is set, otherwise nil.
func ProvidePublisher(cfg *config.Config) (*events.Publisher, func(), error) {
	if !cfg.Kafka.Enabled() {
		return nil, func() {}, nil
	}
	p, err := events.NewKafkaPublisher(cfg.Kafka)
	if err != nil {
		return nil, nil, err
	}
	return p, func() {
		if err := p.Close(); err != nil {
			slog.Error("failed to close kafka writer", "error", err)
		}
	}, nil
}

// ProvideArchiver creates the file archiver when ARCHIVE_DIR is set, otherwise nil.
func ProvideArchiver(cfg *config.Config) (*archive.Archiver, error) {
	if cfg.ArchiveDir == "" {
		return nil, nil
	}
	saver, err := archive.NewSaver(cfg.ArchiveFormat)
	if err != nil {
		return nil, err
	}
	return archive.NewArchiver(cfg.ArchiveDir, saver), nil
}

// ProvideIngestUsecase assembles the orchestrator. Optional sinks are attached only when configured.
func ProvideIngestUsecase(
	cfg *config.Config,
	universe *symbolusecase.SymbolUsecase,
	registry *baradapters.MarketRegistry,
	normalizer *barusecase.Normalizer,
	bars barusecase.BarRepository,
	guard barusecase.MarketGuard,
	pacer barusecase.Pacer,
	recorder *metrics.Recorder,
	publisher *events.Publisher,
	archiver *archive.Archiver,
) *barusecase.IngestUsecase {
	uc := barusecase.NewIngestUsecase(universe, registry, normalizer, bars, guard, pacer, barusecase.IngestOptions{
		FetchTimeout: cfg.FetchTimeout,
		StoreTimeout: cfg.StoreTimeout,
	}).WithRecorder(recorder)
	if publisher != nil {
		uc.WithPublisher(publisher)
	}
	if archiver != nil {
		uc.WithArchiver(archiver)
	}
	return uc
}

// ProvideIngestJob returns the scheduled job: one cycle per configured market, in order.
// A market whose cycle is still running elsewhere is skipped; other failures are joined.
func ProvideIngestJob(cfg *config.Config, uc *barusecase.IngestUsecase) (scheduler.Job, error) {
	markets, err := cfg.MarketIDs()
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		start, end, err := cfg.Window(time.Now())
		if err != nil {
			return err
		}
		var errs []error
		for _, m := range markets {
			if ctx.Err() != nil {
				errs = append(errs, ctx.Err())
				break
			}
			_, err := uc.RunCycle(ctx, m, start, end)
			switch {
			case errors.Is(err, barusecase.ErrCycleInProgress):
				slog.Warn("cycle skipped, already running", "market", m.String())
			case err != nil:
				errs = append(errs, fmt.Errorf("market %s: %w", m, err))
			}
		}
		return errors.Join(errs...)
	}, nil
}

// ProvideTrigger builds the trigger selected by SCHEDULE_MODE.
func ProvideTrigger(cfg *config.Config, job scheduler.Job) (scheduler.Trigger, error) {
	return scheduler.New(cfg.Schedule, job)
}

// ProvideHealthHandler pings every connected backend.
func ProvideHealthHandler(gdb *gorm.DB, chdb *ClickHouseDB, rdb *goredis.Client) (*platformhandler.HealthHandler, error) {
	checks := make(map[string]platformhandler.Pinger)
	if gdb != nil {
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		checks["database"] = sqlDB
	}
	if chdb != nil {
		checks["clickhouse"] = chdb.DB
	}
	if rdb != nil {
		checks["redis"] = platformhandler.PingerFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}
	return platformhandler.NewHealthHandler(checks), nil
}

// ProvideCycleHandler exposes manual cycle runs. Requests without start use START_DATE.
func ProvideCycleHandler(cfg *config.Config, uc *barusecase.IngestUsecase) (*barhandler.CycleHandler, error) {
	start, err := entity.ParseDate(cfg.StartDate)
	if err != nil {
		return nil, err
	}
	return barhandler.NewCycleHandler(uc, start), nil
}

// ProvideSymbolHandler exposes the universe listing.
func ProvideSymbolHandler(uc *symbolusecase.SymbolUsecase) *symbolhandler.SymbolHandler {
	return symbolhandler.NewSymbolHandler(uc)
}

// ProvideRouter builds the gin engine.
func ProvideRouter(cfg *config.Config, health *platformhandler.HealthHandler, cycles *barhandler.CycleHandler,
	symbols *symbolhandler.SymbolHandler, recorder *metrics.Recorder) *gin.Engine {
	if cfg.JWTSecret == "" {
		slog.Warn("JWT_SECRET is not set, protected routes will reject every request")
	}
	return router.NewRouter(cfg.JWTSecret, health, cycles, symbols, recorder.Handler())
}

// App is the assembled service: the HTTP API and the ingestion trigger.
type App struct {
	Server  *http.Server
	Trigger scheduler.Trigger
	// Cycles is drained after the server stops so manual runs finish before cleanup.
	Cycles *barhandler.CycleHandler
	// OneShot makes Run return once the trigger is done instead of serving until cancelled.
	OneShot bool
}

// NewApp pairs the router with the trigger.
func NewApp(cfg *config.Config, engine *gin.Engine, trigger scheduler.Trigger, cycles *barhandler.CycleHandler) *App {
	return &App{
		Server: &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		Trigger: trigger,
		Cycles:  cycles,
		OneShot: cfg.Schedule.Mode == scheduler.ModeOnce,
	}
}

// Run serves HTTP and drives the trigger until ctx is done, then shuts the server down
// and waits for in-flight manual cycles. In one-shot mode the server stops as soon as
// the single run ends.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		err := a.Trigger.Run(gctx)
		if a.OneShot {
			cancel()
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer done()
		err := a.Server.Shutdown(shutdownCtx)
		if a.Cycles == nil {
			return err
		}
		// Manual cycles ignore client cancellation and may outlive the shutdown timeout.
		slog.Info("waiting for manual cycles")
		if werr := a.Cycles.Wait(context.WithoutCancel(ctx)); werr != nil {
			return werr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			slog.Warn("http shutdown timed out while manual cycles were running")
			return nil
		}
		return err
	})
	return g.Wait()
}
