package outbox

import (
	"context"
	"database/sql"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/fx"

	"github.com/orderflow/realtime-gateway/config"
	"github.com/orderflow/realtime-gateway/internal/gateway/metrics"
	"github.com/orderflow/realtime-gateway/internal/outbox/processor"
	"github.com/orderflow/realtime-gateway/internal/outbox/store"
	"github.com/orderflow/realtime-gateway/internal/outbox/writer"
)

// Module provides the Postgres connection, the outbox store/writer, and
// starts the background processor loop with the fx app.
var Module = fx.Module("outbox",
	fx.Provide(
		NewDB,
		NewStore,
		NewWriter,
		NewProcessor,
	),
	fx.Invoke(registerProcessorHook),
)

func NewDB(cfg *config.Config, lc fx.Lifecycle) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return db.Close() },
	})
	return db, nil
}

func NewStore(db *sql.DB) *store.Store { return store.New(db) }

func NewWriter(s *store.Store) *writer.Writer { return writer.New(s) }

func NewProcessor(s *store.Store, pub processor.Publisher, mc *metrics.Collector, logger *slog.Logger, cfg *config.Config) *processor.Processor {
	return processor.New(s, pub, mc, logger, processor.Config{
		BatchSize:    cfg.OutboxBatchSize,
		PollInterval: cfg.OutboxPollInterval,
		MaxRetries:   cfg.OutboxMaxRetries,
	})
}

func registerProcessorHook(lc fx.Lifecycle, p *processor.Processor) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() { _ = p.Run(ctx) }()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
