package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/rpattn/formview/internal/access"
	"github.com/rpattn/formview/internal/cache"
	"github.com/rpattn/formview/internal/collection"
	"github.com/rpattn/formview/internal/composition"
	"github.com/rpattn/formview/internal/config"
	"github.com/rpattn/formview/internal/db"
	"github.com/rpattn/formview/internal/domain"
	"github.com/rpattn/formview/internal/httpapi"
	"github.com/rpattn/formview/internal/logger"
	"github.com/rpattn/formview/internal/rank"
	"github.com/rpattn/formview/internal/repository"
	"github.com/rpattn/formview/internal/search"
	"github.com/rpattn/formview/internal/viewdef"
	"github.com/rpattn/formview/internal/workbook"
)

// recordStore is what the engine reads from and workbooks are imported into.
type recordStore interface {
	repository.RecordStore
	repository.RecordWriter
}

// app is the wired engine shared by serve and query.
type app struct {
	cfg    config.Config
	logger logger.Logger
	store  recordStore
	// writer receives workbook imports; defaults to store.
	writer  repository.RecordWriter
	views   *viewdef.Registry
	api     *httpapi.Server
	closers []func()
}

var errStoreSetup = errors.New("record store unavailable")

func newApp(ctx context.Context, cfg config.Config, log logger.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: log}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg, log := a.cfg, a.logger

	views, err := viewdef.Load(cfg.Views.Path)
	if err != nil {
		return err
	}
	a.views = views

	if err := a.openStore(ctx); err != nil {
		return fmt.Errorf("%w: %w", errStoreSetup, err)
	}

	if cfg.Store.Workbook != "" {
		summaries, err := workbook.NewLoader(nil).LoadFile(ctx, cfg.Store.Workbook, a.writer)
		if err != nil {
			return fmt.Errorf("%w: %w", errStoreSetup, err)
		}
		for _, summary := range summaries {
			log.Info("imported workbook sheet",
				zap.String("source", summary.Source),
				zap.Int("records", summary.Records),
			)
		}
	}

	totals, err := cache.NewTheineStore[int](cfg.Cache.MaxElements)
	if err != nil {
		return fmt.Errorf("total cache: %w", err)
	}
	a.closers = append(a.closers, totals.Close)
	rankStore, err := cache.NewTheineStore[int](cfg.Cache.MaxElements)
	if err != nil {
		return fmt.Errorf("rank cache: %w", err)
	}
	a.closers = append(a.closers, rankStore.Close)

	a.api = httpapi.NewServer(httpapi.Deps{
		Views:      a.views,
		Translator: search.NewTranslator(search.NewRecordDirectory(a.store, search.DefaultUserSource), cfg.Search.CreatedByAttributes, log),
		Collections: collection.NewFactory(
			composition.NewExecutor(a.store, log),
			collection.WithTotalCache(totals, cfg.Cache.TotalTTL),
			collection.WithLogger(log),
		),
		Access: access.NewEvaluator(a.store, log),
		Ranks: rank.NewCalculator(rankStore,
			rank.WithBaseTTL(cfg.Rank.BaseTTL),
			rank.WithFailureTTL(cfg.Rank.FailureTTL),
			rank.WithLogger(log),
		),
		Logger: log,
	})
	return nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Store.Engine {
	case config.EngineSQLite:
		store, err := repository.OpenSQLite(ctx, a.cfg.Store.Path)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { _ = store.Close() })
		a.store = store
	case config.EnginePostgres:
		conn, err := db.NewConnection(ctx, a.cfg.Database)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, conn.Close)
		a.store = repository.NewPostgresStore(conn.Pool)
		a.writer = txWriter{conn: conn}
	default:
		a.store = repository.NewMemoryStore()
	}
	if a.writer == nil {
		a.writer = a.store
	}
	a.logger.Info("record store ready", zap.String("engine", a.cfg.Store.Engine))
	return nil
}

// Close releases caches and store connections in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// txWriter saves each batch in its own PostgreSQL transaction.
type txWriter struct {
	conn *db.Connection
}

func (w txWriter) Save(ctx context.Context, records ...domain.Record) error {
	return w.conn.WithTx(ctx, func(tx pgx.Tx) error {
		return repository.NewPostgresStore(tx).Save(ctx, records...)
	})
}
