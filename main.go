package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo-contrib/pprof"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"prism-tasks/api"
	"prism-tasks/config"
	"prism-tasks/domain"
	"prism-tasks/storage"
	"prism-tasks/store"
	"prism-tasks/view"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.StandardLogger()

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Warn("tracer shutdown")
		}
	}()

	var rc *redis.Client
	if cfg.RedisConn != "" {
		opts, err := config.RedisOptions(cfg.RedisConn)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		rc = redis.NewClient(opts)
		defer rc.Close()
	}

	persister, err := newPersister(cfg, rc)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	loadCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	st, filters := loadBoard(loadCtx, persister, cfg.HistoryLimit, logger)
	cancel()

	writer := storage.NewWriter(persister, func() storage.Snapshot {
		state, _ := st.Snapshot()
		return storage.Snapshot{
			SavedAt: time.Now().UTC(),
			Tasks:   state.Tasks,
			History: storage.History{Past: state.Past, Future: state.Future},
			Filters: filters.Get(),
		}
	}, cfg.SaveTimeout, logger)
	st.OnChange(func(store.Change) { writer.Notify() })
	filters.OnChange(func(domain.Filters) { writer.Notify() })

	var journal *storage.Journal
	if cfg.JournalQueue != "" {
		journal, err = storage.NewQueueJournal(cfg.StorageConn, cfg.JournalQueue, cfg.BoardID, storage.JournalConfig{
			Buffer:         cfg.JournalBuffer,
			Timeout:        cfg.JournalTimeout,
			HandoffTimeout: cfg.JournalHandoffTimeout,
		}, logger)
		if err != nil {
			log.Fatalf("journal: %v", err)
		}
		st.OnChange(func(ch store.Change) { journal.Record(ch.Action, ch.TaskID, ch.Revision) })
	}

	var deduper api.Deduper
	if rc != nil {
		deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
	}
	search := store.NewDebouncer(cfg.SearchDebounce, filters.SetSearchQuery)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderContentEncoding},
	}))
	if cfg.Pprof {
		pprof.Register(e)
	}

	srv := api.New(api.Options{
		Store:   st,
		Filters: filters,
		Views:   view.NewEngine(st, filters, domain.SystemClock{}),
		Search:  search,
		Deduper: deduper,
		BoardID: cfg.BoardID,
		Logger:  logger,
	})
	srv.Register(e)

	go func() {
		logger.WithFields(log.Fields{"addr": cfg.ListenAddr, "persistence": cfg.Persistence}).Info("listening")
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("server shutdown")
	}
	search.Flush()
	if journal != nil {
		journal.Close()
	}
	if err := writer.Close(ctx); err != nil {
		logger.WithError(err).Error("final save failed")
	}
}

func newPersister(cfg config.Config, rc *redis.Client) (storage.Persister, error) {
	var (
		p   storage.Persister
		err error
	)
	switch cfg.Persistence {
	case config.BackendRedis:
		p = storage.NewRedisPersister(rc, cfg.BoardID)
	case config.BackendTable:
		p, err = storage.NewTablePersister(cfg.StorageConn, cfg.TasksTable, cfg.BoardID)
	case config.BackendPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		db, derr := storage.OpenPostgres(ctx, cfg.DatabaseURL)
		if derr != nil {
			return nil, derr
		}
		p = storage.NewPostgresPersister(db, cfg.BoardID)
	default:
		p, err = storage.NewFilePersister(cfg.StateFile)
	}
	if err != nil {
		return nil, err
	}
	if cfg.CacheTTL > 0 && rc != nil && cfg.Persistence != config.BackendRedis {
		p = storage.NewCache(p, rc, cfg.BoardID, cfg.CacheTTL)
	}
	return p, nil
}

// loadBoard seeds the store and the filter state from the persisted snapshot.
// A read failure is logged and the board starts empty.
func loadBoard(ctx context.Context, p storage.Persister, historyLimit int, logger *log.Logger) (*store.Store, *store.FilterState) {
	opts := []store.Option{store.WithHistoryLimit(historyLimit)}
	snap, err := p.Load(ctx)
	if err != nil {
		logger.WithError(&domain.PersistenceError{Op: "load", Err: err}).Error("snapshot load failed, starting empty")
		snap = nil
	}
	var savedFilters *domain.Filters
	if snap != nil {
		opts = append(opts, store.WithState(store.State{
			Tasks:  snap.Tasks,
			Past:   snap.History.Past,
			Future: snap.History.Future,
		}))
		savedFilters = &snap.Filters
		logger.WithFields(log.Fields{"tasks": len(snap.Tasks), "past": len(snap.History.Past)}).Info("board restored")
	}
	return store.New(opts...), store.NewFilterState(savedFilters)
}
