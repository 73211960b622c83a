package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/z-tasks/backend/internal/config"
	"github.com/zhouzirui/z-tasks/backend/internal/handler"
	chatModel "github.com/zhouzirui/z-tasks/backend/internal/model/chat"
	taskModel "github.com/zhouzirui/z-tasks/backend/internal/model/task"
	variantModel "github.com/zhouzirui/z-tasks/backend/internal/model/variant"
	"github.com/zhouzirui/z-tasks/backend/internal/service/ai"
	chatService "github.com/zhouzirui/z-tasks/backend/internal/service/chat"
	"github.com/zhouzirui/z-tasks/backend/internal/service/stream"
	taskService "github.com/zhouzirui/z-tasks/backend/internal/service/task"
	"github.com/zhouzirui/z-tasks/backend/internal/service/temporal"
	"github.com/zhouzirui/z-tasks/backend/internal/service/tools"
	"github.com/zhouzirui/z-tasks/backend/internal/service/turn"
	"github.com/zhouzirui/z-tasks/backend/internal/store/sqlite"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

// stores groups the persistence backends selected by configuration.
type stores struct {
	tasks  taskModel.Store
	chats  chatModel.Store
	events chatModel.EventLog
	close  func() error
}

func openStores(ctx context.Context, storeCfg config.StoreConfig) (stores, error) {
	s := stores{close: func() error { return nil }}

	var db *sqlite.DB
	if storeCfg.NeedsSQLite() {
		var err error
		db, err = sqlite.Open(ctx, storeCfg.SQLitePath)
		if err != nil {
			return stores{}, err
		}
		s.close = db.Close
	}

	if storeCfg.Driver == config.DriverSQLite {
		s.tasks = db.Tasks()
		s.chats = db.Conversations()
	} else {
		s.tasks = taskService.NewMemoryStore()
		s.chats = chatService.NewMemoryStore()
	}

	switch storeCfg.StreamLog {
	case config.DriverSQLite:
		s.events = db.Events()
	case config.DriverMemory:
		s.events = stream.NewMemoryLog()
	}
	return s, nil
}

// offlineRunner answers every turn with a failure when no model is configured.
type offlineRunner struct{}

func (offlineRunner) Run(_ context.Context, _ ai.Turn, emit ai.Emitter) {
	emit(chatModel.Failure(ai.FaultMessage))
}

func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.close(); err != nil {
			logger.Warn("failed to close store", zap.Error(err))
		}
	}()

	items, err := cfg.AI.Variants()
	if err != nil {
		return err
	}
	variants := variantModel.NewMemoryStore(items)

	parser := temporal.NewParser(
		temporal.WithDefaultHour(cfg.Tasks.DefaultHour),
		temporal.WithLocation(cfg.Tasks.Location),
	)
	dispatcher := tools.NewDispatcher(st.tasks, parser, tools.WithLogger(logger.Named("tools")))

	var (
		runner turn.Runner = offlineRunner{}
		titler             = ai.NewTitleGenerator(nil, logger)
	)
	if cfg.AI.Enabled() {
		models, err := cfg.AI.NewModelProvider(ctx)
		if err != nil {
			logger.Warn("failed to initialize chat models, continuing without AI", zap.Error(err))
		} else {
			runner = ai.NewPipeline(models, dispatcher,
				ai.WithMaxRounds(cfg.AI.MaxToolRounds),
				ai.WithSmoothDelay(cfg.AI.SmoothDelay),
				ai.WithLocation(cfg.Tasks.Location),
				ai.WithLogger(logger.Named("pipeline")),
			)
			titler = ai.NewTitleGenerator(models, logger.Named("title"))
			logger.Info("AI pipeline initialized", zap.String("provider", cfg.AI.Provider))
		}
	} else {
		logger.Warn("model credentials not configured, chat turns will fail")
	}

	broker := stream.NewBroker(st.events,
		stream.WithPollInterval(cfg.Store.PollInterval),
		stream.WithLogger(logger.Named("stream")),
	)
	turns := turn.NewService(st.chats, variants, runner, broker,
		turn.WithLogger(logger.Named("turn")),
		turn.WithTitler(titler),
	)

	router := handler.NewRouter(handler.Deps{
		Turns:    turns,
		Tasks:    st.tasks,
		Variants: variants,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Z Tasks backend listening",
			zap.String("addr", srv.Addr),
			zap.String("store", cfg.Store.Driver),
			zap.String("stream_log", cfg.Store.StreamLog),
		)
		return runServer(gctx, srv, cfg.Server.ShutdownTimeout)
	})
	g.Go(func() error {
		evictLoop(gctx, broker, cfg.Store.StreamRetention)
		return nil
	})

	err = g.Wait()
	broker.Wait()
	return err
}

func runServer(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// evictLoop drops expired stream logs until ctx is done.
func evictLoop(ctx context.Context, broker *stream.Broker, retention time.Duration) {
	if retention <= 0 {
		return
	}
	interval := retention / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := broker.Evict(ctx, retention)
			if err != nil {
				logger.Warn("failed to evict stream logs", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("evicted stream logs", zap.Int("streams", n))
			}
		}
	}
}
