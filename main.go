package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ethmed_go/internal/config"
	"ethmed_go/internal/middleware"
	"ethmed_go/internal/monitoring"
	"ethmed_go/internal/pipelineapi"
	"ethmed_go/internal/reports"
	"ethmed_go/internal/scheduler"
	"ethmed_go/pkg/analytics"
	"ethmed_go/pkg/pipeline"
	"ethmed_go/pkg/telegram"
)

var (
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:          "ethmed",
	Short:        "Хранилище сообщений медицинских Telegram-каналов Эфиопии",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(); err != nil {
			return err
		}
		logger, err = config.NewLogger(cfg.LogLevel)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "HTTP API и запуски по расписанию",
	RunE:  serve,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Один запуск пайплайна: целиком или одной стадии",
	RunE:  runOnce,
}

var stagesCmd = &cobra.Command{
	Use:   "stages",
	Short: "Стадии в порядке выполнения",
	RunE:  listStages,
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Авторизация аккаунта Telegram: код вводится с клавиатуры",
	RunE:  login,
}

func init() {
	runCmd.Flags().String("stage", "", "перезапустить одну стадию (её входные стадии должны быть успешны)")
	loginCmd.Flags().Bool("reset", false, "удалить сохранённую сессию перед входом")
	rootCmd.AddCommand(serveCmd, runCmd, stagesCmd, loginCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func serve(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := scheduler.New(cfg.Schedules, a.orch, a.monitor, logger)
	if err != nil {
		return err
	}

	api := pipelineapi.NewHandler(ctx, a.orch, a.monitor, logger)
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           setupRouter(a, api),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("[ROUTER] сервер запущен", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := sched.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.orch.Cancel()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		api.Wait()
		return err
	})
	return g.Wait()
}

// setupRouter регистрирует маршруты API.
func setupRouter(a *app, api *pipelineapi.Handler) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(a.log), middleware.RequestLogger(a.log))

	health := &monitoring.Health{DB: a.db, LastBuild: a.catalog.LastBuild, Monitor: a.monitor}
	r.GET("/health", health.Handler)

	reports.SetupRoutes(r.Group("/api"), analytics.New(a.catalog, nil), a.log)
	pipelineapi.SetupRoutes(r.Group("/pipeline"), api)

	for _, ri := range r.Routes() {
		a.log.Info("[ROUTER] маршрут", zap.String("method", ri.Method), zap.String("path", ri.Path))
	}
	return r
}

func runOnce(cmd *cobra.Command, args []string) error {
	stage, _ := cmd.Flags().GetString("stage")

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var rs *pipeline.RunState
	if stage == "" {
		rs, err = a.orch.RunAll(ctx)
	} else {
		rs, err = a.orch.RunStage(ctx, stage)
	}
	if rs != nil {
		for _, s := range rs.Stages {
			fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-10s %v\n", s.Name, s.Status, s.RowCounts)
		}
	}
	a.monitor.Check()
	return err
}

func listStages(cmd *cobra.Command, args []string) error {
	orch, err := pipeline.New(pipeline.WarehouseStages(pipeline.Deps{}), nil, logger, pipeline.Options{})
	if err != nil {
		return err
	}
	for _, s := range orch.Stages() {
		deps := "-"
		if len(s.Deps) > 0 {
			deps = strings.Join(s.Deps, ", ")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-24s <- %s\n", s.Name, deps)
	}
	return nil
}

func login(cmd *cobra.Command, args []string) error {
	if err := cfg.TelegramReady(); err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if reset, _ := cmd.Flags().GetBool("reset"); reset {
		store := &telegram.DBSessionStorage{DB: a.db.Conn, Phone: cfg.Telegram.Phone, Log: logger}
		if err := store.Clear(ctx); err != nil {
			return err
		}
	}
	client, err := telegram.NewClient(a.credentials(), cfg.Proxy, a.db.Conn, logger)
	if err != nil {
		return err
	}
	in := bufio.NewReader(cmd.InOrStdin())
	prompt := func(ctx context.Context) (string, error) {
		fmt.Fprint(cmd.OutOrStdout(), "Код из Telegram: ")
		code, err := in.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("read code: %w", err)
		}
		return strings.TrimSpace(code), nil
	}
	return telegram.Login(ctx, client, a.credentials(), prompt, logger)
}
