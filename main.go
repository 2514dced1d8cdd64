package main

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pythonquest/auth"
	"pythonquest/config"
	"pythonquest/game"
	httpserver "pythonquest/http"
	"pythonquest/logging"
	"pythonquest/store"
	"pythonquest/ws"
)

func main() {
	cfg := &config.Config{}
	cobra.CheckErr(config.NewCommand(cfg, run).Execute())
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting Python Quest server", zap.String("addr", cfg.Addr()), zap.String("db", cfg.DBPath))

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	if err := seedQuestions(ctx, db, cfg.QuestionsFile, logger); err != nil {
		return err
	}

	sessionManager := auth.NewSessionManager(cfg.SessionSecret, cfg.TokenTTL)
	defer sessionManager.Close()
	authService := auth.NewService(db, sessionManager)

	wsManager := ws.NewManager(db, logger)
	lobby := game.NewLobby(db, wsManager, logger)
	engine := game.NewEngine(db, wsManager, logger)

	server := httpserver.NewServer(httpserver.Deps{
		Auth:           authService,
		Lobby:          lobby,
		Engine:         engine,
		WSManager:      wsManager,
		Store:          db,
		Logger:         logger,
		PublicDir:      cfg.PublicDir,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	defer server.Close()
	srv := server.GetHTTPServer(cfg.Addr())

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.Addr()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
	case <-sigCtx.Done():
	}

	logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
	return nil
}

func seedQuestions(ctx context.Context, db store.Store, path string, logger *zap.Logger) error {
	var questions []store.Question
	var err error
	if path != "" {
		questions, err = store.LoadQuestionFile(path, game.TerminalRoom)
	} else {
		questions, err = store.DefaultQuestions(game.TerminalRoom)
	}
	if err != nil {
		return err
	}

	inserted, err := db.InsertQuestions(ctx, questions)
	if err != nil {
		return fmt.Errorf("failed to seed questions: %w", err)
	}
	total, err := db.CountQuestions(ctx)
	if err != nil {
		return err
	}
	logger.Info("question bank ready", zap.Int("inserted", inserted), zap.Int("total", total))
	return nil
}
