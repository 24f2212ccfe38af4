package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tsingest/internal/cache"
	"tsingest/internal/config"
	"tsingest/internal/logging"
	"tsingest/internal/tui"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/charmbracelet/wish/bubbletea"
	wishlogging "github.com/charmbracelet/wish/logging"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const boardRefresh = 30 * time.Second

var (
	loadEnvFunc       = godotenv.Load
	loadConfigFunc    = config.Load
	newLoggerFunc     = logging.New
	connectRedisFunc  = cache.NewClient
	newWishServerFunc = wish.NewServer
	setupSignalNotify = signal.Notify
	waitForSignalFunc = func(quit <-chan os.Signal) { <-quit }
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	_ = loadEnvFunc()

	cfg, err := loadConfigFunc(os.Getenv("INGEST_CONFIG"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if strings.TrimSpace(cfg.RedisURL) == "" {
		return errors.New("redis_url is required: the board reads published run reports")
	}
	if strings.TrimSpace(cfg.SSH.AuthorizedKeys) == "" {
		return errors.New("ssh.authorized_keys is required")
	}

	logger, err := newLoggerFunc(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := connectRedisFunc(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer client.Close()
	reports := cache.NewReportStore(client, 0)

	srv, err := newWishServerFunc(
		wish.WithAddress(cfg.SSH.Addr),
		wish.WithHostKeyPath(cfg.SSH.HostKeyPath),
		wish.WithAuthorizedKeys(cfg.SSH.AuthorizedKeys),
		wish.WithMiddleware(
			bubbletea.Middleware(boardHandler(reports)),
			wishlogging.Middleware(),
		),
	)
	if err != nil {
		return fmt.Errorf("create ssh server: %w", err)
	}

	if srv != nil {
		go func() {
			logger.Info("ssh board listening", zap.String("addr", cfg.SSH.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, ssh.ErrServerClosed) {
				logger.Error("ssh server stopped", zap.Error(err))
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	logger.Info("shutting down ssh board")

	cancel()

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("ssh server shutdown error", zap.Error(err))
		}
	}

	logger.Info("ssh board exited")
	return nil
}

func boardHandler(reports tui.ReportSource) bubbletea.Handler {
	return func(s ssh.Session) (tea.Model, []tea.ProgramOption) {
		model := tui.NewBoardModel(reports, s.User(), boardRefresh)
		pty, _, _ := s.Pty()
		model.SetSize(pty.Window.Width, pty.Window.Height)
		return model, []tea.ProgramOption{tea.WithAltScreen()}
	}
}
