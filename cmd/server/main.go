package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"

	"github.com/relaychat/server/internal/server"
	"github.com/relaychat/server/internal/store"
)

// Exit codes provide meaningful status to the operating system or a service
// manager such as systemd.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	// main is a thin wrapper: call run and translate its result into an OS
	// exit code, so deferred cleanup always executes.
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	// .env is optional; real deployments configure the environment directly.
	_ = godotenv.Load()

	cfg, err := server.NewConfigFromEnv()
	if err != nil {
		return exitConfig, err
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(log)

	options := badger.DefaultOptions(cfg.DataDir).WithLogger(nil)
	db, err := badger.Open(options)
	if err != nil {
		return exitRuntime, fmt.Errorf("opening message store: %w", err)
	}
	defer func() {
		log.Info("closing message store")
		_ = db.Close()
	}()

	messageStore := store.NewBadgerStore(db, log)

	hub := server.NewHub(*cfg, server.NewRegistry(), messageStore, log)
	go hub.Run()

	httpServer := server.CreateServer(cfg.Port, server.SetupRoutes(hub))

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.StartServer(httpServer, log)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitRuntime, fmt.Errorf("http server: %w", err)
		}
	}

	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, log); err != nil {
		log.Warn("http shutdown incomplete", "error", err)
	}
	if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
		log.Warn("hub shutdown incomplete", "error", err)
	}

	return exitOK, nil
}
