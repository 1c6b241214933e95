// main is the entry point of the local accounts-api, an identity-toolkit
// compatible Account Service the sign-up screen can talk to during
// development.
//
// STARTUP SEQUENCE:
//  1. Load configuration
//  2. Initialise the logger
//  3. Open the SQLite account store
//  4. Register HTTP routes
//  5. Serve until SIGINT/SIGTERM, then shut down gracefully
//
// RUNNING THE SERVER:
//
//	go run ./cmd/accounts-api --config=config/local.yaml
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aanand-mishra/signup/internal/account"
	"github.com/aanand-mishra/signup/internal/config"
	"github.com/aanand-mishra/signup/internal/http/handlers/accounts"
	"github.com/aanand-mishra/signup/internal/storage/sqlite"
	"github.com/aanand-mishra/signup/internal/token"
)

func main() {
	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)

	log.Info("starting accounts-api",
		slog.String("env", cfg.Env),
		slog.String("version", "1.0.0"),
	)

	storage, err := sqlite.New(cfg)
	if err != nil {
		log.Error("failed to initialise storage",
			slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer storage.Close()

	log.Info("storage initialised",
		slog.String("path", cfg.StoragePath))

	issuer, err := token.NewIssuer(cfg.Token.Secret, cfg.Token.Issuer, cfg.Token.TTL)
	if err != nil {
		log.Error("failed to initialise token issuer",
			slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Route table:
	//   POST /v1/accounts:signUp  → create an account
	//   POST /v1/accounts:lookup  → resolve an id token to its account
	//   GET  /healthz             → storage liveness
	router := http.NewServeMux()
	router.HandleFunc("POST "+account.SignUpPath, accounts.SignUp(storage, issuer, cfg.HTTPServer.APIKey))
	router.HandleFunc("POST "+accounts.LookupPath, accounts.Lookup(storage, issuer, cfg.HTTPServer.APIKey))
	router.HandleFunc("GET /healthz", accounts.Health(storage))

	server := &http.Server{
		Addr:    cfg.HTTPServer.Addr,
		Handler: router,

		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server started", slog.String("address", cfg.HTTPServer.Addr))

		if err := server.ListenAndServe(); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			log.Error("server encountered an error",
				slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	<-done

	log.Info("shutdown signal received, stopping server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("failed to shutdown server gracefully",
			slog.String("error", err.Error()))
		os.Exit(1)
	}

	log.Info("server stopped gracefully")
}

// setupLogger returns a *slog.Logger configured for the given environment.
//
// Development (dev): human-readable text output at DEBUG level.
// Production (prod): machine-readable JSON output at INFO level.
func setupLogger(env string) *slog.Logger {
	switch env {
	case "prod":
		return slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level: slog.LevelInfo,
			}),
		)
	case "staging":
		return slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level: slog.LevelDebug,
			}),
		)
	default:
		return slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
				Level: slog.LevelDebug,
			}),
		)
	}
}
