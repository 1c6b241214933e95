// main runs the sign-up screen in the terminal.
//
// It wires the form controller to an Account Service client (the hosted
// identity backend or the local accounts-api) and, when an OAuth client id
// is configured, to a loopback OAuth broker for "Sign in with Google".
//
//	go run ./cmd/signup --config=config/local.yaml
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aanand-mishra/signup/internal/account"
	"github.com/aanand-mishra/signup/internal/config"
	"github.com/aanand-mishra/signup/internal/oauth"
	"github.com/aanand-mishra/signup/internal/signup"
	"github.com/aanand-mishra/signup/internal/tui"
)

func main() {
	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	accounts := account.NewClient(cfg.Accounts.Endpoint, cfg.Accounts.APIKey, cfg.Accounts.Timeout, log)

	// Left as a nil interface when no client id is configured so the
	// controller reports federated sign-in as unavailable.
	var broker oauth.Broker
	if cfg.OAuth.ClientID != "" {
		broker = oauth.NewLoopbackBroker(
			oauth.Provider{
				AuthURL:      cfg.OAuth.AuthURL,
				TokenURL:     cfg.OAuth.TokenURL,
				ClientSecret: cfg.OAuth.ClientSecret,
				Scopes:       cfg.OAuth.Scopes,
			},
			oauth.WithFlowTimeout(cfg.OAuth.FlowTimeout),
			oauth.WithLogger(log),
		)
	}

	driver := tui.NewSurveyDriver()
	notes := tui.NewNotifier(driver)
	ctrl := signup.New(
		accounts,
		broker,
		signup.FederatedConfig{ClientID: cfg.OAuth.ClientID, RedirectURI: cfg.OAuth.RedirectURI},
		notes,
		log,
	)

	go ctrl.Listen(ctx)

	screen := tui.NewScreen(ctrl, driver, notes, broker != nil)
	if err := screen.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("sign-up screen stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// setupLogger writes to stderr so log lines do not interleave with the
// prompts on stdout. Only warnings and errors are shown outside staging.
func setupLogger(env string) *slog.Logger {
	switch env {
	case "prod":
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	case "staging":
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	default:
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}
}
