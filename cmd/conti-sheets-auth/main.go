// Command conti-sheets-auth runs the OAuth consent flow once and saves the
// token conti-worker uses to write the mirror spreadsheet.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"conti/internal/cli"
	"conti/internal/log"
	gsheet "conti/internal/sheets/google"
)

type authConfig struct {
	ClientJSON   string        `env:"GOOGLE_OAUTH_CLIENT_JSON"`
	ClientFile   string        `env:"GOOGLE_OAUTH_CLIENT_FILE"`
	TokenFile    string        `env:"GOOGLE_OAUTH_TOKEN_FILE" envDefault:"token.json"`
	RedirectPort string        `env:"OAUTH_REDIRECT_PORT" envDefault:"8085"`
	Timeout      time.Duration `env:"OAUTH_TIMEOUT" envDefault:"5m"`
}

func main() {
	cli.LoadEnvFile()
	logger := cli.BootstrapLogger().WithComponent(log.ComponentSheets)

	if err := run(logger); err != nil {
		logger.Error("Authorization failed", log.FieldError, err)
		os.Exit(1)
	}
}

func run(logger *log.Logger) error {
	var cfg authConfig
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	oauthCfg, err := gsheet.OAuthConfig(cfg.ClientJSON, cfg.ClientFile)
	if err != nil {
		return err
	}
	// The OAuth client must list this URI among its authorized redirect URIs.
	oauthCfg.RedirectURL = "http://localhost:" + cfg.RedirectPort + "/callback"

	state := uuid.NewString()
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("error") != "":
			http.Error(w, "OAuth error: "+q.Get("error"), http.StatusBadRequest)
			notify(errCh, fmt.Errorf("consent denied: %s", q.Get("error")))
		case q.Get("state") != state:
			http.Error(w, "state mismatch", http.StatusBadRequest)
		default:
			fmt.Fprintln(w, "You may close this window and return to the terminal.")
			notify(codeCh, q.Get("code"))
		}
	})
	srv := &http.Server{Addr: "localhost:" + cfg.RedirectPort, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			notify(errCh, fmt.Errorf("callback server: %w", err))
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	fmt.Printf("Open this URL to authorize:\n%s\n", oauthCfg.AuthCodeURL(state, oauth2.AccessTypeOffline))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	select {
	case code := <-codeCh:
		tok, err := oauthCfg.Exchange(ctx, code)
		if err != nil {
			return fmt.Errorf("token exchange: %w", err)
		}
		if err := gsheet.SaveToken(cfg.TokenFile, tok); err != nil {
			return err
		}
		logger.Info("Saved token", "path", cfg.TokenFile)
		return nil
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return fmt.Errorf("authorization not completed: %w", ctx.Err())
	}
}

// notify delivers v unless an earlier value is still pending.
func notify[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}
