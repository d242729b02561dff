// Package main is the entry point for the mail gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shineum/mailgate/internal/api"
	"github.com/shineum/mailgate/internal/attachment"
	"github.com/shineum/mailgate/internal/config"
	"github.com/shineum/mailgate/internal/logger"
	"github.com/shineum/mailgate/internal/mailer"
	"github.com/shineum/mailgate/internal/provider"
	"github.com/shineum/mailgate/internal/provider/ses"
	"github.com/shineum/mailgate/internal/provider/smtp"
	"github.com/shineum/mailgate/internal/provider/stdout"
	"github.com/shineum/mailgate/internal/sweeper"
	mgtls "github.com/shineum/mailgate/internal/tls"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(logger.New(os.Stdout, logger.Config{
		Level:             cfg.Logging.Level,
		SentryDSN:         cfg.Logging.SentryDSN,
		SentryEnvironment: cfg.Logging.SentryEnvironment,
	}))
	defer logger.Flush(2 * time.Second)

	if err := run(cfg); err != nil {
		slog.Error("mailgate stopped with error", "error", err)
		logger.Flush(2 * time.Second)
		os.Exit(1)
	}
	slog.Info("mailgate stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prov, err := selectProvider(ctx, cfg)
	if err != nil {
		return err
	}

	store, err := attachment.NewStore(cfg.Upload.Dir)
	if err != nil {
		return err
	}
	materializer := attachment.NewMaterializer(store, attachment.Config{
		CompressThreshold: cfg.Upload.CompressThreshold,
		MaxWidth:          cfg.Upload.MaxWidth,
		JPEGQuality:       cfg.Upload.JPEGQuality,
	})

	from := cfg.FromAddress()
	if prov.Name() == "ses" {
		from = cfg.SES.Sender
	}
	m := mailer.New(prov, mailer.Config{
		From:               from,
		PermanentRecipient: cfg.Mail.PermanentRecipient,
	})

	sched, err := sweeper.NewScheduler(sweeper.New(store.Dir(), cfg.Upload.Retention), cfg.Upload.SweepSchedule)
	if err != nil {
		return err
	}
	sched.Start()

	tlsConfig, err := mgtls.LoadServerConfig(cfg.HTTP.CertFile, cfg.HTTP.KeyFile)
	if err != nil {
		return fmt.Errorf("failed to setup TLS: %w", err)
	}

	srv := &http.Server{
		Addr: cfg.HTTP.Listen,
		Handler: api.New(m, materializer, api.Options{
			MaxBodySize:    cfg.HTTP.MaxBodySize,
			RequestTimeout: cfg.HTTP.RequestTimeout,
			CORSOrigins:    cfg.HTTP.CORSOrigins,
		}).Routes(),
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}

	slog.Info("starting mailgate",
		"listen", ln.Addr().String(),
		"provider", prov.Name(),
		"uploads", store.Dir(),
		"permanent_recipient", cfg.Mail.PermanentRecipient,
		"tls", tlsConfig != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tlsConfig != nil {
			err = srv.ServeTLS(ln, "", "")
		} else {
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		slog.Info("received signal, initiating shutdown")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("sweeper shutdown: %w", err))
	}
	return errors.Join(errs...)
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// selectProvider chooses the delivery backend. PROVIDER wins when set;
// otherwise SMTP is used when credentials exist, then SES, then stdout.
func selectProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	switch cfg.Provider {
	case "smtp":
		return newSMTPProvider(cfg)

	case "ses":
		if !cfg.SESConfigured() {
			return nil, errors.New("SES provider selected but SES_REGION and SES_SENDER are required")
		}
		return newSESProvider(ctx, cfg)

	case "stdout":
		slog.Info("using stdout provider")
		return stdout.New(), nil

	case "":
		if cfg.SMTPConfigured() {
			return newSMTPProvider(cfg)
		}
		if cfg.SESConfigured() {
			return newSESProvider(ctx, cfg)
		}
		slog.Warn("no provider configured, using stdout provider")
		return stdout.New(), nil

	default:
		return nil, fmt.Errorf("unknown provider %q (want smtp, ses or stdout)", cfg.Provider)
	}
}

func newSMTPProvider(cfg *config.Config) (provider.Provider, error) {
	p, err := smtp.New(smtp.SMTPProviderConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		Security: cfg.SMTPSecurity(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP provider: %w", err)
	}
	slog.Info("using SMTP provider",
		"host", cfg.SMTP.Host,
		"port", cfg.SMTP.Port,
		"security", cfg.SMTPSecurity(),
	)
	return p, nil
}

func newSESProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	p, err := ses.New(ctx, ses.SESProviderConfig{
		Region:          cfg.SES.Region,
		AccessKeyID:     cfg.SES.AccessKeyID,
		SecretAccessKey: cfg.SES.SecretAccessKey,
		Sender:          cfg.SES.Sender,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create SES provider: %w", err)
	}
	slog.Info("using AWS SES provider",
		"region", cfg.SES.Region,
		"sender", cfg.SES.Sender,
	)
	return p, nil
}
