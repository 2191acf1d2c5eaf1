package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/italolelis/artifact_connector/internal/config"
	"github.com/italolelis/artifact_connector/internal/connector"
	"github.com/italolelis/artifact_connector/internal/logctx"
	"github.com/italolelis/artifact_connector/internal/notifier"
	"github.com/italolelis/artifact_connector/internal/storage"
	"github.com/italolelis/artifact_connector/internal/telemetry"
	"github.com/italolelis/artifact_connector/internal/transport"
	"github.com/italolelis/artifact_connector/internal/transport/httpclient"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "artifact_connector",
	Short:         "Resumable, checksum-verified artifact transfers",
	Long:          "Fetches and publishes artifacts and metadata between a local repository and a remote HTTP repository.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error

		cfg, err = config.LoadConfig()
		if err != nil {
			return err
		}

		logger := slog.New(logctx.NewTraceHandler(
			slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
		))
		slog.SetDefault(logger)

		cmd.SetContext(logctx.WithLogger(cmd.Context(), logger))

		return nil
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// buildClient creates the repository client from the configuration.
func buildClient(tel *telemetry.Telemetry) (transport.Client, error) {
	headers := http.Header{}
	for k, v := range cfg.HTTPHeaders {
		headers.Set(k, v)
	}

	client, err := httpclient.New(httpclient.Options{
		UserAgent:          cfg.UserAgent,
		Headers:            headers,
		ConnectTimeout:     cfg.ConnectTimeout,
		RequestTimeout:     cfg.RequestTimeout,
		Username:           cfg.RepositoryUsername,
		Password:           cfg.RepositoryPassword,
		Token:              cfg.RepositoryToken,
		ProxyURL:           cfg.ProxyURL,
		ProxyUsername:      cfg.ProxyUsername,
		ProxyPassword:      cfg.ProxyPassword,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build repository client: %w", err)
	}

	return transport.NewInstrumentedClient(client, tel, "http"), nil
}

// buildConnector wires the connector with its ledger, notifier and telemetry.
func buildConnector(ledger storage.TransferWriteRepository, tel *telemetry.Telemetry) (*connector.Connector, error) {
	client, err := buildClient(tel)
	if err != nil {
		return nil, err
	}

	var notif notifier.Notifier
	if cfg.DiscordWebhookURL != "" {
		notif = notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)
	}

	return connector.New(client, transport.Repository{BaseURL: cfg.RepositoryURL}, connector.Options{
		Parallelism: cfg.MaxParallel,
		MaxAttempts: cfg.MaxAttempts,
		Ledger:      ledger,
		Notifier:    notif,
		Telemetry:   tel,
	}), nil
}
