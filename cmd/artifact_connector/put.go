package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/italolelis/artifact_connector/internal/connector"
	"github.com/italolelis/artifact_connector/internal/storage/sqlite"
)

var putFlags struct {
	metadata []string
	trace    string
}

var putCmd = &cobra.Command{
	Use:   "put <path>=<file>...",
	Short: "Upload local files to the remote repository",
	Long: "Uploads each file to the given remote path, followed by its SHA-1 and MD5 checksums. " +
		"Pairs given with --metadata are uploaded after the artifacts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		artifacts, err := parseUploads(args)
		if err != nil {
			return err
		}

		metadata, err := parseUploads(putFlags.metadata)
		if err != nil {
			return err
		}

		if len(artifacts)+len(metadata) == 0 {
			return fmt.Errorf("at least one <path>=<file> pair is required")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		return runPut(ctx, artifacts, metadata)
	},
}

func init() {
	putCmd.Flags().StringSliceVar(&putFlags.metadata, "metadata", nil, "metadata <path>=<file> pairs to upload")
	putCmd.Flags().StringVar(&putFlags.trace, "trace", "", "correlation id attached to logs and the ledger")

	rootCmd.AddCommand(putCmd)
}

func parseUploads(pairs []string) ([]*connector.Upload, error) {
	out := make([]*connector.Upload, 0, len(pairs))

	for _, pair := range pairs {
		remote, file, ok := strings.Cut(pair, "=")
		if !ok || remote == "" || file == "" {
			return nil, fmt.Errorf("invalid upload %q, expected <path>=<file>", pair)
		}

		out = append(out, &connector.Upload{
			Path:  strings.TrimPrefix(remote, "/"),
			File:  file,
			Trace: putFlags.trace,
		})
	}

	return out, nil
}

func runPut(ctx context.Context, artifacts, metadata []*connector.Upload) (err error) {
	database, err := sqlite.InitDB(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	conn, err := buildConnector(sqlite.NewTransferRepository(database), nil)
	if err != nil {
		return err
	}

	defer func() {
		if cerr := conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := conn.Put(ctx, artifacts, metadata); err != nil {
		return fmt.Errorf("upload batch failed: %w", err)
	}

	var result *multierror.Error

	for _, u := range append(artifacts, metadata...) {
		if u.Err != nil {
			result = multierror.Append(result, u.Err)

			continue
		}

		fmt.Fprintf(os.Stdout, "published %s (%s)\n", u.Path, humanize.IBytes(uint64(u.Bytes)))
	}

	return result.ErrorOrNil()
}
