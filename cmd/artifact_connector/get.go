package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/italolelis/artifact_connector/internal/connector"
	"github.com/italolelis/artifact_connector/internal/storage/sqlite"
	"github.com/italolelis/artifact_connector/internal/transfer"
)

var getFlags struct {
	policy         string
	existenceCheck bool
	metadata       []string
	trace          string
}

var getCmd = &cobra.Command{
	Use:   "get <path>...",
	Short: "Download artifacts into the local repository",
	Long: "Downloads each remote path into the same relative path under the local repository. " +
		"Paths given with --metadata are fetched before the artifacts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args)+len(getFlags.metadata) == 0 {
			return fmt.Errorf("at least one path is required")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		return runGet(ctx, args, getFlags.metadata)
	},
}

func init() {
	getCmd.Flags().StringVar(&getFlags.policy, "policy", "", "checksum policy: fail, warn or ignore (default CHECKSUM_POLICY)")
	getCmd.Flags().BoolVar(&getFlags.existenceCheck, "existence-check", false, "only check that the resources exist")
	getCmd.Flags().StringSliceVar(&getFlags.metadata, "metadata", nil, "metadata paths to fetch")
	getCmd.Flags().StringVar(&getFlags.trace, "trace", "", "correlation id attached to logs and the ledger")

	rootCmd.AddCommand(getCmd)
}

func runGet(ctx context.Context, artifactPaths, metadataPaths []string) (err error) {
	policyName := getFlags.policy
	if policyName == "" {
		policyName = cfg.ChecksumPolicy
	}

	policy, err := transfer.ParseChecksumPolicy(policyName)
	if err != nil {
		return err
	}

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

	build := func(paths []string) []*connector.Download {
		out := make([]*connector.Download, 0, len(paths))

		for _, p := range paths {
			p = strings.TrimPrefix(p, "/")

			d := &connector.Download{Path: p, ChecksumPolicy: policy, Trace: getFlags.trace}
			if !getFlags.existenceCheck {
				d.File = filepath.Join(cfg.LocalRepository, filepath.FromSlash(p))
			}

			out = append(out, d)
		}

		return out
	}

	artifacts := build(artifactPaths)
	metadata := build(metadataPaths)

	if err := conn.Get(ctx, artifacts, metadata); err != nil {
		return fmt.Errorf("download batch failed: %w", err)
	}

	var result *multierror.Error

	for _, d := range append(metadata, artifacts...) {
		if d.Err != nil {
			result = multierror.Append(result, d.Err)

			continue
		}

		if d.File == "" {
			fmt.Fprintf(os.Stdout, "found %s\n", d.Path)

			continue
		}

		fmt.Fprintf(os.Stdout, "fetched %s (%s) -> %s\n", d.Path, humanize.IBytes(uint64(d.Bytes)), d.File)
	}

	return result.ErrorOrNil()
}
