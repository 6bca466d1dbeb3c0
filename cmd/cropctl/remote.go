package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/cropsight/platform/pkg/gateway/httpclient"
	"github.com/cropsight/platform/pkg/progress"
	"github.com/spf13/cobra"
)

type remoteFlags struct {
	apiURL string
	token  string
}

func (f *remoteFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.apiURL, "api", envOr("CROPSIGHT_API_URL", "http://localhost:8080/api/v1"), "ingestion API base URL")
	cmd.Flags().StringVar(&f.token, "token", os.Getenv("CROPSIGHT_TOKEN"), "session token (see cropctl token)")
}

func (f *remoteFlags) client() *httpclient.Client {
	return httpclient.NewClient(f.apiURL, f.token, httpclient.New(0))
}

func newUploadCmd() *cobra.Command {
	var remote remoteFlags
	var captureDate string
	var follow bool
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Submit a dataset for ingestion and optionally follow its progress.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read dataset: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			client := remote.client()
			result, err := client.Upload(ctx, filepath.Base(args[0]), data, captureDate)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\nrun: %s\n", result.Message, result.WorkflowRunID)
			if !follow {
				return nil
			}
			return watch(ctx, client, result.WorkflowRunID, cmd.OutOrStdout())
		},
	}
	remote.bind(cmd)
	cmd.Flags().StringVar(&captureDate, "capture-date", "", "capture date (YYYY-MM-DD)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream progress until the run finishes")
	_ = cmd.MarkFlagRequired("capture-date")
	return cmd
}

func newWatchCmd() *cobra.Command {
	var remote remoteFlags
	cmd := &cobra.Command{
		Use:   "watch <run-id>",
		Short: "Follow the progress stream of a workflow run.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return watch(ctx, remote.client(), args[0], cmd.OutOrStdout())
		},
	}
	remote.bind(cmd)
	return cmd
}

func watch(ctx context.Context, client *httpclient.Client, runID string, out io.Writer) error {
	var last progress.Event
	err := client.Watch(ctx, runID, func(e progress.Event) error {
		last = e
		fmt.Fprintln(out, formatEvent(e))
		return nil
	})
	if err != nil {
		return err
	}
	if last.Status == progress.StatusError {
		return fmt.Errorf("run %s failed: %s", runID, last.Message)
	}
	return nil
}

func formatEvent(e progress.Event) string {
	line := fmt.Sprintf("[%s] %s", e.Status, e.Message)
	if e.Inserted != nil && e.Skipped != nil {
		line += fmt.Sprintf(" (inserted %d, skipped %d", *e.Inserted, *e.Skipped)
		if e.TotalFeatures != nil {
			line += fmt.Sprintf(" of %d", *e.TotalFeatures)
		}
		line += ")"
	}
	return line
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
