package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-mirror/internal/worker"
)

// newMirrorCmd creates the 'mirror' subcommand, which performs one run in the
// foreground and exits when it finishes.
func newMirrorCmd() *cobra.Command {
	var baseURL, output string
	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Mirror the catalogue once",
		Long: `Runs one mirror of crawler.base_url into crawler.output_dir. Item failures
are logged and summarized; a finished run exits 0 even when some pages were
skipped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMirrorCommand(cmd, baseURL, output)
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "site to mirror (overrides crawler.base_url)")
	cmd.Flags().StringVar(&output, "output", "", "output directory (overrides crawler.output_dir)")
	return cmd
}

func runMirrorCommand(cmd *cobra.Command, baseURL, output string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	if baseURL == "" {
		baseURL = appInstance.Config.Crawler.BaseURL
	}
	if output == "" {
		output = appInstance.Config.Crawler.OutputDir
	}
	logger := appInstance.Logger

	start := time.Now()
	result := appInstance.Mirror.MirrorSite(cmd.Context(), baseURL, output)

	archiveURI := ""
	if appInstance.Archiver != nil && result.Succeeded() {
		uri, n, err := appInstance.Archiver.Upload(cmd.Context(), result.RunID, result.OutputPath)
		if err != nil {
			logger.Error("archive upload failed", zap.Error(err))
		} else {
			archiveURI = uri
			logger.Info("mirror archived", zap.String("uri", uri), zap.Int("objects", n))
		}
	}
	if appInstance.Publisher != nil {
		summary := worker.Summarize(result, archiveURI)
		if _, err := appInstance.Publisher.Publish(cmd.Context(), appInstance.Config.PubSub.Topic, summary); err != nil {
			logger.Error("publish run summary failed", zap.Error(err))
		}
	}

	for _, f := range result.Failures {
		logger.Warn("skipped",
			zap.String("url", f.URL),
			zap.String("kind", string(f.Kind)),
			zap.String("stage", f.Stage),
			zap.String("error", f.Error),
		)
	}
	fields := []zap.Field{
		zap.String("run_id", result.RunID),
		zap.String("output", result.OutputPath),
		zap.Int("pages", result.Counters.Pages),
		zap.Int("categories", result.Counters.Categories),
		zap.Int("books", result.Counters.Books),
		zap.Int("resources", result.Counters.Resources),
		zap.Int("rewritten", result.Counters.Rewritten),
		zap.Int("failed", result.Counters.Failed),
		zap.Duration("elapsed", time.Since(start)),
	}
	if !result.Succeeded() {
		logger.Error("mirror aborted", append(fields, zap.String("reason", result.Aborted))...)
		return nil
	}
	logger.Info("mirror command finished", fields...)
	return nil
}
