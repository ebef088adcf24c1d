package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/moshe-connectio/car-template-demo/internal/server"
)

// newFetchCmd creates the 'fetch' subcommand. It runs one URL through the
// same resolve and download path the webhook uses and writes the result to
// disk, which is handy for checking a Drive or landing-page link by hand.
func newFetchCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Resolve and download a single image URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			downloader := server.NewDownloader(rt.cfg, rt.logger)
			img, err := downloader.Download(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("download %s: %w", args[0], err)
			}

			dest := out
			if dest == "" {
				dest = img.Filename
			} else if info, statErr := os.Stat(dest); statErr == nil && info.IsDir() {
				dest = filepath.Join(dest, img.Filename)
			}
			if err := os.WriteFile(dest, img.Body, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", dest, err)
			}

			rt.logger.Info("image fetched",
				zap.String("source_url", img.SourceURL),
				zap.String("content_type", img.ContentType),
				zap.Int("bytes", len(img.Body)),
				zap.String("path", dest),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d\n", dest, img.ContentType, len(img.Body))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file or directory (default: derived filename in the current directory)")
	return cmd
}
