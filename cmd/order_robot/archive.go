package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/order-robot/internal/archive"
)

var (
	archiveDir  string
	archiveDest string
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Rebuild the receipts archive from a directory of PDFs",
	Long:  `Zips every *.pdf in --dir into --dest. A run archives only the receipts it produced; this command is for rebuilding an archive after the fact.`,
	Args:  cobra.NoArgs,
	RunE:  runArchive,
}

func init() {
	archiveCmd.Flags().StringVar(&archiveDir, "dir", filepath.Join("output", "receipts"), "Directory of receipt PDFs")
	archiveCmd.Flags().StringVar(&archiveDest, "dest", filepath.Join("output", archive.DefaultName), "Archive to write")
	rootCmd.AddCommand(archiveCmd)
}

func runArchive(cmd *cobra.Command, _ []string) error {
	manifest, err := archive.ManifestFromDir(archiveDir)
	if err != nil {
		return err
	}
	result, err := archive.Archive(manifest, archiveDest)
	if err != nil {
		return err
	}
	logger.Debug("archive rebuilt", zap.String("dir", archiveDir), zap.Strings("entries", result.Entries))
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Archive: %s (%d receipts)\n", result.Path, len(result.Entries))
	return nil
}
