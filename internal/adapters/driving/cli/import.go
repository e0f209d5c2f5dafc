package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/bankfeed/internal/adapters/driven/watch"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import transactions from an export file",
	Long: `Parses a CSV or text export into canonical transactions. The format
is detected from the extension or, failing that, from the content.
Order exports are collapsed into one transaction per order.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

var watchCmd = &cobra.Command{
	Use:   "watch [directory]",
	Short: "Watch a drop directory for export files",
	Long: `Watches the directory and imports every export file dropped into it
until interrupted. Files present at startup are imported too. Without
an argument the directory comes from the "watch.dir" config key.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(watchCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	if importService == nil {
		return errors.New("import service not configured")
	}

	txns, stats, err := importService.ImportFile(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	printTransactions(cmd, txns, stats)
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	if importService == nil {
		return errors.New("import service not configured")
	}

	dir := ""
	if len(args) > 0 {
		dir = args[0]
	} else if configStore != nil {
		dir = configStore.GetString("watch.dir")
	}
	if dir == "" {
		return errors.New("no directory given and watch.dir not configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := watch.New(dir, importService, func(r watch.Result) {
		if r.Err != nil {
			cmd.Printf("%s: %v\n", r.Path, r.Err)
			return
		}
		cmd.Printf("%s: %d transactions imported\n", r.Path, r.Stats.Imported)
	})

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	return nil
}
