package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"vaultsearch/internal/api"
	"vaultsearch/internal/tui"
)

var (
	tuiTopK  int
	tuiWatch bool
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Interactive terminal search over the vault",
	RunE:  runTUI,
}

func init() {
	tuiCmd.Flags().IntVarP(&tuiTopK, "top-k", "k", api.DefaultTopK, "Number of results")
	tuiCmd.Flags().BoolVar(&tuiWatch, "watch", false, "Refresh changed notes while the TUI runs")
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Embedding notes under %s...\n", a.reader.Root)
	if err := a.indexer.Rebuild(ctx, a.reader); err != nil {
		return fmt.Errorf("load vault: %w", err)
	}
	if tuiWatch || cfg.Vault.Watch {
		go a.watch(ctx)
	}

	header := fmt.Sprintf("%s  (%d notes)", a.reader.Root, a.store.Size())
	_, err = tea.NewProgram(tui.New(a.searcher, tuiTopK, header), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}
