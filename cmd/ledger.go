package cmd

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/MyCarrier-DevOps/cadence/internal/domain"
	"github.com/MyCarrier-DevOps/cadence/internal/usecases"
)

func newListCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:          "list",
		Short:        "List every build in the ledger",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd, deps)
		},
	}
}

func newShowCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:          "show <commit>",
		Short:        "Show the ledger record of one commit as JSON",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd, args[0], deps)
		},
	}
}

func runList(cmd *cobra.Command, deps *Dependencies) error {
	if deps == nil {
		return errors.New("dependencies not configured")
	}
	ctx := commandContext(cmd)
	log := deps.LoggerFactory(nil)
	writer := deps.OutputWriterFactory(stdoutOf(deps))

	cfg, err := deps.ConfigLoader()
	if err != nil {
		log.Error(ctx, "failed to load configuration", err, nil)
		return fmt.Errorf("configuration error: %w", err)
	}

	store, err := deps.LedgerFactory(cfg, true)
	if errors.Is(err, fs.ErrNotExist) {
		// Nothing has been built yet.
		return writer.WriteBuilds(nil)
	}
	if err != nil {
		log.Error(ctx, "failed to open ledger", err, map[string]interface{}{
			"path": cfg.LedgerPath,
		})
		return fmt.Errorf("ledger error: %w", err)
	}
	defer closeLedger(ctx, store, log)

	rows, err := usecases.NewReporter(store).List(ctx)
	if err != nil {
		log.Error(ctx, "failed to read ledger", err, nil)
		return fmt.Errorf("ledger error: %w", err)
	}

	if err := writer.WriteBuilds(rows); err != nil {
		return fmt.Errorf("output error: %w", err)
	}
	return nil
}

func runShow(cmd *cobra.Command, hash string, deps *Dependencies) error {
	if deps == nil {
		return errors.New("dependencies not configured")
	}
	ctx := commandContext(cmd)
	log := deps.LoggerFactory(map[string]interface{}{"commit": hash})

	cfg, err := deps.ConfigLoader()
	if err != nil {
		log.Error(ctx, "failed to load configuration", err, nil)
		return fmt.Errorf("configuration error: %w", err)
	}

	store, err := deps.LedgerFactory(cfg, true)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("no build recorded for commit %s", hash)
	}
	if err != nil {
		log.Error(ctx, "failed to open ledger", err, map[string]interface{}{
			"path": cfg.LedgerPath,
		})
		return fmt.Errorf("ledger error: %w", err)
	}
	defer closeLedger(ctx, store, log)

	record, err := usecases.NewReporter(store).Show(ctx, hash)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return fmt.Errorf("no build recorded for commit %s", hash)
	}
	if err != nil {
		log.Error(ctx, "failed to read ledger", err, nil)
		return fmt.Errorf("ledger error: %w", err)
	}

	if err := deps.OutputWriterFactory(stdoutOf(deps)).WriteRecord(record); err != nil {
		return fmt.Errorf("output error: %w", err)
	}
	return nil
}
