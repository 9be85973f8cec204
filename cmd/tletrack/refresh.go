package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func runRefresh(cmd *cobra.Command, configPath string) error {
	cfg, logger, closer, err := setup(cmd, configPath)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx := cmd.Context()
	st, ref, err := openPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	res, err := ref.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Stored %d satellites (cycle %s, replaced %d, %dms).\n",
		res.Count, res.CycleID, res.Cleared, res.Duration.Milliseconds())
	return nil
}
