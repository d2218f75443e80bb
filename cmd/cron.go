// Copyright 2018 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hexya-erp/erpkit/src/cron"
	"github.com/hexya-erp/erpkit/src/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Run the scheduled jobs",
	Long: `Run the due scheduled jobs of the installed modules once and exit.
With --loop, due jobs are run every Cron.Period until the process is stopped.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		loop, _ := cmd.Flags().GetBool("loop")
		return withLoader(func(l *server.Loader) error {
			b, err := l.Load(ctx)
			if err != nil {
				return err
			}
			runner := cron.NewRunner(b.Registry, cron.DefaultConfig())
			if loop {
				return runner.Start(ctx)
			}
			stats, err := runner.RunDue(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Jobs done: %d, failed: %d, skipped: %d\n", stats.Done, stats.Failed, stats.Skipped)
			return nil
		})
	},
}

func init() {
	flags := cronCmd.Flags()
	flags.Bool("loop", false, "Run due jobs periodically until interrupted")
	flags.Int("workers", 2, "Number of jobs run concurrently")
	viper.BindPFlag("Cron.Workers", flags.Lookup("workers"))
	flags.Duration("period", 0, "Delay between two scheduler iterations with --loop (default 1m)")
	viper.BindPFlag("Cron.Period", flags.Lookup("period"))
	flags.Duration("job-timeout", 0, "Wall-clock budget of a job (default 10m)")
	viper.BindPFlag("Cron.JobTimeout", flags.Lookup("job-timeout"))
	RootCmd.AddCommand(cronCmd)
}
