// Copyright 2018 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package cmd

import (
	"fmt"

	"github.com/hexya-erp/erpkit/src/models"
	"github.com/spf13/cobra"
)

var dumpCmd = &cobra.Command{
	Use:   "dump FILE",
	Short: "Backup the database",
	Long:  `Write a backup of the configured database to FILE.`,
	Args:  exactArgs(1, "a destination file"),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := models.Dump(cmd.Context(), connectionParams(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Database dumped to %s\n", args[0])
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore FILE",
	Short: "Restore the database",
	Long: `Restore the configured database from the backup FILE.
The database must not be in use.`,
	Args: exactArgs(1, "a backup file"),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := models.Restore(cmd.Context(), connectionParams(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Database restored from %s\n", args[0])
		return nil
	},
}

func init() {
	RootCmd.AddCommand(dumpCmd)
	RootCmd.AddCommand(restoreCmd)
}
